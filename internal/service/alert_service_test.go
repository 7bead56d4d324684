package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/alert-engine/internal/dispatch"
	"github.com/kursadbilgin/alert-engine/internal/domain"
)

type fakeAlertRepo struct {
	createFn        func(ctx context.Context, alert *domain.Alert) error
	getByIDFn       func(ctx context.Context, id string) (*domain.Alert, error)
	beginDispatchFn func(ctx context.Context, id string, recipientCount int, status domain.DeliveryStatus) error
	updateStatusFn  func(ctx context.Context, id string, status domain.DeliveryStatus) error
	finalizeFn      func(ctx context.Context, id string, delivered, failed int, status domain.DeliveryStatus) error
}

func (f *fakeAlertRepo) Create(ctx context.Context, alert *domain.Alert) error {
	if f.createFn != nil {
		return f.createFn(ctx, alert)
	}
	return nil
}

func (f *fakeAlertRepo) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAlertRepo) BeginDispatch(ctx context.Context, id string, recipientCount int, status domain.DeliveryStatus) error {
	if f.beginDispatchFn != nil {
		return f.beginDispatchFn(ctx, id, recipientCount, status)
	}
	return nil
}

func (f *fakeAlertRepo) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeAlertRepo) Finalize(ctx context.Context, id string, delivered, failed int, status domain.DeliveryStatus) error {
	if f.finalizeFn != nil {
		return f.finalizeFn(ctx, id, delivered, failed, status)
	}
	return nil
}

type fakeRecipientRepo struct {
	findEligibleFn func(ctx context.Context, regions []domain.Region, emergencyOnly bool) ([]domain.Recipient, error)
	getByIDsFn     func(ctx context.Context, ids []string) ([]domain.Recipient, error)
}

func (f *fakeRecipientRepo) FindEligible(ctx context.Context, regions []domain.Region, emergencyOnly bool) ([]domain.Recipient, error) {
	if f.findEligibleFn != nil {
		return f.findEligibleFn(ctx, regions, emergencyOnly)
	}
	return nil, nil
}

func (f *fakeRecipientRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if f.getByIDsFn != nil {
		return f.getByIDsFn(ctx, ids)
	}
	return nil, nil
}

type fakeAttemptRepo struct {
	createFn           func(ctx context.Context, attempt *domain.DeliveryAttempt) error
	listByAlertFn      func(ctx context.Context, alertID string) ([]domain.DeliveryAttempt, error)
	latestFailedFn     func(ctx context.Context, alertID string) ([]domain.DeliveryAttempt, error)
	maxAttemptNumberFn func(ctx context.Context, alertID string) (int, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, attempt)
	}
	return nil
}

func (f *fakeAttemptRepo) ListByAlert(ctx context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
	if f.listByAlertFn != nil {
		return f.listByAlertFn(ctx, alertID)
	}
	return nil, nil
}

func (f *fakeAttemptRepo) LatestFailed(ctx context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
	if f.latestFailedFn != nil {
		return f.latestFailedFn(ctx, alertID)
	}
	return nil, nil
}

func (f *fakeAttemptRepo) MaxAttemptNumber(ctx context.Context, alertID string) (int, error) {
	if f.maxAttemptNumberFn != nil {
		return f.maxAttemptNumberFn(ctx, alertID)
	}
	return 0, nil
}

type fakeTxManager struct{}

func (fakeTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeBatchDispatcher struct {
	sendBatchFn func(ctx context.Context, alert *domain.Alert, recipients []domain.Recipient, opts dispatch.Options) (dispatch.BatchResult, error)
	calls       int
}

func (f *fakeBatchDispatcher) SendBatch(ctx context.Context, alert *domain.Alert, recipients []domain.Recipient, opts dispatch.Options) (dispatch.BatchResult, error) {
	f.calls++
	if f.sendBatchFn != nil {
		return f.sendBatchFn(ctx, alert, recipients, opts)
	}
	result := dispatch.BatchResult{TotalRecipients: len(recipients), SuccessCount: len(recipients)}
	return result, nil
}

type serviceDeps struct {
	alerts     *fakeAlertRepo
	recipients *fakeRecipientRepo
	attempts   *fakeAttemptRepo
	dispatcher *fakeBatchDispatcher
}

func newTestService(t *testing.T, deps serviceDeps) *AlertService {
	t.Helper()

	if deps.alerts == nil {
		deps.alerts = &fakeAlertRepo{}
	}
	if deps.recipients == nil {
		deps.recipients = &fakeRecipientRepo{}
	}
	if deps.attempts == nil {
		deps.attempts = &fakeAttemptRepo{}
	}
	if deps.dispatcher == nil {
		deps.dispatcher = &fakeBatchDispatcher{}
	}

	svc, err := NewAlertService(deps.alerts, deps.recipients, deps.attempts, deps.dispatcher, fakeTxManager{}, AlertServiceOptions{}, nil)
	if err != nil {
		t.Fatalf("NewAlertService() error = %v", err)
	}
	return svc
}

func validRequest() domain.DispatchRequest {
	return domain.DispatchRequest{
		Type:     domain.AlertTypeWeather,
		Severity: domain.SeverityMedium,
		Title:    "Flood warning",
		Message:  "River levels rising, avoid low ground.",
		Regions:  []domain.Region{"St. Andrew", "Portland"},
	}
}

func activeRecipient(id string) domain.Recipient {
	return domain.Recipient{
		ID:           id,
		Email:        id + "@example.com",
		Region:       "St. Andrew",
		EmailEnabled: true,
		Active:       true,
	}
}

func sentAttempt(alertID, recipientID string, ch domain.Channel, number int) domain.DeliveryAttempt {
	return domain.DeliveryAttempt{
		AlertID:       alertID,
		RecipientID:   recipientID,
		Channel:       ch,
		AttemptNumber: number,
		Status:        domain.AttemptStatusSent,
	}
}

func failedAttempt(alertID, recipientID string, ch domain.Channel, number int, detail string) domain.DeliveryAttempt {
	return domain.DeliveryAttempt{
		AlertID:       alertID,
		RecipientID:   recipientID,
		Channel:       ch,
		AttemptNumber: number,
		Status:        domain.AttemptStatusFailed,
		ErrorDetail:   &detail,
	}
}

func TestDispatchRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	var created bool
	svc := newTestService(t, serviceDeps{
		alerts: &fakeAlertRepo{
			createFn: func(context.Context, *domain.Alert) error {
				created = true
				return nil
			},
		},
	})

	req := validRequest()
	req.Title = "hi"

	_, err := svc.Dispatch(context.Background(), req, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Dispatch() error = %v, want ErrValidation", err)
	}
	if created {
		t.Fatal("invalid request must not reach the repository")
	}
}

func TestDispatchHappyPath(t *testing.T) {
	t.Parallel()

	var (
		beginStatus    domain.DeliveryStatus
		beginCount     int
		finalDelivered int
		finalFailed    int
		finalStatus    domain.DeliveryStatus
	)
	alerts := &fakeAlertRepo{
		beginDispatchFn: func(_ context.Context, _ string, recipientCount int, status domain.DeliveryStatus) error {
			beginCount = recipientCount
			beginStatus = status
			return nil
		},
		finalizeFn: func(_ context.Context, _ string, delivered, failed int, status domain.DeliveryStatus) error {
			finalDelivered = delivered
			finalFailed = failed
			finalStatus = status
			return nil
		},
	}
	recipients := &fakeRecipientRepo{
		findEligibleFn: func(_ context.Context, regions []domain.Region, emergencyOnly bool) ([]domain.Recipient, error) {
			if len(regions) != 2 {
				t.Errorf("FindEligible got %d regions, want 2", len(regions))
			}
			if emergencyOnly {
				t.Error("emergencyOnly should be false")
			}
			return []domain.Recipient{activeRecipient("r1"), activeRecipient("r2")}, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, dispatcher: dispatcher})

	actor := "admin-1"
	out, err := svc.Dispatch(context.Background(), validRequest(), &actor)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if beginStatus != domain.DeliveryStatusSending || beginCount != 2 {
		t.Fatalf("BeginDispatch(%d, %s), want (2, SENDING)", beginCount, beginStatus)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("dispatcher called %d times, want 1", dispatcher.calls)
	}
	if finalStatus != domain.DeliveryStatusCompleted || finalDelivered != 2 || finalFailed != 0 {
		t.Fatalf("Finalize(%d, %d, %s), want (2, 0, COMPLETED)", finalDelivered, finalFailed, finalStatus)
	}
	if out.Alert.DeliveryStatus != domain.DeliveryStatusCompleted {
		t.Fatalf("alert status = %s, want COMPLETED", out.Alert.DeliveryStatus)
	}
	if out.Alert.CreatedBy == nil || *out.Alert.CreatedBy != "admin-1" {
		t.Fatalf("CreatedBy = %v, want admin-1", out.Alert.CreatedBy)
	}
	if out.Alert.RecipientCount != 2 || out.Alert.DeliveredCount != 2 || out.Alert.FailedCount != 0 {
		t.Fatalf("alert counters = %+v, want 2/2/0", out.Alert)
	}
}

func TestDispatchEmptyRecipientSetCompletesWithoutFanOut(t *testing.T) {
	t.Parallel()

	var beginStatus domain.DeliveryStatus
	alerts := &fakeAlertRepo{
		beginDispatchFn: func(_ context.Context, _ string, _ int, status domain.DeliveryStatus) error {
			beginStatus = status
			return nil
		},
	}
	dispatcher := &fakeBatchDispatcher{}
	svc := newTestService(t, serviceDeps{alerts: alerts, dispatcher: dispatcher})

	out, err := svc.Dispatch(context.Background(), validRequest(), nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if beginStatus != domain.DeliveryStatusCompleted {
		t.Fatalf("BeginDispatch status = %s, want COMPLETED", beginStatus)
	}
	if dispatcher.calls != 0 {
		t.Fatal("dispatcher must not run for an empty recipient set")
	}
	if out.Alert.DeliveryStatus != domain.DeliveryStatusCompleted || out.Alert.RecipientCount != 0 {
		t.Fatalf("alert = %+v, want COMPLETED with 0 recipients", out.Alert)
	}
	if out.Result.TotalRecipients != 0 {
		t.Fatalf("result = %+v, want zero result", out.Result)
	}
}

func TestDispatchPartialFailureFinalizesFailed(t *testing.T) {
	t.Parallel()

	var finalStatus domain.DeliveryStatus
	alerts := &fakeAlertRepo{
		finalizeFn: func(_ context.Context, _ string, _, _ int, status domain.DeliveryStatus) error {
			finalStatus = status
			return nil
		},
	}
	recipients := &fakeRecipientRepo{
		findEligibleFn: func(context.Context, []domain.Region, bool) ([]domain.Recipient, error) {
			return []domain.Recipient{activeRecipient("r1"), activeRecipient("r2"), activeRecipient("r3")}, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{
		sendBatchFn: func(_ context.Context, _ *domain.Alert, recipients []domain.Recipient, _ dispatch.Options) (dispatch.BatchResult, error) {
			return dispatch.BatchResult{TotalRecipients: len(recipients), SuccessCount: 2, FailureCount: 1}, nil
		},
	}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, dispatcher: dispatcher})

	out, err := svc.Dispatch(context.Background(), validRequest(), nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if finalStatus != domain.DeliveryStatusFailed {
		t.Fatalf("Finalize status = %s, want FAILED", finalStatus)
	}
	if out.Alert.DeliveredCount != 2 || out.Alert.FailedCount != 1 {
		t.Fatalf("alert counters = %d/%d, want 2/1", out.Alert.DeliveredCount, out.Alert.FailedCount)
	}
}

func TestDispatchAbortedFanOutLeavesAlertSending(t *testing.T) {
	t.Parallel()

	var finalized bool
	alerts := &fakeAlertRepo{
		finalizeFn: func(context.Context, string, int, int, domain.DeliveryStatus) error {
			finalized = true
			return nil
		},
	}
	recipients := &fakeRecipientRepo{
		findEligibleFn: func(context.Context, []domain.Region, bool) ([]domain.Recipient, error) {
			return []domain.Recipient{activeRecipient("r1")}, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{
		sendBatchFn: func(context.Context, *domain.Alert, []domain.Recipient, dispatch.Options) (dispatch.BatchResult, error) {
			return dispatch.BatchResult{}, context.Canceled
		},
	}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, dispatcher: dispatcher})

	_, err := svc.Dispatch(context.Background(), validRequest(), nil)
	if !errors.Is(err, domain.ErrDispatchAborted) {
		t.Fatalf("Dispatch() error = %v, want ErrDispatchAborted", err)
	}
	if finalized {
		t.Fatal("an aborted fan-out must not finalize counters")
	}
}

func TestRetryRejectsBlankAlertID(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, serviceDeps{})

	_, err := svc.RetryFailedDeliveries(context.Background(), "  ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("RetryFailedDeliveries() error = %v, want ErrValidation", err)
	}
}

func TestRetryUnknownAlert(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, serviceDeps{})

	_, err := svc.RetryFailedDeliveries(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("RetryFailedDeliveries() error = %v, want ErrNotFound", err)
	}
}

func TestRetryConflictsWhileSending(t *testing.T) {
	t.Parallel()

	alerts := &fakeAlertRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Alert, error) {
			return &domain.Alert{ID: id, DeliveryStatus: domain.DeliveryStatusSending}, nil
		},
	}
	svc := newTestService(t, serviceDeps{alerts: alerts})

	_, err := svc.RetryFailedDeliveries(context.Background(), "alert-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("RetryFailedDeliveries() error = %v, want ErrConflict", err)
	}
}

func TestRetryWithNoFailedRowsIsNoOp(t *testing.T) {
	t.Parallel()

	var statusUpdated bool
	alerts := &fakeAlertRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Alert, error) {
			return &domain.Alert{ID: id, DeliveryStatus: domain.DeliveryStatusCompleted}, nil
		},
		updateStatusFn: func(context.Context, string, domain.DeliveryStatus) error {
			statusUpdated = true
			return nil
		},
	}
	dispatcher := &fakeBatchDispatcher{}
	svc := newTestService(t, serviceDeps{alerts: alerts, dispatcher: dispatcher})

	result, err := svc.RetryFailedDeliveries(context.Background(), "alert-1")
	if err != nil {
		t.Fatalf("RetryFailedDeliveries() error = %v", err)
	}

	if result.TotalRecipients != 0 || result.SuccessCount != 0 || result.FailureCount != 0 {
		t.Fatalf("result = %+v, want zero result", result)
	}
	if statusUpdated || dispatcher.calls != 0 {
		t.Fatal("an alert with no failed deliveries must not be touched")
	}
}

func TestRetryTargetsOnlyFailedRecipientsAndOffsetsAttempts(t *testing.T) {
	t.Parallel()

	var (
		requestedIDs   []string
		gotOpts        dispatch.Options
		markedSending  bool
		finalDelivered int
		finalFailed    int
		finalStatus    domain.DeliveryStatus
	)
	errDetail := "mailbox unavailable"
	alerts := &fakeAlertRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Alert, error) {
			return &domain.Alert{
				ID:             id,
				Severity:       domain.SeverityMedium,
				DeliveryStatus: domain.DeliveryStatusFailed,
				RecipientCount: 10,
				DeliveredCount: 8,
				FailedCount:    2,
			}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, status domain.DeliveryStatus) error {
			markedSending = status == domain.DeliveryStatusSending
			return nil
		},
		finalizeFn: func(_ context.Context, _ string, delivered, failed int, status domain.DeliveryStatus) error {
			finalDelivered = delivered
			finalFailed = failed
			finalStatus = status
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		latestFailedFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				{AlertID: alertID, RecipientID: "r9", Channel: domain.ChannelEmail, AttemptNumber: 1, Status: domain.AttemptStatusFailed, ErrorDetail: &errDetail},
				{AlertID: alertID, RecipientID: "r10", Channel: domain.ChannelPush, AttemptNumber: 1, Status: domain.AttemptStatusFailed, ErrorDetail: &errDetail},
			}, nil
		},
		maxAttemptNumberFn: func(context.Context, string) (int, error) { return 1, nil },
		listByAlertFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			log := make([]domain.DeliveryAttempt, 0, 12)
			for _, id := range []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8"} {
				log = append(log, sentAttempt(alertID, id, domain.ChannelEmail, 1))
			}
			log = append(log,
				failedAttempt(alertID, "r9", domain.ChannelEmail, 1, errDetail),
				failedAttempt(alertID, "r10", domain.ChannelPush, 1, errDetail),
				sentAttempt(alertID, "r9", domain.ChannelEmail, 2),
				sentAttempt(alertID, "r10", domain.ChannelPush, 2),
			)
			return log, nil
		},
	}
	recipients := &fakeRecipientRepo{
		getByIDsFn: func(_ context.Context, ids []string) ([]domain.Recipient, error) {
			requestedIDs = ids
			out := make([]domain.Recipient, 0, len(ids))
			for _, id := range ids {
				out = append(out, activeRecipient(id))
			}
			return out, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{
		sendBatchFn: func(_ context.Context, _ *domain.Alert, recipients []domain.Recipient, opts dispatch.Options) (dispatch.BatchResult, error) {
			gotOpts = opts
			return dispatch.BatchResult{TotalRecipients: len(recipients), SuccessCount: len(recipients)}, nil
		},
	}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, attempts: attempts, dispatcher: dispatcher})

	result, err := svc.RetryFailedDeliveries(context.Background(), "alert-1")
	if err != nil {
		t.Fatalf("RetryFailedDeliveries() error = %v", err)
	}

	if len(requestedIDs) != 2 || requestedIDs[0] != "r9" || requestedIDs[1] != "r10" {
		t.Fatalf("retry loaded recipients %v, want [r9 r10]", requestedIDs)
	}
	if gotOpts.AttemptOffset != 1 {
		t.Fatalf("AttemptOffset = %d, want 1", gotOpts.AttemptOffset)
	}
	if gotOpts.BatchSize != defaultRetryBatchSize || gotOpts.InterBatchDelay != defaultRetryInterBatchDelay {
		t.Fatalf("retry options = %+v, want retry defaults", gotOpts)
	}
	if !markedSending {
		t.Fatal("retry must move the alert back to SENDING")
	}
	if result.SuccessCount != 2 {
		t.Fatalf("SuccessCount = %d, want 2", result.SuccessCount)
	}
	if finalDelivered != 10 || finalFailed != 0 || finalStatus != domain.DeliveryStatusCompleted {
		t.Fatalf("Finalize(%d, %d, %s), want (10, 0, COMPLETED)", finalDelivered, finalFailed, finalStatus)
	}
}

func TestRetryPartialSuccessStaysFailed(t *testing.T) {
	t.Parallel()

	var (
		finalDelivered int
		finalFailed    int
		finalStatus    domain.DeliveryStatus
	)
	errDetail := "gateway timeout"
	alerts := &fakeAlertRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Alert, error) {
			return &domain.Alert{
				ID:             id,
				Severity:       domain.SeverityHigh,
				DeliveryStatus: domain.DeliveryStatusFailed,
				RecipientCount: 5,
				DeliveredCount: 3,
				FailedCount:    2,
			}, nil
		},
		finalizeFn: func(_ context.Context, _ string, delivered, failed int, status domain.DeliveryStatus) error {
			finalDelivered = delivered
			finalFailed = failed
			finalStatus = status
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		latestFailedFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				{AlertID: alertID, RecipientID: "r4", Channel: domain.ChannelEmail, AttemptNumber: 1, Status: domain.AttemptStatusFailed, ErrorDetail: &errDetail},
				{AlertID: alertID, RecipientID: "r5", Channel: domain.ChannelEmail, AttemptNumber: 1, Status: domain.AttemptStatusFailed, ErrorDetail: &errDetail},
			}, nil
		},
		maxAttemptNumberFn: func(context.Context, string) (int, error) { return 1, nil },
		listByAlertFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				sentAttempt(alertID, "r1", domain.ChannelEmail, 1),
				sentAttempt(alertID, "r2", domain.ChannelEmail, 1),
				sentAttempt(alertID, "r3", domain.ChannelEmail, 1),
				failedAttempt(alertID, "r4", domain.ChannelEmail, 1, errDetail),
				failedAttempt(alertID, "r5", domain.ChannelEmail, 1, errDetail),
				sentAttempt(alertID, "r4", domain.ChannelEmail, 2),
				failedAttempt(alertID, "r5", domain.ChannelEmail, 2, errDetail),
			}, nil
		},
	}
	recipients := &fakeRecipientRepo{
		getByIDsFn: func(_ context.Context, ids []string) ([]domain.Recipient, error) {
			out := make([]domain.Recipient, 0, len(ids))
			for _, id := range ids {
				out = append(out, activeRecipient(id))
			}
			return out, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{
		sendBatchFn: func(_ context.Context, _ *domain.Alert, recipients []domain.Recipient, _ dispatch.Options) (dispatch.BatchResult, error) {
			return dispatch.BatchResult{TotalRecipients: len(recipients), SuccessCount: 1, FailureCount: 1}, nil
		},
	}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, attempts: attempts, dispatcher: dispatcher})

	if _, err := svc.RetryFailedDeliveries(context.Background(), "alert-1"); err != nil {
		t.Fatalf("RetryFailedDeliveries() error = %v", err)
	}

	if finalDelivered != 4 || finalFailed != 1 || finalStatus != domain.DeliveryStatusFailed {
		t.Fatalf("Finalize(%d, %d, %s), want (4, 1, FAILED)", finalDelivered, finalFailed, finalStatus)
	}
}

func TestRetryDoesNotDoubleCountCrossChannelDeliveries(t *testing.T) {
	t.Parallel()

	// A recipient can be delivered over SMS while their email pair stays
	// latest-FAILED. A successful email retry must not add a second delivery
	// on top of the stored counters.
	var (
		finalDelivered int
		finalFailed    int
		finalStatus    domain.DeliveryStatus
	)
	errDetail := "mailbox unavailable"
	alerts := &fakeAlertRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Alert, error) {
			return &domain.Alert{
				ID:             id,
				Severity:       domain.SeverityHigh,
				DeliveryStatus: domain.DeliveryStatusCompleted,
				RecipientCount: 1,
				DeliveredCount: 1,
				FailedCount:    0,
			}, nil
		},
		finalizeFn: func(_ context.Context, _ string, delivered, failed int, status domain.DeliveryStatus) error {
			finalDelivered = delivered
			finalFailed = failed
			finalStatus = status
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		latestFailedFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				failedAttempt(alertID, "r1", domain.ChannelEmail, 1, errDetail),
			}, nil
		},
		maxAttemptNumberFn: func(context.Context, string) (int, error) { return 1, nil },
		listByAlertFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				failedAttempt(alertID, "r1", domain.ChannelEmail, 1, errDetail),
				sentAttempt(alertID, "r1", domain.ChannelSMS, 1),
				sentAttempt(alertID, "r1", domain.ChannelEmail, 2),
			}, nil
		},
	}
	recipients := &fakeRecipientRepo{
		getByIDsFn: func(_ context.Context, ids []string) ([]domain.Recipient, error) {
			return []domain.Recipient{activeRecipient("r1")}, nil
		},
	}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, attempts: attempts})

	if _, err := svc.RetryFailedDeliveries(context.Background(), "alert-1"); err != nil {
		t.Fatalf("RetryFailedDeliveries() error = %v", err)
	}

	if finalDelivered != 1 || finalFailed != 0 || finalStatus != domain.DeliveryStatusCompleted {
		t.Fatalf("Finalize(%d, %d, %s), want (1, 0, COMPLETED)", finalDelivered, finalFailed, finalStatus)
	}
	if finalDelivered+finalFailed > 1 {
		t.Fatalf("delivered+failed = %d exceeds recipient count 1", finalDelivered+finalFailed)
	}
}

func TestRetrySkipsDeactivatedRecipients(t *testing.T) {
	t.Parallel()

	var (
		sentTo         []string
		finalDelivered int
		finalFailed    int
		finalStatus    domain.DeliveryStatus
	)
	errDetail := "gateway timeout"
	alerts := &fakeAlertRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Alert, error) {
			return &domain.Alert{
				ID:             id,
				Severity:       domain.SeverityMedium,
				DeliveryStatus: domain.DeliveryStatusFailed,
				RecipientCount: 3,
				DeliveredCount: 1,
				FailedCount:    2,
			}, nil
		},
		finalizeFn: func(_ context.Context, _ string, delivered, failed int, status domain.DeliveryStatus) error {
			finalDelivered = delivered
			finalFailed = failed
			finalStatus = status
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		latestFailedFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				failedAttempt(alertID, "r2", domain.ChannelEmail, 1, errDetail),
				failedAttempt(alertID, "r3", domain.ChannelEmail, 1, errDetail),
			}, nil
		},
		maxAttemptNumberFn: func(context.Context, string) (int, error) { return 1, nil },
		listByAlertFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			// r3 was deactivated after the initial run; their failed pair
			// stays in the log untouched.
			return []domain.DeliveryAttempt{
				sentAttempt(alertID, "r1", domain.ChannelEmail, 1),
				failedAttempt(alertID, "r2", domain.ChannelEmail, 1, errDetail),
				failedAttempt(alertID, "r3", domain.ChannelEmail, 1, errDetail),
				sentAttempt(alertID, "r2", domain.ChannelEmail, 2),
			}, nil
		},
	}
	recipients := &fakeRecipientRepo{
		getByIDsFn: func(_ context.Context, ids []string) ([]domain.Recipient, error) {
			inactive := activeRecipient("r3")
			inactive.Active = false
			return []domain.Recipient{activeRecipient("r2"), inactive}, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{
		sendBatchFn: func(_ context.Context, _ *domain.Alert, recipients []domain.Recipient, _ dispatch.Options) (dispatch.BatchResult, error) {
			for _, r := range recipients {
				sentTo = append(sentTo, r.ID)
			}
			return dispatch.BatchResult{TotalRecipients: len(recipients), SuccessCount: len(recipients)}, nil
		},
	}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, attempts: attempts, dispatcher: dispatcher})

	if _, err := svc.RetryFailedDeliveries(context.Background(), "alert-1"); err != nil {
		t.Fatalf("RetryFailedDeliveries() error = %v", err)
	}

	if len(sentTo) != 1 || sentTo[0] != "r2" {
		t.Fatalf("retry dispatched to %v, want [r2]", sentTo)
	}
	if finalDelivered != 2 || finalFailed != 1 || finalStatus != domain.DeliveryStatusFailed {
		t.Fatalf("Finalize(%d, %d, %s), want (2, 1, FAILED)", finalDelivered, finalFailed, finalStatus)
	}
}

func TestRetryAllFailedRecipientsInactiveIsNoOp(t *testing.T) {
	t.Parallel()

	var statusUpdated bool
	errDetail := "gateway timeout"
	alerts := &fakeAlertRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Alert, error) {
			return &domain.Alert{ID: id, DeliveryStatus: domain.DeliveryStatusFailed, RecipientCount: 2, DeliveredCount: 1, FailedCount: 1}, nil
		},
		updateStatusFn: func(context.Context, string, domain.DeliveryStatus) error {
			statusUpdated = true
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		latestFailedFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				failedAttempt(alertID, "r2", domain.ChannelEmail, 1, errDetail),
			}, nil
		},
	}
	recipients := &fakeRecipientRepo{
		getByIDsFn: func(_ context.Context, ids []string) ([]domain.Recipient, error) {
			inactive := activeRecipient("r2")
			inactive.Active = false
			return []domain.Recipient{inactive}, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, attempts: attempts, dispatcher: dispatcher})

	result, err := svc.RetryFailedDeliveries(context.Background(), "alert-1")
	if err != nil {
		t.Fatalf("RetryFailedDeliveries() error = %v", err)
	}

	if result.TotalRecipients != 0 || dispatcher.calls != 0 {
		t.Fatalf("result = %+v, calls = %d, want zero result and no fan-out", result, dispatcher.calls)
	}
	if statusUpdated {
		t.Fatal("alert must stay untouched when every failed recipient is inactive")
	}
}

func TestRetryAbortedFanOut(t *testing.T) {
	t.Parallel()

	var finalized bool
	errDetail := "gateway timeout"
	alerts := &fakeAlertRepo{
		getByIDFn: func(_ context.Context, id string) (*domain.Alert, error) {
			return &domain.Alert{ID: id, DeliveryStatus: domain.DeliveryStatusFailed, FailedCount: 1}, nil
		},
		finalizeFn: func(context.Context, string, int, int, domain.DeliveryStatus) error {
			finalized = true
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		latestFailedFn: func(_ context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				{AlertID: alertID, RecipientID: "r1", Channel: domain.ChannelEmail, AttemptNumber: 1, Status: domain.AttemptStatusFailed, ErrorDetail: &errDetail},
			}, nil
		},
	}
	recipients := &fakeRecipientRepo{
		getByIDsFn: func(_ context.Context, ids []string) ([]domain.Recipient, error) {
			return []domain.Recipient{activeRecipient("r1")}, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{
		sendBatchFn: func(context.Context, *domain.Alert, []domain.Recipient, dispatch.Options) (dispatch.BatchResult, error) {
			return dispatch.BatchResult{}, context.DeadlineExceeded
		},
	}
	svc := newTestService(t, serviceDeps{alerts: alerts, recipients: recipients, attempts: attempts, dispatcher: dispatcher})

	_, err := svc.RetryFailedDeliveries(context.Background(), "alert-1")
	if !errors.Is(err, domain.ErrDispatchAborted) {
		t.Fatalf("RetryFailedDeliveries() error = %v, want ErrDispatchAborted", err)
	}
	if finalized {
		t.Fatal("an aborted retry must not finalize counters")
	}
}

func TestDispatchUsesConfiguredBatchOptions(t *testing.T) {
	t.Parallel()

	var gotOpts dispatch.Options
	recipients := &fakeRecipientRepo{
		findEligibleFn: func(context.Context, []domain.Region, bool) ([]domain.Recipient, error) {
			return []domain.Recipient{activeRecipient("r1")}, nil
		},
	}
	dispatcher := &fakeBatchDispatcher{
		sendBatchFn: func(_ context.Context, _ *domain.Alert, recipients []domain.Recipient, opts dispatch.Options) (dispatch.BatchResult, error) {
			gotOpts = opts
			return dispatch.BatchResult{TotalRecipients: 1, SuccessCount: 1}, nil
		},
	}

	svc, err := NewAlertService(&fakeAlertRepo{}, recipients, &fakeAttemptRepo{}, dispatcher, fakeTxManager{},
		AlertServiceOptions{BatchSize: 10, InterBatchDelay: 100 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewAlertService() error = %v", err)
	}

	if _, err := svc.Dispatch(context.Background(), validRequest(), nil); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if gotOpts.BatchSize != 10 || gotOpts.InterBatchDelay != 100*time.Millisecond {
		t.Fatalf("options = %+v, want BatchSize 10, delay 100ms", gotOpts)
	}
	if gotOpts.AttemptOffset != 0 {
		t.Fatalf("AttemptOffset = %d, want 0 on initial dispatch", gotOpts.AttemptOffset)
	}
}
