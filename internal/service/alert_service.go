package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/alert-engine/internal/dispatch"
	"github.com/kursadbilgin/alert-engine/internal/domain"
	"github.com/kursadbilgin/alert-engine/internal/observability"
	"github.com/kursadbilgin/alert-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	// Retry runs are gentler on the gateways than initial dispatch.
	defaultRetryBatchSize       = 50
	defaultRetryInterBatchDelay = 2 * time.Second
)

// BatchDispatcher is the fan-out port the orchestrator drives.
type BatchDispatcher interface {
	SendBatch(ctx context.Context, alert *domain.Alert, recipients []domain.Recipient, opts dispatch.Options) (dispatch.BatchResult, error)
}

// DispatchResult pairs the finalized alert with the run's aggregate outcome.
type DispatchResult struct {
	Alert  *domain.Alert
	Result dispatch.BatchResult
}

// AlertService owns the alert lifecycle: creation, recipient resolution,
// driving the dispatcher, finalizing counters, and retry-of-failed-only.
type AlertService struct {
	alerts     repository.AlertRepository
	recipients repository.RecipientRepository
	attempts   repository.AttemptRepository
	dispatcher BatchDispatcher
	tx         repository.TxManager
	logger     *zap.Logger
	metrics    *observability.Metrics
	locks      *keyedMutex
	now        func() time.Time

	batchSize            int
	interBatchDelay      time.Duration
	retryBatchSize       int
	retryInterBatchDelay time.Duration
}

type AlertServiceOptions struct {
	BatchSize            int
	InterBatchDelay      time.Duration
	RetryBatchSize       int
	RetryInterBatchDelay time.Duration
}

func NewAlertService(
	alerts repository.AlertRepository,
	recipients repository.RecipientRepository,
	attempts repository.AttemptRepository,
	dispatcher BatchDispatcher,
	tx repository.TxManager,
	opts AlertServiceOptions,
	logger *zap.Logger,
) (*AlertService, error) {
	if alerts == nil {
		return nil, fmt.Errorf("alert repository is required")
	}
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = dispatch.DefaultBatchSize
	}
	if opts.InterBatchDelay <= 0 {
		opts.InterBatchDelay = dispatch.DefaultInterBatchDelay
	}
	if opts.RetryBatchSize <= 0 {
		opts.RetryBatchSize = defaultRetryBatchSize
	}
	if opts.RetryInterBatchDelay <= 0 {
		opts.RetryInterBatchDelay = defaultRetryInterBatchDelay
	}

	return &AlertService{
		alerts:               alerts,
		recipients:           recipients,
		attempts:             attempts,
		dispatcher:           dispatcher,
		tx:                   tx,
		logger:               logger,
		locks:                newKeyedMutex(),
		now:                  time.Now,
		batchSize:            opts.BatchSize,
		interBatchDelay:      opts.InterBatchDelay,
		retryBatchSize:       opts.RetryBatchSize,
		retryInterBatchDelay: opts.RetryInterBatchDelay,
	}, nil
}

func (s *AlertService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Dispatch runs the full protocol: insert the alert and resolve recipients in
// one transaction, fan out with no transaction open, then finalize counters
// and status in a second transaction. A fan-out that cannot run at all leaves
// the alert in SENDING and surfaces ErrDispatchAborted.
func (s *AlertService) Dispatch(ctx context.Context, req domain.DispatchRequest, actorID *string) (*DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(s.logger, ctx)

	alert := &domain.Alert{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Severity:       req.Severity,
		Title:          strings.TrimSpace(req.Title),
		Message:        strings.TrimSpace(req.Message),
		Regions:        req.NormalizedRegions(),
		CreatedBy:      normalizeOptionalString(actorID),
		ExpiresAt:      req.ExpiresAt,
		DeliveryStatus: domain.DeliveryStatusPending,
	}

	unlock := s.locks.Lock(alert.ID)
	defer unlock()

	var eligible []domain.Recipient
	err := repository.WithRetry(ctx, logger, "create alert and resolve recipients", func(ctx context.Context) error {
		return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := s.alerts.Create(txCtx, alert); err != nil {
				return fmt.Errorf("failed to insert alert: %w", err)
			}

			recipients, err := s.recipients.FindEligible(txCtx, alert.Regions, req.EmergencyOnly)
			if err != nil {
				return fmt.Errorf("failed to resolve recipients: %w", err)
			}
			eligible = recipients

			status := domain.DeliveryStatusSending
			if len(recipients) == 0 {
				// Nothing to deliver; the campaign completes without a batch.
				status = domain.DeliveryStatusCompleted
			}
			if err := s.alerts.BeginDispatch(txCtx, alert.ID, len(recipients), status); err != nil {
				return fmt.Errorf("failed to mark alert %s: %w", status, err)
			}

			alert.RecipientCount = len(recipients)
			alert.DeliveryStatus = status
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if len(eligible) == 0 {
		logger.Info("alert dispatched to empty recipient set",
			zap.String("alertId", alert.ID),
			zap.Strings("regions", regionNames(alert.Regions)),
		)
		s.metrics.IncAlertDispatched(alert.DeliveryStatus.String())
		return &DispatchResult{Alert: alert, Result: dispatch.BatchResult{}}, nil
	}

	s.metrics.IncDispatchInFlight()
	result, dispatchErr := s.dispatcher.SendBatch(ctx, alert, eligible, dispatch.Options{
		BatchSize:       s.batchSize,
		InterBatchDelay: s.interBatchDelay,
	})
	s.metrics.DecDispatchInFlight()

	if dispatchErr != nil {
		// The alert stays in SENDING with unfinalized counters: an
		// operational failure, distinct from partial delivery.
		logger.Error("dispatch fan-out aborted",
			zap.String("alertId", alert.ID),
			zap.Error(dispatchErr),
		)
		return nil, fmt.Errorf("%w: alert %s: %v", domain.ErrDispatchAborted, alert.ID, dispatchErr)
	}

	status := domain.DeliveryStatusCompleted
	if result.FailureCount > 0 {
		status = domain.DeliveryStatusFailed
	}

	err = repository.WithRetry(ctx, logger, "finalize alert", func(ctx context.Context) error {
		return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			return s.alerts.Finalize(txCtx, alert.ID, result.SuccessCount, result.FailureCount, status)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize alert %s: %w", alert.ID, err)
	}

	alert.DeliveredCount = result.SuccessCount
	alert.FailedCount = result.FailureCount
	alert.DeliveryStatus = status
	s.metrics.IncAlertDispatched(status.String())

	logger.Info("alert dispatch finalized",
		zap.String("alertId", alert.ID),
		zap.String("status", status.String()),
		zap.Int("recipients", alert.RecipientCount),
		zap.Int("delivered", alert.DeliveredCount),
		zap.Int("failed", alert.FailedCount),
	)

	return &DispatchResult{Alert: alert, Result: result}, nil
}

// RetryFailedDeliveries re-runs the fan-out over exactly the recipients whose
// most recent attempt on some channel failed. With no such rows the alert is
// left untouched and a zero result returns.
func (s *AlertService) RetryFailedDeliveries(ctx context.Context, alertID string) (dispatch.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(alertID) == "" {
		return dispatch.BatchResult{}, fmt.Errorf("%w: alert id is required", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(s.logger, ctx)

	unlock := s.locks.Lock(alertID)
	defer unlock()

	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return dispatch.BatchResult{}, err
	}
	if alert.DeliveryStatus == domain.DeliveryStatusSending {
		return dispatch.BatchResult{}, fmt.Errorf("%w: alert %s is still sending", domain.ErrConflict, alertID)
	}

	failedRows, err := s.attempts.LatestFailed(ctx, alertID)
	if err != nil {
		return dispatch.BatchResult{}, fmt.Errorf("failed to load failed deliveries: %w", err)
	}
	if len(failedRows) == 0 {
		return dispatch.BatchResult{}, nil
	}

	recipientIDs := distinctRecipientIDs(failedRows)
	recipients, err := s.recipients.GetByIDs(ctx, recipientIDs)
	if err != nil {
		return dispatch.BatchResult{}, fmt.Errorf("failed to load retry recipients: %w", err)
	}

	// Recipients deactivated since the initial run are not re-sent; their
	// failed pairs stay failed in the log and the finalize below keeps
	// counting them.
	retryTargets := make([]domain.Recipient, 0, len(recipients))
	for _, recipient := range recipients {
		if recipient.Active {
			retryTargets = append(retryTargets, recipient)
		}
	}
	if len(retryTargets) == 0 {
		logger.Info("retry skipped, all failed recipients are inactive",
			zap.String("alertId", alertID),
		)
		return dispatch.BatchResult{}, nil
	}

	maxAttempt, err := s.attempts.MaxAttemptNumber(ctx, alertID)
	if err != nil {
		return dispatch.BatchResult{}, fmt.Errorf("failed to compute attempt offset: %w", err)
	}

	err = repository.WithRetry(ctx, logger, "mark alert sending for retry", func(ctx context.Context) error {
		return s.alerts.UpdateStatus(ctx, alertID, domain.DeliveryStatusSending)
	})
	if err != nil {
		return dispatch.BatchResult{}, err
	}

	s.metrics.IncRetryRun()
	s.metrics.IncDispatchInFlight()
	result, dispatchErr := s.dispatcher.SendBatch(ctx, alert, retryTargets, dispatch.Options{
		BatchSize:       s.retryBatchSize,
		InterBatchDelay: s.retryInterBatchDelay,
		AttemptOffset:   maxAttempt,
	})
	s.metrics.DecDispatchInFlight()

	if dispatchErr != nil {
		logger.Error("retry fan-out aborted",
			zap.String("alertId", alertID),
			zap.Error(dispatchErr),
		)
		return result, fmt.Errorf("%w: alert %s: %v", domain.ErrDispatchAborted, alertID, dispatchErr)
	}

	// A retried recipient may already be counted delivered through another
	// channel, so run counts cannot be added onto the stored counters.
	// Reclassify the log instead: delivered is the number of recipients with
	// at least one successful latest attempt, everyone else counts failed.
	delivered, failed, err := s.recountDeliveries(ctx, alert)
	if err != nil {
		return result, err
	}

	status := domain.DeliveryStatusCompleted
	if failed > 0 {
		status = domain.DeliveryStatusFailed
	}

	err = repository.WithRetry(ctx, logger, "finalize retry", func(ctx context.Context) error {
		return s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			return s.alerts.Finalize(txCtx, alertID, delivered, failed, status)
		})
	})
	if err != nil {
		return result, fmt.Errorf("failed to finalize retry for alert %s: %w", alertID, err)
	}

	logger.Info("retry run finalized",
		zap.String("alertId", alertID),
		zap.Int("retried", result.TotalRecipients),
		zap.Int("delivered", delivered),
		zap.Int("failed", failed),
		zap.String("status", status.String()),
	)

	return result, nil
}

// recountDeliveries derives the alert's recipient counters from the delivery
// log. The pair delivered+failed always equals the recipient count.
func (s *AlertService) recountDeliveries(ctx context.Context, alert *domain.Alert) (delivered, failed int, err error) {
	attempts, err := s.attempts.ListByAlert(ctx, alert.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reload delivery attempts: %w", err)
	}

	stats := classifyAttempts(alert.RecipientCount, attempts)
	delivered = stats.Delivered
	failed = alert.RecipientCount - delivered
	if failed < 0 {
		failed = 0
	}
	return delivered, failed, nil
}

func distinctRecipientIDs(attempts []domain.DeliveryAttempt) []string {
	seen := make(map[string]struct{}, len(attempts))
	ids := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		if _, ok := seen[attempt.RecipientID]; ok {
			continue
		}
		seen[attempt.RecipientID] = struct{}{}
		ids = append(ids, attempt.RecipientID)
	}
	return ids
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func regionNames(regions []domain.Region) []string {
	names := make([]string, 0, len(regions))
	for _, region := range regions {
		names = append(names, string(region))
	}
	return names
}
