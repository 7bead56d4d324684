package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/alert-engine/internal/channel"
	"github.com/kursadbilgin/alert-engine/internal/domain"
	"github.com/kursadbilgin/alert-engine/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the fan-out width for initial dispatch.
	DefaultBatchSize = 100
	// DefaultInterBatchDelay throttles outbound rate between batches.
	DefaultInterBatchDelay = time.Second
)

// AttemptLog appends delivery attempt rows. Appends are independent inserts
// keyed by (alert, recipient, channel, attempt number), so concurrent
// recipients never conflict.
type AttemptLog interface {
	Create(ctx context.Context, attempt *domain.DeliveryAttempt) error
}

// Options tunes one SendBatch run. Zero values fall back to defaults.
type Options struct {
	BatchSize       int
	InterBatchDelay time.Duration
	// AttemptOffset shifts attempt numbering for retry runs; the first
	// attempt of this run is AttemptOffset+1.
	AttemptOffset int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.InterBatchDelay <= 0 {
		o.InterBatchDelay = DefaultInterBatchDelay
	}
	if o.AttemptOffset < 0 {
		o.AttemptOffset = 0
	}
	return o
}

// Dispatcher fans an alert out to recipients in sequential batches, applying
// the per-recipient channel fallback policy inside each batch.
type Dispatcher struct {
	senders  map[domain.Channel]channel.Sender
	attempts AttemptLog
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(senders []channel.Sender, attempts AttemptLog, logger *zap.Logger) (*Dispatcher, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt log is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byChannel := make(map[domain.Channel]channel.Sender, len(senders))
	for _, sender := range senders {
		if sender == nil {
			continue
		}
		ch := sender.Channel()
		if !ch.IsValid() {
			return nil, fmt.Errorf("sender has invalid channel %q", ch)
		}
		if _, exists := byChannel[ch]; exists {
			return nil, fmt.Errorf("duplicate sender for channel %s", ch)
		}
		byChannel[ch] = sender
	}

	return &Dispatcher{
		senders:  byChannel,
		attempts: attempts,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepWithContext,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

type channelResult struct {
	channel domain.Channel
	success bool
}

type recipientOutcome struct {
	delivered bool
	channels  []channelResult
}

// SendBatch partitions recipients into consecutive batches, fans each batch
// out concurrently, and sleeps the inter-batch delay between batches (never
// after the last). A batch-level failure marks that batch's recipients failed
// and processing continues; only an interrupted suspension point aborts the
// run.
func (d *Dispatcher) SendBatch(
	ctx context.Context,
	alert *domain.Alert,
	recipients []domain.Recipient,
	opts Options,
) (BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if alert == nil {
		return BatchResult{}, fmt.Errorf("alert is required")
	}

	opts = opts.withDefaults()
	result := newBatchResult(len(recipients))
	if len(recipients) == 0 {
		return result, nil
	}

	payload := channel.Payload{
		AlertID:  alert.ID,
		Type:     alert.Type,
		Severity: alert.Severity,
		Title:    alert.Title,
		Message:  alert.Message,
	}
	attemptNumber := opts.AttemptOffset + 1

	batchCount := (len(recipients) + opts.BatchSize - 1) / opts.BatchSize
	for i := 0; i < batchCount; i++ {
		if i > 0 {
			if err := d.sleep(ctx, opts.InterBatchDelay); err != nil {
				return result, fmt.Errorf("dispatch interrupted between batches: %w", err)
			}
		}

		start := i * opts.BatchSize
		end := min(start+opts.BatchSize, len(recipients))
		batch := recipients[start:end]

		outcomes, batchErr := d.processBatch(ctx, alert, batch, payload, attemptNumber)
		if batchErr != nil {
			d.logger.Error("batch failed as a whole, recording recipients failed",
				zap.String("alertId", alert.ID),
				zap.Int("batch", i+1),
				zap.Int("recipients", len(batch)),
				zap.Error(batchErr),
			)
			d.failWholeBatch(ctx, alert, batch, attemptNumber, batchErr, &result)
			continue
		}

		for _, outcome := range outcomes {
			if outcome.delivered {
				result.SuccessCount++
			} else {
				result.FailureCount++
			}
			for _, cr := range outcome.channels {
				result.recordChannel(cr.channel, cr.success)
			}
		}

		d.metrics.IncBatchProcessed()
	}

	d.logger.Info("dispatch run finished",
		zap.String("alertId", alert.ID),
		zap.Int("recipients", result.TotalRecipients),
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailureCount),
		zap.Int("batches", batchCount),
	)

	return result, nil
}

// processBatch fans out one batch. Each goroutine writes only its own outcome
// slot; no shared state is mutated during the fan-out. The errgroup wait is
// the join point before aggregation.
func (d *Dispatcher) processBatch(
	ctx context.Context,
	alert *domain.Alert,
	batch []domain.Recipient,
	payload channel.Payload,
	attemptNumber int,
) (outcomes []recipientOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcomes = nil
			err = fmt.Errorf("batch processing panicked: %v", r)
		}
	}()

	outcomes = make([]recipientOutcome, len(batch))

	g, groupCtx := errgroup.WithContext(ctx)
	for i := range batch {
		g.Go(func() error {
			outcomes[i] = d.sendToRecipient(groupCtx, alert, batch[i], payload, attemptNumber)
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		return nil, waitErr
	}

	return outcomes, nil
}

// sendToRecipient walks the recipient's channel plan: email if enabled, SMS if
// enabled, push always last. The fallback policy decides after each attempt
// whether the rest of the plan still runs. A panic here fails only this
// recipient.
func (d *Dispatcher) sendToRecipient(
	ctx context.Context,
	alert *domain.Alert,
	recipient domain.Recipient,
	payload channel.Payload,
	attemptNumber int,
) (out recipientOutcome) {
	currentChannel := firstPlannedChannel(recipient)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("recipient send panicked",
				zap.String("alertId", alert.ID),
				zap.String("recipientId", recipient.ID),
				zap.String("channel", currentChannel.String()),
				zap.Any("panic", r),
			)
			// The interrupted attempt still lands in the delivery log so the
			// pair is visible to stats and retry.
			outcome := channel.Outcome{Err: fmt.Errorf("send panicked: %v", r)}
			d.recordAttempt(ctx, alert, recipient, currentChannel, attemptNumber, outcome)
			out.channels = append(out.channels, channelResult{channel: currentChannel, success: false})
			d.metrics.IncDeliveryFailed(strings.ToLower(currentChannel.String()), "panic")
		}
	}()

	remaining := recipient.OptedInChannels()
	attempted := 0

	for {
		remaining = ChannelsToAttempt(alert.Severity, remaining, out.delivered)
		if len(remaining) == 0 {
			break
		}

		ch := remaining[0]
		remaining = remaining[1:]
		currentChannel = ch

		sender, ok := d.senders[ch]
		if !ok {
			continue
		}
		attempted++

		sendStart := d.now()
		outcome := sender.Send(ctx, recipient, payload)
		d.metrics.ObserveDeliveryDuration(strings.ToLower(ch.String()), d.now().Sub(sendStart))

		d.recordAttempt(ctx, alert, recipient, ch, attemptNumber, outcome)
		out.channels = append(out.channels, channelResult{channel: ch, success: outcome.Success})

		if outcome.Success {
			out.delivered = true
			d.metrics.IncDeliverySent(strings.ToLower(ch.String()))
		} else {
			d.metrics.IncDeliveryFailed(strings.ToLower(ch.String()), failureReason(outcome.Err))
		}
	}

	// No sender could even be attempted: record a deterministic failure so
	// the recipient still shows up in the delivery log and counts as failed.
	if attempted == 0 {
		outcome := channel.Outcome{Err: channel.ErrNoContactChannel}
		d.recordAttempt(ctx, alert, recipient, domain.ChannelPush, attemptNumber, outcome)
		out.channels = append(out.channels, channelResult{channel: domain.ChannelPush, success: false})
		out.delivered = false
		d.metrics.IncDeliveryFailed(strings.ToLower(domain.ChannelPush.String()), failureReason(outcome.Err))
	}

	return out
}

// failWholeBatch records every recipient of a failed batch with the
// batch-level reason and folds them into the aggregate as failures.
func (d *Dispatcher) failWholeBatch(
	ctx context.Context,
	alert *domain.Alert,
	batch []domain.Recipient,
	attemptNumber int,
	batchErr error,
	result *BatchResult,
) {
	for _, recipient := range batch {
		ch := firstPlannedChannel(recipient)
		d.recordAttempt(ctx, alert, recipient, ch, attemptNumber, channel.Outcome{Err: batchErr})
		result.FailureCount++
		result.recordChannel(ch, false)
		d.metrics.IncDeliveryFailed(strings.ToLower(ch.String()), "batch_failure")
	}
}

func (d *Dispatcher) recordAttempt(
	ctx context.Context,
	alert *domain.Alert,
	recipient domain.Recipient,
	ch domain.Channel,
	attemptNumber int,
	outcome channel.Outcome,
) {
	now := d.now().UTC()
	attempt := &domain.DeliveryAttempt{
		ID:            uuid.NewString(),
		AlertID:       alert.ID,
		RecipientID:   recipient.ID,
		Channel:       ch,
		AttemptNumber: attemptNumber,
		SentAt:        now,
		CreatedAt:     now,
	}

	if outcome.Success {
		attempt.Status = domain.AttemptStatusSent
		if ref := strings.TrimSpace(outcome.MessageRef); ref != "" {
			attempt.MessageRef = &ref
		}
	} else {
		attempt.Status = domain.AttemptStatusFailed
		detail := failureReason(outcome.Err)
		attempt.ErrorDetail = &detail
	}

	if err := d.attempts.Create(ctx, attempt); err != nil {
		// The outcome already counted; losing the log row must not fail the
		// recipient or the batch.
		d.logger.Error("failed to append delivery attempt",
			zap.String("alertId", alert.ID),
			zap.String("recipientId", recipient.ID),
			zap.String("channel", ch.String()),
			zap.Int("attemptNumber", attemptNumber),
			zap.Error(err),
		)
	}
}

func failureReason(err error) string {
	if err == nil {
		return "send failed"
	}
	return err.Error()
}

func firstPlannedChannel(recipient domain.Recipient) domain.Channel {
	plan := recipient.OptedInChannels()
	if len(plan) == 0 {
		return domain.ChannelPush
	}
	return plan[0]
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
