package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/alert-engine/internal/domain"
)

// ChannelBreakdown counts (recipient, channel) pairs by the classification of
// their most recent attempt.
type ChannelBreakdown struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// DeliveryStats is the monitoring view over an alert's delivery log.
// Recipient-level counts classify each recipient by their best outcome across
// channels; the by-channel breakdown classifies each (recipient, channel)
// pair independently.
type DeliveryStats struct {
	Total     int                                 `json:"total"`
	Delivered int                                 `json:"delivered"`
	Failed    int                                 `json:"failed"`
	Pending   int                                 `json:"pending"`
	ByChannel map[domain.Channel]ChannelBreakdown `json:"byChannel"`
}

// GetDeliveryStats scans and classifies the alert's delivery attempts. It is
// a pure read: absent new attempts, repeated calls return identical stats.
func (s *AlertService) GetDeliveryStats(ctx context.Context, alertID string) (*DeliveryStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(alertID) == "" {
		return nil, fmt.Errorf("%w: alert id is required", domain.ErrValidation)
	}

	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	attempts, err := s.attempts.ListByAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery attempts: %w", err)
	}

	return classifyAttempts(alert.RecipientCount, attempts), nil
}

type pairKey struct {
	recipientID string
	channel     domain.Channel
}

func classifyAttempts(recipientCount int, attempts []domain.DeliveryAttempt) *DeliveryStats {
	stats := &DeliveryStats{
		Total:     recipientCount,
		ByChannel: make(map[domain.Channel]ChannelBreakdown),
	}

	// Keep only the latest attempt per (recipient, channel); retries add rows
	// with higher attempt numbers.
	latest := make(map[pairKey]domain.DeliveryAttempt)
	for _, attempt := range attempts {
		key := pairKey{recipientID: attempt.RecipientID, channel: attempt.Channel}
		if current, ok := latest[key]; ok && current.AttemptNumber >= attempt.AttemptNumber {
			continue
		}
		latest[key] = attempt
	}

	type recipientState struct {
		success bool
		pending bool
	}
	recipients := make(map[string]recipientState)

	for key, attempt := range latest {
		breakdown := stats.ByChannel[key.channel]
		state := recipients[key.recipientID]

		switch {
		case attempt.Status.IsSuccess():
			breakdown.Sent++
			state.success = true
		case attempt.Status == domain.AttemptStatusPending:
			breakdown.Pending++
			state.pending = true
		default:
			breakdown.Failed++
		}

		stats.ByChannel[key.channel] = breakdown
		recipients[key.recipientID] = state
	}

	for _, state := range recipients {
		switch {
		case state.success:
			stats.Delivered++
		case state.pending:
			stats.Pending++
		default:
			stats.Failed++
		}
	}

	return stats
}
