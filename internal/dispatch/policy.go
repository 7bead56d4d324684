package dispatch

import "github.com/kursadbilgin/alert-engine/internal/domain"

// ChannelsToAttempt applies the severity fallback policy: once any channel
// succeeded for a recipient, remaining channels are skipped unless the alert
// is HIGH severity, where every enabled channel is attempted to maximize
// reach.
func ChannelsToAttempt(severity domain.Severity, remaining []domain.Channel, priorSuccess bool) []domain.Channel {
	if priorSuccess && severity != domain.SeverityHigh {
		return nil
	}
	return remaining
}
