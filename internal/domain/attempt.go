package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttemptStatus classifies the outcome of one delivery attempt.
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "PENDING"
	AttemptStatusSent      AttemptStatus = "SENT"
	AttemptStatusDelivered AttemptStatus = "DELIVERED"
	AttemptStatusFailed    AttemptStatus = "FAILED"
	AttemptStatusBounced   AttemptStatus = "BOUNCED"
)

func (s AttemptStatus) String() string { return string(s) }

func (s AttemptStatus) IsValid() bool {
	switch s {
	case AttemptStatusPending, AttemptStatusSent, AttemptStatusDelivered, AttemptStatusFailed, AttemptStatusBounced:
		return true
	}
	return false
}

// IsSuccess reports whether the attempt reached the recipient's channel.
func (s AttemptStatus) IsSuccess() bool {
	return s == AttemptStatusSent || s == AttemptStatusDelivered
}

// IsFailure reports whether the attempt terminally failed.
func (s AttemptStatus) IsFailure() bool {
	return s == AttemptStatusFailed || s == AttemptStatusBounced
}

func ParseAttemptStatusFromString(s string) (AttemptStatus, error) {
	st := AttemptStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid attempt status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryAttempt records one logged try of one channel for one recipient for
// one alert. Rows are append-only; retries add new rows with a higher attempt
// number instead of mutating existing ones.
type DeliveryAttempt struct {
	ID            string
	AlertID       string
	RecipientID   string
	Channel       Channel
	AttemptNumber int
	Status        AttemptStatus
	ErrorDetail   *string
	MessageRef    *string
	SentAt        time.Time
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}
