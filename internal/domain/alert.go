package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the urgency of an alert. Severities are ordered:
// LOW < MEDIUM < HIGH.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

func (s Severity) String() string { return string(s) }

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Rank returns the ordering position of a severity, LOW being lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

func ParseSeverityFromString(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: invalid severity %q", ErrValidation, s)
	}
	return sev, nil
}

// AlertType categorizes the source of an alert campaign.
type AlertType string

const (
	AlertTypeWeather        AlertType = "WEATHER"
	AlertTypeEmergency      AlertType = "EMERGENCY"
	AlertTypeCommunity      AlertType = "COMMUNITY"
	AlertTypeInfrastructure AlertType = "INFRASTRUCTURE"
)

func (t AlertType) String() string { return string(t) }

func (t AlertType) IsValid() bool {
	switch t {
	case AlertTypeWeather, AlertTypeEmergency, AlertTypeCommunity, AlertTypeInfrastructure:
		return true
	}
	return false
}

func ParseAlertTypeFromString(s string) (AlertType, error) {
	at := AlertType(strings.ToUpper(strings.TrimSpace(s)))
	if !at.IsValid() {
		return "", fmt.Errorf("%w: invalid alert type %q", ErrValidation, s)
	}
	return at, nil
}

// DeliveryStatus represents the lifecycle state of an alert campaign.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusSending   DeliveryStatus = "SENDING"
	DeliveryStatusCompleted DeliveryStatus = "COMPLETED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSending, DeliveryStatusCompleted, DeliveryStatusFailed:
		return true
	}
	return false
}

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusCompleted || s == DeliveryStatusFailed
}

// CanTransitionTo enforces the monotonic lifecycle. A terminal alert may only
// re-enter SENDING through a retry run.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	switch s {
	case DeliveryStatusPending:
		return next == DeliveryStatusSending
	case DeliveryStatusSending:
		return next == DeliveryStatusCompleted || next == DeliveryStatusFailed
	case DeliveryStatusCompleted, DeliveryStatusFailed:
		return next == DeliveryStatusSending
	}
	return false
}

// Region is an administrative subdivision (a parish) scoping recipients.
type Region string

const maxRegionLen = 100

func (r Region) String() string { return string(r) }

func (r Region) IsValid() bool {
	name := strings.TrimSpace(string(r))
	return name != "" && len(name) <= maxRegionLen
}

func ParseRegionFromString(s string) (Region, error) {
	region := Region(strings.TrimSpace(s))
	if !region.IsValid() {
		return "", fmt.Errorf("%w: invalid region %q", ErrValidation, s)
	}
	return region, nil
}

// Content limits for alert campaigns (in characters).
const (
	MinTitleLen   = 5
	MaxTitleLen   = 255
	MinMessageLen = 10
	MaxMessageLen = 2000
)

// Alert is a single notification campaign targeting one or more regions.
// Counters and status are only ever mutated by the orchestrator.
type Alert struct {
	ID             string
	Type           AlertType
	Severity       Severity
	Title          string
	Message        string
	Regions        []Region
	CreatedBy      *string
	ExpiresAt      *time.Time
	DeliveryStatus DeliveryStatus
	RecipientCount int
	DeliveredCount int
	FailedCount    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DispatchRequest is the pre-validated input for a dispatch call. Boundary
// layers construct it; the core only ever sees values that passed Validate.
type DispatchRequest struct {
	Type          AlertType
	Severity      Severity
	Title         string
	Message       string
	Regions       []Region
	ExpiresAt     *time.Time
	EmergencyOnly bool
}

func (r DispatchRequest) Validate(now time.Time) error {
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: invalid alert type %q", ErrValidation, r.Type)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("%w: invalid severity %q", ErrValidation, r.Severity)
	}

	titleLen := len([]rune(strings.TrimSpace(r.Title)))
	if titleLen < MinTitleLen || titleLen > MaxTitleLen {
		return fmt.Errorf("%w: title must be between %d and %d characters (got %d)",
			ErrValidation, MinTitleLen, MaxTitleLen, titleLen)
	}

	messageLen := len([]rune(strings.TrimSpace(r.Message)))
	if messageLen < MinMessageLen || messageLen > MaxMessageLen {
		return fmt.Errorf("%w: message must be between %d and %d characters (got %d)",
			ErrValidation, MinMessageLen, MaxMessageLen, messageLen)
	}

	if len(r.Regions) == 0 {
		return fmt.Errorf("%w: at least one target region is required", ErrValidation)
	}
	for _, region := range r.Regions {
		if !region.IsValid() {
			return fmt.Errorf("%w: invalid region %q", ErrValidation, region)
		}
	}

	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expiresAt must be in the future", ErrValidation)
	}

	return nil
}

// NormalizedRegions returns the target regions trimmed and deduplicated,
// preserving first-seen order.
func (r DispatchRequest) NormalizedRegions() []Region {
	seen := make(map[Region]struct{}, len(r.Regions))
	regions := make([]Region, 0, len(r.Regions))
	for _, region := range r.Regions {
		trimmed := Region(strings.TrimSpace(string(region)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		regions = append(regions, trimmed)
	}
	return regions
}
