package repository

import (
	"strings"
	"time"

	"github.com/kursadbilgin/alert-engine/internal/domain"
)

const regionSeparator = ","

// AlertModel is the persistence model for the alerts table.
type AlertModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	Type           domain.AlertType      `gorm:"type:varchar(20);not null"`
	Severity       domain.Severity       `gorm:"type:varchar(10);not null"`
	Title          string                `gorm:"type:varchar(255);not null"`
	Message        string                `gorm:"type:text;not null"`
	Regions        string                `gorm:"type:text;not null"`
	CreatedBy      *string               `gorm:"type:varchar(255)"`
	ExpiresAt      *time.Time            `gorm:"type:timestamptz"`
	DeliveryStatus domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	RecipientCount int                   `gorm:"not null;default:0"`
	DeliveredCount int                   `gorm:"not null;default:0"`
	FailedCount    int                   `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AlertModel) TableName() string {
	return "alerts"
}

// RecipientModel is the persistence model for the recipients table. The table
// is administered elsewhere; this core only reads it.
type RecipientModel struct {
	ID            string        `gorm:"type:uuid;primaryKey"`
	Email         string        `gorm:"type:varchar(255);not null"`
	Phone         *string       `gorm:"type:varchar(32)"`
	Region        domain.Region `gorm:"type:varchar(100);not null"`
	EmailEnabled  bool          `gorm:"not null;default:true"`
	SMSEnabled    bool          `gorm:"not null;default:false"`
	EmergencyOnly bool          `gorm:"not null;default:false"`
	Active        bool          `gorm:"not null;default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (RecipientModel) TableName() string {
	return "recipients"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
// Rows are append-only.
type DeliveryAttemptModel struct {
	ID            string               `gorm:"type:uuid;primaryKey"`
	AlertID       string               `gorm:"type:uuid;not null"`
	RecipientID   string               `gorm:"type:uuid;not null"`
	Channel       domain.Channel       `gorm:"type:varchar(10);not null"`
	AttemptNumber int                  `gorm:"not null"`
	Status        domain.AttemptStatus `gorm:"type:varchar(20);not null"`
	ErrorDetail   *string              `gorm:"type:text"`
	MessageRef    *string              `gorm:"type:varchar(255)"`
	SentAt        time.Time            `gorm:"type:timestamptz;not null"`
	DeliveredAt   *time.Time           `gorm:"type:timestamptz"`
	CreatedAt     time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func alertModelFromDomain(a *domain.Alert) *AlertModel {
	if a == nil {
		return nil
	}

	return &AlertModel{
		ID:             a.ID,
		Type:           a.Type,
		Severity:       a.Severity,
		Title:          a.Title,
		Message:        a.Message,
		Regions:        joinRegions(a.Regions),
		CreatedBy:      a.CreatedBy,
		ExpiresAt:      a.ExpiresAt,
		DeliveryStatus: a.DeliveryStatus,
		RecipientCount: a.RecipientCount,
		DeliveredCount: a.DeliveredCount,
		FailedCount:    a.FailedCount,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func alertModelToDomain(m *AlertModel) *domain.Alert {
	if m == nil {
		return nil
	}

	return &domain.Alert{
		ID:             m.ID,
		Type:           m.Type,
		Severity:       m.Severity,
		Title:          m.Title,
		Message:        m.Message,
		Regions:        splitRegions(m.Regions),
		CreatedBy:      m.CreatedBy,
		ExpiresAt:      m.ExpiresAt,
		DeliveryStatus: m.DeliveryStatus,
		RecipientCount: m.RecipientCount,
		DeliveredCount: m.DeliveredCount,
		FailedCount:    m.FailedCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:            m.ID,
		Email:         m.Email,
		Phone:         m.Phone,
		Region:        m.Region,
		EmailEnabled:  m.EmailEnabled,
		SMSEnabled:    m.SMSEnabled,
		EmergencyOnly: m.EmergencyOnly,
		Active:        m.Active,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:            a.ID,
		AlertID:       a.AlertID,
		RecipientID:   a.RecipientID,
		Channel:       a.Channel,
		AttemptNumber: a.AttemptNumber,
		Status:        a.Status,
		ErrorDetail:   a.ErrorDetail,
		MessageRef:    a.MessageRef,
		SentAt:        a.SentAt,
		DeliveredAt:   a.DeliveredAt,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:            m.ID,
		AlertID:       m.AlertID,
		RecipientID:   m.RecipientID,
		Channel:       m.Channel,
		AttemptNumber: m.AttemptNumber,
		Status:        m.Status,
		ErrorDetail:   m.ErrorDetail,
		MessageRef:    m.MessageRef,
		SentAt:        m.SentAt,
		DeliveredAt:   m.DeliveredAt,
		CreatedAt:     m.CreatedAt,
	}
}

func joinRegions(regions []domain.Region) string {
	names := make([]string, 0, len(regions))
	for _, region := range regions {
		names = append(names, string(region))
	}
	return strings.Join(names, regionSeparator)
}

func splitRegions(joined string) []domain.Region {
	if strings.TrimSpace(joined) == "" {
		return nil
	}

	parts := strings.Split(joined, regionSeparator)
	regions := make([]domain.Region, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			regions = append(regions, domain.Region(trimmed))
		}
	}
	return regions
}
