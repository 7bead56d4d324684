package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/alert-engine/internal/domain"
	"gorm.io/gorm"
)

type AlertRepository interface {
	Create(ctx context.Context, alert *domain.Alert) error
	GetByID(ctx context.Context, id string) (*domain.Alert, error)
	// BeginDispatch records recipient resolution: sets the recipient count
	// and moves the alert into the given status (SENDING, or COMPLETED for an
	// empty recipient set).
	BeginDispatch(ctx context.Context, id string, recipientCount int, status domain.DeliveryStatus) error
	UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus) error
	// Finalize writes the post-run counters and terminal status.
	Finalize(ctx context.Context, id string, delivered, failed int, status domain.DeliveryStatus) error
}

type GormAlertRepo struct {
	db *gorm.DB
}

func NewGormAlertRepo(db *gorm.DB) *GormAlertRepo {
	return &GormAlertRepo{db: db}
}

func (r *GormAlertRepo) Create(ctx context.Context, alert *domain.Alert) error {
	model := alertModelFromDomain(alert)
	if err := dbFor(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if alert != nil {
		*alert = *alertModelToDomain(model)
	}
	return nil
}

func (r *GormAlertRepo) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	var model AlertModel
	err := dbFor(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alertModelToDomain(&model), nil
}

func (r *GormAlertRepo) BeginDispatch(ctx context.Context, id string, recipientCount int, status domain.DeliveryStatus) error {
	result := dbFor(ctx, r.db).
		Model(&AlertModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"recipient_count": recipientCount,
			"delivery_status": status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAlertRepo) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus) error {
	result := dbFor(ctx, r.db).
		Model(&AlertModel{}).
		Where("id = ?", id).
		Update("delivery_status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormAlertRepo) Finalize(ctx context.Context, id string, delivered, failed int, status domain.DeliveryStatus) error {
	result := dbFor(ctx, r.db).
		Model(&AlertModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delivered_count": delivered,
			"failed_count":    failed,
			"delivery_status": status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
