package repository

import (
	"context"

	"github.com/kursadbilgin/alert-engine/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.DeliveryAttempt) error
	ListByAlert(ctx context.Context, alertID string) ([]domain.DeliveryAttempt, error)
	// LatestFailed returns, per (recipient, channel) pair of the alert, the
	// most recent attempt, filtered to those whose latest attempt is FAILED.
	LatestFailed(ctx context.Context, alertID string) ([]domain.DeliveryAttempt, error)
	MaxAttemptNumber(ctx context.Context, alertID string) (int, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	model := attemptModelFromDomain(attempt)
	if err := dbFor(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if attempt != nil {
		*attempt = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) ListByAlert(ctx context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
	var models []DeliveryAttemptModel
	err := dbFor(ctx, r.db).
		Where("alert_id = ?", alertID).
		Order("recipient_id ASC, channel ASC, attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

func (r *GormAttemptRepo) LatestFailed(ctx context.Context, alertID string) ([]domain.DeliveryAttempt, error) {
	var models []DeliveryAttemptModel
	err := dbFor(ctx, r.db).Raw(`
		SELECT a.*
		FROM delivery_attempts a
		JOIN (
			SELECT recipient_id, channel, MAX(attempt_number) AS max_attempt
			FROM delivery_attempts
			WHERE alert_id = ?
			GROUP BY recipient_id, channel
		) latest
		  ON a.recipient_id = latest.recipient_id
		 AND a.channel = latest.channel
		 AND a.attempt_number = latest.max_attempt
		WHERE a.alert_id = ? AND a.status = ?
		ORDER BY a.recipient_id ASC, a.channel ASC`,
		alertID, alertID, domain.AttemptStatusFailed,
	).Scan(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

func (r *GormAttemptRepo) MaxAttemptNumber(ctx context.Context, alertID string) (int, error) {
	var maxAttempt int
	err := dbFor(ctx, r.db).
		Model(&DeliveryAttemptModel{}).
		Select("COALESCE(MAX(attempt_number), 0)").
		Where("alert_id = ?", alertID).
		Scan(&maxAttempt).Error
	if err != nil {
		return 0, err
	}
	return maxAttempt, nil
}
