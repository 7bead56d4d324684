package repository

import (
	"context"

	"github.com/kursadbilgin/alert-engine/internal/domain"
	"gorm.io/gorm"
)

// deliveryFields is the column set needed for delivery; recipient profiles
// carry more than dispatch cares about.
var deliveryFields = []string{
	"id", "email", "phone", "region",
	"email_enabled", "sms_enabled", "emergency_only", "active",
	"created_at", "updated_at",
}

type RecipientRepository interface {
	// FindEligible returns active recipients in the given regions with at
	// least one channel opt-in, ordered by region then creation time. With
	// emergencyOnly set, the result is additionally restricted to recipients
	// flagged emergency-only.
	FindEligible(ctx context.Context, regions []domain.Region, emergencyOnly bool) ([]domain.Recipient, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) FindEligible(ctx context.Context, regions []domain.Region, emergencyOnly bool) ([]domain.Recipient, error) {
	if len(regions) == 0 {
		return nil, nil
	}

	query := dbFor(ctx, r.db).
		Model(&RecipientModel{}).
		Select(deliveryFields).
		Where("active = ?", true).
		Where("region IN ?", regions).
		Where("email_enabled OR sms_enabled")
	if emergencyOnly {
		query = query.Where("emergency_only = ?", true)
	}

	var models []RecipientModel
	err := query.
		Order("region ASC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}

	return recipients, nil
}

func (r *GormRecipientRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []RecipientModel
	err := dbFor(ctx, r.db).
		Model(&RecipientModel{}).
		Select(deliveryFields).
		Where("id IN ?", ids).
		Order("region ASC, created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}

	return recipients, nil
}
