package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/alert-engine/internal/repository"
	"gorm.io/gorm"
)

func createRecipientsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_recipients",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecipientModel{}); err != nil {
				return err
			}
			// The eligibility query filters on region and active, then orders
			// by creation time for a deterministic fan-out order.
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_recipients_region_active_created ON recipients (region, active, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecipientModel{})
		},
	}
}
