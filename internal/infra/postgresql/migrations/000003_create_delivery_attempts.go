package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/alert-engine/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_delivery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				// Serves both the full log scan and the latest-attempt-per-pair
				// aggregation behind retry selection.
				`CREATE INDEX IF NOT EXISTS idx_attempts_alert_recipient_channel ON delivery_attempts (alert_id, recipient_id, channel, attempt_number)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_alert_status ON delivery_attempts (alert_id, status)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{})
		},
	}
}
