package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/alert-engine/internal/repository"
	"gorm.io/gorm"
)

func createAlertsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_alerts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AlertModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_alerts_status_created ON alerts (delivery_status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_alerts_type_severity ON alerts (type, severity)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AlertModel{})
		},
	}
}
