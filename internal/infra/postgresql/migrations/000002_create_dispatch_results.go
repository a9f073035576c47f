package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/reminder-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createDispatchResultsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_dispatch_results",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatchResultModel{}); err != nil {
				return err
			}
			statements := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_dispatch_results_batch_position ON dispatch_results (batch_id, position)`,
				`CREATE INDEX IF NOT EXISTS idx_dispatch_results_address ON dispatch_results (lower(address))`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchResultModel{})
		},
	}
}
