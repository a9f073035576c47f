package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/reminder-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createDispatchBatchesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_dispatch_batches",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatchBatchModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatch_batches_status_created ON dispatch_batches (status, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchBatchModel{})
		},
	}
}
