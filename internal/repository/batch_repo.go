package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
	"gorm.io/gorm"
)

const resultInsertBatchSize = 200

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	Complete(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// Create inserts the batch row and its results in one transaction.
func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := batchModelFromDomain(b)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if err := insertResults(tx, b.Results); err != nil {
			return err
		}

		b.CreatedAt = model.CreatedAt
		b.UpdatedAt = model.UpdatedAt
		return nil
	})
}

// Complete finalizes a previously queued batch with its counts and results.
func (r *GormBatchRepo) Complete(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&DispatchBatchModel{}).
			Where("id = ?", b.ID).
			Updates(map[string]any{
				"status":             b.Status,
				"total_count":        b.TotalCount,
				"success_count":      b.SuccessCount,
				"failed_count":       b.FailedCount,
				"duplicates_removed": b.DuplicatesRemoved,
				"reject_reason":      b.RejectReason,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}

		if err := tx.Where("batch_id = ?", b.ID).Delete(&DispatchResultModel{}).Error; err != nil {
			return err
		}
		return insertResults(tx, b.Results)
	})
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model DispatchBatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var results []DispatchResultModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", id).
		Order("position ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}

	batch := batchModelToDomain(&model)
	batch.Results = make([]domain.BatchResult, 0, len(results))
	for i := range results {
		batch.Results = append(batch.Results, resultModelToDomain(&results[i]))
	}

	return batch, nil
}

func insertResults(tx *gorm.DB, results []domain.BatchResult) error {
	if len(results) == 0 {
		return nil
	}

	models := make([]*DispatchResultModel, 0, len(results))
	for i := range results {
		models = append(models, resultModelFromDomain(&results[i]))
	}
	return tx.CreateInBatches(models, resultInsertBatchSize).Error
}
