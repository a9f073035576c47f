package repository

import (
	"time"

	"github.com/kursadbilgin/reminder-dispatch/internal/domain"
)

// DispatchBatchModel is the persistence model for the dispatch_batches table.
type DispatchBatchModel struct {
	ID                string              `gorm:"type:uuid;primaryKey"`
	TemplateName      domain.TemplateName `gorm:"type:varchar(40);not null"`
	Subject           string              `gorm:"type:varchar(998);not null"`
	Status            domain.BatchStatus  `gorm:"type:varchar(20);not null"`
	TotalCount        int                 `gorm:"not null;default:0"`
	SuccessCount      int                 `gorm:"not null;default:0"`
	FailedCount       int                 `gorm:"not null;default:0"`
	DuplicatesRemoved int                 `gorm:"not null;default:0"`
	RejectReason      *string             `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DispatchBatchModel) TableName() string {
	return "dispatch_batches"
}

// DispatchResultModel is the persistence model for dispatch_results.
type DispatchResultModel struct {
	ID        string            `gorm:"type:uuid;primaryKey"`
	BatchID   string            `gorm:"type:uuid;not null"`
	Position  int               `gorm:"not null"`
	Address   string            `gorm:"type:varchar(320);not null"`
	Success   bool              `gorm:"not null"`
	MessageID *string           `gorm:"type:varchar(255)"`
	Error     *string           `gorm:"type:text"`
	Kind      *domain.ErrorKind `gorm:"type:varchar(40)"`
	CreatedAt time.Time
}

func (DispatchResultModel) TableName() string {
	return "dispatch_results"
}

func batchModelFromDomain(b *domain.Batch) *DispatchBatchModel {
	if b == nil {
		return nil
	}

	return &DispatchBatchModel{
		ID:                b.ID,
		TemplateName:      b.TemplateName,
		Subject:           b.Subject,
		Status:            b.Status,
		TotalCount:        b.TotalCount,
		SuccessCount:      b.SuccessCount,
		FailedCount:       b.FailedCount,
		DuplicatesRemoved: b.DuplicatesRemoved,
		RejectReason:      b.RejectReason,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func batchModelToDomain(m *DispatchBatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:                m.ID,
		TemplateName:      m.TemplateName,
		Subject:           m.Subject,
		Status:            m.Status,
		TotalCount:        m.TotalCount,
		SuccessCount:      m.SuccessCount,
		FailedCount:       m.FailedCount,
		DuplicatesRemoved: m.DuplicatesRemoved,
		RejectReason:      m.RejectReason,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func resultModelFromDomain(r *domain.BatchResult) *DispatchResultModel {
	if r == nil {
		return nil
	}

	return &DispatchResultModel{
		ID:        r.ID,
		BatchID:   r.BatchID,
		Position:  r.Position,
		Address:   r.Address,
		Success:   r.Success,
		MessageID: r.MessageID,
		Error:     r.Error,
		Kind:      r.Kind,
		CreatedAt: r.CreatedAt,
	}
}

func resultModelToDomain(m *DispatchResultModel) domain.BatchResult {
	return domain.BatchResult{
		ID:        m.ID,
		BatchID:   m.BatchID,
		Position:  m.Position,
		Address:   m.Address,
		Success:   m.Success,
		MessageID: m.MessageID,
		Error:     m.Error,
		Kind:      m.Kind,
		CreatedAt: m.CreatedAt,
	}
}
