package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/esimpay/internal/models"
)

// PaymentStore is the persistence boundary of the reconciler.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByRef(ctx context.Context, refID string) (*models.Payment, error)
	ListPendingSince(ctx context.Context, since time.Time) ([]models.Payment, error)
	ListPaged(ctx context.Context, status string, offset, limit int) ([]models.Payment, int64, error)
	// UpdateFields writes fields only while the row still has expectedStatus.
	// It returns ErrStatusConflict when another writer got there first.
	UpdateFields(ctx context.Context, id uuid.UUID, expectedStatus string, fields map[string]any) error
	RecordEvent(ctx context.Context, event *models.PaymentGatewayEvent) error
}

// GormPaymentStore implements PaymentStore on postgres.
type GormPaymentStore struct {
	db *gorm.DB
}

func NewGormPaymentStore(db *gorm.DB) *GormPaymentStore {
	return &GormPaymentStore{db: db}
}

func (s *GormPaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	return s.db.WithContext(ctx).Create(payment).Error
}

func (s *GormPaymentStore) FindByRef(ctx context.Context, refID string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).
		Where("ref_id = ?", refID).
		First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (s *GormPaymentStore) ListPendingSince(ctx context.Context, since time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", models.PaymentStatusPending, since).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

func (s *GormPaymentStore) ListPaged(ctx context.Context, status string, offset, limit int) ([]models.Payment, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Payment{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.Payment
	if err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (s *GormPaymentStore) UpdateFields(ctx context.Context, id uuid.UUID, expectedStatus string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *GormPaymentStore) RecordEvent(ctx context.Context, event *models.PaymentGatewayEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// PaymentStats summarizes stored payments for the operator dashboard.
type PaymentStats struct {
	ByStatus       map[string]int64           `json:"by_status"`
	ByGateway      map[string]int64           `json:"by_gateway"`
	CompletedTotal map[string]decimal.Decimal `json:"completed_total"`
	PendingInSweep int64                      `json:"pending_in_sweep"`
}

// Stats aggregates payment counts and completed volume per currency.
func (s *GormPaymentStore) Stats(ctx context.Context, sweepSince time.Time) (*PaymentStats, error) {
	stats := &PaymentStats{
		ByStatus:       map[string]int64{},
		ByGateway:      map[string]int64{},
		CompletedTotal: map[string]decimal.Decimal{},
	}

	type groupCount struct {
		Label string
		Count int64
	}

	var byStatus []groupCount
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("status as label, count(*) as count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Label] = row.Count
	}

	var byGateway []groupCount
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select("payment_gateway as label, count(*) as count").
		Group("payment_gateway").
		Scan(&byGateway).Error; err != nil {
		return nil, err
	}
	for _, row := range byGateway {
		stats.ByGateway[row.Label] = row.Count
	}

	type currencyTotal struct {
		Currency string
		Total    decimal.Decimal
	}
	var totals []currencyTotal
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusCompleted).
		Select("currency, COALESCE(SUM(amount), 0) as total").
		Group("currency").
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	for _, row := range totals {
		stats.CompletedTotal[row.Currency] = row.Total
	}

	if err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ? AND created_at >= ?", models.PaymentStatusPending, sweepSince).
		Count(&stats.PendingInSweep).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
