package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/esimpay/internal/models"
)

var ErrOperatorNotFound = errors.New("operator not found")

// OperatorStore loads back-office accounts for login.
type OperatorStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Operator, error)
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type GormOperatorStore struct {
	db *gorm.DB
}

func NewGormOperatorStore(db *gorm.DB) *GormOperatorStore {
	return &GormOperatorStore{db: db}
}

func (s *GormOperatorStore) FindByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var operator models.Operator
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&operator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}
	return &operator, nil
}

func (s *GormOperatorStore) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_login_at": at}).Error
}

// Upsert creates the operator or replaces its password hash.
func (s *GormOperatorStore) Upsert(ctx context.Context, username, passwordHash string) error {
	operator := models.Operator{Username: username, PasswordHash: passwordHash}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"password_hash", "updated_at"}),
		}).
		Create(&operator).Error
}
