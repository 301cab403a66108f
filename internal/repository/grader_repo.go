package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// GraderRepository resolves grader identities.
type GraderRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type graderRepository struct {
	db *gorm.DB
}

// NewGraderRepository instantiates the repository.
func NewGraderRepository(db *gorm.DB) GraderRepository {
	return &graderRepository{db: db}
}

// Exists reports whether an active grader with the identifier is registered.
func (r *graderRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := conn(ctx, r.db).
		Model(&models.Grader{}).
		Where("id = ? AND active = ?", id, true).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
