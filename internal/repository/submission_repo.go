package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// SubmissionRepository reads exam submissions and their fixed question set.
type SubmissionRepository interface {
	GetWithAnswers(ctx context.Context, id string) (models.ExamSubmission, error)
	ListAnswers(ctx context.Context, submissionID string) ([]models.SubmissionAnswer, error)
	Exists(ctx context.Context, id string) (bool, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) GetWithAnswers(ctx context.Context, id string) (models.ExamSubmission, error) {
	var submission models.ExamSubmission
	if err := conn(ctx, r.db).
		Preload("Answers", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC, question_id ASC")
		}).
		Where("id = ?", id).
		First(&submission).Error; err != nil {
		return models.ExamSubmission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) ListAnswers(ctx context.Context, submissionID string) ([]models.SubmissionAnswer, error) {
	var answers []models.SubmissionAnswer
	if err := conn(ctx, r.db).
		Where("submission_id = ?", submissionID).
		Order("position ASC, question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}

func (r *submissionRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := conn(ctx, r.db).
		Model(&models.ExamSubmission{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
