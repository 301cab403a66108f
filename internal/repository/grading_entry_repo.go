package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// EntryProgress is the raw graded/total counter pair for a session.
type EntryProgress struct {
	Graded int64
	Total  int64
}

// GradingEntryRepository persists per-question grading entries.
type GradingEntryRepository interface {
	CreateBatch(ctx context.Context, entries []models.GradingEntry) error
	GetByID(ctx context.Context, id string) (models.GradingEntry, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.GradingEntry, error)
	ListUngraded(ctx context.Context, sessionID string) ([]models.GradingEntry, error)
	UpdateScore(ctx context.Context, entry *models.GradingEntry) error
	Progress(ctx context.Context, sessionID string) (EntryProgress, error)
	SumScores(ctx context.Context, sessionID string) (int, error)
}

type gradingEntryRepository struct {
	db *gorm.DB
}

// NewGradingEntryRepository instantiates the repository.
func NewGradingEntryRepository(db *gorm.DB) GradingEntryRepository {
	return &gradingEntryRepository{db: db}
}

func (r *gradingEntryRepository) CreateBatch(ctx context.Context, entries []models.GradingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := conn(ctx, r.db).Create(&entries).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *gradingEntryRepository) GetByID(ctx context.Context, id string) (models.GradingEntry, error) {
	var entry models.GradingEntry
	if err := conn(ctx, r.db).Where("id = ?", id).First(&entry).Error; err != nil {
		return models.GradingEntry{}, err
	}
	return entry, nil
}

func (r *gradingEntryRepository) ListBySession(ctx context.Context, sessionID string) ([]models.GradingEntry, error) {
	var entries []models.GradingEntry
	if err := conn(ctx, r.db).
		Where("session_id = ?", sessionID).
		Order("position ASC, question_id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *gradingEntryRepository) ListUngraded(ctx context.Context, sessionID string) ([]models.GradingEntry, error) {
	var entries []models.GradingEntry
	if err := conn(ctx, r.db).
		Where("session_id = ? AND is_correct IS NULL", sessionID).
		Order("position ASC, question_id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// UpdateScore writes the scoring columns of an entry; identity columns never change.
func (r *gradingEntryRepository) UpdateScore(ctx context.Context, entry *models.GradingEntry) error {
	now := time.Now().UTC()
	result := conn(ctx, r.db).
		Model(&models.GradingEntry{}).
		Where("id = ? AND session_id = ?", entry.ID, entry.SessionID).
		Updates(map[string]interface{}{
			"is_correct":     entry.IsCorrect,
			"score":          entry.Score,
			"grading_method": entry.GradingMethod,
			"confidence":     entry.Confidence,
			"feedback":       entry.Feedback,
			"analysis_notes": entry.AnalysisNotes,
			"details":        entry.Details,
			"graded_by":      entry.GradedBy,
			"graded_at":      entry.GradedAt,
			"updated_at":     now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	entry.UpdatedAt = now
	return nil
}

func (r *gradingEntryRepository) Progress(ctx context.Context, sessionID string) (EntryProgress, error) {
	var row struct {
		Graded int64
		Total  int64
	}
	if err := conn(ctx, r.db).
		Model(&models.GradingEntry{}).
		Select("COUNT(is_correct) AS graded, COUNT(*) AS total").
		Where("session_id = ?", sessionID).
		Scan(&row).Error; err != nil {
		return EntryProgress{}, err
	}
	return EntryProgress{Graded: row.Graded, Total: row.Total}, nil
}

func (r *gradingEntryRepository) SumScores(ctx context.Context, sessionID string) (int, error) {
	var total int64
	if err := conn(ctx, r.db).
		Model(&models.GradingEntry{}).
		Select("COALESCE(SUM(score), 0)").
		Where("session_id = ?", sessionID).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}
