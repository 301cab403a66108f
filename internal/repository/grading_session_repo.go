package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// GradingSessionRepository persists versioned grading sessions.
type GradingSessionRepository interface {
	Create(ctx context.Context, session *models.GradingSession) error
	GetByID(ctx context.Context, id string) (models.GradingSession, error)
	GetByIDForUpdate(ctx context.Context, id string) (models.GradingSession, error)
	Latest(ctx context.Context, submissionID string) (models.GradingSession, error)
	LatestForMany(ctx context.Context, submissionIDs []string) ([]models.GradingSession, error)
	History(ctx context.Context, submissionID string) ([]models.GradingSession, error)
	MaxVersion(ctx context.Context, submissionID string) (int, error)
	TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus) error
	MarkCompleted(ctx context.Context, id string, completedAt time.Time, totalScore int, comment string) error
	UpdateTotalScore(ctx context.Context, id string, totalScore int) error
	ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]models.GradingSession, error)
}

type gradingSessionRepository struct {
	db *gorm.DB
}

// NewGradingSessionRepository instantiates the repository.
func NewGradingSessionRepository(db *gorm.DB) GradingSessionRepository {
	return &gradingSessionRepository{db: db}
}

func (r *gradingSessionRepository) Create(ctx context.Context, session *models.GradingSession) error {
	if err := conn(ctx, r.db).Omit("Entries").Create(session).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *gradingSessionRepository) GetByID(ctx context.Context, id string) (models.GradingSession, error) {
	var session models.GradingSession
	if err := conn(ctx, r.db).Where("id = ?", id).First(&session).Error; err != nil {
		return models.GradingSession{}, err
	}
	return session, nil
}

func (r *gradingSessionRepository) GetByIDForUpdate(ctx context.Context, id string) (models.GradingSession, error) {
	var session models.GradingSession
	if err := forUpdate(ctx, conn(ctx, r.db)).Where("id = ?", id).First(&session).Error; err != nil {
		return models.GradingSession{}, err
	}
	return session, nil
}

func (r *gradingSessionRepository) Latest(ctx context.Context, submissionID string) (models.GradingSession, error) {
	var session models.GradingSession
	if err := conn(ctx, r.db).
		Where("submission_id = ?", submissionID).
		Order("version DESC").
		First(&session).Error; err != nil {
		return models.GradingSession{}, err
	}
	return session, nil
}

func (r *gradingSessionRepository) LatestForMany(ctx context.Context, submissionIDs []string) ([]models.GradingSession, error) {
	if len(submissionIDs) == 0 {
		return []models.GradingSession{}, nil
	}

	db := conn(ctx, r.db)
	latest := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.GradingSession{}).
		Select("submission_id, MAX(version) AS version").
		Where("submission_id IN ?", submissionIDs).
		Group("submission_id")

	var sessions []models.GradingSession
	if err := db.Table("grading_sessions AS s").
		Select("s.*").
		Joins("JOIN (?) AS latest ON latest.submission_id = s.submission_id AND latest.version = s.version", latest).
		Order("s.submission_id ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *gradingSessionRepository) History(ctx context.Context, submissionID string) ([]models.GradingSession, error) {
	var sessions []models.GradingSession
	if err := conn(ctx, r.db).
		Where("submission_id = ?", submissionID).
		Order("version ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *gradingSessionRepository) MaxVersion(ctx context.Context, submissionID string) (int, error) {
	var version int64
	if err := conn(ctx, r.db).
		Model(&models.GradingSession{}).
		Where("submission_id = ?", submissionID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error; err != nil {
		return 0, err
	}
	return int(version), nil
}

// TransitionStatus flips the status only when the row still holds from.
func (r *gradingSessionRepository) TransitionStatus(ctx context.Context, id string, from, to models.SessionStatus) error {
	result := conn(ctx, r.db).
		Model(&models.GradingSession{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *gradingSessionRepository) MarkCompleted(ctx context.Context, id string, completedAt time.Time, totalScore int, comment string) error {
	result := conn(ctx, r.db).
		Model(&models.GradingSession{}).
		Where("id = ? AND status = ?", id, models.SessionStatusInProgress).
		Updates(map[string]interface{}{
			"status":       models.SessionStatusCompleted,
			"completed_at": completedAt,
			"total_score":  totalScore,
			"comment":      comment,
			"updated_at":   completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *gradingSessionRepository) UpdateTotalScore(ctx context.Context, id string, totalScore int) error {
	result := conn(ctx, r.db).
		Model(&models.GradingSession{}).
		Where("id = ? AND status = ?", id, models.SessionStatusCompleted).
		Updates(map[string]interface{}{
			"total_score": totalScore,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *gradingSessionRepository) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]models.GradingSession, error) {
	query := conn(ctx, r.db).
		Where("status = ?", models.SessionStatusInProgress).
		Where("started_at < ?", startedBefore).
		Order("started_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var sessions []models.GradingSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
