package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// ActivityListRequest defines filters for retrieving grading audit logs.
type ActivityListRequest struct {
	Page       int    `query:"page" validate:"omitempty,gte=1"`
	PageSize   int    `query:"page_size" validate:"omitempty,gte=1,lte=200"`
	ActorID    string `query:"actor_id"`
	Action     string `query:"action"`
	EntityType string `query:"entity_type" validate:"omitempty,oneof=session entry"`
	EntityID      string    `query:"entity_id"`
	SubmissionID  string    `query:"submission_id"`
	CorrelationID string    `query:"correlation_id"`
	Since         time.Time `query:"since"`
}

// ActivityResponse serializes activity log entries.
type ActivityResponse struct {
	ID         uint                   `json:"id"`
	ActorID    string                 `json:"actor_id"`
	ActorRole  string                 `json:"actor_role"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	SubmissionID  string                 `json:"submission_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ActivityListResponse wraps paginated activity logs.
type ActivityListResponse struct {
	Items      []ActivityResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// NewActivityResponse converts a model into an activity DTO.
func NewActivityResponse(entry models.ActivityLog) ActivityResponse {
	metadata := map[string]interface{}{}
	for key, value := range entry.Metadata {
		metadata[key] = value
	}

	return ActivityResponse{
		ID:         entry.ID,
		ActorID:    entry.ActorID,
		ActorRole:  entry.ActorRole,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:      entry.EntityID,
		SubmissionID:  entry.SubmissionID,
		CorrelationID: entry.CorrelationID,
		Metadata:   metadata,
		CreatedAt:  entry.CreatedAt,
	}
}
