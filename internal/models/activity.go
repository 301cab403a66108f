package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog is one audit trail row for a grading change. SubmissionID ties
// every version of a submission's history together; CorrelationID links the
// row to the request that caused it.
type ActivityLog struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	ActorID       string            `gorm:"size:64;not null;index" json:"actor_id"`
	ActorRole     string            `gorm:"size:32;not null" json:"actor_role"`
	Action        string            `gorm:"size:64;not null;index" json:"action"`
	EntityType    string            `gorm:"size:16;not null;index:idx_activity_entity,priority:1" json:"entity_type"`
	EntityID      string            `gorm:"size:36;index:idx_activity_entity,priority:2" json:"entity_id"`
	SubmissionID  string            `gorm:"size:64;index" json:"submission_id"`
	CorrelationID string            `gorm:"size:64;index" json:"correlation_id"`
	Metadata      datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
}
