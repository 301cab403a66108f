package models

import "time"

// Grader is a teacher or reviewer allowed to score answers manually.
type Grader struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	DisplayName string    `gorm:"size:128;not null" json:"display_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
