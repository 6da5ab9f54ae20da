package models

import (
	"time"

	"gorm.io/gorm"
)

type Player struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	SessionID string         `json:"session_id" gorm:"not null;uniqueIndex:idx_session_nickname"`
	Nickname  string         `json:"nickname" gorm:"not null;uniqueIndex:idx_session_nickname"` // <=20 chars, alnum+space
	Score     int            `json:"score" gorm:"not null;default:0"`
	JoinedAt  time.Time      `json:"joined_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Session Session `json:"session,omitempty"`
}
