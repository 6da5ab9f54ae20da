package models

import (
	"time"

	"gorm.io/gorm"
)

// Power-up catalog names. The catalog holds exactly these three.
const (
	PowerUpSkipQuestion = "skip_question"
	PowerUpDoublePoints = "double_points"
	PowerUpFiftyFifty   = "fifty_fifty"
)

type PowerUp struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	Name           string         `json:"name" gorm:"uniqueIndex;not null"`
	Description    string         `json:"description"`
	Icon           string         `json:"icon"`
	MaxUsesPerGame int            `json:"max_uses_per_game" gorm:"not null;default:1"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

// PlayerPowerUp is a player's grant of a catalog power-up. The composite
// unique index makes re-granting an upsert rather than a duplicate row.
type PlayerPowerUp struct {
	ID            string         `json:"id" gorm:"primaryKey"`
	PlayerID      string         `json:"player_id" gorm:"not null;uniqueIndex:idx_player_power_up"`
	PowerUpID     string         `json:"power_up_id" gorm:"not null;uniqueIndex:idx_player_power_up"`
	UsesRemaining int            `json:"uses_remaining" gorm:"not null"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Player  Player  `json:"player,omitempty"`
	PowerUp PowerUp `json:"power_up,omitempty"`
}

// PowerUpUsage is the append-only audit record. A row for
// (player, power-up, question) blocks reuse on that question.
type PowerUpUsage struct {
	ID         string         `json:"id" gorm:"primaryKey"`
	PlayerID   string         `json:"player_id" gorm:"not null;uniqueIndex:idx_power_up_usage"`
	PowerUpID  string         `json:"power_up_id" gorm:"not null;uniqueIndex:idx_power_up_usage"`
	QuestionID string         `json:"question_id" gorm:"not null;uniqueIndex:idx_power_up_usage"`
	UsedAt     time.Time      `json:"used_at"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Player  Player  `json:"player,omitempty"`
	PowerUp PowerUp `json:"power_up,omitempty"`
}
