package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tae5567/trivparty-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsePowerUpResult carries the outcome of a consumption attempt. Denials
// are expected, frequent outcomes (double clicks, depleted uses), so they
// come back as a value instead of an error.
type UsePowerUpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PowerUpService grants, consumes and queries limited-use modifiers.
type PowerUpService struct {
	db *gorm.DB
}

func NewPowerUpService(db *gorm.DB) *PowerUpService {
	return &PowerUpService{db: db}
}

// DefaultCatalog is the full power-up catalog, seeded at migration time.
func DefaultCatalog() []models.PowerUp {
	return []models.PowerUp{
		{
			ID:             uuid.NewString(),
			Name:           models.PowerUpSkipQuestion,
			Description:    "Skip a question without affecting your score",
			Icon:           "⏭️",
			MaxUsesPerGame: 1,
		},
		{
			ID:             uuid.NewString(),
			Name:           models.PowerUpDoublePoints,
			Description:    "Double the points for your next correct answer",
			Icon:           "✨",
			MaxUsesPerGame: 1,
		},
		{
			ID:             uuid.NewString(),
			Name:           models.PowerUpFiftyFifty,
			Description:    "Remove two incorrect options",
			Icon:           "➗",
			MaxUsesPerGame: 1,
		},
	}
}

// SeedCatalog inserts any missing catalog entries. Existing rows are left
// untouched.
func (s *PowerUpService) SeedCatalog(ctx context.Context) error {
	for _, powerUp := range DefaultCatalog() {
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).
			Create(&powerUp).Error
		if err != nil {
			return fmt.Errorf("failed to seed power-up %s: %w", powerUp.Name, err)
		}
	}
	return nil
}

// InitializePlayerPowerUps grants every catalog power-up to the player at
// its per-game maximum. The grant is an upsert keyed on
// (player, power-up), so a retried invocation cannot double the grant.
func (s *PowerUpService) InitializePlayerPowerUps(ctx context.Context, playerID string) error {
	var catalog []models.PowerUp
	if err := s.db.WithContext(ctx).Find(&catalog).Error; err != nil {
		return fmt.Errorf("failed to load power-up catalog: %w", err)
	}

	for _, powerUp := range catalog {
		grant := models.PlayerPowerUp{
			ID:            uuid.NewString(),
			PlayerID:      playerID,
			PowerUpID:     powerUp.ID,
			UsesRemaining: powerUp.MaxUsesPerGame,
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "player_id"}, {Name: "power_up_id"}},
				DoNothing: true,
			}).
			Create(&grant).Error
		if err != nil {
			return fmt.Errorf("failed to grant power-up %s: %w", powerUp.Name, err)
		}
	}
	return nil
}

// UsePowerUp consumes one use of the named power-up for a question. The
// usage-row insert and the conditional decrement run in one transaction:
// the unique usage index blocks a retried request on the same question,
// and the uses_remaining > 0 guard on the decrement closes the
// double-spend race between concurrent calls.
func (s *PowerUpService) UsePowerUp(ctx context.Context, playerID, powerUpName, questionID string) (*UsePowerUpResult, error) {
	var denial *UsePowerUpResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var powerUp models.PowerUp
		if err := tx.First(&powerUp, "name = ?", powerUpName).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				denial = &UsePowerUpResult{Message: "Power-up not found"}
				return nil
			}
			return fmt.Errorf("failed to look up power-up: %w", err)
		}

		var grant models.PlayerPowerUp
		err := tx.First(&grant, "player_id = ? AND power_up_id = ?", playerID, powerUp.ID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				denial = &UsePowerUpResult{Message: "Power-up not available for this player"}
				return nil
			}
			return fmt.Errorf("failed to look up power-up grant: %w", err)
		}

		// A retry on the same question is reported as such, before any
		// uses-remaining denial.
		var priorUses int64
		err = tx.Model(&models.PowerUpUsage{}).
			Where("player_id = ? AND power_up_id = ? AND question_id = ?", playerID, powerUp.ID, questionID).
			Count(&priorUses).Error
		if err != nil {
			return fmt.Errorf("failed to check prior power-up usage: %w", err)
		}
		if priorUses > 0 {
			denial = &UsePowerUpResult{Message: "Power-up already used on this question"}
			return nil
		}

		if grant.UsesRemaining <= 0 {
			denial = &UsePowerUpResult{Message: "No uses remaining"}
			return nil
		}

		usage := models.PowerUpUsage{
			ID:         uuid.NewString(),
			PlayerID:   playerID,
			PowerUpID:  powerUp.ID,
			QuestionID: questionID,
			UsedAt:     time.Now().UTC(),
		}
		if err := tx.Create(&usage).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// A concurrent request slipped in between the check and the
				// insert. Roll back: Postgres will not commit a transaction
				// past a failed INSERT.
				denial = &UsePowerUpResult{Message: "Power-up already used on this question"}
				return errRolledBackDenial
			}
			return fmt.Errorf("failed to record power-up usage: %w", err)
		}

		result := tx.Model(&models.PlayerPowerUp{}).
			Where("player_id = ? AND power_up_id = ? AND uses_remaining > 0", playerID, powerUp.ID).
			Update("uses_remaining", gorm.Expr("uses_remaining - 1"))
		if result.Error != nil {
			return fmt.Errorf("failed to consume power-up use: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// A concurrent use won the race; roll the usage row back.
			denial = &UsePowerUpResult{Message: "No uses remaining"}
			return errRolledBackDenial
		}
		return nil
	})

	if err != nil && !errors.Is(err, errRolledBackDenial) {
		return nil, err
	}
	if denial != nil {
		return denial, nil
	}
	return &UsePowerUpResult{Success: true, Message: "Power-up activated"}, nil
}

// errRolledBackDenial aborts the transaction while still reporting the
// failure as a domain denial rather than an error.
var errRolledBackDenial = errors.New("power-up denial, transaction rolled back")

// WasPowerUpUsed reports whether a usage row exists for the
// (player, power-up, question) triple.
func (s *PowerUpService) WasPowerUpUsed(ctx context.Context, playerID, powerUpName, questionID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PowerUpUsage{}).
		Joins("JOIN power_ups ON power_ups.id = power_up_usages.power_up_id").
		Where("power_up_usages.player_id = ? AND power_ups.name = ? AND power_up_usages.question_id = ?",
			playerID, powerUpName, questionID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check power-up usage: %w", err)
	}
	return count > 0, nil
}

// GetPlayerPowerUps returns the player's grants with catalog details.
func (s *PowerUpService) GetPlayerPowerUps(ctx context.Context, playerID string) ([]models.PlayerPowerUp, error) {
	var grants []models.PlayerPowerUp
	err := s.db.WithContext(ctx).
		Preload("PowerUp").
		Where("player_id = ?", playerID).
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch player power-ups: %w", err)
	}
	return grants, nil
}

// ResetSessionPowerUps restores every player's uses to the catalog
// maximum and deletes all usage rows for the session. Used on restart.
func (s *PowerUpService) ResetSessionPowerUps(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		playerIDs := tx.Model(&models.Player{}).
			Select("id").
			Where("session_id = ?", sessionID)

		var catalog []models.PowerUp
		if err := tx.Find(&catalog).Error; err != nil {
			return fmt.Errorf("failed to load power-up catalog: %w", err)
		}

		for _, powerUp := range catalog {
			err := tx.Model(&models.PlayerPowerUp{}).
				Where("power_up_id = ? AND player_id IN (?)", powerUp.ID, playerIDs).
				Update("uses_remaining", powerUp.MaxUsesPerGame).Error
			if err != nil {
				return fmt.Errorf("failed to reset %s grants: %w", powerUp.Name, err)
			}
		}

		// Hard delete: a soft-deleted usage row would still occupy the
		// unique index and block reuse after the reset.
		err := tx.Unscoped().Where("player_id IN (?)", playerIDs).
			Delete(&models.PowerUpUsage{}).Error
		if err != nil {
			return fmt.Errorf("failed to clear power-up usage: %w", err)
		}
		return nil
	})
}
