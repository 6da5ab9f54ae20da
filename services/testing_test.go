package services

import (
	"context"
	"testing"
	"time"

	"github.com/Tae5567/trivparty-server/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database migrated with the full
// schema and a seeded power-up catalog.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Quiz{},
		&models.Question{},
		&models.Session{},
		&models.Player{},
		&models.PlayerAnswer{},
		&models.PowerUp{},
		&models.PlayerPowerUp{},
		&models.PowerUpUsage{},
	))

	require.NoError(t, NewPowerUpService(db).SeedCatalog(context.Background()))
	return db
}

func createTestSession(t *testing.T, db *gorm.DB, status string) *models.Session {
	t.Helper()

	quiz := models.Quiz{ID: uuid.NewString(), UserID: uuid.NewString(), Title: "Test Quiz"}
	require.NoError(t, db.Create(&quiz).Error)

	session := models.Session{
		ID:       uuid.NewString(),
		QuizID:   quiz.ID,
		HostID:   quiz.UserID,
		JoinCode: generateJoinCode(),
		Status:   status,
	}
	require.NoError(t, db.Create(&session).Error)
	return &session
}

func createTestPlayer(t *testing.T, db *gorm.DB, sessionID, nickname string, score int, joinedAt time.Time) *models.Player {
	t.Helper()

	player := models.Player{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Nickname:  nickname,
		Score:     score,
		JoinedAt:  joinedAt,
	}
	require.NoError(t, db.Create(&player).Error)
	return &player
}

func createTestQuestion(t *testing.T, db *gorm.DB, quizID string, order int) *models.Question {
	t.Helper()

	question := models.Question{
		ID:            uuid.NewString(),
		QuizID:        quizID,
		Text:          "What is 2+2?",
		OptionA:       "3",
		OptionB:       "4",
		OptionC:       "5",
		OptionD:       "6",
		CorrectAnswer: "4",
		Explanation:   "Basic arithmetic.",
		QuestionOrder: order,
	}
	require.NoError(t, db.Create(&question).Error)
	return &question
}
