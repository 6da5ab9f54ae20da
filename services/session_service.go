package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Tae5567/trivparty-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxNicknameLength = 20

var nicknamePattern = regexp.MustCompile(`^[a-zA-Z0-9 ]+$`)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionCompleted  = errors.New("session has already completed")
	ErrNicknameTaken     = errors.New("nickname already taken in this session")
	ErrInvalidNickname   = errors.New("nickname must be 1-20 letters, digits or spaces")
	ErrQuizHasNoQuestion = errors.New("quiz has no questions")
)

// SessionService handles session creation, joining and leaderboards.
type SessionService struct {
	db       *gorm.DB
	powerUps *PowerUpService
}

func NewSessionService(db *gorm.DB, powerUps *PowerUpService) *SessionService {
	return &SessionService{db: db, powerUps: powerUps}
}

// CreateSession converts a quiz into a joinable session with a fresh
// 6-character join code. Only the quiz owner may host it.
func (s *SessionService) CreateSession(ctx context.Context, hostID, quizID string) (*models.Session, error) {
	var quiz models.Quiz
	err := s.db.WithContext(ctx).
		Preload("Questions").
		First(&quiz, "id = ? AND user_id = ?", quizID, hostID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("quiz not found")
		}
		return nil, fmt.Errorf("failed to load quiz: %w", err)
	}

	if len(quiz.Questions) == 0 {
		return nil, ErrQuizHasNoQuestion
	}

	session := models.Session{
		ID:       uuid.NewString(),
		QuizID:   quizID,
		HostID:   hostID,
		JoinCode: generateJoinCode(),
		Status:   models.SessionStatusWaiting,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

// JoinSession validates the nickname, creates the player row and grants
// the starting power-ups. Completed sessions cannot be joined.
func (s *SessionService) JoinSession(ctx context.Context, joinCode, nickname string) (*models.Player, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || len(nickname) > maxNicknameLength || !nicknamePattern.MatchString(nickname) {
		return nil, ErrInvalidNickname
	}

	session, err := s.GetSessionByCode(ctx, joinCode)
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionStatusCompleted {
		return nil, ErrSessionCompleted
	}

	player := models.Player{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Nickname:  nickname,
		Score:     0,
		JoinedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&player).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrNicknameTaken
		}
		return nil, fmt.Errorf("failed to create player: %w", err)
	}

	if err := s.powerUps.InitializePlayerPowerUps(ctx, player.ID); err != nil {
		return nil, err
	}

	return &player, nil
}

// GetSessionByCode looks a session up by its join code,
// case-insensitively.
func (s *SessionService) GetSessionByCode(ctx context.Context, joinCode string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).
		First(&session, "LOWER(join_code) = ?", strings.ToLower(joinCode)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

// GetSessionQuestions returns the quiz questions for a session in play
// order.
func (s *SessionService) GetSessionQuestions(ctx context.Context, sessionID string) ([]models.Question, error) {
	var session models.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, ErrSessionNotFound
	}

	var questions []models.Question
	err := s.db.WithContext(ctx).
		Where("quiz_id = ?", session.QuizID).
		Order("question_order ASC").
		Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	return questions, nil
}

// GetQuestionByID fetches a single question row.
func (s *SessionService) GetQuestionByID(ctx context.Context, questionID string) (*models.Question, error) {
	var question models.Question
	if err := s.db.WithContext(ctx).First(&question, "id = ?", questionID).Error; err != nil {
		return nil, fmt.Errorf("question not found: %w", err)
	}
	return &question, nil
}

// GetPlayerByID fetches a single player row.
func (s *SessionService) GetPlayerByID(ctx context.Context, playerID string) (*models.Player, error) {
	var player models.Player
	if err := s.db.WithContext(ctx).First(&player, "id = ?", playerID).Error; err != nil {
		return nil, fmt.Errorf("player not found: %w", err)
	}
	return &player, nil
}

// GetSessionLeaderboard returns the session's players best score first,
// ties broken toward the earlier joiner.
func (s *SessionService) GetSessionLeaderboard(ctx context.Context, sessionID string) ([]models.Player, error) {
	var players []models.Player
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Find(&players).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load players: %w", err)
	}
	return SortLeaderboard(players), nil
}

// generateJoinCode returns 6 hex characters from a CSPRNG.
func generateJoinCode() string {
	bytes := make([]byte, 3)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:6]
}
