package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/Tae5567/trivparty-server/models"

	"gorm.io/gorm"
)

var (
	// ErrNotInitialized is returned when a broadcast is attempted before
	// Initialize has completed. Always a caller bug.
	ErrNotInitialized = errors.New("sync channel not initialized")

	// ErrAnswerAlreadySubmitted is returned when a player answers the
	// same question twice.
	ErrAnswerAlreadySubmitted = errors.New("answer already submitted")
)

// GameState is the composed, on-demand view of a session. It is rebuilt
// from the store every time and never independently mutated.
type GameState struct {
	Session         *models.Session  `json:"session"`
	Players         []models.Player  `json:"players"`
	CurrentQuestion *models.Question `json:"current_question,omitempty"`
	ShowResults     bool             `json:"show_results"`
}

// QuestionAnswer is a recorded answer joined with the player's nickname.
type QuestionAnswer struct {
	PlayerID       string `json:"player_id"`
	Nickname       string `json:"nickname"`
	SelectedAnswer string `json:"selected_answer"`
	IsCorrect      bool   `json:"is_correct"`
	PointsEarned   int    `json:"points_earned"`
}

// Broadcast payloads. The session id rides in every payload so clients
// multiplexing channels can route without inspecting the channel name.

type GameStatePayload struct {
	SessionID string     `json:"session_id"`
	State     *GameState `json:"state"`
}

type QuestionChangedPayload struct {
	SessionID      string           `json:"session_id"`
	Question       *models.Question `json:"question"`
	QuestionIndex  int              `json:"question_index"`
	TotalQuestions int              `json:"total_questions"`
	TimeLimit      int              `json:"time_limit"` // seconds
}

type AnswerRevealPayload struct {
	SessionID     string `json:"session_id"`
	QuestionID    string `json:"question_id"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}

type AnswerSubmittedPayload struct {
	SessionID    string `json:"session_id"`
	PlayerID     string `json:"player_id"`
	QuestionID   string `json:"question_id"`
	PointsEarned int    `json:"points_earned"`
	NewScore     int    `json:"new_score"`
}

type GameCompletePayload struct {
	SessionID   string          `json:"session_id"`
	Leaderboard []models.Player `json:"leaderboard"`
}

// GameStateSync bridges one session's durable state and its broadcast
// channel. One instance per session; not reusable across sessions.
type GameStateSync struct {
	db        *gorm.DB
	channel   *Channel
	sessionID string

	initialized bool
}

func NewGameStateSync(db *gorm.DB, realtime *Realtime, sessionID string) *GameStateSync {
	return &GameStateSync{
		db:        db,
		channel:   realtime.Channel("session:" + sessionID + ":game"),
		sessionID: sessionID,
	}
}

// Initialize opens the session's game channel. Must complete before any
// broadcast is attempted.
func (s *GameStateSync) Initialize(ctx context.Context) error {
	if err := s.channel.Subscribe(ctx); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

func (s *GameStateSync) broadcast(ctx context.Context, event string, payload interface{}) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.channel.Publish(ctx, event, payload)
}

func (s *GameStateSync) BroadcastGameState(ctx context.Context, state *GameState) error {
	return s.broadcast(ctx, EventGameStateSync, GameStatePayload{
		SessionID: s.sessionID,
		State:     state,
	})
}

func (s *GameStateSync) BroadcastQuestionChange(ctx context.Context, question *models.Question, index, total, timeLimit int) error {
	return s.broadcast(ctx, EventQuestionChanged, QuestionChangedPayload{
		SessionID:      s.sessionID,
		Question:       question,
		QuestionIndex:  index,
		TotalQuestions: total,
		TimeLimit:      timeLimit,
	})
}

func (s *GameStateSync) BroadcastAnswerReveal(ctx context.Context, question *models.Question) error {
	return s.broadcast(ctx, EventAnswerReveal, AnswerRevealPayload{
		SessionID:     s.sessionID,
		QuestionID:    question.ID,
		CorrectAnswer: question.CorrectAnswer,
		Explanation:   question.Explanation,
	})
}

func (s *GameStateSync) BroadcastAnswerSubmitted(ctx context.Context, playerID, questionID string, pointsEarned, newScore int) error {
	return s.broadcast(ctx, EventAnswerSubmitted, AnswerSubmittedPayload{
		SessionID:    s.sessionID,
		PlayerID:     playerID,
		QuestionID:   questionID,
		PointsEarned: pointsEarned,
		NewScore:     newScore,
	})
}

func (s *GameStateSync) BroadcastGameComplete(ctx context.Context, leaderboard []models.Player) error {
	return s.broadcast(ctx, EventGameComplete, GameCompletePayload{
		SessionID:   s.sessionID,
		Leaderboard: leaderboard,
	})
}

// GetCurrentGameState composes the session, its players (best score
// first) and the current question. It returns nil on any read failure:
// callers must treat nil as "state unavailable", not "session deleted".
func (s *GameStateSync) GetCurrentGameState(ctx context.Context) *GameState {
	return LoadGameState(ctx, s.db, s.sessionID)
}

// LoadGameState rebuilds the composed session view from the store. Nil on
// any read failure; the error is logged, not returned.
func LoadGameState(ctx context.Context, db *gorm.DB, sessionID string) *GameState {
	var session models.Session
	if err := db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		log.Printf("game state for session %s unavailable: %v", sessionID, err)
		return nil
	}

	var players []models.Player
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("score DESC, joined_at ASC").
		Find(&players).Error; err != nil {
		log.Printf("players for session %s unavailable: %v", sessionID, err)
		return nil
	}

	state := &GameState{Session: &session, Players: players}

	if session.CurrentQuestionID != nil {
		var question models.Question
		if err := db.WithContext(ctx).First(&question, "id = ?", *session.CurrentQuestionID).Error; err != nil {
			log.Printf("current question for session %s unavailable: %v", sessionID, err)
			return nil
		}
		state.CurrentQuestion = &question
	}

	return state
}

func (s *GameStateSync) UpdateSessionStatus(ctx context.Context, status string) error {
	err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", s.sessionID).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// UpdateCurrentQuestion sets or clears the session's current question.
func (s *GameStateSync) UpdateCurrentQuestion(ctx context.Context, questionID *string) error {
	err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", s.sessionID).
		Update("current_question_id", questionID).Error
	if err != nil {
		return fmt.Errorf("failed to update current question: %w", err)
	}
	return nil
}

// AddPlayerScore applies a score delta as a single in-database addition
// and returns the new total. A missing player row is tolerated: the
// current score is treated as 0 rather than erroring, which is the
// permissive path for realtime jitter.
func (s *GameStateSync) AddPlayerScore(ctx context.Context, playerID string, delta int) (int, error) {
	result := s.db.WithContext(ctx).Model(&models.Player{}).
		Where("id = ?", playerID).
		Update("score", gorm.Expr("score + ?", delta))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to update player score: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		log.Printf("score update for unknown player %s in session %s, treating current score as 0", playerID, s.sessionID)
		return delta, nil
	}

	var player models.Player
	if err := s.db.WithContext(ctx).First(&player, "id = ?", playerID).Error; err != nil {
		return 0, fmt.Errorf("failed to read updated player score: %w", err)
	}
	return player.Score, nil
}

// RecordPlayerAnswer persists one answer row. A second answer for the
// same (player, question) pair trips the unique index and is reported as
// ErrAnswerAlreadySubmitted.
func (s *GameStateSync) RecordPlayerAnswer(ctx context.Context, answer *models.PlayerAnswer) error {
	if err := s.db.WithContext(ctx).Create(answer).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAnswerAlreadySubmitted
		}
		return fmt.Errorf("failed to record player answer: %w", err)
	}
	return nil
}

// ClearSessionAnswers removes every recorded answer for the session's
// players. Used on restart: the unique (player, question) index ignores
// deleted_at, so the rows are hard-deleted — a soft delete would still
// block re-answering on replay.
func (s *GameStateSync) ClearSessionAnswers(ctx context.Context) error {
	playerIDs := s.db.Model(&models.Player{}).
		Select("id").
		Where("session_id = ?", s.sessionID)

	err := s.db.WithContext(ctx).Unscoped().
		Where("player_id IN (?)", playerIDs).
		Delete(&models.PlayerAnswer{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear session answers: %w", err)
	}
	return nil
}

// ResetPlayerScores zeroes every player in the session. Used on restart.
func (s *GameStateSync) ResetPlayerScores(ctx context.Context) error {
	err := s.db.WithContext(ctx).Model(&models.Player{}).
		Where("session_id = ?", s.sessionID).
		Update("score", 0).Error
	if err != nil {
		return fmt.Errorf("failed to reset player scores: %w", err)
	}
	return nil
}

// GetQuestionAnswers returns all recorded answers for a question joined
// with player nicknames. Used to reconstruct answers for a forced reveal.
func (s *GameStateSync) GetQuestionAnswers(ctx context.Context, questionID string) ([]QuestionAnswer, error) {
	var answers []QuestionAnswer
	err := s.db.WithContext(ctx).Model(&models.PlayerAnswer{}).
		Select("player_answers.player_id, players.nickname, player_answers.selected_answer, player_answers.is_correct, player_answers.points_earned").
		Joins("JOIN players ON players.id = player_answers.player_id").
		Where("player_answers.question_id = ? AND players.session_id = ?", questionID, s.sessionID).
		Scan(&answers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch question answers: %w", err)
	}
	return answers, nil
}

// Subscription hooks. Delivery order matches arrival order on the
// channel; there is no buffering or replay, so late subscribers should
// self-heal with GetCurrentGameState.

func (s *GameStateSync) OnGameStateChange(fn func(GameStatePayload)) {
	s.channel.On(EventGameStateSync, func(raw json.RawMessage) {
		var payload GameStatePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("malformed %s payload: %v", EventGameStateSync, err)
			return
		}
		fn(payload)
	})
}

func (s *GameStateSync) OnQuestionChange(fn func(QuestionChangedPayload)) {
	s.channel.On(EventQuestionChanged, func(raw json.RawMessage) {
		var payload QuestionChangedPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("malformed %s payload: %v", EventQuestionChanged, err)
			return
		}
		fn(payload)
	})
}

func (s *GameStateSync) OnAnswerReveal(fn func(AnswerRevealPayload)) {
	s.channel.On(EventAnswerReveal, func(raw json.RawMessage) {
		var payload AnswerRevealPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("malformed %s payload: %v", EventAnswerReveal, err)
			return
		}
		fn(payload)
	})
}

func (s *GameStateSync) OnAnswerSubmitted(fn func(AnswerSubmittedPayload)) {
	s.channel.On(EventAnswerSubmitted, func(raw json.RawMessage) {
		var payload AnswerSubmittedPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("malformed %s payload: %v", EventAnswerSubmitted, err)
			return
		}
		fn(payload)
	})
}

func (s *GameStateSync) OnGameComplete(fn func(GameCompletePayload)) {
	s.channel.On(EventGameComplete, func(raw json.RawMessage) {
		var payload GameCompletePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("malformed %s payload: %v", EventGameComplete, err)
			return
		}
		fn(payload)
	})
}

// Cleanup removes the channel. Idempotent.
func (s *GameStateSync) Cleanup() {
	s.channel.Close()
	s.initialized = false
}
