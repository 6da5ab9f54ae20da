package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Tae5567/trivparty-server/models"

	"github.com/google/uuid"
)

// GamePhase is the flow manager's current phase. Transitions are
// waiting -> question -> results -> { question | complete }, with
// complete -> waiting only via an explicit restart.
type GamePhase string

const (
	PhaseWaiting  GamePhase = "waiting"
	PhaseQuestion GamePhase = "question"
	PhaseResults  GamePhase = "results"
	PhaseComplete GamePhase = "complete"
)

// ErrEmptyQuestionList is returned by StartGame before any side effect
// when the question list is empty.
var ErrEmptyQuestionList = errors.New("cannot start game with no questions")

// GameSync is the store-and-broadcast bridge the flow manager drives.
// Implemented by GameStateSync; faked in tests.
type GameSync interface {
	Initialize(ctx context.Context) error
	Cleanup()
	UpdateSessionStatus(ctx context.Context, status string) error
	UpdateCurrentQuestion(ctx context.Context, questionID *string) error
	AddPlayerScore(ctx context.Context, playerID string, delta int) (int, error)
	RecordPlayerAnswer(ctx context.Context, answer *models.PlayerAnswer) error
	ResetPlayerScores(ctx context.Context) error
	ClearSessionAnswers(ctx context.Context) error
	GetQuestionAnswers(ctx context.Context, questionID string) ([]QuestionAnswer, error)
	GetCurrentGameState(ctx context.Context) *GameState
	BroadcastGameState(ctx context.Context, state *GameState) error
	BroadcastQuestionChange(ctx context.Context, question *models.Question, index, total, timeLimit int) error
	BroadcastAnswerReveal(ctx context.Context, question *models.Question) error
	BroadcastAnswerSubmitted(ctx context.Context, playerID, questionID string, pointsEarned, newScore int) error
	BroadcastGameComplete(ctx context.Context, leaderboard []models.Player) error
}

// PowerUpGate is the slice of the power-up subsystem the scoring path
// consults. Implemented by PowerUpService.
type PowerUpGate interface {
	WasPowerUpUsed(ctx context.Context, playerID, powerUpName, questionID string) (bool, error)
}

type GameFlowConfig struct {
	QuestionTimeLimit  time.Duration
	ResultsDisplayTime time.Duration
	AutoAdvance        bool
}

// AnswerResult is returned to the submitting player.
type AnswerResult struct {
	IsCorrect    bool `json:"is_correct"`
	PointsEarned int  `json:"points_earned"`
	NewScore     int  `json:"new_score"`
}

// GameFlowManager owns question sequencing, per-question timers, answer
// intake, score application and phase transitions for one session. The
// question list handed to StartGame is retained for the manager's
// lifetime, so no timer path ever re-fetches the quiz.
type GameFlowManager struct {
	sync     GameSync
	powerUps PowerUpGate
	cfg      GameFlowConfig

	mu            sync.Mutex
	phase         GamePhase
	questions     []models.Question
	questionIndex int
	questionTimer *time.Timer
	resultsTimer  *time.Timer

	// timerGen invalidates armed timers: a timer that fires after the
	// phase has moved on sees a stale generation and does nothing.
	timerGen uint64

	initialized bool
}

func NewGameFlowManager(gameSync GameSync, powerUps PowerUpGate, cfg GameFlowConfig) *GameFlowManager {
	if cfg.QuestionTimeLimit <= 0 {
		cfg.QuestionTimeLimit = time.Duration(DefaultQuestionTime) * time.Second
	}
	if cfg.ResultsDisplayTime <= 0 {
		cfg.ResultsDisplayTime = 10 * time.Second
	}
	return &GameFlowManager{
		sync:     gameSync,
		powerUps: powerUps,
		cfg:      cfg,
		phase:    PhaseWaiting,
	}
}

// Initialize wires the underlying sync channel. Must complete before any
// other call.
func (m *GameFlowManager) Initialize(ctx context.Context) error {
	if err := m.sync.Initialize(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *GameFlowManager) Phase() GamePhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *GameFlowManager) QuestionIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.questionIndex
}

// CurrentQuestion returns the active question, or nil outside the
// question/results phases.
func (m *GameFlowManager) CurrentQuestion() *models.Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.questionIndex < 0 || m.questionIndex >= len(m.questions) {
		return nil
	}
	question := m.questions[m.questionIndex]
	return &question
}

// StartGame activates the session and begins the first question. Fails
// fast on an empty question list, before any broadcast or store write.
func (m *GameFlowManager) StartGame(ctx context.Context, questions []models.Question) error {
	if len(questions) == 0 {
		return ErrEmptyQuestionList
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}

	if err := m.sync.UpdateSessionStatus(ctx, models.SessionStatusActive); err != nil {
		return err
	}

	m.questions = questions
	m.questionIndex = 0
	return m.startQuestionLocked(ctx)
}

// startQuestionLocked transitions to the question phase, persists the
// current question, broadcasts it and arms the question timer. Caller
// holds m.mu.
func (m *GameFlowManager) startQuestionLocked(ctx context.Context) error {
	question := m.questions[m.questionIndex]

	m.cancelTimersLocked()
	m.phase = PhaseQuestion

	if err := m.sync.UpdateCurrentQuestion(ctx, &question.ID); err != nil {
		return err
	}

	timeLimit := int(m.cfg.QuestionTimeLimit / time.Second)
	if err := m.sync.BroadcastQuestionChange(ctx, &question, m.questionIndex, len(m.questions), timeLimit); err != nil {
		return err
	}

	if m.cfg.AutoAdvance {
		gen := m.timerGen
		m.questionTimer = time.AfterFunc(m.cfg.QuestionTimeLimit, func() {
			m.onQuestionTimeout(gen, question)
		})
	}
	return nil
}

// onQuestionTimeout reveals with whatever answers were recorded up to
// this point. Answers arriving after the timer are not included.
func (m *GameFlowManager) onQuestionTimeout(gen uint64, question models.Question) {
	m.mu.Lock()
	if gen != m.timerGen || m.phase != PhaseQuestion {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recorded, err := m.sync.GetQuestionAnswers(ctx, question.ID)
	if err != nil {
		log.Printf("question timer: failed to collect answers for %s: %v", question.ID, err)
		recorded = nil
	}

	playerAnswers := make(map[string]string, len(recorded))
	for _, answer := range recorded {
		playerAnswers[answer.PlayerID] = answer.SelectedAnswer
	}

	if err := m.RevealAnswer(ctx, &question, playerAnswers); err != nil {
		log.Printf("question timer: reveal failed for %s: %v", question.ID, err)
	}
}

// SubmitAnswer records one player's answer, applies the score and
// broadcasts the result. It never transitions phase; the move to results
// is driven by the timer or a reveal call. Correctness is exact,
// case-sensitive string equality.
func (m *GameFlowManager) SubmitAnswer(ctx context.Context, playerID, questionID, selectedAnswer, correctAnswer string, timeRemaining float64) (*AnswerResult, error) {
	isCorrect := selectedAnswer == correctAnswer

	doublePoints := false
	if m.powerUps != nil {
		var err error
		doublePoints, err = m.powerUps.WasPowerUpUsed(ctx, playerID, models.PowerUpDoublePoints, questionID)
		if err != nil {
			return nil, err
		}
	}

	maxTime := m.cfg.QuestionTimeLimit.Seconds()
	points := CalculateAnswerScore(isCorrect, timeRemaining, maxTime, doublePoints)

	answer := &models.PlayerAnswer{
		ID:             uuid.NewString(),
		PlayerID:       playerID,
		QuestionID:     questionID,
		SelectedAnswer: selectedAnswer,
		IsCorrect:      isCorrect,
		PointsEarned:   points,
		AnsweredAt:     time.Now().UTC(),
	}
	if err := m.sync.RecordPlayerAnswer(ctx, answer); err != nil {
		return nil, err
	}

	newScore, err := m.sync.AddPlayerScore(ctx, playerID, points)
	if err != nil {
		return nil, err
	}

	if err := m.sync.BroadcastAnswerSubmitted(ctx, playerID, questionID, points, newScore); err != nil {
		return nil, err
	}

	return &AnswerResult{IsCorrect: isCorrect, PointsEarned: points, NewScore: newScore}, nil
}

// RevealAnswer transitions to results, cancels the question timer,
// broadcasts the correct answer and bulk-scores every provided answer not
// already scored through SubmitAnswer. Bulk-processed answers score at
// zero time remaining, so they earn base points only. A reveal outside
// the question phase is a no-op, which is what makes a late-firing timer
// after a manual force-advance harmless.
func (m *GameFlowManager) RevealAnswer(ctx context.Context, question *models.Question, playerAnswers map[string]string) error {
	m.mu.Lock()
	if m.phase != PhaseQuestion {
		m.mu.Unlock()
		return nil
	}
	m.cancelTimersLocked()
	m.phase = PhaseResults
	gen := m.timerGen
	m.mu.Unlock()

	if err := m.sync.BroadcastAnswerReveal(ctx, question); err != nil {
		return err
	}

	recorded, err := m.sync.GetQuestionAnswers(ctx, question.ID)
	if err != nil {
		return err
	}
	alreadyScored := make(map[string]bool, len(recorded))
	for _, answer := range recorded {
		alreadyScored[answer.PlayerID] = true
	}

	for playerID, selected := range playerAnswers {
		if alreadyScored[playerID] {
			continue
		}
		if err := m.scoreBulkAnswer(ctx, playerID, question, selected); err != nil {
			return err
		}
	}

	if m.cfg.AutoAdvance {
		m.mu.Lock()
		if gen == m.timerGen && m.phase == PhaseResults {
			m.resultsTimer = time.AfterFunc(m.cfg.ResultsDisplayTime, func() {
				m.onResultsTimeout(gen)
			})
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *GameFlowManager) scoreBulkAnswer(ctx context.Context, playerID string, question *models.Question, selected string) error {
	isCorrect := selected == question.CorrectAnswer

	doublePoints := false
	if m.powerUps != nil {
		var err error
		doublePoints, err = m.powerUps.WasPowerUpUsed(ctx, playerID, models.PowerUpDoublePoints, question.ID)
		if err != nil {
			return err
		}
	}

	points := CalculateAnswerScore(isCorrect, 0, m.cfg.QuestionTimeLimit.Seconds(), doublePoints)

	answer := &models.PlayerAnswer{
		ID:             uuid.NewString(),
		PlayerID:       playerID,
		QuestionID:     question.ID,
		SelectedAnswer: selected,
		IsCorrect:      isCorrect,
		PointsEarned:   points,
		AnsweredAt:     time.Now().UTC(),
	}
	if err := m.sync.RecordPlayerAnswer(ctx, answer); err != nil {
		if errors.Is(err, ErrAnswerAlreadySubmitted) {
			return nil
		}
		return err
	}

	if _, err := m.sync.AddPlayerScore(ctx, playerID, points); err != nil {
		return err
	}
	return nil
}

func (m *GameFlowManager) onResultsTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.phase != PhaseResults {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.NextQuestion(ctx); err != nil {
		log.Printf("results timer: failed to advance: %v", err)
	}
}

// NextQuestion cancels the results timer and advances; past the last
// question it completes the game instead.
func (m *GameFlowManager) NextQuestion(ctx context.Context) error {
	m.mu.Lock()
	m.cancelTimersLocked()
	m.questionIndex++

	if m.questionIndex >= len(m.questions) {
		m.mu.Unlock()
		return m.CompleteGame(ctx)
	}

	err := m.startQuestionLocked(ctx)
	m.mu.Unlock()
	return err
}

// CompleteGame marks the session completed and broadcasts the final
// leaderboard, sorted best score first with earlier joiners winning ties.
func (m *GameFlowManager) CompleteGame(ctx context.Context) error {
	m.mu.Lock()
	m.cancelTimersLocked()
	m.phase = PhaseComplete
	m.mu.Unlock()

	if err := m.sync.UpdateSessionStatus(ctx, models.SessionStatusCompleted); err != nil {
		return err
	}

	var leaderboard []models.Player
	if state := m.sync.GetCurrentGameState(ctx); state != nil {
		leaderboard = SortLeaderboard(state.Players)
	}

	return m.sync.BroadcastGameComplete(ctx, leaderboard)
}

// ForceNextQuestion is the host's early advance: from the question phase
// it reveals using whatever answers are recorded so far; from results it
// advances to the next question.
func (m *GameFlowManager) ForceNextQuestion(ctx context.Context) error {
	m.mu.Lock()
	phase := m.phase
	var question models.Question
	if phase == PhaseQuestion {
		if m.questionIndex >= len(m.questions) {
			m.mu.Unlock()
			return fmt.Errorf("no active question at index %d", m.questionIndex)
		}
		question = m.questions[m.questionIndex]
	}
	m.mu.Unlock()

	switch phase {
	case PhaseQuestion:
		recorded, err := m.sync.GetQuestionAnswers(ctx, question.ID)
		if err != nil {
			return err
		}
		playerAnswers := make(map[string]string, len(recorded))
		for _, answer := range recorded {
			playerAnswers[answer.PlayerID] = answer.SelectedAnswer
		}
		return m.RevealAnswer(ctx, &question, playerAnswers)
	case PhaseResults:
		return m.NextQuestion(ctx)
	default:
		return nil
	}
}

// RestartGame resets the session to a fresh waiting state: timers
// cancelled, question index zeroed, every score back to 0, recorded
// answers cleared, and the zeroed state broadcast.
func (m *GameFlowManager) RestartGame(ctx context.Context) error {
	m.mu.Lock()
	m.cancelTimersLocked()
	m.questionIndex = 0
	m.phase = PhaseWaiting
	m.mu.Unlock()

	if err := m.sync.UpdateSessionStatus(ctx, models.SessionStatusWaiting); err != nil {
		return err
	}
	if err := m.sync.UpdateCurrentQuestion(ctx, nil); err != nil {
		return err
	}
	if err := m.sync.ResetPlayerScores(ctx); err != nil {
		return err
	}
	// Prior answers must go too, or the (player, question) unique index
	// rejects every re-answer of the replayed quiz.
	if err := m.sync.ClearSessionAnswers(ctx); err != nil {
		return err
	}

	state := m.sync.GetCurrentGameState(ctx)
	return m.sync.BroadcastGameState(ctx, state)
}

// cancelTimersLocked stops both timers and bumps the generation so any
// already-fired callback sees stale state and bails. Caller holds m.mu.
func (m *GameFlowManager) cancelTimersLocked() {
	m.timerGen++
	if m.questionTimer != nil {
		m.questionTimer.Stop()
		m.questionTimer = nil
	}
	if m.resultsTimer != nil {
		m.resultsTimer.Stop()
		m.resultsTimer = nil
	}
}

// Cleanup cancels timers and tears down the sync channel. No timer
// callback fires after Cleanup returns.
func (m *GameFlowManager) Cleanup() {
	m.mu.Lock()
	m.cancelTimersLocked()
	m.mu.Unlock()
	m.sync.Cleanup()
}

// SortLeaderboard orders players best score first; equal scores break
// toward the earlier joiner. The same rule applies everywhere a
// leaderboard is produced.
func SortLeaderboard(players []models.Player) []models.Player {
	sorted := make([]models.Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
	})
	return sorted
}
