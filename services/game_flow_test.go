package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Tae5567/trivparty-server/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGameSync records every store mutation and broadcast so tests can
// assert on ordering and content without a database or Redis.
type fakeGameSync struct {
	mu sync.Mutex

	initialized   bool
	statusUpdates []string
	questionIDs   []*string
	scores        map[string]int
	answers       map[string][]QuestionAnswer // keyed by question id
	broadcasts    []string
	leaderboard   []models.Player
	state         *GameState
	scoresReset    bool
	answersCleared bool
	cleanedUp      bool
}

func newFakeGameSync() *fakeGameSync {
	return &fakeGameSync{
		scores:  make(map[string]int),
		answers: make(map[string][]QuestionAnswer),
	}
}

func (f *fakeGameSync) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = true
	return nil
}

func (f *fakeGameSync) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanedUp = true
}

func (f *fakeGameSync) UpdateSessionStatus(ctx context.Context, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeGameSync) UpdateCurrentQuestion(ctx context.Context, questionID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questionIDs = append(f.questionIDs, questionID)
	return nil
}

func (f *fakeGameSync) AddPlayerScore(ctx context.Context, playerID string, delta int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[playerID] += delta
	return f.scores[playerID], nil
}

func (f *fakeGameSync) RecordPlayerAnswer(ctx context.Context, answer *models.PlayerAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, recorded := range f.answers[answer.QuestionID] {
		if recorded.PlayerID == answer.PlayerID {
			return ErrAnswerAlreadySubmitted
		}
	}
	f.answers[answer.QuestionID] = append(f.answers[answer.QuestionID], QuestionAnswer{
		PlayerID:       answer.PlayerID,
		SelectedAnswer: answer.SelectedAnswer,
		IsCorrect:      answer.IsCorrect,
		PointsEarned:   answer.PointsEarned,
	})
	return nil
}

func (f *fakeGameSync) ResetPlayerScores(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scoresReset = true
	for playerID := range f.scores {
		f.scores[playerID] = 0
	}
	return nil
}

func (f *fakeGameSync) ClearSessionAnswers(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answersCleared = true
	f.answers = make(map[string][]QuestionAnswer)
	return nil
}

func (f *fakeGameSync) GetQuestionAnswers(ctx context.Context, questionID string) ([]QuestionAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]QuestionAnswer(nil), f.answers[questionID]...), nil
}

func (f *fakeGameSync) GetCurrentGameState(ctx context.Context) *GameState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeGameSync) record(event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, event)
	return nil
}

func (f *fakeGameSync) BroadcastGameState(ctx context.Context, state *GameState) error {
	return f.record(EventGameStateSync)
}

func (f *fakeGameSync) BroadcastQuestionChange(ctx context.Context, question *models.Question, index, total, timeLimit int) error {
	return f.record(EventQuestionChanged)
}

func (f *fakeGameSync) BroadcastAnswerReveal(ctx context.Context, question *models.Question) error {
	return f.record(EventAnswerReveal)
}

func (f *fakeGameSync) BroadcastAnswerSubmitted(ctx context.Context, playerID, questionID string, pointsEarned, newScore int) error {
	return f.record(EventAnswerSubmitted)
}

func (f *fakeGameSync) BroadcastGameComplete(ctx context.Context, leaderboard []models.Player) error {
	f.mu.Lock()
	f.leaderboard = leaderboard
	f.mu.Unlock()
	return f.record(EventGameComplete)
}

func (f *fakeGameSync) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

func (f *fakeGameSync) lastBroadcast() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.broadcasts) == 0 {
		return ""
	}
	return f.broadcasts[len(f.broadcasts)-1]
}

type fakePowerUpGate struct {
	used map[string]bool // playerID|powerUp|questionID
}

func (f *fakePowerUpGate) WasPowerUpUsed(ctx context.Context, playerID, powerUpName, questionID string) (bool, error) {
	return f.used[playerID+"|"+powerUpName+"|"+questionID], nil
}

func testQuestions(n int) []models.Question {
	questions := make([]models.Question, n)
	for i := range questions {
		questions[i] = models.Question{
			ID:            uuid.NewString(),
			Text:          "What is 2+2?",
			OptionA:       "3",
			OptionB:       "4",
			OptionC:       "5",
			OptionD:       "6",
			CorrectAnswer: "4",
			QuestionOrder: i + 1,
		}
	}
	return questions
}

func newTestFlow(t *testing.T, fake *fakeGameSync, cfg GameFlowConfig) *GameFlowManager {
	t.Helper()
	flow := NewGameFlowManager(fake, &fakePowerUpGate{used: map[string]bool{}}, cfg)
	require.NoError(t, flow.Initialize(context.Background()))
	return flow
}

func TestStartGameRejectsEmptyQuestionList(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{})

	err := flow.StartGame(context.Background(), nil)

	require.ErrorIs(t, err, ErrEmptyQuestionList)
	assert.Zero(t, fake.broadcastCount(), "no broadcast may happen before validation")
	assert.Empty(t, fake.statusUpdates, "no store write may happen before validation")
	assert.Equal(t, PhaseWaiting, flow.Phase())
}

func TestStartGameActivatesAndBroadcastsFirstQuestion(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{})
	questions := testQuestions(2)

	require.NoError(t, flow.StartGame(context.Background(), questions))

	assert.Equal(t, PhaseQuestion, flow.Phase())
	assert.Equal(t, 0, flow.QuestionIndex())
	assert.Equal(t, []string{models.SessionStatusActive}, fake.statusUpdates)
	require.Len(t, fake.questionIDs, 1)
	require.NotNil(t, fake.questionIDs[0])
	assert.Equal(t, questions[0].ID, *fake.questionIDs[0])
	assert.Equal(t, EventQuestionChanged, fake.lastBroadcast())
}

func TestSubmitAnswerScoresAndBroadcasts(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{QuestionTimeLimit: 30 * time.Second})
	questions := testQuestions(1)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	result, err := flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "4", "4", 15)

	require.NoError(t, err)
	assert.True(t, result.IsCorrect)
	assert.Equal(t, 125, result.PointsEarned)
	assert.Equal(t, 125, result.NewScore)
	assert.Equal(t, EventAnswerSubmitted, fake.lastBroadcast())
	assert.Equal(t, PhaseQuestion, flow.Phase(), "submit never transitions phase")
}

func TestSubmitAnswerWrongScoresZero(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{QuestionTimeLimit: 30 * time.Second})
	questions := testQuestions(1)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	result, err := flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "3", "4", 15)

	require.NoError(t, err)
	assert.False(t, result.IsCorrect)
	assert.Zero(t, result.PointsEarned)
	assert.Zero(t, result.NewScore)
}

func TestSubmitAnswerAppliesDoublePoints(t *testing.T) {
	fake := newFakeGameSync()
	gate := &fakePowerUpGate{used: map[string]bool{}}
	flow := NewGameFlowManager(fake, gate, GameFlowConfig{QuestionTimeLimit: 30 * time.Second})
	require.NoError(t, flow.Initialize(context.Background()))
	questions := testQuestions(1)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	gate.used["player-1|"+models.PowerUpDoublePoints+"|"+questions[0].ID] = true

	result, err := flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "4", "4", 15)

	require.NoError(t, err)
	assert.Equal(t, 250, result.PointsEarned)
}

func TestSubmitAnswerRejectsDuplicate(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{QuestionTimeLimit: 30 * time.Second})
	questions := testQuestions(1)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	_, err := flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "4", "4", 15)
	require.NoError(t, err)

	_, err = flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "3", "4", 10)
	require.ErrorIs(t, err, ErrAnswerAlreadySubmitted)
}

func TestRevealAnswerBulkScoresBasePointsOnly(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{QuestionTimeLimit: 30 * time.Second})
	questions := testQuestions(1)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	// player-1 already scored with a time bonus through SubmitAnswer.
	_, err := flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "4", "4", 15)
	require.NoError(t, err)

	err = flow.RevealAnswer(context.Background(), &questions[0], map[string]string{
		"player-1": "4", // already scored, must not double-apply
		"player-2": "4", // bulk path, base points only
		"player-3": "3", // bulk path, wrong
	})
	require.NoError(t, err)

	assert.Equal(t, PhaseResults, flow.Phase())
	assert.Equal(t, 125, fake.scores["player-1"])
	assert.Equal(t, 100, fake.scores["player-2"])
	assert.Equal(t, 0, fake.scores["player-3"])
}

func TestRevealAnswerOutsideQuestionPhaseIsNoOp(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{})
	questions := testQuestions(1)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	require.NoError(t, flow.RevealAnswer(context.Background(), &questions[0], nil))
	before := fake.broadcastCount()

	// A stale timer firing after the reveal must change nothing.
	require.NoError(t, flow.RevealAnswer(context.Background(), &questions[0], nil))
	assert.Equal(t, before, fake.broadcastCount())
	assert.Equal(t, PhaseResults, flow.Phase())
}

func TestNextQuestionAdvancesThenCompletes(t *testing.T) {
	fake := newFakeGameSync()
	fake.state = &GameState{Players: []models.Player{
		{ID: "a", Nickname: "alice", Score: 100, JoinedAt: time.Now()},
		{ID: "b", Nickname: "bob", Score: 225, JoinedAt: time.Now()},
	}}
	flow := newTestFlow(t, fake, GameFlowConfig{})
	questions := testQuestions(2)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	require.NoError(t, flow.NextQuestion(context.Background()))
	assert.Equal(t, 1, flow.QuestionIndex())
	assert.Equal(t, PhaseQuestion, flow.Phase())

	require.NoError(t, flow.NextQuestion(context.Background()))
	assert.Equal(t, PhaseComplete, flow.Phase())
	assert.Equal(t, EventGameComplete, fake.lastBroadcast())
	assert.Contains(t, fake.statusUpdates, models.SessionStatusCompleted)

	require.Len(t, fake.leaderboard, 2)
	assert.Equal(t, "bob", fake.leaderboard[0].Nickname, "leaderboard sorted best score first")
}

func TestForceNextQuestionRevealsThenAdvances(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{QuestionTimeLimit: 30 * time.Second})
	questions := testQuestions(2)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	_, err := flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "4", "4", 10)
	require.NoError(t, err)

	// From the question phase a force reveals with recorded answers.
	require.NoError(t, flow.ForceNextQuestion(context.Background()))
	assert.Equal(t, PhaseResults, flow.Phase())
	assert.Equal(t, 0, flow.QuestionIndex())

	// From results a force advances to the next question.
	require.NoError(t, flow.ForceNextQuestion(context.Background()))
	assert.Equal(t, PhaseQuestion, flow.Phase())
	assert.Equal(t, 1, flow.QuestionIndex())
}

func TestRestartGameResetsEverything(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{})
	questions := testQuestions(2)
	require.NoError(t, flow.StartGame(context.Background(), questions))

	_, err := flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "4", "4", 0)
	require.NoError(t, err)
	require.NoError(t, flow.NextQuestion(context.Background()))

	require.NoError(t, flow.RestartGame(context.Background()))

	assert.Equal(t, PhaseWaiting, flow.Phase())
	assert.Equal(t, 0, flow.QuestionIndex())
	assert.True(t, fake.scoresReset)
	assert.True(t, fake.answersCleared)
	assert.Zero(t, fake.scores["player-1"])
	assert.Contains(t, fake.statusUpdates, models.SessionStatusWaiting)
	require.NotEmpty(t, fake.questionIDs)
	assert.Nil(t, fake.questionIDs[len(fake.questionIDs)-1], "current question cleared")
	assert.Equal(t, EventGameStateSync, fake.lastBroadcast())

	// The replayed game must accept answers to the same questions again.
	require.NoError(t, flow.StartGame(context.Background(), questions))
	result, err := flow.SubmitAnswer(context.Background(), "player-1", questions[0].ID, "4", "4", 0)
	require.NoError(t, err)
	assert.Equal(t, 100, result.PointsEarned)
}

func TestAutoAdvanceRunsGameToCompletion(t *testing.T) {
	fake := newFakeGameSync()
	fake.state = &GameState{}
	flow := newTestFlow(t, fake, GameFlowConfig{
		QuestionTimeLimit:  20 * time.Millisecond,
		ResultsDisplayTime: 20 * time.Millisecond,
		AutoAdvance:        true,
	})
	defer flow.Cleanup()

	require.NoError(t, flow.StartGame(context.Background(), testQuestions(2)))

	require.Eventually(t, func() bool {
		return flow.Phase() == PhaseComplete
	}, 2*time.Second, 10*time.Millisecond, "timers should march the game to completion")
	assert.Equal(t, EventGameComplete, fake.lastBroadcast())
}

func TestCleanupCancelsTimers(t *testing.T) {
	fake := newFakeGameSync()
	flow := newTestFlow(t, fake, GameFlowConfig{
		QuestionTimeLimit:  30 * time.Millisecond,
		ResultsDisplayTime: 30 * time.Millisecond,
		AutoAdvance:        true,
	})
	require.NoError(t, flow.StartGame(context.Background(), testQuestions(1)))

	flow.Cleanup()
	phase := flow.Phase()
	count := fake.broadcastCount()

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, phase, flow.Phase(), "no timer may fire after cleanup")
	assert.Equal(t, count, fake.broadcastCount())
	assert.True(t, fake.cleanedUp)
}
