package handlers

import (
	"errors"
	"net/http"

	"github.com/Tae5567/trivparty-server/services"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessionService *services.SessionService
	powerUps       *services.PowerUpService
	flows          *services.FlowRegistry
}

func NewSessionHandler(sessionService *services.SessionService, powerUps *services.PowerUpService, flows *services.FlowRegistry) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		powerUps:       powerUps,
		flows:          flows,
	}
}

type CreateSessionRequest struct {
	QuizID string `json:"quiz_id" binding:"required"`
}

type JoinSessionRequest struct {
	Nickname string `json:"nickname" binding:"required"`
}

type SubmitAnswerRequest struct {
	PlayerID       string  `json:"player_id" binding:"required"`
	QuestionID     string  `json:"question_id" binding:"required"`
	SelectedAnswer string  `json:"selected_answer" binding:"required"`
	TimeRemaining  float64 `json:"time_remaining"`
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), userID, req.QuizID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.sessionService.GetSessionByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) JoinSession(c *gin.Context) {
	var req JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, err := h.sessionService.JoinSession(c.Request.Context(), c.Param("code"), req.Nickname)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, player)
}

// hostSession resolves the session by join code and verifies the caller
// hosts it.
func (h *SessionHandler) hostSession(c *gin.Context) (sessionID string, ok bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return "", false
	}

	session, err := h.sessionService.GetSessionByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return "", false
	}

	if session.HostID != userID {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not the session host"})
		return "", false
	}

	return session.ID, true
}

func (h *SessionHandler) StartGame(c *gin.Context) {
	sessionID, ok := h.hostSession(c)
	if !ok {
		return
	}

	questions, err := h.sessionService.GetSessionQuestions(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flow, created := h.flows.GetOrCreate(sessionID)
	if created {
		if err := flow.Initialize(c.Request.Context()); err != nil {
			h.flows.Remove(sessionID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open session channel"})
			return
		}
	}

	if err := flow.StartGame(c.Request.Context(), questions); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Game started"})
}

func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.GetSessionByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	flow, ok := h.flows.Get(session.ID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Game is not running"})
		return
	}

	question, err := h.sessionService.GetQuestionByID(c.Request.Context(), req.QuestionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Question not found"})
		return
	}

	result, err := flow.SubmitAnswer(c.Request.Context(), req.PlayerID, req.QuestionID,
		req.SelectedAnswer, question.CorrectAnswer, req.TimeRemaining)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrAnswerAlreadySubmitted) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SessionHandler) NextQuestion(c *gin.Context) {
	sessionID, ok := h.hostSession(c)
	if !ok {
		return
	}

	flow, running := h.flows.Get(sessionID)
	if !running {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Game is not running"})
		return
	}

	if err := flow.NextQuestion(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Advanced"})
}

// RevealAnswer ends the current question early, scoring whatever answers
// have been recorded. Only valid while a question is in progress.
func (h *SessionHandler) RevealAnswer(c *gin.Context) {
	sessionID, ok := h.hostSession(c)
	if !ok {
		return
	}

	flow, running := h.flows.Get(sessionID)
	if !running {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Game is not running"})
		return
	}

	if flow.Phase() != services.PhaseQuestion {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No question in progress"})
		return
	}

	if err := flow.ForceNextQuestion(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Answer revealed"})
}

func (h *SessionHandler) ForceNextQuestion(c *gin.Context) {
	sessionID, ok := h.hostSession(c)
	if !ok {
		return
	}

	flow, running := h.flows.Get(sessionID)
	if !running {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Game is not running"})
		return
	}

	if err := flow.ForceNextQuestion(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Forced advance"})
}

func (h *SessionHandler) RestartGame(c *gin.Context) {
	sessionID, ok := h.hostSession(c)
	if !ok {
		return
	}

	flow, running := h.flows.Get(sessionID)
	if !running {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Game is not running"})
		return
	}

	if err := flow.RestartGame(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Power-up grants reset alongside scores when a game replays.
	if err := h.powerUps.ResetSessionPowerUps(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Game restarted"})
}

func (h *SessionHandler) GetLeaderboard(c *gin.Context) {
	session, err := h.sessionService.GetSessionByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	leaderboard, err := h.sessionService.GetSessionLeaderboard(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": leaderboard})
}
