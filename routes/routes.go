package routes

import (
	"fmt"
	"log"
	"net/http"

	"github.com/Tae5567/trivparty-server/handlers"
	"github.com/Tae5567/trivparty-server/middleware"
	"github.com/Tae5567/trivparty-server/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	quizHandler *handlers.QuizHandler,
	sessionHandler *handlers.SessionHandler,
	powerUpHandler *handlers.PowerUpHandler,
	hub *services.Hub,
	sessionService *services.SessionService,
	jwtSecret string,
) {
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			protected.GET("/auth/profile", authHandler.GetProfile)

			quizzes := protected.Group("/quizzes")
			{
				quizzes.GET("", quizHandler.GetUserQuizzes)
				quizzes.POST("", quizHandler.CreateQuiz)
				quizzes.GET("/:id", quizHandler.GetQuizByID)
				quizzes.DELETE("/:id", quizHandler.DeleteQuiz)
			}

			sessions := protected.Group("/sessions")
			{
				sessions.POST("", sessionHandler.CreateSession)
				sessions.POST("/:code/start", sessionHandler.StartGame)
				sessions.POST("/:code/next", sessionHandler.NextQuestion)
				sessions.POST("/:code/reveal", sessionHandler.RevealAnswer)
				sessions.POST("/:code/force-next", sessionHandler.ForceNextQuestion)
				sessions.POST("/:code/restart", sessionHandler.RestartGame)
			}
		}

		// Public session routes
		sessions := api.Group("/sessions")
		{
			sessions.GET("/:code", sessionHandler.GetSession)
			sessions.GET("/:code/leaderboard", sessionHandler.GetLeaderboard)
			sessions.POST("/:code/join", sessionHandler.JoinSession)
			sessions.POST("/:code/answer", sessionHandler.SubmitAnswer)
			sessions.POST("/:code/power-ups/use", powerUpHandler.UsePowerUp)
		}

		api.GET("/players/:playerID/power-ups", powerUpHandler.GetPlayerPowerUps)
	}

	// WebSocket endpoint for real-time game communication
	router.GET("/ws/:code/:playerID", func(c *gin.Context) {
		code := c.Param("code")
		playerID := c.Param("playerID")
		nickname := c.Query("nickname")

		session, err := sessionService.GetSessionByCode(c.Request.Context(), code)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}

		if err := validatePlayerAccess(c, sessionService, session.ID, session.HostID, playerID); err != nil {
			log.Printf("player access denied for session %s, player %s: %v", session.ID, playerID, err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Player not found in session"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("websocket upgrade failed for session %s: %v", session.ID, err)
			return
		}

		if nickname == "" {
			if player, err := sessionService.GetPlayerByID(c.Request.Context(), playerID); err == nil {
				nickname = player.Nickname
			}
		}

		hub.RegisterClient(conn, session.ID, playerID, nickname)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// validatePlayerAccess admits session players and the host.
func validatePlayerAccess(c *gin.Context, sessionService *services.SessionService, sessionID, hostID, playerID string) error {
	if playerID == hostID {
		return nil
	}

	player, err := sessionService.GetPlayerByID(c.Request.Context(), playerID)
	if err != nil {
		return err
	}
	if player.SessionID != sessionID {
		return fmt.Errorf("player %s does not belong to session %s", playerID, sessionID)
	}
	return nil
}
