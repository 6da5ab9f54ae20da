package main

import (
	"context"
	"log"
	"time"

	"github.com/Tae5567/trivparty-server/config"
	"github.com/Tae5567/trivparty-server/handlers"
	"github.com/Tae5567/trivparty-server/middleware"
	"github.com/Tae5567/trivparty-server/models"
	"github.com/Tae5567/trivparty-server/routes"
	"github.com/Tae5567/trivparty-server/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.User{},
		&models.Quiz{},
		&models.Question{},
		&models.Session{},
		&models.Player{},
		&models.PlayerAnswer{},
		&models.PowerUp{},
		&models.PlayerPowerUp{},
		&models.PowerUpUsage{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis and the realtime transport
	redisClient := config.InitRedis(cfg)
	realtime := services.NewRealtime(redisClient)

	// Initialize services
	authService := services.NewAuthService(db, cfg.JWTSecret)
	quizService := services.NewQuizService(db)
	powerUpService := services.NewPowerUpService(db)
	sessionService := services.NewSessionService(db, powerUpService)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := powerUpService.SeedCatalog(ctx); err != nil {
		log.Fatal("Failed to seed power-up catalog:", err)
	}
	cancel()

	flowRegistry := services.NewFlowRegistry(db, realtime, powerUpService, services.GameFlowConfig{
		QuestionTimeLimit:  time.Duration(cfg.QuestionTimeLimit) * time.Second,
		ResultsDisplayTime: time.Duration(cfg.ResultsDisplayTime) * time.Second,
		AutoAdvance:        true,
	})

	// Initialize WebSocket hub
	hub := services.NewHub(db, realtime)
	go hub.Run()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	quizHandler := handlers.NewQuizHandler(quizService)
	sessionHandler := handlers.NewSessionHandler(sessionService, powerUpService, flowRegistry)
	powerUpHandler := handlers.NewPowerUpHandler(powerUpService)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.CORS())

	routes.SetupRoutes(router, authHandler, quizHandler, sessionHandler, powerUpHandler, hub, sessionService, cfg.JWTSecret)

	// Start server
	addr := cfg.BindAddress + ":" + cfg.Port
	log.Printf("Server starting on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
