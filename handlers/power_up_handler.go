package handlers

import (
	"net/http"

	"github.com/Tae5567/trivparty-server/services"

	"github.com/gin-gonic/gin"
)

type PowerUpHandler struct {
	powerUps *services.PowerUpService
}

func NewPowerUpHandler(powerUps *services.PowerUpService) *PowerUpHandler {
	return &PowerUpHandler{powerUps: powerUps}
}

type UsePowerUpRequest struct {
	PlayerID   string `json:"player_id" binding:"required"`
	PowerUp    string `json:"power_up" binding:"required"`
	QuestionID string `json:"question_id" binding:"required"`
}

func (h *PowerUpHandler) UsePowerUp(c *gin.Context) {
	var req UsePowerUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.powerUps.UsePowerUp(c.Request.Context(), req.PlayerID, req.PowerUp, req.QuestionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Denials are a domain outcome, not an HTTP error.
	c.JSON(http.StatusOK, result)
}

func (h *PowerUpHandler) GetPlayerPowerUps(c *gin.Context) {
	grants, err := h.powerUps.GetPlayerPowerUps(c.Request.Context(), c.Param("playerID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"power_ups": grants})
}
