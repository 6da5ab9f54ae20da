package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateAnswerScore_WrongAnswerAlwaysZero(t *testing.T) {
	assert.Equal(t, 0, CalculateAnswerScore(false, 30, 30, false))
	assert.Equal(t, 0, CalculateAnswerScore(false, 30, 30, true))
	assert.Equal(t, 0, CalculateAnswerScore(false, 0, 30, true))
	assert.Equal(t, 0, CalculateAnswerScore(false, -5, 30, false))
}

func TestCalculateAnswerScore_BasePointsWithoutTime(t *testing.T) {
	assert.Equal(t, 100, CalculateAnswerScore(true, 0, 30, false))
	assert.Equal(t, 100, CalculateAnswerScore(true, -10, 30, false))
}

func TestCalculateAnswerScore_TimeBonus(t *testing.T) {
	// Half the time left: 100 + round(0.5 * 50) = 125.
	assert.Equal(t, 125, CalculateAnswerScore(true, 15, 30, false))

	// Full time left caps the bonus at 50.
	assert.Equal(t, 150, CalculateAnswerScore(true, 30, 30, false))

	// Over-max time remaining is clamped, not extrapolated.
	assert.Equal(t, 150, CalculateAnswerScore(true, 90, 30, false))
}

func TestCalculateAnswerScore_DoublePointsAfterBonus(t *testing.T) {
	// (100 + 25) * 2, not 100*2 + 25.
	assert.Equal(t, 250, CalculateAnswerScore(true, 15, 30, true))
	assert.Equal(t, 200, CalculateAnswerScore(true, 0, 30, true))
}

func TestCalculateAnswerScore_FasterAnswerBeatsSlower(t *testing.T) {
	fast := CalculateAnswerScore(true, 25, 30, false)
	slow := CalculateAnswerScore(true, 5, 30, false)
	assert.Equal(t, 142, fast)
	assert.Equal(t, 108, slow)
	assert.Greater(t, fast, slow)
}

func TestCalculateAnswerScore_MalformedInputsDoNotPanic(t *testing.T) {
	assert.Equal(t, 100, CalculateAnswerScore(true, math.NaN(), 30, false))
	assert.Equal(t, 125, CalculateAnswerScore(true, 15, 0, false))
	assert.Equal(t, 125, CalculateAnswerScore(true, 15, math.NaN(), false))
}

func TestCalculateAnswerScore_FormulaProperty(t *testing.T) {
	for timeLeft := 0.0; timeLeft <= 60; timeLeft++ {
		expected := 100 + int(math.Round(math.Min(timeLeft/30, 1)*50))
		assert.Equal(t, expected, CalculateAnswerScore(true, timeLeft, 30, false))
		assert.Equal(t, expected*2, CalculateAnswerScore(true, timeLeft, 30, true))
	}
}
