package services

import "math"

// DefaultQuestionTime is the fallback question time limit in seconds.
const DefaultQuestionTime = 30.0

const (
	basePoints   = 100
	maxTimeBonus = 50.0
)

// CalculateAnswerScore computes the points for a single answer.
//
// Wrong answers always score 0 regardless of time or power-ups. Correct
// answers score 100 base points plus a linear time bonus capped at 50,
// clamped so out-of-range timeRemaining values stay within [0, 50]. A
// double-points power-up doubles the total after the bonus is added.
func CalculateAnswerScore(isCorrect bool, timeRemaining, maxTime float64, hasDoublePoints bool) int {
	if !isCorrect {
		return 0
	}

	if maxTime <= 0 || math.IsNaN(maxTime) {
		maxTime = DefaultQuestionTime
	}

	score := basePoints
	if timeRemaining > 0 && !math.IsNaN(timeRemaining) {
		fraction := math.Min(timeRemaining/maxTime, 1)
		score += int(math.Round(fraction * maxTimeBonus))
	}

	if hasDoublePoints {
		score *= 2
	}

	return score
}
