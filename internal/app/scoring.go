package app

import (
	"math"

	"studyquiz-service/internal/domain"
)

// ScoringConfig holds the scoring constants. RepeatPointValue is the reduced
// award for a correct answer to a question the user has already attempted
// (qBank member); WrongPenalty is subtracted for a wrong or unanswered
// question.
type ScoringConfig struct {
	RepeatPointValue float64
	WrongPenalty     float64
}

// DefaultScoringConfig returns production defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		RepeatPointValue: 0.2,
		WrongPenalty:     15,
	}
}

// AnswerOutcome is the result of scoring a single finalized attempt.
type AnswerOutcome struct {
	Delta     float64
	IsCorrect bool
}

// ScoreAnswer computes the signed point delta for one finalized attempt.
// qBank membership is a first-class input: repeats of a correct answer earn
// the reduced repeat value regardless of mode. A nil or wrong answer costs
// the fixed penalty.
func (c ScoringConfig) ScoreAnswer(question domain.Question, attempt domain.QuestionAttempt, _ domain.Mode) AnswerOutcome {
	correct := attempt.Answered != nil && attempt.Answered.ID == question.CorrectOptionID()
	if !correct {
		return AnswerOutcome{Delta: -c.WrongPenalty, IsCorrect: false}
	}
	if question.AlreadyInQBank {
		return AnswerOutcome{Delta: c.RepeatPointValue, IsCorrect: true}
	}
	return AnswerOutcome{Delta: question.Points, IsCorrect: true}
}

// Aggregate folds one outcome into the running score. PointsEarned never
// drops below zero; StreakRow resets on any miss.
func Aggregate(prev domain.SessionScore, outcome AnswerOutcome) domain.SessionScore {
	next := prev
	next.PointsEarned = math.Max(0, prev.PointsEarned+outcome.Delta)
	if outcome.IsCorrect {
		next.CorrectCount = prev.CorrectCount + 1
		next.StreakRow = prev.StreakRow + 1
	} else {
		next.StreakRow = 0
	}
	return next
}

// Percentage reports the earned share of the total possible points, rounded
// to the nearest integer. Used for outcome messaging only.
func Percentage(score domain.SessionScore, totalPossiblePoints float64) int {
	if totalPossiblePoints <= 0 {
		return 0
	}
	return int(math.Round(score.PointsEarned / totalPossiblePoints * 100))
}
