package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studyquiz-service/internal/domain"
	"github.com/uptrace/bun"
)

// ResultStore persists completed session summaries. Inserts conflict on the
// submission key, so re-sends of the same finished attempt are no-ops and a
// retried submit cannot double-count.
type ResultStore struct {
	db *bun.DB
}

func NewResultStore(db *bun.DB) *ResultStore {
	return &ResultStore{db: db}
}

type quizResult struct {
	bun.BaseModel `bun:"table:quiz_results"`

	SubmissionKey string    `bun:"submission_key,pk"`
	SessionID     string    `bun:"session_id"`
	UserID        string    `bun:"user_id"`
	CategoryID    string    `bun:"category_id"`
	Mode          string    `bun:"mode"`
	CorrectCount  int       `bun:"correct_count"`
	TotalCount    int       `bun:"total_count"`
	PointsEarned  float64   `bun:"points_earned"`
	Percentage    int       `bun:"percentage"`
	FinishedAt    time.Time `bun:"finished_at"`
}

func (s *ResultStore) SubmitResult(ctx context.Context, summary domain.SessionSummary) error {
	row := &quizResult{
		SubmissionKey: summary.SubmissionKey,
		SessionID:     summary.SessionID,
		UserID:        summary.UserID,
		CategoryID:    summary.CategoryID,
		Mode:          string(summary.Mode),
		CorrectCount:  summary.Score.CorrectCount,
		TotalCount:    summary.Score.TotalQuestions,
		PointsEarned:  summary.Score.PointsEarned,
		Percentage:    summary.Percentage,
		FinishedAt:    summary.FinishedAt,
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (submission_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert quiz result: %w", err)
	}
	return nil
}

// UserResults returns a user's recorded results, newest first.
func (s *ResultStore) UserResults(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	var rows []quizResult
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("finished_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("select quiz results: %w", err)
	}
	out := make([]domain.SessionSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SessionSummary{
			SessionID:     row.SessionID,
			UserID:        row.UserID,
			CategoryID:    row.CategoryID,
			Mode:          domain.Mode(row.Mode),
			Score:         domain.SessionScore{TotalQuestions: row.TotalCount, CorrectCount: row.CorrectCount, PointsEarned: row.PointsEarned},
			Percentage:    row.Percentage,
			SubmissionKey: row.SubmissionKey,
			FinishedAt:    row.FinishedAt,
		})
	}
	return out, nil
}
