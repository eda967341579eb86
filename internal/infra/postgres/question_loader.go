package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"studyquiz-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionLoader loads per-subject question sets (JSONB) from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, params domain.FetchParams) (domain.QuestionBank, error) {
	subjectIDs := make([]string, 0, len(params.Subjects))
	for _, sel := range params.Subjects {
		subjectIDs = append(subjectIDs, sel.SubjectID)
	}

	rows, err := l.pool.Query(ctx,
		`SELECT subject_id, data FROM question_sets WHERE category_id=$1 AND subject_id = ANY($2)`,
		params.CategoryID, subjectIDs)
	if err != nil {
		return domain.QuestionBank{}, fmt.Errorf("load question sets: %w", err)
	}
	defer rows.Close()

	bySubject := make(map[string][]domain.Question, len(subjectIDs))
	for rows.Next() {
		var subjectID string
		var raw []byte
		if err := rows.Scan(&subjectID, &raw); err != nil {
			return domain.QuestionBank{}, fmt.Errorf("scan question set: %w", err)
		}
		var questions []domain.Question
		if err := json.Unmarshal(raw, &questions); err != nil {
			return domain.QuestionBank{}, fmt.Errorf("unmarshal question set %s: %w", subjectID, err)
		}
		bySubject[subjectID] = questions
	}
	if err := rows.Err(); err != nil {
		return domain.QuestionBank{}, fmt.Errorf("iterate question sets: %w", err)
	}

	// Groups keep the caller's subject selection order.
	var bank domain.QuestionBank
	for _, sel := range params.Subjects {
		questions, ok := bySubject[sel.SubjectID]
		if !ok {
			return domain.QuestionBank{}, domain.ErrQuestionSetNotFound
		}
		group := domain.SubjectQuestions{SubjectID: sel.SubjectID}
		for _, q := range questions {
			if matchesTopic(q.TopicID, sel.TopicIDs) {
				group.Questions = append(group.Questions, q)
			}
		}
		bank.Groups = append(bank.Groups, group)
	}
	if bank.TotalQuestions() == 0 {
		return domain.QuestionBank{}, domain.ErrQuestionSetNotFound
	}
	return bank, nil
}

func matchesTopic(topicID string, selected []string) bool {
	if topicID == "" || len(selected) == 0 {
		return true
	}
	for _, id := range selected {
		if id == topicID {
			return true
		}
	}
	return false
}
