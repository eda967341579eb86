package redis

import (
	"context"
	"testing"
	"time"

	"studyquiz-service/internal/domain"
	"studyquiz-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuestionRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(map[string]map[string][]domain.Question{
			"math": {"algebra": sampleQuestions()},
		}),
	}
	repo := NewQuestionRepository(client, loader, time.Minute)

	params := domain.FetchParams{
		CategoryID: "math",
		Subjects:   []domain.SubjectSelection{{SubjectID: "algebra"}},
		Mode:       domain.ModeSolo,
	}
	bank, err := repo.FetchQuestions(context.Background(), params)
	if err != nil {
		t.Fatalf("fetch questions: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("qbank:set:" + params.CacheKey()) {
		t.Fatalf("expected cached bank in redis")
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.FetchQuestions(context.Background(), params)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if cached.TotalQuestions() != bank.TotalQuestions() {
		t.Fatalf("cache returned a different bank: %d vs %d", cached.TotalQuestions(), bank.TotalQuestions())
	}
}

func TestQuestionRepositoryReloadsAfterExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(map[string]map[string][]domain.Question{
			"math": {"algebra": sampleQuestions()},
		}),
	}
	repo := NewQuestionRepository(client, loader, time.Minute)

	params := domain.FetchParams{
		CategoryID: "math",
		Subjects:   []domain.SubjectSelection{{SubjectID: "algebra"}},
		Mode:       domain.ModeSolo,
	}
	if _, err := repo.FetchQuestions(context.Background(), params); err != nil {
		t.Fatalf("fetch questions: %v", err)
	}

	// miniredis only advances TTLs manually.
	mr.FastForward(2 * time.Minute)

	if _, err := repo.FetchQuestions(context.Background(), params); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls=%d", loader.calls)
	}
}

type countingLoader struct {
	memory.QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, params domain.FetchParams) (domain.QuestionBank, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx, params)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:      "q1",
			TopicID: "linear-equations",
			Prompt:  "What is 2 + 2?",
			Options: []domain.Option{
				{ID: "o1", Text: "3", Correct: false},
				{ID: "o2", Text: "4", Correct: true},
			},
			TimerSeconds: 30,
			Points:       40,
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
