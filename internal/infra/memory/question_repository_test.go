package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"studyquiz-service/internal/domain"
)

type countingLoader struct {
	inner *StaticQuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, params domain.FetchParams) (domain.QuestionBank, error) {
	l.calls++
	return l.inner.LoadQuestions(ctx, params)
}

func sampleSets() map[string]map[string][]domain.Question {
	return map[string]map[string][]domain.Question{
		"math": {
			"algebra": {
				{ID: "q1", TopicID: "linear-equations", Points: 40, Options: []domain.Option{{ID: "a", Correct: true}}},
				{ID: "q2", TopicID: "quadratics", Points: 40, Options: []domain.Option{{ID: "a", Correct: true}}},
				{ID: "q3", Points: 40, Options: []domain.Option{{ID: "a", Correct: true}}},
			},
		},
	}
}

func TestQuestionRepositoryCachesByParams(t *testing.T) {
	loader := &countingLoader{inner: NewStaticQuestionLoader(sampleSets())}
	repo := NewQuestionRepository(loader, time.Minute)
	ctx := context.Background()

	params := domain.FetchParams{
		CategoryID: "math",
		Subjects:   []domain.SubjectSelection{{SubjectID: "algebra"}},
		Mode:       domain.ModeSolo,
	}
	first, err := repo.FetchQuestions(ctx, params)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := repo.FetchQuestions(ctx, params)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected one loader call, got %d", loader.calls)
	}
	if first.TotalQuestions() != second.TotalQuestions() {
		t.Fatalf("cache returned a different bank: %d vs %d", first.TotalQuestions(), second.TotalQuestions())
	}

	// A different topic selection is a different cache entry.
	narrowed := params
	narrowed.Subjects = []domain.SubjectSelection{{SubjectID: "algebra", TopicIDs: []string{"linear-equations"}}}
	bank, err := repo.FetchQuestions(ctx, narrowed)
	if err != nil {
		t.Fatalf("narrowed fetch: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected a fresh loader call, got %d", loader.calls)
	}
	// Untagged questions stay in; only the selected tagged topic survives.
	if bank.TotalQuestions() != 2 {
		t.Fatalf("expected topic-filtered bank of 2, got %d", bank.TotalQuestions())
	}
}

func TestStaticLoaderUnknownCategory(t *testing.T) {
	loader := NewStaticQuestionLoader(sampleSets())
	_, err := loader.LoadQuestions(context.Background(), domain.FetchParams{
		CategoryID: "history",
		Subjects:   []domain.SubjectSelection{{SubjectID: "algebra"}},
	})
	if !errors.Is(err, domain.ErrQuestionSetNotFound) {
		t.Fatalf("expected ErrQuestionSetNotFound, got %v", err)
	}
}

func TestStaticLoaderPreservesSelectionOrder(t *testing.T) {
	sets := sampleSets()
	sets["math"]["geometry"] = []domain.Question{
		{ID: "g1", Points: 40, Options: []domain.Option{{ID: "a", Correct: true}}},
	}
	loader := NewStaticQuestionLoader(sets)
	bank, err := loader.LoadQuestions(context.Background(), domain.FetchParams{
		CategoryID: "math",
		Subjects: []domain.SubjectSelection{
			{SubjectID: "geometry"},
			{SubjectID: "algebra"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(bank.Groups) != 2 || bank.Groups[0].SubjectID != "geometry" || bank.Groups[1].SubjectID != "algebra" {
		t.Fatalf("groups must follow selection order, got %+v", bank.Groups)
	}
}

func TestResultStoreDedupesBySubmissionKey(t *testing.T) {
	store := NewResultStore()
	ctx := context.Background()
	summary := domain.SessionSummary{SessionID: "s1", SubmissionKey: "s1#1", Percentage: 54}
	if err := store.SubmitResult(ctx, summary); err != nil {
		t.Fatal(err)
	}
	// A re-send with diverged content must not overwrite the first record.
	resend := summary
	resend.Percentage = 99
	if err := store.SubmitResult(ctx, resend); err != nil {
		t.Fatal(err)
	}
	if store.Count() != 1 {
		t.Fatalf("expected one record, got %d", store.Count())
	}
	got, _ := store.Get("s1#1")
	if got.Percentage != 54 {
		t.Fatalf("first write must win, got %+v", got)
	}
}

func TestQBankStoreMembership(t *testing.T) {
	store := NewQBankStore()
	ctx := context.Background()
	if err := store.Add(ctx, "u1", []string{"q1", "q2"}); err != nil {
		t.Fatal(err)
	}
	seen, err := store.Contains(ctx, "u1", []string{"q1", "q3"})
	if err != nil {
		t.Fatal(err)
	}
	if !seen["q1"] || seen["q3"] {
		t.Fatalf("unexpected membership %+v", seen)
	}
	// Other users never see each other's banks.
	other, err := store.Contains(ctx, "u2", []string{"q1"})
	if err != nil {
		t.Fatal(err)
	}
	if other["q1"] {
		t.Fatal("qbank membership leaked across users")
	}
}
