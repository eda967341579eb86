package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"studyquiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question banks from a backing store (e.g. Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, params domain.FetchParams) (domain.QuestionBank, error)
}

// QuestionRepository caches question banks with TTL to avoid repeated DB
// hits for the same category/subject selection.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedBank
}

type cachedBank struct {
	bank      domain.QuestionBank
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedBank),
	}
}

func (r *QuestionRepository) FetchQuestions(ctx context.Context, params domain.FetchParams) (domain.QuestionBank, error) {
	key := params.CacheKey()
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.bank, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.bank, nil
		}
		r.mu.RUnlock()

		bank, err := r.loader.LoadQuestions(ctx, params)
		if err != nil {
			return domain.QuestionBank{}, err
		}

		r.mu.Lock()
		r.cache[key] = cachedBank{
			bank:      bank,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves question sets from an in-memory map keyed by
// category then subject (useful for tests/demos).
type StaticQuestionLoader struct {
	sets map[string]map[string][]domain.Question
}

func NewStaticQuestionLoader(sets map[string]map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{sets: sets}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, params domain.FetchParams) (domain.QuestionBank, error) {
	subjects, ok := l.sets[params.CategoryID]
	if !ok {
		return domain.QuestionBank{}, domain.ErrQuestionSetNotFound
	}
	var bank domain.QuestionBank
	for _, sel := range params.Subjects {
		questions, ok := subjects[sel.SubjectID]
		if !ok {
			return domain.QuestionBank{}, domain.ErrQuestionSetNotFound
		}
		group := domain.SubjectQuestions{SubjectID: sel.SubjectID}
		for _, q := range questions {
			if includeTopic(q.TopicID, sel.TopicIDs) {
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

// includeTopic keeps questions without a topic tag, and tagged questions
// whose topic was selected. An empty selection means every topic.
func includeTopic(topicID string, selected []string) bool {
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
