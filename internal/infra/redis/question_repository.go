package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"studyquiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question banks from a backing store (e.g. Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, params domain.FetchParams) (domain.QuestionBank, error)
}

// QuestionRepository caches question banks in Redis as JSON blobs keyed by
// the fetch parameters, falling back to a loader on cache miss.
// Banks are stored as: SET qbank:set:{cacheKey} {json} EX ttl
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) FetchQuestions(ctx context.Context, params domain.FetchParams) (domain.QuestionBank, error) {
	key := r.key(params)

	if bank, ok := r.lookup(ctx, key); ok {
		return bank, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if bank, ok := r.lookup(ctx, key); ok {
			return bank, nil
		}

		bank, err := r.loader.LoadQuestions(ctx, params)
		if err != nil {
			return domain.QuestionBank{}, err
		}

		if data, err := json.Marshal(bank); err == nil {
			_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		}
		return bank, nil
	})
	if err != nil {
		return domain.QuestionBank{}, err
	}
	return result.(domain.QuestionBank), nil
}

func (r *QuestionRepository) lookup(ctx context.Context, key string) (domain.QuestionBank, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.QuestionBank{}, false
	}
	var bank domain.QuestionBank
	if err := json.Unmarshal(data, &bank); err != nil {
		return domain.QuestionBank{}, false
	}
	return bank, true
}

func (r *QuestionRepository) key(params domain.FetchParams) string {
	return "qbank:set:" + params.CacheKey()
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
