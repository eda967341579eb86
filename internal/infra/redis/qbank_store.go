package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// QBankStore keeps per-user seen-question sets in Redis.
// Membership is stored as: SADD qbank:user:{userID} {questionID...}
type QBankStore struct {
	client *redis.Client
}

func NewQBankStore(client *redis.Client) *QBankStore {
	return &QBankStore{client: client}
}

func (s *QBankStore) Contains(ctx context.Context, userID string, questionIDs []string) (map[string]bool, error) {
	if len(questionIDs) == 0 {
		return map[string]bool{}, nil
	}
	members := make([]interface{}, len(questionIDs))
	for i, id := range questionIDs {
		members[i] = id
	}
	flags, err := s.client.SMIsMember(ctx, s.key(userID), members...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(questionIDs))
	for i, id := range questionIDs {
		out[id] = flags[i]
	}
	return out, nil
}

func (s *QBankStore) Add(ctx context.Context, userID string, questionIDs []string) error {
	if len(questionIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(questionIDs))
	for i, id := range questionIDs {
		members[i] = id
	}
	return s.client.SAdd(ctx, s.key(userID), members...).Err()
}

func (s *QBankStore) key(userID string) string {
	return "qbank:user:" + userID
}
