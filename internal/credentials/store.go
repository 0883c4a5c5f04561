package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitsync/fitsync/internal/storage"
	"github.com/redis/go-redis/v9"
)

// ErrNoCredentials means the subject has no stored token (never
// authorized, or revoked after a deauthorization event).
var ErrNoCredentials = errors.New("no credentials for subject")

// Store maps a subject to a currently valid access token. Obtaining and
// refreshing tokens is owned by the OAuth collaborator; this pipeline
// only reads them and revokes them on deauthorization.
type Store interface {
	Token(ctx context.Context, subjectID string) (string, error)
	Revoke(ctx context.Context, subjectID string) error
}

type RedisStore struct {
	redis *storage.RedisClient
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis}
}

func credentialKey(subjectID string) string {
	return fmt.Sprintf("credentials:%s", subjectID)
}

func (s *RedisStore) Token(ctx context.Context, subjectID string) (string, error) {
	token, err := s.redis.Get(ctx, credentialKey(subjectID))
	if err == redis.Nil {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("credential lookup failed: %w", err)
	}

	return token, nil
}

func (s *RedisStore) Revoke(ctx context.Context, subjectID string) error {
	if err := s.redis.Del(ctx, credentialKey(subjectID)); err != nil {
		return fmt.Errorf("credential revocation failed: %w", err)
	}
	return nil
}
