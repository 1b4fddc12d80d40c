package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
	"github.com/dvlab/dvlab-api/pkg/security"
)

// TokenKey is the storage key of the persisted provider token.
const TokenKey = "gapi_token"

// ErrTokenNotFound is returned when no token is stored for a session.
var ErrTokenNotFound = appErrors.ErrTokenNotFound

func tokenKey(sessionID string) string {
	return TokenKey + ":" + sessionID
}

// RedisTokenRepository keeps one encrypted access token per browser session.
type RedisTokenRepository struct {
	client *redis.Client
	cipher *security.TokenCipher
	ttl    time.Duration
}

// NewRedisTokenRepository builds the repository. ttl bounds how long an unused token is kept.
func NewRedisTokenRepository(client *redis.Client, cipher *security.TokenCipher, ttl time.Duration) *RedisTokenRepository {
	return &RedisTokenRepository{client: client, cipher: cipher, ttl: ttl}
}

func (r *RedisTokenRepository) Get(ctx context.Context, sessionID string) (string, error) {
	sealed, err := r.client.Get(ctx, tokenKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("redis get token: %w", err)
	}
	plain, err := r.cipher.Decrypt(sealed)
	if err != nil {
		// Unreadable after a secret rotation; treat as absent so the user re-consents.
		_ = r.client.Del(ctx, tokenKey(sessionID)).Err()
		return "", ErrTokenNotFound
	}
	return string(plain), nil
}

func (r *RedisTokenRepository) Save(ctx context.Context, sessionID, token string) error {
	sealed, err := r.cipher.Encrypt([]byte(token))
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	if err := r.client.Set(ctx, tokenKey(sessionID), sealed, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

func (r *RedisTokenRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, tokenKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete token: %w", err)
	}
	return nil
}

// MemoryTokenRepository is the in-process store used when Redis is disabled.
type MemoryTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryTokenRepository builds an empty store.
func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: make(map[string]string)}
}

func (r *MemoryTokenRepository) Get(_ context.Context, sessionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[tokenKey(sessionID)]
	if !ok {
		return "", ErrTokenNotFound
	}
	return token, nil
}

func (r *MemoryTokenRepository) Save(_ context.Context, sessionID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tokenKey(sessionID)] = token
	return nil
}

func (r *MemoryTokenRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, tokenKey(sessionID))
	return nil
}
