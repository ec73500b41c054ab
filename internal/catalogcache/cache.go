// Package catalogcache keeps quizzes with their questions in Redis in front of
// a slower attempt.Catalog. User lookups are not cached.
package catalogcache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"lmsquiz/internal/attempt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lmsquiz:quiz:"

// kv is the subset of *redis.Client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Catalog struct {
	next  attempt.Catalog
	redis kv
	ttl   time.Duration
}

func New(next attempt.Catalog, client kv, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Catalog{next: next, redis: client, ttl: ttl}
}

// GetQuizWithQuestions serves from Redis when possible. Redis failures fall
// back to the wrapped catalog; a missing quiz is never cached.
func (c *Catalog) GetQuizWithQuestions(ctx context.Context, quizID uuid.UUID) (attempt.Quiz, error) {
	key := keyPrefix + quizID.String()

	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q attempt.Quiz
		if err := json.Unmarshal(raw, &q); err == nil {
			return q, nil
		}
		log.Printf("catalog cache decode failed key=%s", key)
	case !errors.Is(err, redis.Nil):
		log.Printf("catalog cache get failed key=%s err=%v", key, err)
	}

	q, err := c.next.GetQuizWithQuestions(ctx, quizID)
	if err != nil {
		return attempt.Quiz{}, err
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return q, nil
	}
	if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Printf("catalog cache set failed key=%s err=%v", key, err)
	}
	return q, nil
}

func (c *Catalog) GetUser(ctx context.Context, userID uuid.UUID) (attempt.User, error) {
	return c.next.GetUser(ctx, userID)
}

// Invalidate drops the cached copy of a quiz after it was edited.
func (c *Catalog) Invalidate(ctx context.Context, quizID uuid.UUID) error {
	return c.redis.Del(ctx, keyPrefix+quizID.String()).Err()
}

// NewClient builds a Redis client and checks that the server answers.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
