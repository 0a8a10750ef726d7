// Package cache keeps generated question sets in Redis so identical
// generation requests do not hit the LLM twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/studymate/assessor/internal/model"
)

const keyPrefix = "assessor:questions:"

// Generator produces a question set for a request.
type Generator interface {
	GenerateQuestions(ctx context.Context, req model.GenerateRequest) ([]model.Question, error)
}

// kv is the subset of the Redis client used here.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Generations is a read-through cache in front of a Generator.
// Redis failures are logged and fall through to the wrapped generator.
type Generations struct {
	next Generator
	kv   kv
	ttl  time.Duration
}

// NewGenerations wraps next with a Redis-backed cache.
func NewGenerations(client redis.UniversalClient, next Generator, ttl time.Duration) *Generations {
	return &Generations{next: next, kv: client, ttl: ttl}
}

// GenerateQuestions returns a cached question set or generates and stores a new one.
func (g *Generations) GenerateQuestions(ctx context.Context, req model.GenerateRequest) ([]model.Question, error) {
	key := Key(req)

	data, err := g.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var questions []model.Question
		if err := json.Unmarshal(data, &questions); err == nil && len(questions) > 0 {
			slog.Debug("question set cache hit", "key", key)
			return questions, nil
		}
		slog.Warn("discarding unreadable cached question set", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("question set cache read failed", "key", key, "error", err)
	}

	questions, err := g.next.GenerateQuestions(ctx, req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(questions)
	if err != nil {
		return questions, nil
	}
	if err := g.kv.Set(ctx, key, payload, g.ttl).Err(); err != nil {
		slog.Warn("question set cache write failed", "key", key, "error", err)
	}
	return questions, nil
}

// Key derives the cache key for a generation request.
func Key(req model.GenerateRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s\x00%d\x00", req.Mode, req.Count, req.Difficulty, req.Kind, req.TimeLimitMinutes)
	h.Write([]byte(req.SourceText))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// NewRedisClient connects to Redis and verifies the connection.
// More than one address selects cluster mode.
func NewRedisClient(ctx context.Context, addrs []string, password string, db int) (redis.UniversalClient, error) {
	if len(addrs) == 0 {
		return nil, errors.New("redis configuration error: at least one address is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis (addrs: %v): %w", addrs, err)
	}
	return client, nil
}
