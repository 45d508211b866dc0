package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/deskmate/internal/types"
)

const redisKeyPrefix = "deskmate:session:"

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// TTL expires idle sessions server side. Zero keeps keys forever.
	TTL time.Duration
}

// RedisBackend stores sessions as JSON strings under deskmate:session:<user>.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisBackend{client: client, ttl: cfg.TTL}, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func redisKey(userID types.UserID) string {
	return redisKeyPrefix + string(userID)
}

func (r *RedisBackend) Load(ctx context.Context, userID types.UserID) (*ConversationSession, error) {
	raw, err := r.client.Get(ctx, redisKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	return decode(raw)
}

func (r *RedisBackend) Save(ctx context.Context, sess *ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(sess.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, userID types.UserID) error {
	if err := r.client.Del(ctx, redisKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (r *RedisBackend) List(ctx context.Context) ([]*ConversationSession, error) {
	var out []*ConversationSession
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		sess, err := decode(raw)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan sessions: %w", err)
	}
	sortSessions(out)
	return out, nil
}
