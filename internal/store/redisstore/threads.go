package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const threadKeyPrefix = "chat:thread:"

// ThreadStore keeps session -> provider thread ids in Redis so every API
// replica continues the same provider conversation.
type ThreadStore struct {
	rdb *redis.Client
	ttl time.Duration
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewThreadStore(ctx context.Context, opts Options) (*ThreadStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &ThreadStore{rdb: rdb, ttl: opts.TTL}, nil
}

func (s *ThreadStore) Get(ctx context.Context, sessionID string) (string, error) {
	v, err := s.rdb.Get(ctx, threadKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Put refreshes the ttl on every turn, so active sessions keep their thread.
func (s *ThreadStore) Put(ctx context.Context, sessionID, threadID string) error {
	return s.rdb.Set(ctx, threadKeyPrefix+sessionID, threadID, s.ttl).Err()
}

func (s *ThreadStore) Close() error { return s.rdb.Close() }
