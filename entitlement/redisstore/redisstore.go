// Package redisstore keeps entitlement counts in Redis so several processes
// can share them. Values are decimal strings.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pipacs/shop/entitlement"
)

const DefaultTimeout = 3 * time.Second

type Store struct {
	rdb     redis.UniversalClient
	timeout time.Duration
	// scan is the key pattern used by Keys.
	scan string
}

type Options struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Dial connects and pings the server.
func Dial(ctx context.Context, opt Options) (*Store, error) {
	if opt.Addr == "" {
		return nil, fmt.Errorf("redis addr required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, opt.Timeout), nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{rdb: rdb, timeout: timeout, scan: "*"}
}

// WithScanPattern restricts Keys to keys matching pattern.
func (s *Store) WithScanPattern(pattern string) *Store {
	s.scan = pattern
	return s
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Get(key string) (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %q: %w", key, err)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("redis get %q: bad count %q", key, v)
	}
	return n, nil
}

func (s *Store) Set(key string, n int) error {
	if n < 0 {
		return entitlement.ErrNegativeCount
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Set(ctx, key, strconv.Itoa(n), 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (s *Store) Keys() ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	var out []string
	iter := s.rdb.Scan(ctx, 0, s.scan, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}
