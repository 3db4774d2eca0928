// Package redislock implements a Redis lease: SET NX PX with token-checked refresh and release.
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "recon:lock:job:"
	defaultTTL    = 10 * time.Minute
)

var (
	ErrNotInitialized = errors.New("redis lock not initialized")
	ErrEmptyKey       = errors.New("lock key or token is empty")
)

// Client guards one job at a time across scheduler instances.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New creates a lock client. An empty prefix falls back to the job lock prefix.
func New(rdb *redis.Client, prefix string) *Client {
	return &Client{
		rdb:    rdb,
		prefix: strings.TrimSpace(prefix),
	}
}

// Key returns the lock key for a job.
func (c *Client) Key(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if c == nil {
		return jobID
	}
	p := c.prefix
	if p == "" {
		p = defaultPrefix
	}
	return p + jobID
}

// Token returns a random lease token.
func Token() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func (c *Client) check(key, token string) (string, string, error) {
	if c == nil || c.rdb == nil {
		return "", "", ErrNotInitialized
	}
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if key == "" || token == "" {
		return "", "", ErrEmptyKey
	}
	return key, token, nil
}

// Acquire takes the lease if nobody holds it.
func (c *Client) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return c.rdb.SetNX(ctx, key, token, ttl).Result()
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

// Refresh extends the lease if token still owns it.
func (c *Client) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	n, err := refreshScript.Run(ctx, c.rdb, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release drops the lease if token still owns it.
func (c *Client) Release(ctx context.Context, key, token string) (bool, error) {
	key, token, err := c.check(key, token)
	if err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return ErrNotInitialized
	}
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
