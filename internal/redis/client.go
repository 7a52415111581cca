package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/uavlog/internal/version"
)

const (
	summaryKeyPrefix = "uavlog:summary:"
	stampKey         = "uavlog:decoder:stamp"
	lockKey          = "uavlog:decoder:lock"
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
	ttl    time.Duration
}

// New creates a new Redis client. Cached summaries expire after ttl.
func New(addr, password string, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0, // use default DB
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, ttl: ttl}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface, ttl time.Duration) *Client {
	return &Client{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// cachedSummary ties a summary to the decoder that produced it
type cachedSummary struct {
	VersionHash string          `json:"version_hash"`
	Summary     json.RawMessage `json:"summary"`
}

// CacheSummary stores the summary view of a session
func (c *Client) CacheSummary(ctx context.Context, sessionID, versionHash string, summary []byte) error {
	if !json.Valid(summary) {
		return fmt.Errorf("summary of %s is not valid JSON", sessionID)
	}
	data, err := json.Marshal(cachedSummary{VersionHash: versionHash, Summary: summary})
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return c.client.Set(ctx, summaryKeyPrefix+sessionID, data, c.ttl).Err()
}

// GetSummary returns the cached summary of a session. A summary produced by
// a different decoder version is treated as missing.
func (c *Client) GetSummary(ctx context.Context, sessionID, versionHash string) ([]byte, error) {
	var cached cachedSummary
	found, err := c.getData(ctx, summaryKeyPrefix+sessionID, &cached, "summary")
	if err != nil || !found {
		return nil, err
	}
	if cached.VersionHash != versionHash {
		return nil, nil
	}
	return cached.Summary, nil
}

// InvalidateSummary removes the cached summary of a session
func (c *Client) InvalidateSummary(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, summaryKeyPrefix+sessionID).Err()
}

// getData retrieves data from Redis and unmarshals it into the target
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil // Data not found
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}

	return true, nil
}

// StampStore keeps the decoder version stamp in Redis without expiry
type StampStore struct {
	client *Client
}

// StampStore returns a version stamp store on this connection
func (c *Client) StampStore() *StampStore {
	return &StampStore{client: c}
}

// Load returns the stored stamp
func (s *StampStore) Load(ctx context.Context) (*version.Stamp, error) {
	var st version.Stamp
	found, err := s.client.getData(ctx, stampKey, &st, "stamp")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, version.ErrNoStamp
	}
	return &st, nil
}

// Save replaces the stored stamp
func (s *StampStore) Save(ctx context.Context, st version.Stamp) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal stamp: %w", err)
	}
	return s.client.client.Set(ctx, stampKey, data, 0).Err()
}

// releaseScript deletes the lock only while it still holds our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a version.Locker shared by every process using the same Redis.
// The lock expires after TTL so a crashed holder cannot block others.
type Locker struct {
	client *Client
	Key    string
	TTL    time.Duration
	Retry  time.Duration
}

// Locker returns the stamp writer lock
func (c *Client) Locker() *Locker {
	return &Locker{
		client: c,
		Key:    lockKey,
		TTL:    30 * time.Second,
		Retry:  100 * time.Millisecond,
	}
}

// Lock polls SET NX until the lock is taken or ctx is done
func (l *Locker) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.client.SetNX(ctx, l.Key, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", l.Key, err)
		}
		if ok {
			return func() { l.release(token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Retry):
		}
	}
}

func (l *Locker) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.client.client.Eval(ctx, releaseScript, []string{l.Key}, token).Err(); err != nil {
		log.Printf("Warning: failed to release lock %s: %v", l.Key, err)
	}
}
