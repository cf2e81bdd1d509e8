// Package cache keeps recently served correlation matrices in Redis so the
// heatmap endpoints do not rebuild them from Postgres on every request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/minerva/colocmap/internal/models"
)

const (
	MatrixKeyPrefix = "colocmap:matrix:"
	DefaultTTL      = 10 * time.Minute
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Entry is the cached form of a dataset's matrix.
type Entry struct {
	Phenotypes []string                 `json:"phenotypes"`
	Matrix     models.CorrelationMatrix `json:"matrix"`
}

type MatrixCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(cfg Config) (*MatrixCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewWithClient(client, cfg.TTL), nil
}

// NewWithClient shares an existing client, e.g. the one the export queue uses.
func NewWithClient(client *redis.Client, ttl time.Duration) *MatrixCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MatrixCache{client: client, ttl: ttl}
}

func (c *MatrixCache) Close() error {
	return c.client.Close()
}

func key(id uuid.UUID) string {
	return MatrixKeyPrefix + id.String()
}

// Get reports found=false on a miss; err is only set for Redis or decoding
// failures.
func (c *MatrixCache) Get(ctx context.Context, id uuid.UUID) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached matrix: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decoding cached matrix: %w", err)
	}
	return &e, true, nil
}

func (c *MatrixCache) Set(ctx context.Context, id uuid.UUID, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding matrix: %w", err)
	}
	return c.client.Set(ctx, key(id), data, c.ttl).Err()
}

func (c *MatrixCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, key(id)).Err()
}
