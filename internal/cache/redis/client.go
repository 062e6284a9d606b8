package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/legisync/backend/internal/analysis"
	"github.com/legisync/backend/pkg/logger"
)

// Client caches analysis documents keyed by a bill's change hash. Hash
// equality means the bill content is unchanged, so a cached document is
// still valid.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db, ttlHours int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttlHours <= 0 {
		ttlHours = 168
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{
		client: client,
		ttl:    time.Duration(ttlHours) * time.Hour,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetAnalysis(ctx context.Context, changeHash string) (*analysis.Document, bool, error) {
	data, err := c.client.Get(ctx, analysisKey(changeHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached analysis: %w", err)
	}

	var doc analysis.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached analysis: %w", err)
	}

	logger.Debug("Analysis cache hit", zap.String("change_hash", changeHash))
	return &doc, true, nil
}

func (c *Client) SetAnalysis(ctx context.Context, changeHash string, doc *analysis.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	err = c.client.Set(ctx, analysisKey(changeHash), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache analysis: %w", err)
	}

	return nil
}

func analysisKey(changeHash string) string {
	return fmt.Sprintf("analysis:%s", changeHash)
}
