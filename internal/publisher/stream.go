// Package publisher forwards scan results to Redis streams for downstream consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/edge-scanner/internal/config"
	applog "github.com/yourusername/edge-scanner/internal/logger"
	"github.com/yourusername/edge-scanner/internal/models"
)

// DefaultStream is used when no stream key is configured
const DefaultStream = "scans.results"

// StreamAdder is the subset of the Redis client the publisher needs
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher publishes scan results to a capped Redis stream
type StreamPublisher struct {
	client StreamAdder
	stream string
	maxLen int64
	logger *logrus.Logger
}

// NewRedisClient creates a Redis client from configuration and verifies connectivity
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}

// NewStreamPublisher creates a new stream publisher
func NewStreamPublisher(client StreamAdder, cfg config.RedisConfig, logger *logrus.Logger) *StreamPublisher {
	if logger == nil {
		logger = applog.Discard()
	}
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: cfg.MaxLength,
		logger: logger,
	}
}

// Name identifies the publisher as a scan result sink
func (p *StreamPublisher) Name() string {
	return "redis"
}

// Publish appends the scan result to the stream. The full result travels in
// the data field; the remaining fields let consumers filter without decoding it.
func (p *StreamPublisher) Publish(ctx context.Context, result *models.ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling scan result: %w", err)
	}

	values := map[string]interface{}{
		"data":                string(data),
		"scan_id":             result.ID.String(),
		"started_at":          result.StartedAt.UTC().Format(time.RFC3339),
		"opportunities":       len(result.Opportunities),
		"portfolio_positions": len(result.Portfolio.Opportunities),
		"extractor_failures":  result.Health.ExtractorFailures,
	}
	for typ, n := range countByType(result.Opportunities) {
		values["count_"+string(typ)] = n
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("publishing scan %s to %s: %w", result.ID, p.stream, err)
	}

	p.logger.WithFields(logrus.Fields{
		"stream":   p.stream,
		"entry_id": id,
		"scan_id":  result.ID.String(),
	}).Debug("Published scan result")
	return nil
}

func countByType(opps []models.Opportunity) map[models.OpportunityType]int {
	counts := make(map[models.OpportunityType]int, len(models.AllOpportunityTypes))
	for _, t := range models.AllOpportunityTypes {
		counts[t] = 0
	}
	for _, o := range opps {
		counts[o.Type]++
	}
	return counts
}
