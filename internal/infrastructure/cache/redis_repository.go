package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sugawarayuuta/sonnet"

	"github.com/jessson/mev-dashboard/internal/domain/model"
	"github.com/jessson/mev-dashboard/internal/domain/repository"
	"github.com/jessson/mev-dashboard/internal/domain/useCases"
)

const (
	summaryKeyPrefix = "profit:"
	channelPrefix    = "mev:"
)

// RedisRepository is a fanout sink publishing on mev:<topic> channels and a
// mirror of the latest per-chain summaries under profit:<chain>.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(addr, password string, db int) *RedisRepository {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRepository{client: client}
}

var (
	_ repository.SummaryMirror = (*RedisRepository)(nil)
	_ useCases.Sink            = (*RedisRepository)(nil)
)

// Channel is the pub/sub channel a topic is published on.
func Channel(topic model.Topic) string {
	return channelPrefix + string(topic)
}

// Publish sends the message to its topic channel.
func (r *RedisRepository) Publish(ctx context.Context, msg model.Message) error {
	data, err := sonnet.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return r.client.Publish(ctx, Channel(msg.Topic), data).Err()
}

// Subscribe opens a pub/sub subscription on the given topics.
func (r *RedisRepository) Subscribe(ctx context.Context, topics ...model.Topic) *redis.PubSub {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = Channel(t)
	}
	return r.client.Subscribe(ctx, channels...)
}

func (r *RedisRepository) SaveSummary(ctx context.Context, summary model.ChainProfitSummary) error {
	data, err := sonnet.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return r.client.Set(ctx, summaryKeyPrefix+summary.Chain, data, 0).Err()
}

func (r *RedisRepository) GetSummary(ctx context.Context, chain string) (model.ChainProfitSummary, error) {
	data, err := r.client.Get(ctx, summaryKeyPrefix+chain).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.ChainProfitSummary{}, fmt.Errorf("summary %s: %w", chain, model.ErrNotFound)
		}
		return model.ChainProfitSummary{}, err
	}

	var s model.ChainProfitSummary
	if err := sonnet.Unmarshal(data, &s); err != nil {
		return model.ChainProfitSummary{}, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return s, nil
}

func (r *RedisRepository) GetAllSummaries(ctx context.Context) ([]model.ChainProfitSummary, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, summaryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []model.ChainProfitSummary{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	result := make([]model.ChainProfitSummary, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue // expired between SCAN and GET
		}
		var s model.ChainProfitSummary
		if err := sonnet.Unmarshal(data, &s); err != nil {
			continue // skip malformed data
		}
		result = append(result, s)
	}
	return result, nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
