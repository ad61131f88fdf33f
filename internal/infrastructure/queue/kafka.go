package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sugawarayuuta/sonnet"

	"github.com/jessson/mev-dashboard/internal/app/dto"
	"github.com/jessson/mev-dashboard/internal/lib/logger/sl"
)

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	BatchSize     int
	BatchTimeout  int // milliseconds
}

// TradeProducer publishes trades for the dashboard to ingest.
type TradeProducer interface {
	PublishTrade(ctx context.Context, trade *dto.TradeDTO) error
	Close() error
}

// TradeConsumer delivers trades and takes acknowledgements once a trade is durably stored.
type TradeConsumer interface {
	Subscribe(ctx context.Context) (<-chan *dto.TradeDTO, error)
	Commit(ctx context.Context, trade *dto.TradeDTO) error
	Close() error
}

// KafkaProducer implements TradeProducer using Kafka
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(config KafkaConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{}, // chain-keyed so a chain's trades stay ordered
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaProducer{writer: writer}
}

func (p *KafkaProducer) PublishTrade(ctx context.Context, trade *dto.TradeDTO) error {
	return p.PublishTradeBatch(ctx, []*dto.TradeDTO{trade})
}

// PublishTradeBatch sends trades in a single write.
func (p *KafkaProducer) PublishTradeBatch(ctx context.Context, trades []*dto.TradeDTO) error {
	msgs := make([]kafka.Message, len(trades))
	for i, trade := range trades {
		data, err := sonnet.Marshal(trade)
		if err != nil {
			return fmt.Errorf("encode trade %s: %w", trade.Hash, err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(trade.Chain),
			Value: data,
			Time:  time.Now(),
		}
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer implements TradeConsumer. Offsets are committed only for
// messages acknowledged through Commit, in batches.
type KafkaConsumer struct {
	reader       *kafka.Reader
	log          *slog.Logger
	batchSize    int
	batchTimeout time.Duration

	mu      sync.Mutex
	pending map[string]kafka.Message // hash -> fetched, not yet acknowledged
	acked   []kafka.Message
}

func NewKafkaConsumer(log *slog.Logger, config KafkaConfig) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 0,    // explicit commits only
		StartOffset:    kafka.FirstOffset,
	})

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := time.Duration(config.BatchTimeout) * time.Millisecond
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}

	return &KafkaConsumer{
		reader:       reader,
		log:          log.With(slog.String("component", "kafka_consumer"), slog.String("topic", config.Topic)),
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		pending:      make(map[string]kafka.Message),
	}
}

// Subscribe returns a channel of trades from Kafka. The channel closes when
// ctx is done or the reader fails.
func (c *KafkaConsumer) Subscribe(ctx context.Context) (<-chan *dto.TradeDTO, error) {
	tradeCh := make(chan *dto.TradeDTO, 1000)

	go c.startBatchCommitter(ctx)

	go func() {
		defer close(tradeCh)

		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Error("fetch message failed", sl.Err(err))
				}
				return
			}

			var trade dto.TradeDTO
			if err := sonnet.Unmarshal(msg.Value, &trade); err != nil || trade.Hash == "" {
				c.log.Warn("dropping undecodable message",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
					sl.Err(err),
				)
				// Poison messages are acknowledged so the partition keeps moving.
				c.ack(msg)
				continue
			}

			c.mu.Lock()
			c.pending[trade.Hash] = msg
			pendingCount := len(c.pending)
			c.mu.Unlock()

			if pendingCount > c.batchSize*10 {
				c.log.Warn("large number of unacknowledged messages", slog.Int("pending", pendingCount))
			}

			select {
			case <-ctx.Done():
				return
			case tradeCh <- &trade:
			}
		}
	}()

	return tradeCh, nil
}

func (c *KafkaConsumer) ack(msg kafka.Message) {
	c.mu.Lock()
	c.acked = append(c.acked, msg)
	c.mu.Unlock()
}

func (c *KafkaConsumer) startBatchCommitter(ctx context.Context) {
	ticker := time.NewTicker(c.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.commitAcked(context.Background())
			return
		case <-ticker.C:
			c.commitAcked(ctx)
		}
	}
}

func (c *KafkaConsumer) commitAcked(ctx context.Context) {
	c.mu.Lock()
	msgs := c.acked
	c.acked = nil
	c.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		c.log.Error("commit batch failed", slog.Int("messages", len(msgs)), sl.Err(err))
		c.mu.Lock()
		c.acked = append(msgs, c.acked...)
		c.mu.Unlock()
		return
	}
	c.log.Debug("committed batch", slog.Int("messages", len(msgs)))
}

// Commit acknowledges that a trade reached the durable store.
func (c *KafkaConsumer) Commit(ctx context.Context, trade *dto.TradeDTO) error {
	if trade == nil || trade.Hash == "" {
		return fmt.Errorf("cannot commit nil trade or trade without hash")
	}

	c.mu.Lock()
	msg, ok := c.pending[trade.Hash]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("message for trade %s not pending", trade.Hash)
	}
	delete(c.pending, trade.Hash)
	c.acked = append(c.acked, msg)
	full := len(c.acked) >= c.batchSize
	c.mu.Unlock()

	if full {
		c.commitAcked(ctx)
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	c.commitAcked(context.Background())
	return c.reader.Close()
}
