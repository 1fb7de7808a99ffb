// Package publisher streams ranked opportunities to Kafka.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sugawarayuuta/sonnet"

	"arbscout/internal/config"
	"arbscout/internal/model"
)

const writeTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a writer for the configured brokers and topic.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// message is the wire form of one opportunity. A null risk_reward_ratio
// means the stop loss sits at the entry price.
type message struct {
	CycleID string `json:"cycle_id"`
	Rank    int    `json:"rank"`
	model.Opportunity
	RiskRewardRatio *float64 `json:"risk_reward_ratio"`
}

// KafkaPublisher publishes each opportunity as a JSON message keyed by symbol.
type KafkaPublisher struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(writer MessageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Record(ctx context.Context, cycleID uuid.UUID, opps []model.Opportunity) error {
	msgs := make([]kafka.Message, 0, len(opps))
	for i, opp := range opps {
		m := message{CycleID: cycleID.String(), Rank: i + 1, Opportunity: opp}
		if rr := opp.RiskRewardRatio; !math.IsInf(rr, 0) && !math.IsNaN(rr) {
			m.RiskRewardRatio = &rr
		}
		data, err := sonnet.Marshal(m)
		if err != nil {
			return fmt.Errorf("serialize %s: %w", opp.Symbol, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(opp.Symbol), Value: data, Time: opp.Timestamp})
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, msgs...); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	p.logger.Debug("Published opportunities", "cycle", cycleID.String(), "count", len(msgs))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
