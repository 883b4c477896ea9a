package queue

import (
	"context"
	"encoding/json"
	"time"

	"grubs-service/models"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TransactionPublisher forwards committed ledger rows to downstream consumers.
type TransactionPublisher interface {
	Publish(ctx context.Context, tx models.Transaction) error
	Close() error
}

// TransactionMessage is the wire form of a ledger row.
type TransactionMessage struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id"`
	Amount        string                 `json:"amount"`
	BalanceAfter  string                 `json:"balance_after"`
	Type          models.TransactionType `json:"type"`
	ReferenceKind string                 `json:"reference_kind,omitempty"`
	ReferenceID   string                 `json:"reference_id,omitempty"`
	Description   string                 `json:"description,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func NewTransactionMessage(tx models.Transaction) TransactionMessage {
	msg := TransactionMessage{
		ID:           tx.ID,
		UserID:       tx.UserID,
		Amount:       tx.Amount.StringFixed(6),
		BalanceAfter: tx.BalanceAfter.StringFixed(6),
		Type:         tx.Type,
		Description:  tx.Description,
		CreatedAt:    tx.CreatedAt.UTC(),
	}
	if ref := tx.Reference(); ref != nil {
		msg.ReferenceKind = string(ref.Kind)
		msg.ReferenceID = ref.ID
	}
	return msg
}

// KafkaPublisher writes one message per ledger row, keyed by actor so each actor's
// rows stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

var _ TransactionPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		log: log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, tx models.Transaction) error {
	data, err := json.Marshal(NewTransactionMessage(tx))
	if err != nil {
		return errors.Wrap(err, "marshal transaction")
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.UserID),
		Value: data,
		Time:  tx.CreatedAt,
	}); err != nil {
		return errors.Wrapf(err, "publish transaction %s", tx.ID)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every message. Used when no brokers are configured.
type NopPublisher struct{}

var _ TransactionPublisher = NopPublisher{}

func (NopPublisher) Publish(context.Context, models.Transaction) error { return nil }
func (NopPublisher) Close() error                                     { return nil }
