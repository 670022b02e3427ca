package effects

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/oklog/ulid/v2"
)

const eventRevisionCommitted = "revision.committed"

// RevisionEvent is the payload published for every committed revision.
type RevisionEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	ResourceKind string          `json:"resource_kind"`
	ResourceID   uint64          `json:"resource_id"`
	DocumentID   uint64          `json:"document_id"`
	Revision     uint64          `json:"revision"`
	AuthorID     uint64          `json:"author_id"`
	SubmissionID string          `json:"submission_id"`
	Revert       bool            `json:"revert"`
	Operation    json.RawMessage `json:"operation,omitempty"`
	CommittedAt  time.Time       `json:"committed_at"`
}

// KafkaNotifier publishes revision events keyed by resource, so all events
// of one resource land in one partition in commit order.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

// NewSyncProducer connects a producer that waits for the local broker ack.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 1
	return sarama.NewSyncProducer(brokers, cfg)
}

func (n *KafkaNotifier) Execute(_ context.Context, e Effect) error {
	evt := RevisionEvent{
		ID:           ulid.Make().String(),
		Type:         eventRevisionCommitted,
		ResourceKind: string(e.Ref.Kind),
		ResourceID:   e.Ref.ID,
		DocumentID:   e.DocumentID,
		Revision:     e.Revision,
		AuthorID:     e.AuthorID,
		SubmissionID: e.SubmissionID,
		Revert:       e.Revert,
		Operation:    e.Operation,
		CommittedAt:  e.CommittedAt,
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(e.Ref.LockKey()),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = n.producer.SendMessage(msg)
	return err
}
