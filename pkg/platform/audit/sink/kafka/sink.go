// Package kafka mirrors stored audit rows onto a Kafka topic for downstream
// consumers such as reporting jobs. The database stays the source of truth.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	audit "landrecords/pkg/platform/audit"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is the JSON document published for each row. Snapshots and the
// change list are embedded as raw JSON so consumers see real documents.
type Message struct {
	UserID        *int64          `json:"user_id"`
	Username      string          `json:"username"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	EntityCtx     json.RawMessage `json:"entity_ctx"`
	ChangedFields json.RawMessage `json:"changed_fields"`
	BeforeData    json.RawMessage `json:"before_data"`
	AfterData     json.RawMessage `json:"after_data"`
	IP            *string         `json:"ip"`
	UserAgent     *string         `json:"user_agent"`
	CreatedAt     time.Time       `json:"created_at"`
}

// producer is the subset of *kgo.Client the sink needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Sink publishes rows keyed by entity so one entity's history stays ordered
// within a partition.
type Sink struct {
	client producer
	topic  string
}

func New(client *kgo.Client, topic string) *Sink {
	return &Sink{client: client, topic: topic}
}

// NewMessage converts a row to its published form.
func NewMessage(row audit.Row) Message {
	return Message{
		UserID:        row.UserID,
		Username:      row.Username,
		Action:        string(row.Action),
		EntityType:    row.EntityType,
		EntityID:      row.EntityID,
		EntityCtx:     rawOr(&row.EntityCtx, "{}"),
		ChangedFields: rawOr(&row.ChangedFields, "[]"),
		BeforeData:    rawOr(row.BeforeData, "null"),
		AfterData:     rawOr(row.AfterData, "null"),
		IP:            row.IP,
		UserAgent:     row.UserAgent,
		CreatedAt:     row.CreatedAt,
	}
}

func rawOr(text *string, fallback string) json.RawMessage {
	if text == nil || *text == "" || !json.Valid([]byte(*text)) {
		return json.RawMessage(fallback)
	}
	return json.RawMessage(*text)
}

// Publish produces one record and waits for the broker acknowledgement.
func (s *Sink) Publish(ctx context.Context, row audit.Row) error {
	value, err := json.Marshal(NewMessage(row))
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(row.EntityType + ":" + row.EntityID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(row.Action)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit message to %s: %w", s.topic, err)
	}
	return nil
}

// EnsureTopic creates the topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !isTopicExists(resp.Err) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

func isTopicExists(err error) bool {
	return errors.Is(err, kerr.TopicAlreadyExists)
}
