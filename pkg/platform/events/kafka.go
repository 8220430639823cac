package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes events to a Kafka topic, keyed by owner identity so a
// record's events stay ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// kafkaPayload is the JSON structure written to the topic.
type kafkaPayload struct {
	Type       string   `json:"type"`
	RegistryID string   `json:"registry_id,omitempty"`
	Creator    string   `json:"creator,omitempty"`
	Owner      string   `json:"owner,omitempty"`
	RecordID   string   `json:"record_id,omitempty"`
	SnapshotID uint64   `json:"snapshot_id,omitempty"`
	Neighbors  []string `json:"neighbors,omitempty"`
	Timestamp  uint64   `json:"timestamp"`
}

// NewKafkaSink connects to the given brokers and makes sure the topic exists
// before the first publish.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			client.Close()
			return nil, fmt.Errorf("create topic %s: %w", topic, res.Err)
		}
	}

	return &KafkaSink{client: client, topic: topic}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	payload := kafkaPayload{
		Type:       string(event.Type),
		Owner:      event.Owner.String(),
		SnapshotID: uint64(event.SnapshotID),
		Timestamp:  event.Timestamp,
	}
	if !event.RegistryID.IsNil() {
		payload.RegistryID = event.RegistryID.String()
		payload.Creator = event.Creator.String()
	}
	if !event.RecordID.IsNil() {
		payload.RecordID = event.RecordID.String()
	}
	for _, n := range event.Neighbors {
		payload.Neighbors = append(payload.Neighbors, n.String())
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Owner.String()),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}
