// Package ingest moves vehicle location reports through Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-pool/internal/models"
)

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	return &KafkaProducer{writer: w}
}

// PublishLocation keys messages by ride so a ride's updates stay ordered.
func (k *KafkaProducer) PublishLocation(ctx context.Context, loc models.VehicleLocation) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := EncodeLocation(loc)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(loc.RideID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func EncodeLocation(loc models.VehicleLocation) ([]byte, error) {
	if loc.At.IsZero() {
		loc.At = time.Now().UTC()
	}
	return json.Marshal(loc)
}

// DecodeLocation parses a message produced by PublishLocation.
func DecodeLocation(b []byte) (models.VehicleLocation, error) {
	var loc models.VehicleLocation
	err := json.Unmarshal(b, &loc)
	return loc, err
}
