//go:build integration && kafka

package publisher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/broker"
	kafka "github.com/segmentio/kafka-go"
)

func TestPublisher_Kafka(t *testing.T) {
	requireBrokerTests(t)

	kafkaBrokers := envOr("TICKET_SCAN_TEST_KAFKA_BROKERS", "127.0.0.1:19092")
	var brokers []string
	for _, b := range strings.Split(kafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	topic := testTopic()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	br, err := broker.Open(ctx, broker.Config{Driver: "kafka", URL: kafkaBrokers, Topic: topic})
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}
	defer func() { _ = br.Close() }()

	publishOne(t, ctx, br, "kafka-test-txid")

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1e6,
	})
	defer func() { _ = reader.Close() }()

	readCtx, readCancel := context.WithTimeout(ctx, 10*time.Second)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	if err != nil {
		t.Fatalf("kafka ReadMessage: %v", err)
	}
	if string(msg.Key) != "kafka-test-txid" {
		t.Fatalf("key=%q", msg.Key)
	}
	checkEnvelope(t, msg.Value, "kafka-test-txid")
}
