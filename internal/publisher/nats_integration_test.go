//go:build integration && nats

package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/broker"
	"github.com/Abdullah1738/ticket-scan/internal/events"
	"github.com/nats-io/nats.go"
)

func TestPublisher_NATS(t *testing.T) {
	requireBrokerTests(t)

	natsURL := envOr("TICKET_SCAN_TEST_NATS_URL", "nats://127.0.0.1:14222")
	topic := testTopic()

	nc, err := nats.Connect(natsURL, nats.Timeout(5*time.Second))
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync(topic)
	if err != nil {
		t.Fatalf("nats subscribe: %v", err)
	}
	_ = nc.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	br, err := broker.Open(ctx, broker.Config{Driver: "nats", URL: natsURL, Topic: topic})
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}
	defer func() { _ = br.Close() }()

	publishOne(t, ctx, br, "nats-test-txid")

	msg, err := sub.NextMsg(10 * time.Second)
	if err != nil {
		t.Fatalf("nats NextMsg: %v", err)
	}
	if msg.Header.Get("x-key") != "nats-test-txid" || msg.Header.Get("x-kind") != events.KindTicketIssued {
		t.Fatalf("headers=%v", msg.Header)
	}
	checkEnvelope(t, msg.Data, "nats-test-txid")
}
