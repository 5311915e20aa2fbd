//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/broker"
	"github.com/Abdullah1738/ticket-scan/internal/events"
)

func requireBrokerTests(t *testing.T) {
	t.Helper()
	if os.Getenv("TICKET_SCAN_TEST_DOCKER") == "" {
		t.Skip("set TICKET_SCAN_TEST_DOCKER=1 to run broker integration tests")
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func testTopic() string {
	return fmt.Sprintf("ticketscan.test.%d", time.Now().UnixNano())
}

// publishOne journals a single issuance event and drains it through br.
func publishOne(t *testing.T, ctx context.Context, br broker.Broker, txid string) {
	t.Helper()
	st := openStore(t)
	appendIssued(t, ctx, st, txid)

	pub, err := New(st, br, Config{PollInterval: 10 * time.Millisecond, BatchSize: 10})
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}
	if err := pub.publishOnce(ctx); err != nil {
		t.Fatalf("publishOnce: %v", err)
	}
}

func checkEnvelope(t *testing.T, value []byte, txid string) {
	t.Helper()
	var env broker.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Kind != events.KindTicketIssued || env.Seq != 1 || env.Height != 10 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var p events.TicketIssuedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.TxID != txid {
		t.Fatalf("payload=%s err=%v", env.Payload, err)
	}
}
