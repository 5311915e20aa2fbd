package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("Register twice: %v", err)
	}

	Tickets.WithLabelValues("issue").Inc()
	Rejected.WithLabelValues("signature_invalid").Inc()
	EventsPublished.WithLabelValues("TicketIssued").Inc()
	BlockDuration.Observe(0.01)
	TipHeight.Set(866601)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"ticket_scan_indexer_tickets_total", "ticket_scan_indexer_tip_height 866601"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestMetricsHaveHelp(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	Tickets.WithLabelValues("redeem").Inc()
	Rejected.WithLabelValues("unknown_authority").Inc()
	EventsPublished.WithLabelValues("TicketRedeemed").Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) != 8 {
		t.Fatalf("gathered %d families want 8", len(mfs))
	}
	for _, mf := range mfs {
		if mf.GetHelp() == "" {
			t.Fatalf("%s has no help", mf.GetName())
		}
	}
}
