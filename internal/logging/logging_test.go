package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "warn")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown", "height", 7)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "height=7") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := New(&buf, "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	OrDiscard(nil).Error("dropped")
}
