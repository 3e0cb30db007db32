package detector

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/foundermafstat/mevshield/internal/chain"
	"github.com/foundermafstat/mevshield/internal/finding"
)

// stubDetector is a fixed-output detector for dispatcher tests.
type stubDetector struct {
	name     string
	findings []finding.Finding
	calls    int
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Detect(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	s.calls++
	return s.findings
}

func TestNewDispatcher_Validation(t *testing.T) {
	log := zerolog.Nop()

	if _, err := NewDispatcher(log, nil); err == nil {
		t.Error("expected error for empty detector list")
	}
	if _, err := NewDispatcher(log, nil, nil); err == nil {
		t.Error("expected error for nil detector")
	}
	if _, err := NewDispatcher(log, nil, &stubDetector{name: "a"}, &stubDetector{name: "a"}); err == nil {
		t.Error("expected error for duplicate detector name")
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	want := []finding.Finding{{
		Name:     "Stub Finding",
		AlertID:  "STUB-1",
		Severity: finding.SeverityHigh,
		Type:     finding.TypeSuspicious,
	}}
	phishing := &stubDetector{name: "phishing", findings: want}
	mev := &stubDetector{name: "mev"}

	d, err := NewDispatcher(zerolog.Nop(), nil, phishing, mev)
	if err != nil {
		t.Fatal(err)
	}

	if got := d.Names(); !reflect.DeepEqual(got, []string{"phishing", "mev"}) {
		t.Errorf("names = %v", got)
	}

	tx := &chain.TransactionEvent{Hash: hashOf(1), From: addrA}
	got, err := d.Dispatch(context.Background(), "phishing", tx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("findings = %+v, want %+v", got, want)
	}
	if phishing.calls != 1 || mev.calls != 0 {
		t.Errorf("calls = %d/%d, want 1/0", phishing.calls, mev.calls)
	}

	if _, err := d.Dispatch(context.Background(), "nonsense", tx); err == nil {
		t.Error("expected error for unknown detector name")
	}
}
