// Package detector implements the five transaction-pattern rule evaluators:
// phishing, MEV/sandwich, multisig protection, approval risk and the
// two-factor-auth gate. Each detector is a single long-lived instance whose
// private state persists across calls; callers must serialize calls per
// instance, the state maps are deliberately unsynchronized.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/foundermafstat/mevshield/internal/chain"
	"github.com/foundermafstat/mevshield/internal/finding"
	"github.com/foundermafstat/mevshield/internal/metrics"
)

// Detector evaluates one transaction event against its rule set. A call
// never fails for routine malformed or unparseable content; checks whose
// inputs cannot be resolved are skipped and the rest proceed.
type Detector interface {
	Name() string
	Detect(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding
}

// windowed is implemented by detectors that keep an eviction window, so the
// dispatcher can export its size.
type windowed interface {
	WindowSize() int
}

// Dispatcher routes one transaction event to one detector by name, records
// metrics and logs the outcome. It owns no detection state of its own.
type Dispatcher struct {
	detectors map[string]Detector
	order     []string
	log       zerolog.Logger
	metrics   *metrics.DetectorMetrics
}

func NewDispatcher(log zerolog.Logger, m *metrics.DetectorMetrics, detectors ...Detector) (*Dispatcher, error) {
	if len(detectors) == 0 {
		return nil, fmt.Errorf("at least one detector is required")
	}
	d := &Dispatcher{
		detectors: make(map[string]Detector, len(detectors)),
		log:       log,
		metrics:   m,
	}
	for _, det := range detectors {
		if det == nil {
			return nil, fmt.Errorf("nil detector")
		}
		if _, dup := d.detectors[det.Name()]; dup {
			return nil, fmt.Errorf("duplicate detector name %q", det.Name())
		}
		d.detectors[det.Name()] = det
		d.order = append(d.order, det.Name())
	}
	return d, nil
}

// Names returns the registered detector names in registration order.
func (d *Dispatcher) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Dispatch hands the event to the named detector and returns its findings.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, tx *chain.TransactionEvent) ([]finding.Finding, error) {
	det, ok := d.detectors[name]
	if !ok {
		return nil, fmt.Errorf("unknown detector %q", name)
	}

	start := time.Now()
	findings := det.Detect(ctx, tx)
	elapsed := time.Since(start)

	if d.metrics != nil {
		d.metrics.TransactionsProcessed.WithLabelValues(name).Inc()
		d.metrics.DetectionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		for _, f := range findings {
			d.metrics.FindingsEmitted.WithLabelValues(name, f.Severity.String()).Inc()
		}
		if w, ok := det.(windowed); ok {
			d.metrics.PendingSwaps.Set(float64(w.WindowSize()))
		}
	}

	if len(findings) > 0 {
		d.log.Info().
			Str("detector", name).
			Str("tx", tx.Hash.Hex()).
			Int("findings", len(findings)).
			Dur("elapsed", elapsed).
			Msg("detection complete")
	} else {
		d.log.Debug().
			Str("detector", name).
			Str("tx", tx.Hash.Hex()).
			Dur("elapsed", elapsed).
			Msg("no findings")
	}
	return findings, nil
}
