// Package finding defines the common output vocabulary shared by every
// detector: a Finding value with a severity, a type and flat string metadata.
package finding

import "fmt"

// Severity ranks how serious a finding is.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText makes severities render as their names in JSONL output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Type classifies what kind of signal a finding carries.
type Type int

const (
	TypeInfo Type = iota
	TypeSuspicious
	TypeExploit
)

func (t Type) String() string {
	switch t {
	case TypeInfo:
		return "info"
	case TypeSuspicious:
		return "suspicious"
	case TypeExploit:
		return "exploit"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Finding is a single detection result. Findings are created fresh per
// detection call and never mutated afterwards; the core does not deduplicate
// them. Metadata is a flat string mapping with documented keys per alert so
// downstream consumers can match on them.
type Finding struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	AlertID     string            `json:"alertId"`
	Severity    Severity          `json:"severity"`
	Type        Type              `json:"type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
