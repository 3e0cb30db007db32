package detector

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/foundermafstat/mevshield/internal/chain"
	"github.com/foundermafstat/mevshield/internal/finding"
)

const (
	// verificationWindowSeconds is how long a successful verification
	// covers subsequent transactions.
	verificationWindowSeconds = 1800
	// OperationAll is the wildcard tag covering every operation type.
	OperationAll = "all"
)

// highRiskValueThreshold is 1 ETH in wei; transactions at or above it get a
// 2FA recommendation when the sender is not enrolled.
var highRiskValueThreshold = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// pendingAuth is one authentication request awaiting completion, keyed by
// its operation id.
type pendingAuth struct {
	OperationID common.Hash
	Requester   common.Address
	Target      common.Address
	Value       *big.Int
	Operation   string
	Timestamp   int64
}

// TwoFactorSettings is the per-address 2FA policy.
type TwoFactorSettings struct {
	// EnabledFor lists the covered operation-type tags; OperationAll
	// covers everything.
	EnabledFor []string
	// ValueThreshold is the wei value at or above which 2FA is enforced.
	ValueThreshold *big.Int
	// LastVerification is the unix timestamp of the last successful
	// authentication.
	LastVerification int64
}

func (s *TwoFactorSettings) covers(operation string) bool {
	for _, tag := range s.EnabledFor {
		if tag == OperationAll || tag == operation {
			return true
		}
	}
	return false
}

// TwoFactorDetector gates sensitive transactions on recent two-factor
// verification. The pending-auth map is only drained by successful
// authentications; stale entries accumulate for the process lifetime, a
// known limitation of the observed behavior.
type TwoFactorDetector struct {
	pending  map[common.Hash]*pendingAuth
	enabled  map[common.Address]struct{}
	settings map[common.Address]*TwoFactorSettings
	now      func() int64
}

func NewTwoFactorDetector() *TwoFactorDetector {
	return &TwoFactorDetector{
		pending:  make(map[common.Hash]*pendingAuth),
		enabled:  make(map[common.Address]struct{}),
		settings: make(map[common.Address]*TwoFactorSettings),
		now:      func() int64 { return time.Now().Unix() },
	}
}

func (d *TwoFactorDetector) Name() string { return "twofactor" }

// Enable enrolls an address with the given settings.
func (d *TwoFactorDetector) Enable(addr common.Address, s TwoFactorSettings) {
	d.enabled[addr] = struct{}{}
	d.settings[addr] = &s
}

// Enabled reports whether an address is enrolled.
func (d *TwoFactorDetector) Enabled(addr common.Address) bool {
	_, ok := d.enabled[addr]
	return ok
}

// PendingCount reports how many authentication requests await completion.
func (d *TwoFactorDetector) PendingCount() int { return len(d.pending) }

func (d *TwoFactorDetector) Detect(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	out = append(out, d.ingestAuthEvents(tx)...)
	out = append(out, d.checkEnforcement(tx)...)
	out = append(out, d.checkRecommendation(tx)...)
	return out
}

func (d *TwoFactorDetector) ingestAuthEvents(tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding

	for _, ev := range tx.FilterEvents(chain.EventAuthRequired) {
		opID, ok1 := ev.Args.Hash("operationId")
		requester, ok2 := ev.Args.Address("requester")
		target, ok3 := ev.Args.Address("target")
		value, ok4 := ev.Args.BigInt("value")
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		ts := tx.Timestamp
		if ts == 0 {
			ts = d.now()
		}
		d.pending[opID] = &pendingAuth{
			OperationID: opID,
			Requester:   requester,
			Target:      target,
			Value:       value,
			Operation:   chain.ClassifyOperation(tx.Input),
			Timestamp:   ts,
		}
		out = append(out, finding.Finding{
			Name:        "Authentication Required",
			Description: fmt.Sprintf("Two-factor authentication requested for operation %s", opID.Hex()),
			AlertID:     "2FA-AUTH-REQUESTED",
			Severity:    finding.SeverityInfo,
			Type:        finding.TypeInfo,
			Metadata: map[string]string{
				"operationId": opID.Hex(),
				"requester":   requester.Hex(),
				"target":      target.Hex(),
				"value":       value.String(),
			},
		})
	}

	for _, ev := range tx.FilterEvents(chain.EventAuthSuccess) {
		opID, ok1 := ev.Args.Hash("operationId")
		user, ok2 := ev.Args.Address("user")
		if !ok1 || !ok2 {
			continue
		}
		if s, ok := d.settings[user]; ok {
			ts := tx.Timestamp
			if ts == 0 {
				ts = d.now()
			}
			s.LastVerification = ts
		}
		delete(d.pending, opID)
		out = append(out, finding.Finding{
			Name:        "Authentication Successful",
			Description: fmt.Sprintf("Two-factor authentication completed for operation %s", opID.Hex()),
			AlertID:     "2FA-AUTH-SUCCESS",
			Severity:    finding.SeverityInfo,
			Type:        finding.TypeInfo,
			Metadata: map[string]string{
				"operationId": opID.Hex(),
				"user":        user.Hex(),
			},
		})
	}

	for _, ev := range tx.FilterEvents(chain.EventAuthFailed) {
		opID, ok1 := ev.Args.Hash("operationId")
		user, ok2 := ev.Args.Address("user")
		if !ok1 || !ok2 {
			continue
		}
		reason, _ := ev.Args.String("reason")
		out = append(out, finding.Finding{
			Name:        "Authentication Failed",
			Description: fmt.Sprintf("Two-factor authentication failed for operation %s: %s", opID.Hex(), reason),
			AlertID:     "2FA-AUTH-FAILED",
			Severity:    finding.SeverityMedium,
			Type:        finding.TypeSuspicious,
			Metadata: map[string]string{
				"operationId": opID.Hex(),
				"user":        user.Hex(),
				"reason":      reason,
			},
		})
	}
	return out
}

func (d *TwoFactorDetector) checkEnforcement(tx *chain.TransactionEvent) []finding.Finding {
	if !d.Enabled(tx.From) {
		return nil
	}
	s, ok := d.settings[tx.From]
	if !ok {
		return nil
	}
	if tx.Value == nil || s.ValueThreshold == nil || tx.Value.Cmp(s.ValueThreshold) < 0 {
		return nil
	}
	operation := chain.ClassifyOperation(tx.Input)
	if !s.covers(operation) {
		return nil
	}
	if d.now()-s.LastVerification <= verificationWindowSeconds {
		return nil
	}
	// A transaction carrying its own auth event is the 2FA flow itself.
	if len(tx.FilterEvents(chain.EventAuthRequired, chain.EventAuthSuccess)) > 0 {
		return nil
	}
	return []finding.Finding{{
		Name:        "Missing Two-Factor Authentication",
		Description: fmt.Sprintf("Transaction of %s wei from %s without recent 2FA verification", tx.Value, tx.From.Hex()),
		AlertID:     "2FA-MISSING",
		Severity:    finding.SeverityHigh,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"sender":    tx.From.Hex(),
			"value":     tx.Value.String(),
			"operation": operation,
		},
	}}
}

func (d *TwoFactorDetector) checkRecommendation(tx *chain.TransactionEvent) []finding.Finding {
	if d.Enabled(tx.From) {
		return nil
	}
	highValue := tx.Value != nil && tx.Value.Cmp(highRiskValueThreshold) >= 0
	sensitive := false
	if len(tx.Input) >= 4 {
		var sel [4]byte
		copy(sel[:], tx.Input[:4])
		_, sensitive = chain.SensitiveSelectors[sel]
	}
	if !highValue && !sensitive {
		return nil
	}
	return []finding.Finding{{
		Name:        "Two-Factor Authentication Recommended",
		Description: fmt.Sprintf("High-risk transaction from %s without 2FA enrollment", tx.From.Hex()),
		AlertID:     "2FA-RECOMMENDED",
		Severity:    finding.SeverityMedium,
		Type:        finding.TypeInfo,
		Metadata: map[string]string{
			"sender":    tx.From.Hex(),
			"operation": chain.ClassifyOperation(tx.Input),
		},
	}}
}
