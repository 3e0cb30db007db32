package detector

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/foundermafstat/mevshield/internal/chain"
	"github.com/foundermafstat/mevshield/internal/finding"
)

const (
	// riskyThresholdOwnerCount: a 1-of-N wallet with more than this many
	// owners is flagged as risky configuration.
	riskyThresholdOwnerCount = 2
	// complexOwnerCount: more owners than this is flagged as complex.
	complexOwnerCount = 10
	// confirmationActivityLimit: more confirmation/revocation events than
	// this in one transaction is flagged.
	confirmationActivityLimit = 2
)

// multisigState is the cached owner set and threshold for one wallet,
// refreshed on every touch. Last write wins; there is no versioning.
type multisigState struct {
	Owners    map[common.Address]struct{}
	OwnerList []common.Address
	Threshold uint64
}

// MultisigDetector watches transactions that touch multisig wallets for
// risky configurations, suspicious activity and ownership changes.
type MultisigDetector struct {
	gw    chain.Gateway
	cache map[common.Address]*multisigState

	getOwnersCall    []byte
	getThresholdCall []byte
}

func NewMultisigDetector(gw chain.Gateway) (*MultisigDetector, error) {
	if gw == nil {
		return nil, fmt.Errorf("multisig detector requires a chain gateway")
	}
	owners := chain.SelectorOf(chain.SigGetOwners)
	threshold := chain.SelectorOf(chain.SigGetThreshold)
	return &MultisigDetector{
		gw:               gw,
		cache:            make(map[common.Address]*multisigState),
		getOwnersCall:    owners[:],
		getThresholdCall: threshold[:],
	}, nil
}

func (d *MultisigDetector) Name() string { return "multisig" }

// multisigMarkers are selectors whose presence in bytecode marks a contract
// as a multisig wallet. Substring matching is a heuristic, not a formal
// interface check; LooksLikeMultisig isolates it so a stronger ABI-based
// probe can replace it without touching the rule logic.
var multisigMarkers = func() [][]byte {
	sigs := []string{
		chain.SigGetOwners,
		chain.SigGetThreshold,
		chain.SigExecTransaction,
		chain.SigConfirmTx,
		chain.SigChangeThreshold,
	}
	out := make([][]byte, 0, len(sigs))
	for _, s := range sigs {
		sel := chain.SelectorOf(s)
		out = append(out, sel[:])
	}
	return out
}()

// LooksLikeMultisig reports whether bytecode carries recognizable multisig
// function selectors.
func (d *MultisigDetector) LooksLikeMultisig(code []byte) bool {
	if len(code) == 0 {
		return false
	}
	for _, marker := range multisigMarkers {
		if bytes.Contains(code, marker) {
			return true
		}
	}
	return false
}

// Seed pre-populates the owner cache for a wallet. Tests and warm starts
// use it; normal operation fills the cache from chain reads.
func (d *MultisigDetector) Seed(wallet common.Address, owners []common.Address, threshold uint64) {
	s := &multisigState{
		Owners:    make(map[common.Address]struct{}, len(owners)),
		OwnerList: append([]common.Address(nil), owners...),
		Threshold: threshold,
	}
	for _, o := range owners {
		s.Owners[o] = struct{}{}
	}
	d.cache[wallet] = s
}

func (d *MultisigDetector) Detect(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	for _, addr := range tx.Addresses() {
		code, err := d.gw.GetBytecode(ctx, addr)
		if err != nil || !d.LooksLikeMultisig(code) {
			continue
		}

		prev := d.cache[addr]
		current := d.refresh(ctx, addr)
		if current == nil {
			// Reads failed; evaluate against the previous snapshot.
			current = prev
		}

		out = append(out, d.checkConfiguration(addr, current)...)
		out = append(out, d.checkActivity(addr, prev, tx)...)
		out = append(out, d.checkOwnershipChanges(addr, prev, tx)...)
	}
	return out
}

// refresh reads owners and threshold through the gateway and overwrites the
// cache. Returns nil when either read fails; the cache then keeps its
// previous snapshot.
func (d *MultisigDetector) refresh(ctx context.Context, wallet common.Address) *multisigState {
	rawOwners, err := d.gw.CallReadOnly(ctx, wallet, d.getOwnersCall)
	if err != nil {
		return nil
	}
	owners, ok := chain.DecodeAddressSliceResult(rawOwners)
	if !ok {
		return nil
	}
	rawThreshold, err := d.gw.CallReadOnly(ctx, wallet, d.getThresholdCall)
	if err != nil {
		return nil
	}
	threshold, ok := chain.DecodeUintResult(rawThreshold)
	if !ok || !threshold.IsUint64() {
		return nil
	}
	d.Seed(wallet, owners, threshold.Uint64())
	return d.cache[wallet]
}

func (d *MultisigDetector) checkConfiguration(wallet common.Address, s *multisigState) []finding.Finding {
	if s == nil {
		return nil
	}
	var out []finding.Finding
	if s.Threshold == 1 && len(s.OwnerList) > riskyThresholdOwnerCount {
		out = append(out, finding.Finding{
			Name:        "Risky Multisig Configuration",
			Description: fmt.Sprintf("Multisig %s requires 1 confirmation with %d owners", wallet.Hex(), len(s.OwnerList)),
			AlertID:     "MULTISIG-RISKY-CONFIG",
			Severity:    finding.SeverityMedium,
			Type:        finding.TypeSuspicious,
			Metadata: map[string]string{
				"wallet":    wallet.Hex(),
				"owners":    fmt.Sprintf("%d", len(s.OwnerList)),
				"threshold": fmt.Sprintf("%d", s.Threshold),
			},
		})
	}
	if len(s.OwnerList) > complexOwnerCount {
		out = append(out, finding.Finding{
			Name:        "Complex Multisig Configuration",
			Description: fmt.Sprintf("Multisig %s has %d owners", wallet.Hex(), len(s.OwnerList)),
			AlertID:     "MULTISIG-COMPLEX-CONFIG",
			Severity:    finding.SeverityInfo,
			Type:        finding.TypeInfo,
			Metadata: map[string]string{
				"wallet": wallet.Hex(),
				"owners": fmt.Sprintf("%d", len(s.OwnerList)),
			},
		})
	}
	return out
}

func (d *MultisigDetector) checkActivity(wallet common.Address, prev *multisigState, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding

	confirmations := 0
	for _, ev := range tx.FilterEvents(chain.EventConfirmation, chain.EventRevocation) {
		if ev.Address == wallet {
			confirmations++
		}
	}
	if confirmations > confirmationActivityLimit {
		out = append(out, finding.Finding{
			Name:        "High Confirmation Activity",
			Description: fmt.Sprintf("%d confirmation or revocation events on multisig %s in one transaction", confirmations, wallet.Hex()),
			AlertID:     "MULTISIG-HIGH-ACTIVITY",
			Severity:    finding.SeverityMedium,
			Type:        finding.TypeSuspicious,
			Metadata: map[string]string{
				"wallet": wallet.Hex(),
				"events": fmt.Sprintf("%d", confirmations),
			},
		})
	}

	// The unauthorized-access check only fires against an already
	// populated owner cache; an empty cache suppresses it instead of
	// producing a false positive.
	if prev != nil && len(prev.Owners) > 0 {
		for _, call := range tx.FilterCalls(chain.SigExecTransaction) {
			if call.To != wallet {
				continue
			}
			if _, owner := prev.Owners[tx.From]; owner {
				continue
			}
			out = append(out, finding.Finding{
				Name:        "Unauthorized Access Attempt",
				Description: fmt.Sprintf("execTransaction on multisig %s from non-owner %s", wallet.Hex(), tx.From.Hex()),
				AlertID:     "MULTISIG-UNAUTHORIZED",
				Severity:    finding.SeverityHigh,
				Type:        finding.TypeSuspicious,
				Metadata: map[string]string{
					"wallet": wallet.Hex(),
					"sender": tx.From.Hex(),
				},
			})
		}
	}
	return out
}

func (d *MultisigDetector) checkOwnershipChanges(wallet common.Address, prev *multisigState, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding

	added, removed := 0, 0
	for _, ev := range tx.FilterEvents(chain.EventAddedOwner) {
		if ev.Address == wallet {
			added++
		}
	}
	for _, ev := range tx.FilterEvents(chain.EventRemovedOwner) {
		if ev.Address == wallet {
			removed++
		}
	}
	if added > 0 && removed > 0 {
		out = append(out, finding.Finding{
			Name:        "Owner Replacement",
			Description: fmt.Sprintf("Owner added and removed on multisig %s in the same transaction", wallet.Hex()),
			AlertID:     "MULTISIG-OWNER-REPLACED",
			Severity:    finding.SeverityHigh,
			Type:        finding.TypeSuspicious,
			Metadata: map[string]string{
				"wallet":  wallet.Hex(),
				"added":   fmt.Sprintf("%d", added),
				"removed": fmt.Sprintf("%d", removed),
			},
		})
	}

	if prev != nil {
		for _, ev := range tx.FilterEvents(chain.EventChangedThreshold) {
			if ev.Address != wallet {
				continue
			}
			newThreshold, ok := ev.Args.BigInt("threshold")
			if !ok {
				continue
			}
			if newThreshold.Cmp(new(big.Int).SetUint64(prev.Threshold)) >= 0 {
				continue
			}
			out = append(out, finding.Finding{
				Name:        "Threshold Decreased",
				Description: fmt.Sprintf("Multisig %s threshold lowered from %d to %s", wallet.Hex(), prev.Threshold, newThreshold),
				AlertID:     "MULTISIG-THRESHOLD-DECREASE",
				Severity:    finding.SeverityHigh,
				Type:        finding.TypeSuspicious,
				Metadata: map[string]string{
					"wallet":       wallet.Hex(),
					"oldThreshold": fmt.Sprintf("%d", prev.Threshold),
					"newThreshold": newThreshold.String(),
				},
			})
		}
	}
	return out
}
