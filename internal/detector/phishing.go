package detector

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/foundermafstat/mevshield/internal/chain"
	"github.com/foundermafstat/mevshield/internal/finding"
)

const (
	// multicallPayloadLimit is the raw call-data size above which a
	// multicall is flagged.
	multicallPayloadLimit = 5000
	// recentDeployNonceLimit marks a contract as recently deployed when
	// its outbound transaction count is below it.
	recentDeployNonceLimit = 5
	// recentActivityNonceLimit marks an address as recently active when
	// its outbound transaction count is below it.
	recentActivityNonceLimit = 3
)

// phishingGasCeiling is 500 gwei; gas prices above it look like
// frontrunning pressure.
var phishingGasCeiling = new(big.Int).Mul(big.NewInt(500), big.NewInt(1_000_000_000))

// PhishingDetector runs the phishing heuristics. It is stateless: every
// check is computed from the current transaction and live gateway lookups.
type PhishingDetector struct {
	gw    chain.Gateway
	known map[common.Address]struct{}
}

func NewPhishingDetector(gw chain.Gateway, knownAddresses []common.Address) (*PhishingDetector, error) {
	if gw == nil {
		return nil, fmt.Errorf("phishing detector requires a chain gateway")
	}
	d := &PhishingDetector{
		gw:    gw,
		known: make(map[common.Address]struct{}, len(knownAddresses)),
	}
	for _, a := range knownAddresses {
		d.known[a] = struct{}{}
	}
	return d, nil
}

func (d *PhishingDetector) Name() string { return "phishing" }

func (d *PhishingDetector) Detect(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	out = append(out, d.checkKnownAddress(tx)...)
	out = append(out, d.checkUnlimitedApproval(ctx, tx)...)
	out = append(out, d.checkMulticallPayload(tx)...)
	out = append(out, d.checkGasPrice(tx)...)
	out = append(out, d.checkDelegation(ctx, tx)...)
	out = append(out, d.checkNewContractInteraction(ctx, tx)...)
	return out
}

func (d *PhishingDetector) checkKnownAddress(tx *chain.TransactionEvent) []finding.Finding {
	if tx.To == nil {
		return nil
	}
	if _, ok := d.known[*tx.To]; !ok {
		return nil
	}
	return []finding.Finding{{
		Name:        "Known Phishing Address",
		Description: fmt.Sprintf("Transaction interacts with known phishing address %s", tx.To.Hex()),
		AlertID:     "PHISHING-KNOWN-ADDRESS",
		Severity:    finding.SeverityHigh,
		Type:        finding.TypeExploit,
		Metadata: map[string]string{
			"address": tx.To.Hex(),
			"from":    tx.From.Hex(),
		},
	}}
}

func (d *PhishingDetector) checkUnlimitedApproval(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	for _, call := range tx.FilterCalls(chain.SigApprove, chain.SigSetApprovalAll) {
		var grantee common.Address
		switch call.Signature {
		case chain.SigApprove:
			value, ok := call.Args.BigInt("value")
			if !ok || value.Cmp(chain.MaxUint256) != 0 {
				continue
			}
			spender, ok := call.Args.Address("spender")
			if !ok {
				continue
			}
			grantee = spender
		case chain.SigSetApprovalAll:
			approved, ok := call.Args.Bool("approved")
			if !ok || !approved {
				continue
			}
			operator, ok := call.Args.Address("operator")
			if !ok {
				continue
			}
			grantee = operator
		}

		if !d.recentlyDeployed(ctx, grantee) {
			continue
		}
		out = append(out, finding.Finding{
			Name:        "Unlimited Approval To New Contract",
			Description: fmt.Sprintf("Unlimited approval granted to recently deployed contract %s", grantee.Hex()),
			AlertID:     "PHISHING-UNLIMITED-APPROVAL",
			Severity:    finding.SeverityHigh,
			Type:        finding.TypeSuspicious,
			Metadata: map[string]string{
				"grantee": grantee.Hex(),
				"owner":   tx.From.Hex(),
			},
		})
	}
	return out
}

func (d *PhishingDetector) checkMulticallPayload(tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	for _, call := range tx.FilterCalls(chain.SigMulticall) {
		if len(call.Input) <= multicallPayloadLimit {
			continue
		}
		out = append(out, finding.Finding{
			Name:        "Oversized Multicall",
			Description: fmt.Sprintf("Multicall with %d bytes of call data", len(call.Input)),
			AlertID:     "PHISHING-LARGE-MULTICALL",
			Severity:    finding.SeverityMedium,
			Type:        finding.TypeSuspicious,
			Metadata: map[string]string{
				"size":   fmt.Sprintf("%d", len(call.Input)),
				"target": call.To.Hex(),
			},
		})
	}
	return out
}

func (d *PhishingDetector) checkGasPrice(tx *chain.TransactionEvent) []finding.Finding {
	if tx.GasPrice == nil || tx.GasPrice.Cmp(phishingGasCeiling) <= 0 {
		return nil
	}
	return []finding.Finding{{
		Name:        "Potential Frontrunning",
		Description: fmt.Sprintf("Gas price %s wei exceeds the 500 gwei ceiling", tx.GasPrice.String()),
		AlertID:     "PHISHING-HIGH-GAS",
		Severity:    finding.SeverityMedium,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"gasPrice": tx.GasPrice.String(),
		},
	}}
}

func (d *PhishingDetector) checkDelegation(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	for _, call := range tx.FilterCalls(chain.SigDelegate) {
		delegatee, ok := call.Args.Address("delegatee")
		if !ok {
			continue
		}
		if !d.recentlyActive(ctx, delegatee) {
			continue
		}
		out = append(out, finding.Finding{
			Name:        "Delegation To New Address",
			Description: fmt.Sprintf("Delegation to recently active address %s", delegatee.Hex()),
			AlertID:     "PHISHING-SUSPICIOUS-DELEGATION",
			Severity:    finding.SeverityMedium,
			Type:        finding.TypeSuspicious,
			Metadata: map[string]string{
				"delegatee": delegatee.Hex(),
				"delegator": tx.From.Hex(),
			},
		})
	}
	return out
}

func (d *PhishingDetector) checkNewContractInteraction(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	if tx.To == nil {
		return nil
	}
	sel, ok := tx.Selector()
	if !ok {
		return nil
	}
	if _, sensitive := chain.SensitiveSelectors[sel]; !sensitive {
		return nil
	}
	if !d.recentlyDeployed(ctx, *tx.To) {
		return nil
	}
	return []finding.Finding{{
		Name:        "Sensitive Call To New Contract",
		Description: fmt.Sprintf("Sensitive function call to recently deployed contract %s", tx.To.Hex()),
		AlertID:     "PHISHING-NEW-CONTRACT",
		Severity:    finding.SeverityHigh,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"contract": tx.To.Hex(),
			"selector": fmt.Sprintf("0x%x", sel),
		},
	}}
}

// recentlyDeployed reports whether an address has bytecode and fewer than 5
// outbound transactions. Gateway failures downgrade to "not recent".
func (d *PhishingDetector) recentlyDeployed(ctx context.Context, addr common.Address) bool {
	code, err := d.gw.GetBytecode(ctx, addr)
	if err != nil || len(code) == 0 {
		return false
	}
	nonce, err := d.gw.GetTransactionCount(ctx, addr)
	if err != nil {
		return false
	}
	return nonce < recentDeployNonceLimit
}

// recentlyActive reports whether an address has fewer than 3 outbound
// transactions. Gateway failures downgrade to "not recent".
func (d *PhishingDetector) recentlyActive(ctx context.Context, addr common.Address) bool {
	nonce, err := d.gw.GetTransactionCount(ctx, addr)
	if err != nil {
		return false
	}
	return nonce < recentActivityNonceLimit
}
