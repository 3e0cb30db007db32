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
	// multipleApprovalLimit: this many approve-family calls in one
	// transaction is flagged.
	multipleApprovalLimit = 4
	// complexTraceLimit: a transaction with approvals and more traced
	// sub-calls than this is flagged.
	complexTraceLimit = 3
)

// highValueApprovalThreshold is 10^24; finite approvals above it are still
// worth a look.
var highValueApprovalThreshold = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// granteeClass is the four-way classification of an unlimited-approval
// grantee. Exactly one applies, in priority order; a known-safe grantee
// produces no finding at all.
type granteeClass int

const (
	granteeSafe granteeClass = iota
	granteeMalicious
	granteeEOA
	granteeNewContract
	granteeUnknown
)

// ApprovalDetector scores token approval risk. It is stateless: every check
// is computed from the current transaction and live gateway lookups.
type ApprovalDetector struct {
	gw        chain.Gateway
	safe      map[common.Address]struct{}
	malicious map[common.Address]struct{}
}

func NewApprovalDetector(gw chain.Gateway, safe, malicious []common.Address) (*ApprovalDetector, error) {
	if gw == nil {
		return nil, fmt.Errorf("approval detector requires a chain gateway")
	}
	d := &ApprovalDetector{
		gw:        gw,
		safe:      make(map[common.Address]struct{}, len(safe)),
		malicious: make(map[common.Address]struct{}, len(malicious)),
	}
	for _, a := range safe {
		d.safe[a] = struct{}{}
	}
	for _, a := range malicious {
		d.malicious[a] = struct{}{}
	}
	return d, nil
}

func (d *ApprovalDetector) Name() string { return "approval" }

func (d *ApprovalDetector) Detect(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	out = append(out, d.checkERC20Approvals(ctx, tx)...)
	out = append(out, d.checkNFTApprovals(ctx, tx)...)
	out = append(out, d.checkMultipleApprovals(tx)...)
	out = append(out, d.checkApproveAndTransfer(tx)...)
	out = append(out, d.checkComplexTransaction(tx)...)
	return out
}

// classify runs the four-way grantee classification. Gateway failures
// downgrade the affected predicate: an unreadable account is treated as a
// contract that is not recently deployed.
func (d *ApprovalDetector) classify(ctx context.Context, grantee common.Address) granteeClass {
	if _, bad := d.malicious[grantee]; bad {
		return granteeMalicious
	}
	code, err := d.gw.GetBytecode(ctx, grantee)
	if err == nil && len(code) == 0 {
		return granteeEOA
	}
	if err == nil {
		if nonce, nErr := d.gw.GetTransactionCount(ctx, grantee); nErr == nil && nonce < recentDeployNonceLimit {
			return granteeNewContract
		}
	}
	if _, ok := d.safe[grantee]; ok {
		return granteeSafe
	}
	return granteeUnknown
}

func (d *ApprovalDetector) checkERC20Approvals(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	for _, ev := range tx.FilterEvents(chain.EventApproval) {
		value, ok := ev.Args.BigInt("value")
		if !ok {
			continue
		}
		spender, ok := ev.Args.Address("spender")
		if !ok {
			continue
		}

		if value.Cmp(chain.MaxUint256) == 0 {
			out = append(out, d.unlimitedApprovalFinding(d.classify(ctx, spender), spender, ev.Address, false)...)
			continue
		}
		if value.Cmp(highValueApprovalThreshold) > 0 {
			out = append(out, finding.Finding{
				Name:        "High Value Approval",
				Description: fmt.Sprintf("Approval of %s tokens to %s", value, spender.Hex()),
				AlertID:     "APPROVAL-HIGH-VALUE",
				Severity:    finding.SeverityMedium,
				Type:        finding.TypeSuspicious,
				Metadata: map[string]string{
					"spender": spender.Hex(),
					"token":   ev.Address.Hex(),
					"value":   value.String(),
				},
			})
		}
	}
	return out
}

func (d *ApprovalDetector) checkNFTApprovals(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	for _, ev := range tx.FilterEvents(chain.EventApprovalForAll) {
		approved, ok := ev.Args.Bool("approved")
		if !ok || !approved {
			continue
		}
		operator, ok := ev.Args.Address("operator")
		if !ok {
			continue
		}
		out = append(out, d.unlimitedApprovalFinding(d.classify(ctx, operator), operator, ev.Address, true)...)
	}
	return out
}

func (d *ApprovalDetector) unlimitedApprovalFinding(class granteeClass, grantee, token common.Address, nft bool) []finding.Finding {
	meta := map[string]string{
		"grantee": grantee.Hex(),
		"token":   token.Hex(),
	}
	prefix, alertPrefix := "Unlimited Approval", "APPROVAL"
	if nft {
		prefix, alertPrefix = "NFT Collection Approval", "NFT-APPROVAL"
	}

	switch class {
	case granteeMalicious:
		return []finding.Finding{{
			Name:        prefix + " To Known Malicious Address",
			Description: fmt.Sprintf("%s granted to known malicious address %s", prefix, grantee.Hex()),
			AlertID:     alertPrefix + "-MALICIOUS",
			Severity:    finding.SeverityCritical,
			Type:        finding.TypeExploit,
			Metadata:    meta,
		}}
	case granteeEOA:
		return []finding.Finding{{
			Name:        prefix + " To EOA",
			Description: fmt.Sprintf("%s granted to externally owned account %s", prefix, grantee.Hex()),
			AlertID:     alertPrefix + "-EOA",
			Severity:    finding.SeverityHigh,
			Type:        finding.TypeSuspicious,
			Metadata:    meta,
		}}
	case granteeNewContract:
		return []finding.Finding{{
			Name:        prefix + " To New Contract",
			Description: fmt.Sprintf("%s granted to recently deployed contract %s", prefix, grantee.Hex()),
			AlertID:     alertPrefix + "-NEW-CONTRACT",
			Severity:    finding.SeverityHigh,
			Type:        finding.TypeSuspicious,
			Metadata:    meta,
		}}
	case granteeUnknown:
		return []finding.Finding{{
			Name:        prefix + " To Unverified Contract",
			Description: fmt.Sprintf("%s granted to contract %s outside the known-safe list", prefix, grantee.Hex()),
			AlertID:     alertPrefix + "-UNVERIFIED",
			Severity:    finding.SeverityMedium,
			Type:        finding.TypeSuspicious,
			Metadata:    meta,
		}}
	default:
		return nil
	}
}

func (d *ApprovalDetector) approvalCalls(tx *chain.TransactionEvent) []chain.DecodedCall {
	return tx.FilterCalls(chain.SigApprove, chain.SigSetApprovalAll)
}

func (d *ApprovalDetector) transferCalls(tx *chain.TransactionEvent) []chain.DecodedCall {
	return tx.FilterCalls(chain.SigTransfer, chain.SigTransferFrom, chain.SigBatchTransfer)
}

func (d *ApprovalDetector) checkMultipleApprovals(tx *chain.TransactionEvent) []finding.Finding {
	n := len(d.approvalCalls(tx))
	if n < multipleApprovalLimit {
		return nil
	}
	return []finding.Finding{{
		Name:        "Multiple Approvals",
		Description: fmt.Sprintf("%d approval calls in a single transaction", n),
		AlertID:     "APPROVAL-MULTIPLE",
		Severity:    finding.SeverityHigh,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"count": fmt.Sprintf("%d", n),
			"from":  tx.From.Hex(),
		},
	}}
}

func (d *ApprovalDetector) checkApproveAndTransfer(tx *chain.TransactionEvent) []finding.Finding {
	if len(d.approvalCalls(tx)) == 0 || len(d.transferCalls(tx)) == 0 {
		return nil
	}
	return []finding.Finding{{
		Name:        "Approval Combined With Transfer",
		Description: "Transaction both grants an approval and moves tokens",
		AlertID:     "APPROVAL-WITH-TRANSFER",
		Severity:    finding.SeverityMedium,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"from": tx.From.Hex(),
		},
	}}
}

func (d *ApprovalDetector) checkComplexTransaction(tx *chain.TransactionEvent) []finding.Finding {
	hasApproval := len(d.approvalCalls(tx)) > 0 ||
		len(tx.FilterEvents(chain.EventApproval, chain.EventApprovalForAll)) > 0
	if !hasApproval || len(tx.Traces) <= complexTraceLimit {
		return nil
	}
	return []finding.Finding{{
		Name:        "Complex Transaction With Approvals",
		Description: fmt.Sprintf("Transaction carries approvals across %d traced sub-calls", len(tx.Traces)),
		AlertID:     "APPROVAL-COMPLEX-TX",
		Severity:    finding.SeverityMedium,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"traces": fmt.Sprintf("%d", len(tx.Traces)),
			"from":   tx.From.Hex(),
		},
	}}
}
