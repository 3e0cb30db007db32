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
	// swapWindowBlocks is how far behind the newest observed block a
	// recorded swap may lag before eviction.
	swapWindowBlocks = 100
	// highGasMultiplier flags gas prices at or above this multiple of the
	// network average.
	highGasMultiplier = 5
	// lowSlippageThreshold is 0.1%; tighter swaps look like MEV bots.
	lowSlippageThreshold = 0.001
	// maxRouteHops is the longest token path considered normal.
	maxRouteHops = 4
)

// pendingSwap is one observed swap awaiting correlation with later swaps in
// the same block.
type pendingSwap struct {
	TxHash       common.Hash
	BlockNumber  uint64
	Timestamp    int64
	Sender       common.Address
	Path         []common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Slippage     float64
}

// MEVDetector watches DEX router traffic for sandwich patterns. Its
// pending-swap window is keyed by transaction hash and kept in insertion
// order for correlation; entries more than 100 blocks behind the current
// transaction are evicted.
type MEVDetector struct {
	gw      chain.Gateway
	routers map[common.Address]struct{}
	pending map[common.Hash]*pendingSwap
	order   []common.Hash
}

func NewMEVDetector(gw chain.Gateway, routers []common.Address) (*MEVDetector, error) {
	if gw == nil {
		return nil, fmt.Errorf("mev detector requires a chain gateway")
	}
	d := &MEVDetector{
		gw:      gw,
		routers: make(map[common.Address]struct{}, len(routers)),
		pending: make(map[common.Hash]*pendingSwap),
	}
	for _, r := range routers {
		d.routers[r] = struct{}{}
	}
	return d, nil
}

func (d *MEVDetector) Name() string { return "mev" }

// WindowSize reports how many swaps the correlation window currently holds.
func (d *MEVDetector) WindowSize() int { return len(d.order) }

func (d *MEVDetector) Detect(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	var out []finding.Finding
	out = append(out, d.checkHighGas(ctx, tx)...)

	swap, ok := d.decodeSwap(tx)
	if !ok {
		// Not a router swap, or the call data did not parse; the
		// swap-dependent checks are skipped.
		return out
	}

	d.record(swap)
	d.evict(tx.BlockNumber)

	out = append(out, d.correlateSandwich(tx.BlockNumber)...)
	out = append(out, d.checkLowSlippage(swap)...)
	out = append(out, d.checkUnusualRoute(swap)...)
	return out
}

func (d *MEVDetector) checkHighGas(ctx context.Context, tx *chain.TransactionEvent) []finding.Finding {
	if tx.GasPrice == nil {
		return nil
	}
	avg, err := d.gw.GetAverageGasPrice(ctx)
	if err != nil || avg == nil || avg.Sign() <= 0 {
		return nil
	}
	limit := new(big.Int).Mul(avg, big.NewInt(highGasMultiplier))
	if tx.GasPrice.Cmp(limit) < 0 {
		return nil
	}
	return []finding.Finding{{
		Name:        "Abnormally High Gas Price",
		Description: fmt.Sprintf("Gas price %s is at least %dx the network average %s", tx.GasPrice, highGasMultiplier, avg),
		AlertID:     "MEV-HIGH-GAS",
		Severity:    finding.SeverityMedium,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"gasPrice":   tx.GasPrice.String(),
			"averageGas": avg.String(),
		},
	}}
}

// decodeSwap extracts swap parameters from a router call, best effort.
// Unparseable swaps are silently skipped: no finding, no state write.
func (d *MEVDetector) decodeSwap(tx *chain.TransactionEvent) (*pendingSwap, bool) {
	if tx.To == nil {
		return nil, false
	}
	if _, ok := d.routers[*tx.To]; !ok {
		return nil, false
	}

	calls := tx.FilterCalls(chain.SwapSignatures...)
	if len(calls) == 0 {
		return nil, false
	}
	call := calls[0]

	path, ok := call.Args.AddressSlice("path")
	if !ok || len(path) == 0 {
		return nil, false
	}
	amountOutMin, ok := call.Args.BigInt("amountOutMin")
	if !ok {
		return nil, false
	}
	amountIn, ok := call.Args.BigInt("amountIn")
	if !ok {
		// ETH-input swaps carry the input amount as the tx value.
		if tx.Value == nil || tx.Value.Sign() <= 0 {
			return nil, false
		}
		amountIn = tx.Value
	}
	if amountIn.Sign() <= 0 {
		return nil, false
	}

	return &pendingSwap{
		TxHash:       tx.Hash,
		BlockNumber:  tx.BlockNumber,
		Timestamp:    tx.Timestamp,
		Sender:       tx.From,
		Path:         path,
		AmountIn:     amountIn,
		AmountOutMin: amountOutMin,
		Slippage:     slippage(amountIn, amountOutMin),
	}, true
}

// slippage is 1 - amountOutMin/amountIn, clamped to [0, 1]; zero when no
// minimum output is set.
func slippage(amountIn, amountOutMin *big.Int) float64 {
	if amountOutMin.Sign() == 0 {
		return 0
	}
	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amountOutMin),
		new(big.Float).SetInt(amountIn),
	).Float64()
	s := 1 - ratio
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (d *MEVDetector) record(s *pendingSwap) {
	if _, exists := d.pending[s.TxHash]; !exists {
		d.order = append(d.order, s.TxHash)
	}
	d.pending[s.TxHash] = s
}

func (d *MEVDetector) evict(currentBlock uint64) {
	if currentBlock <= swapWindowBlocks {
		return
	}
	cutoff := currentBlock - swapWindowBlocks
	kept := d.order[:0]
	for _, h := range d.order {
		if s, ok := d.pending[h]; ok && s.BlockNumber >= cutoff {
			kept = append(kept, h)
			continue
		}
		delete(d.pending, h)
	}
	d.order = kept
}

// correlateSandwich scans the swaps recorded for one block, in insertion
// order, for a front-run / victim / back-run triple: outer legs share the
// route endpoints and the sender, the middle swap comes from someone else.
func (d *MEVDetector) correlateSandwich(blockNumber uint64) []finding.Finding {
	var block []*pendingSwap
	for _, h := range d.order {
		if s, ok := d.pending[h]; ok && s.BlockNumber == blockNumber {
			block = append(block, s)
		}
	}

	var out []finding.Finding
	for i := 0; i+2 < len(block); i++ {
		front, victim, back := block[i], block[i+1], block[i+2]
		if !sameRouteEndpoints(front.Path, back.Path) {
			continue
		}
		if front.Sender != back.Sender || front.Sender == victim.Sender {
			continue
		}
		out = append(out, finding.Finding{
			Name:        "Sandwich Attack",
			Description: fmt.Sprintf("Swap by %s sandwiched by %s in block %d", victim.Sender.Hex(), front.Sender.Hex(), blockNumber),
			AlertID:     "MEV-SANDWICH",
			Severity:    finding.SeverityHigh,
			Type:        finding.TypeExploit,
			Metadata: map[string]string{
				"attacker": front.Sender.Hex(),
				"victim":   victim.Sender.Hex(),
				"frontRun": front.TxHash.Hex(),
				"victimTx": victim.TxHash.Hex(),
				"backRun":  back.TxHash.Hex(),
				"block":    fmt.Sprintf("%d", blockNumber),
				"tokenIn":  front.Path[0].Hex(),
				"tokenOut": front.Path[len(front.Path)-1].Hex(),
			},
		})
	}
	return out
}

// sameRouteEndpoints reports whether two token paths of equal length trade
// the same pair. A back-run usually runs the route in reverse, so both
// orientations count.
func sameRouteEndpoints(a, b []common.Address) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	aFirst, aLast := a[0], a[len(a)-1]
	bFirst, bLast := b[0], b[len(b)-1]
	if aFirst == bFirst && aLast == bLast {
		return true
	}
	return aFirst == bLast && aLast == bFirst
}

func (d *MEVDetector) checkLowSlippage(s *pendingSwap) []finding.Finding {
	if s.Slippage >= lowSlippageThreshold {
		return nil
	}
	return []finding.Finding{{
		Name:        "Unusually Low Slippage Tolerance",
		Description: fmt.Sprintf("Swap with %.4f%% slippage tolerance", s.Slippage*100),
		AlertID:     "MEV-LOW-SLIPPAGE",
		Severity:    finding.SeverityMedium,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"slippage": fmt.Sprintf("%.6f", s.Slippage),
			"sender":   s.Sender.Hex(),
			"tx":       s.TxHash.Hex(),
		},
	}}
}

func (d *MEVDetector) checkUnusualRoute(s *pendingSwap) []finding.Finding {
	if len(s.Path) <= maxRouteHops {
		return nil
	}
	return []finding.Finding{{
		Name:        "Unusual Swap Route",
		Description: fmt.Sprintf("Swap routed through %d tokens", len(s.Path)),
		AlertID:     "MEV-UNUSUAL-ROUTE",
		Severity:    finding.SeverityMedium,
		Type:        finding.TypeSuspicious,
		Metadata: map[string]string{
			"hops":   fmt.Sprintf("%d", len(s.Path)),
			"sender": s.Sender.Hex(),
			"tx":     s.TxHash.Hex(),
		},
	}}
}
