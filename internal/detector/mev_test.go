package detector

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/foundermafstat/mevshield/internal/chain"
)

func newTestMEVDetector(t *testing.T, gw chain.Gateway) *MEVDetector {
	t.Helper()
	d, err := NewMEVDetector(gw, []common.Address{routerAddr})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestMEVDetector_SandwichTriple(t *testing.T) {
	d := newTestMEVDetector(t, &mockGateway{})
	ctx := context.Background()

	in := big.NewInt(1_000_000)
	out := big.NewInt(990_000)
	ethToUSDC := []common.Address{tokenETH, tokenUSDC}
	usdcToETH := []common.Address{tokenUSDC, tokenETH}

	// A front-runs, B is the victim, A backs out in the same block.
	d.Detect(ctx, swapEvent(hashOf(1), 500, addrA, ethToUSDC, in, out))
	d.Detect(ctx, swapEvent(hashOf(2), 500, addrB, ethToUSDC, in, out))
	findings := d.Detect(ctx, swapEvent(hashOf(3), 500, addrA, usdcToETH, in, out))

	var sandwiches int
	for _, f := range findings {
		if f.AlertID != "MEV-SANDWICH" {
			continue
		}
		sandwiches++
		if f.Metadata["victim"] != addrB.Hex() {
			t.Errorf("victim = %s, want %s", f.Metadata["victim"], addrB.Hex())
		}
		if f.Metadata["attacker"] != addrA.Hex() {
			t.Errorf("attacker = %s, want %s", f.Metadata["attacker"], addrA.Hex())
		}
	}
	if sandwiches != 1 {
		t.Fatalf("sandwich findings = %d, want 1", sandwiches)
	}
}

func TestMEVDetector_NoSandwichSameSender(t *testing.T) {
	d := newTestMEVDetector(t, &mockGateway{})
	ctx := context.Background()

	in := big.NewInt(1_000_000)
	out := big.NewInt(990_000)
	path := []common.Address{tokenETH, tokenUSDC}

	// All three legs from the same sender: no victim, no sandwich.
	d.Detect(ctx, swapEvent(hashOf(1), 500, addrA, path, in, out))
	d.Detect(ctx, swapEvent(hashOf(2), 500, addrA, path, in, out))
	findings := d.Detect(ctx, swapEvent(hashOf(3), 500, addrA, path, in, out))

	for _, f := range findings {
		if f.AlertID == "MEV-SANDWICH" {
			t.Fatal("unexpected sandwich finding for single-sender triple")
		}
	}
}

func TestMEVDetector_WindowEviction(t *testing.T) {
	d := newTestMEVDetector(t, &mockGateway{})
	ctx := context.Background()

	in := big.NewInt(1_000_000)
	out := big.NewInt(990_000)
	path := []common.Address{tokenETH, tokenUSDC}

	d.Detect(ctx, swapEvent(hashOf(1), 100, addrA, path, in, out))
	if d.WindowSize() != 1 {
		t.Fatalf("window size = %d, want 1", d.WindowSize())
	}

	// Advancing the block by 150 must evict the stale entry.
	d.Detect(ctx, swapEvent(hashOf(2), 250, addrB, path, in, out))
	if d.WindowSize() != 1 {
		t.Fatalf("window size after eviction = %d, want 1", d.WindowSize())
	}
	if _, ok := d.pending[hashOf(1)]; ok {
		t.Error("stale swap still present after eviction")
	}

	// The evicted entry must not participate in later correlation.
	d.Detect(ctx, swapEvent(hashOf(3), 250, addrB, path, in, out))
	findings := d.Detect(ctx, swapEvent(hashOf(4), 250, addrA, []common.Address{tokenUSDC, tokenETH}, in, out))
	for _, f := range findings {
		if f.AlertID == "MEV-SANDWICH" && f.Metadata["frontRun"] == hashOf(1).Hex() {
			t.Error("evicted swap used as a sandwich leg")
		}
	}
}

func TestSlippage(t *testing.T) {
	tests := []struct {
		name         string
		amountIn     int64
		amountOutMin int64
		want         float64
	}{
		{"ZeroMinOut", 1000, 0, 0},
		{"OnePercent", 1000, 990, 0.01},
		{"NoSlippage", 1000, 1000, 0},
		{"MinAboveIn", 1000, 2000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slippage(big.NewInt(tt.amountIn), big.NewInt(tt.amountOutMin))
			if got < 0 || got > 1 {
				t.Fatalf("slippage %v outside [0, 1]", got)
			}
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("slippage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMEVDetector_LowSlippageAndRoute(t *testing.T) {
	d := newTestMEVDetector(t, &mockGateway{})
	ctx := context.Background()

	longPath := []common.Address{tokenETH, addrOf(1), addrOf(2), addrOf(3), tokenUSDC}
	findings := d.Detect(ctx, swapEvent(hashOf(9), 500, addrA, longPath, big.NewInt(1000), big.NewInt(1000)))

	var gotLowSlippage, gotRoute bool
	for _, f := range findings {
		switch f.AlertID {
		case "MEV-LOW-SLIPPAGE":
			gotLowSlippage = true
		case "MEV-UNUSUAL-ROUTE":
			gotRoute = true
		}
	}
	if !gotLowSlippage {
		t.Error("expected low-slippage finding for zero-slippage swap")
	}
	if !gotRoute {
		t.Error("expected unusual-route finding for 5-hop path")
	}
}

func TestMEVDetector_DecodeFailureSkipsSwapChecks(t *testing.T) {
	d := newTestMEVDetector(t, &mockGateway{})
	ctx := context.Background()

	to := routerAddr
	// Router target but no decodable swap call: no state write, no finding.
	tx := &chain.TransactionEvent{
		Hash:        hashOf(7),
		BlockNumber: 500,
		From:        addrA,
		To:          &to,
		GasPrice:    big.NewInt(20_000_000_000),
		Input:       []byte{0xde, 0xad, 0xbe, 0xef},
	}
	findings := d.Detect(ctx, tx)
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want 0", len(findings))
	}
	if d.WindowSize() != 0 {
		t.Fatalf("window size = %d, want 0", d.WindowSize())
	}
}

func TestMEVDetector_HighGas(t *testing.T) {
	avg := big.NewInt(10_000_000_000)
	d := newTestMEVDetector(t, &mockGateway{
		GasPriceFunc: func(ctx context.Context) (*big.Int, error) { return avg, nil },
	})

	tx := &chain.TransactionEvent{
		Hash:        hashOf(8),
		BlockNumber: 500,
		From:        addrA,
		GasPrice:    new(big.Int).Mul(avg, big.NewInt(5)),
	}
	findings := d.Detect(context.Background(), tx)
	if len(findings) != 1 || findings[0].AlertID != "MEV-HIGH-GAS" {
		t.Fatalf("findings = %+v, want one MEV-HIGH-GAS", findings)
	}

	// Gateway failure absorbs the check.
	d2 := newTestMEVDetector(t, &mockGateway{
		GasPriceFunc: func(ctx context.Context) (*big.Int, error) { return nil, errGateway },
	})
	if got := d2.Detect(context.Background(), tx); len(got) != 0 {
		t.Fatalf("findings with failing gateway = %d, want 0", len(got))
	}
}
