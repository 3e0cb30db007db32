package detector

import (
	"context"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/foundermafstat/mevshield/internal/chain"
)

func TestNewPhishingDetector_NilGateway(t *testing.T) {
	if _, err := NewPhishingDetector(nil, nil); err == nil {
		t.Fatal("expected error for nil gateway")
	}
}

func TestPhishingDetector_KnownAddress(t *testing.T) {
	d, err := NewPhishingDetector(&mockGateway{}, []common.Address{addrB})
	if err != nil {
		t.Fatal(err)
	}

	to := addrB
	tx := &chain.TransactionEvent{Hash: hashOf(1), From: addrA, To: &to}
	findings := d.Detect(context.Background(), tx)
	if len(findings) != 1 || findings[0].AlertID != "PHISHING-KNOWN-ADDRESS" {
		t.Fatalf("findings = %+v, want one PHISHING-KNOWN-ADDRESS", findings)
	}

	other := addrC
	tx2 := &chain.TransactionEvent{Hash: hashOf(2), From: addrA, To: &other}
	if got := d.Detect(context.Background(), tx2); len(got) != 0 {
		t.Fatalf("findings for clean recipient = %d, want 0", len(got))
	}
}

func TestPhishingDetector_UnlimitedApprovalToNewContract(t *testing.T) {
	tests := []struct {
		name  string
		code  []byte
		nonce uint64
		want  int
	}{
		{"RecentlyDeployed", []byte{0x60, 0x80}, 2, 1},
		{"EstablishedContract", []byte{0x60, 0x80}, 50, 0},
		{"NoBytecode", nil, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{
				BytecodeFunc: func(ctx context.Context, addr common.Address) ([]byte, error) {
					return tt.code, nil
				},
				NonceFunc: func(ctx context.Context, addr common.Address) (uint64, error) {
					return tt.nonce, nil
				},
			}
			d, err := NewPhishingDetector(gw, nil)
			if err != nil {
				t.Fatal(err)
			}

			to := addrC
			tx := &chain.TransactionEvent{
				Hash: hashOf(3),
				From: addrA,
				To:   &to,
				Calls: []chain.DecodedCall{{
					Signature: chain.SigApprove,
					From:      addrA,
					To:        to,
					Args: chain.Args{
						"spender": addrB,
						"value":   new(big.Int).Set(chain.MaxUint256),
					},
				}},
			}
			got := 0
			for _, f := range d.Detect(context.Background(), tx) {
				if f.AlertID == "PHISHING-UNLIMITED-APPROVAL" {
					got++
				}
			}
			if got != tt.want {
				t.Errorf("unlimited-approval findings = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPhishingDetector_GatewayFailureDowngrades(t *testing.T) {
	gw := &mockGateway{
		BytecodeFunc: func(ctx context.Context, addr common.Address) ([]byte, error) {
			return nil, errGateway
		},
		NonceFunc: func(ctx context.Context, addr common.Address) (uint64, error) {
			return 0, errGateway
		},
	}
	d, err := NewPhishingDetector(gw, nil)
	if err != nil {
		t.Fatal(err)
	}

	to := addrC
	tx := &chain.TransactionEvent{
		Hash: hashOf(4),
		From: addrA,
		To:   &to,
		Calls: []chain.DecodedCall{
			{
				Signature: chain.SigApprove,
				Args:      chain.Args{"spender": addrB, "value": new(big.Int).Set(chain.MaxUint256)},
			},
			{
				Signature: chain.SigDelegate,
				Args:      chain.Args{"delegatee": addrB},
			},
		},
	}
	if got := d.Detect(context.Background(), tx); len(got) != 0 {
		t.Fatalf("findings with failing gateway = %+v, want none", got)
	}
}

func TestPhishingDetector_GasCeiling(t *testing.T) {
	d, err := NewPhishingDetector(&mockGateway{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		gasPrice *big.Int
		want     int
	}{
		{"AboveCeiling", new(big.Int).Mul(big.NewInt(501), big.NewInt(1_000_000_000)), 1},
		{"AtCeiling", new(big.Int).Mul(big.NewInt(500), big.NewInt(1_000_000_000)), 0},
		{"Normal", big.NewInt(20_000_000_000), 0},
		{"Missing", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &chain.TransactionEvent{Hash: hashOf(5), From: addrA, GasPrice: tt.gasPrice}
			got := 0
			for _, f := range d.Detect(context.Background(), tx) {
				if f.AlertID == "PHISHING-HIGH-GAS" {
					got++
				}
			}
			if got != tt.want {
				t.Errorf("high-gas findings = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPhishingDetector_LargeMulticall(t *testing.T) {
	d, err := NewPhishingDetector(&mockGateway{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	sel := chain.SelectorOf(chain.SigMulticall)
	small := append(sel[:], make([]byte, 64)...)
	large := append(sel[:], make([]byte, 6000)...)

	to := addrC
	tx := &chain.TransactionEvent{
		Hash: hashOf(8),
		From: addrA,
		To:   &to,
		Calls: []chain.DecodedCall{
			{Signature: chain.SigMulticall, To: to, Input: small},
			{Signature: chain.SigMulticall, To: to, Input: large},
		},
	}
	got := 0
	for _, f := range d.Detect(context.Background(), tx) {
		if f.AlertID == "PHISHING-LARGE-MULTICALL" {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("large-multicall findings = %d, want 1", got)
	}
}

func TestPhishingDetector_SensitiveCallToNewContract(t *testing.T) {
	gw := &mockGateway{
		BytecodeFunc: func(ctx context.Context, addr common.Address) ([]byte, error) {
			return []byte{0x60, 0x80}, nil
		},
		NonceFunc: func(ctx context.Context, addr common.Address) (uint64, error) {
			return 1, nil
		},
	}
	d, err := NewPhishingDetector(gw, nil)
	if err != nil {
		t.Fatal(err)
	}

	sel := chain.SelectorOf(chain.SigTransfer)
	to := addrC
	tx := &chain.TransactionEvent{
		Hash:  hashOf(6),
		From:  addrA,
		To:    &to,
		Input: append(sel[:], make([]byte, 64)...),
	}
	got := 0
	for _, f := range d.Detect(context.Background(), tx) {
		if f.AlertID == "PHISHING-NEW-CONTRACT" {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("new-contract findings = %d, want 1", got)
	}
}

func TestPhishingDetector_Idempotent(t *testing.T) {
	d, err := NewPhishingDetector(&mockGateway{}, []common.Address{addrB})
	if err != nil {
		t.Fatal(err)
	}

	to := addrB
	tx := &chain.TransactionEvent{
		Hash:     hashOf(7),
		From:     addrA,
		To:       &to,
		GasPrice: new(big.Int).Mul(big.NewInt(600), big.NewInt(1_000_000_000)),
	}
	first := d.Detect(context.Background(), tx)
	second := d.Detect(context.Background(), tx)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("detect not idempotent: %+v vs %+v", first, second)
	}
}
