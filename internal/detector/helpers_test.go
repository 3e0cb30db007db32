package detector

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/foundermafstat/mevshield/internal/chain"
)

// mockGateway implements chain.Gateway for testing.
type mockGateway struct {
	BytecodeFunc func(ctx context.Context, addr common.Address) ([]byte, error)
	NonceFunc    func(ctx context.Context, addr common.Address) (uint64, error)
	GasPriceFunc func(ctx context.Context) (*big.Int, error)
	CallFunc     func(ctx context.Context, addr common.Address, data []byte) ([]byte, error)
}

func (m *mockGateway) GetBytecode(ctx context.Context, addr common.Address) ([]byte, error) {
	if m.BytecodeFunc != nil {
		return m.BytecodeFunc(ctx, addr)
	}
	return nil, nil
}

func (m *mockGateway) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	if m.NonceFunc != nil {
		return m.NonceFunc(ctx, addr)
	}
	return 100, nil
}

func (m *mockGateway) GetAverageGasPrice(ctx context.Context) (*big.Int, error) {
	if m.GasPriceFunc != nil {
		return m.GasPriceFunc(ctx)
	}
	return big.NewInt(10_000_000_000), nil
}

func (m *mockGateway) CallReadOnly(ctx context.Context, addr common.Address, data []byte) ([]byte, error) {
	if m.CallFunc != nil {
		return m.CallFunc(ctx, addr, data)
	}
	return nil, errors.New("no contract")
}

var (
	errGateway = errors.New("gateway unavailable")

	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	tokenETH  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	tokenUSDC = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	routerAddr = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
)

func addrOf(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func hashOf(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

// swapEvent builds a router swap transaction event.
func swapEvent(hash common.Hash, block uint64, sender common.Address, path []common.Address, amountIn, amountOutMin *big.Int) *chain.TransactionEvent {
	to := routerAddr
	return &chain.TransactionEvent{
		Hash:        hash,
		BlockNumber: block,
		From:        sender,
		To:          &to,
		Value:       big.NewInt(0),
		GasPrice:    big.NewInt(20_000_000_000),
		Calls: []chain.DecodedCall{{
			Signature: chain.SigSwapExactTokens,
			Selector:  chain.SelectorOf(chain.SigSwapExactTokens),
			From:      sender,
			To:        to,
			Args: chain.Args{
				"amountIn":     amountIn,
				"amountOutMin": amountOutMin,
				"path":         path,
			},
		}},
	}
}

// approvalLog builds a decoded ERC20 Approval event.
func approvalLog(token, owner, spender common.Address, value *big.Int) chain.DecodedEvent {
	return chain.DecodedEvent{
		Signature: chain.EventApproval,
		Address:   token,
		Args: chain.Args{
			"owner":   owner,
			"spender": spender,
			"value":   value,
		},
	}
}
