package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
)

// Gateway is the read-only view of the chain the detectors depend on. All
// calls are side-effect free; a failed call is treated by callers as an
// unknown answer, never as a crash. Timeout policy belongs to the
// implementation, not the detectors.
type Gateway interface {
	// GetBytecode returns the code at an address; empty means not a contract.
	GetBytecode(ctx context.Context, addr common.Address) ([]byte, error)
	// GetTransactionCount returns the outbound transaction count (nonce).
	GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	// GetAverageGasPrice reports the current network average gas price.
	GetAverageGasPrice(ctx context.Context) (*big.Int, error)
	// CallReadOnly executes a constant call against a contract.
	CallReadOnly(ctx context.Context, addr common.Address, encodedCall []byte) ([]byte, error)
}

// NodeClient is the slice of an Ethereum client the gateway needs. It is an
// interface so tests can swap in a mock; *ethclient.Client satisfies it.
type NodeClient interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ NodeClient = (*ethclient.Client)(nil)

// EthGateway implements Gateway on top of a live node client.
type EthGateway struct {
	client NodeClient
}

func NewEthGateway(client NodeClient) *EthGateway {
	return &EthGateway{client: client}
}

func (g *EthGateway) GetBytecode(ctx context.Context, addr common.Address) ([]byte, error) {
	return g.client.CodeAt(ctx, addr, nil)
}

func (g *EthGateway) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	return g.client.NonceAt(ctx, addr, nil)
}

func (g *EthGateway) GetAverageGasPrice(ctx context.Context) (*big.Int, error) {
	return g.client.SuggestGasPrice(ctx)
}

func (g *EthGateway) CallReadOnly(ctx context.Context, addr common.Address, encodedCall []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &addr, Data: encodedCall}
	return g.client.CallContract(ctx, msg, nil)
}

// ErrNoSession is returned by a RotatingGateway with no installed client.
var ErrNoSession = errors.New("no active rpc session")

// RotatingGateway implements Gateway over a replaceable node client. The
// runner swaps the client on reconnect while the detectors, whose state
// lives for the whole process, keep this same gateway value.
type RotatingGateway struct {
	mu     sync.RWMutex
	client NodeClient
}

// SetClient installs the client for the current session; nil detaches it.
func (g *RotatingGateway) SetClient(c NodeClient) {
	g.mu.Lock()
	g.client = c
	g.mu.Unlock()
}

func (g *RotatingGateway) current() (NodeClient, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil {
		return nil, ErrNoSession
	}
	return g.client, nil
}

func (g *RotatingGateway) GetBytecode(ctx context.Context, addr common.Address) ([]byte, error) {
	c, err := g.current()
	if err != nil {
		return nil, err
	}
	return c.CodeAt(ctx, addr, nil)
}

func (g *RotatingGateway) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	c, err := g.current()
	if err != nil {
		return 0, err
	}
	return c.NonceAt(ctx, addr, nil)
}

func (g *RotatingGateway) GetAverageGasPrice(ctx context.Context) (*big.Int, error) {
	c, err := g.current()
	if err != nil {
		return nil, err
	}
	return c.SuggestGasPrice(ctx)
}

func (g *RotatingGateway) CallReadOnly(ctx context.Context, addr common.Address, encodedCall []byte) ([]byte, error) {
	c, err := g.current()
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: &addr, Data: encodedCall}
	return c.CallContract(ctx, msg, nil)
}

// MeasuredGateway wraps a Gateway and counts failed calls per method.
// Detectors absorb gateway errors silently, so the counter is the only
// place those failures stay visible.
type MeasuredGateway struct {
	Inner    Gateway
	Failures *prometheus.CounterVec
}

func (m *MeasuredGateway) count(method string, err error) {
	if err != nil && m.Failures != nil {
		m.Failures.WithLabelValues(method).Inc()
	}
}

func (m *MeasuredGateway) GetBytecode(ctx context.Context, addr common.Address) ([]byte, error) {
	b, err := m.Inner.GetBytecode(ctx, addr)
	m.count("getBytecode", err)
	return b, err
}

func (m *MeasuredGateway) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := m.Inner.GetTransactionCount(ctx, addr)
	m.count("getTransactionCount", err)
	return n, err
}

func (m *MeasuredGateway) GetAverageGasPrice(ctx context.Context) (*big.Int, error) {
	p, err := m.Inner.GetAverageGasPrice(ctx)
	m.count("getAverageGasPrice", err)
	return p, err
}

func (m *MeasuredGateway) CallReadOnly(ctx context.Context, addr common.Address, encodedCall []byte) ([]byte, error) {
	b, err := m.Inner.CallReadOnly(ctx, addr, encodedCall)
	m.count("callReadOnly", err)
	return b, err
}
