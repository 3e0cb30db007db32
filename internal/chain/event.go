// Package chain holds the transaction event model the detectors consume and
// the narrow read-only gateway they use for on-chain lookups. The package
// never manages connections; decoding and RPC plumbing stay at the edge.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxUint256 is 2^256 - 1, the value of an unlimited ERC20 approval.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Args carries decoded event or call arguments keyed by parameter name.
// Accessors return ok=false when the argument is missing or has an
// unexpected type, so a failed decode becomes a skipped check rather than a
// panic.
type Args map[string]any

func (a Args) Address(key string) (common.Address, bool) {
	v, ok := a[key].(common.Address)
	return v, ok
}

func (a Args) BigInt(key string) (*big.Int, bool) {
	v, ok := a[key].(*big.Int)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (a Args) Bool(key string) (bool, bool) {
	v, ok := a[key].(bool)
	return v, ok
}

func (a Args) Hash(key string) (common.Hash, bool) {
	v, ok := a[key].(common.Hash)
	return v, ok
}

func (a Args) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}

func (a Args) AddressSlice(key string) ([]common.Address, bool) {
	v, ok := a[key].([]common.Address)
	return v, ok
}

// DecodedEvent is one log entry decoded against a known event signature.
type DecodedEvent struct {
	Signature string
	Address   common.Address
	Args      Args
}

// DecodedCall is one function invocation decoded against a known selector.
// Top-level calls carry the transaction input; traced sub-calls carry their
// own payload.
type DecodedCall struct {
	Signature string
	Selector  [4]byte
	From      common.Address
	To        common.Address
	Input     []byte
	Args      Args
}

// Trace is one traced sub-call of the transaction.
type Trace struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Input []byte
}

// TransactionEvent is the immutable per-transaction input handed to a
// detector. Detectors must never mutate it; all fields are set once when the
// event is built from chain data.
type TransactionEvent struct {
	Hash        common.Hash
	BlockNumber uint64
	Timestamp   int64
	From        common.Address
	To          *common.Address // nil for contract creation
	Value       *big.Int
	GasPrice    *big.Int
	Input       []byte
	Events      []DecodedEvent
	Calls       []DecodedCall
	Traces      []Trace
}

// Selector returns the leading 4 bytes of the raw call data.
func (e *TransactionEvent) Selector() ([4]byte, bool) {
	var sel [4]byte
	if len(e.Input) < 4 {
		return sel, false
	}
	copy(sel[:], e.Input[:4])
	return sel, true
}

// FilterEvents returns the decoded logs matching any of the given event
// signatures, in log order.
func (e *TransactionEvent) FilterEvents(signatures ...string) []DecodedEvent {
	var out []DecodedEvent
	for _, ev := range e.Events {
		for _, sig := range signatures {
			if ev.Signature == sig {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// FilterCalls returns the decoded function calls matching any of the given
// signatures, in call order.
func (e *TransactionEvent) FilterCalls(signatures ...string) []DecodedCall {
	var out []DecodedCall
	for _, c := range e.Calls {
		for _, sig := range signatures {
			if c.Signature == sig {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Addresses returns every distinct address the transaction touches: the
// sender, the recipient if any, and each log-emitting contract. Order is
// stable across calls with the same event.
func (e *TransactionEvent) Addresses() []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	add := func(a common.Address) {
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	add(e.From)
	if e.To != nil {
		add(*e.To)
	}
	for _, ev := range e.Events {
		add(ev.Address)
	}
	return out
}
