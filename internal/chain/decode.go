package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Catalogue of decodable logs and calls, keyed by topic/selector. Decoding
// is best effort: anything outside the catalogue, or with a malformed
// payload, yields ok=false and the caller moves on.

var topicCatalogue = map[common.Hash]string{
	TopicOf(EventApproval):         EventApproval,
	TopicOf(EventApprovalForAll):   EventApprovalForAll,
	TopicOf(EventAddedOwner):       EventAddedOwner,
	TopicOf(EventRemovedOwner):     EventRemovedOwner,
	TopicOf(EventChangedThreshold): EventChangedThreshold,
	TopicOf(EventConfirmation):     EventConfirmation,
	TopicOf(EventRevocation):       EventRevocation,
	TopicOf(EventAuthRequired):     EventAuthRequired,
	TopicOf(EventAuthSuccess):      EventAuthSuccess,
	TopicOf(EventAuthFailed):       EventAuthFailed,
}

var selectorCatalogue = map[[4]byte]string{
	SelectorOf(SigTransfer):         SigTransfer,
	SelectorOf(SigTransferFrom):     SigTransferFrom,
	SelectorOf(SigApprove):          SigApprove,
	SelectorOf(SigSetApprovalAll):   SigSetApprovalAll,
	SelectorOf(SigDelegate):         SigDelegate,
	SelectorOf(SigMulticall):        SigMulticall,
	SelectorOf(SigBatchTransfer):    SigBatchTransfer,
	SelectorOf(SigSwapExactTokens):  SigSwapExactTokens,
	SelectorOf(SigSwapForExact):     SigSwapForExact,
	SelectorOf(SigSwapExactETH):     SigSwapExactETH,
	SelectorOf(SigSwapTokensForETH): SigSwapTokensForETH,
	SelectorOf(SigExecTransaction):  SigExecTransaction,
	SelectorOf(SigConfirmTx):        SigConfirmTx,
	SelectorOf(SigRevokeConfirm):    SigRevokeConfirm,
	SelectorOf(SigAddOwner):         SigAddOwner,
	SelectorOf(SigRemoveOwner):      SigRemoveOwner,
	SelectorOf(SigChangeThreshold):  SigChangeThreshold,
}

func word(data []byte, i int) ([]byte, bool) {
	if len(data) < (i+1)*32 {
		return nil, false
	}
	return data[i*32 : (i+1)*32], true
}

func wordBig(data []byte, i int) (*big.Int, bool) {
	w, ok := word(data, i)
	if !ok {
		return nil, false
	}
	return new(big.Int).SetBytes(w), true
}

func wordAddress(data []byte, i int) (common.Address, bool) {
	w, ok := word(data, i)
	if !ok {
		return common.Address{}, false
	}
	return common.BytesToAddress(w[12:]), true
}

func wordBool(data []byte, i int) (bool, bool) {
	v, ok := wordBig(data, i)
	if !ok {
		return false, false
	}
	return v.Sign() != 0, true
}

func wordHash(data []byte, i int) (common.Hash, bool) {
	w, ok := word(data, i)
	if !ok {
		return common.Hash{}, false
	}
	return common.BytesToHash(w), true
}

// wordAddressSlice reads a dynamic address[] whose offset sits in word i.
// Offsets and lengths are attacker-controlled 256-bit words; they are
// bounded against the payload size before narrowing to int.
func wordAddressSlice(data []byte, i int) ([]common.Address, bool) {
	off, ok := wordBig(data, i)
	if !ok || !off.IsInt64() || off.Int64() > int64(len(data)) {
		return nil, false
	}
	base := int(off.Int64())
	if base < 0 || base+32 > len(data) {
		return nil, false
	}
	n := new(big.Int).SetBytes(data[base : base+32])
	if !n.IsInt64() || n.Int64() > int64((len(data)-base-32)/32) {
		return nil, false
	}
	count := int(n.Int64())
	out := make([]common.Address, 0, count)
	for j := 0; j < count; j++ {
		start := base + 32 + j*32
		out = append(out, common.BytesToAddress(data[start+12:start+32]))
	}
	return out, true
}

// wordString reads a dynamic string whose offset sits in word i, bounded
// the same way as wordAddressSlice.
func wordString(data []byte, i int) (string, bool) {
	off, ok := wordBig(data, i)
	if !ok || !off.IsInt64() || off.Int64() > int64(len(data)) {
		return "", false
	}
	base := int(off.Int64())
	if base < 0 || base+32 > len(data) {
		return "", false
	}
	n := new(big.Int).SetBytes(data[base : base+32])
	if !n.IsInt64() || n.Int64() > int64(len(data)-base-32) {
		return "", false
	}
	length := int(n.Int64())
	return string(data[base+32 : base+32+length]), true
}

// DecodeAddressSliceResult parses the return data of a constant call that
// yields a dynamic address[], e.g. getOwners().
func DecodeAddressSliceResult(data []byte) ([]common.Address, bool) {
	return wordAddressSlice(data, 0)
}

// DecodeUintResult parses the return data of a constant call that yields a
// single uint256, e.g. getThreshold().
func DecodeUintResult(data []byte) (*big.Int, bool) {
	return wordBig(data, 0)
}

// DecodeLog decodes a raw log entry against the known event catalogue.
func DecodeLog(l types.Log) (DecodedEvent, bool) {
	if len(l.Topics) == 0 {
		return DecodedEvent{}, false
	}
	sig, ok := topicCatalogue[l.Topics[0]]
	if !ok {
		return DecodedEvent{}, false
	}
	ev := DecodedEvent{Signature: sig, Address: l.Address, Args: Args{}}

	switch sig {
	case EventApproval:
		if len(l.Topics) < 3 {
			return DecodedEvent{}, false
		}
		ev.Args["owner"] = common.BytesToAddress(l.Topics[1].Bytes()[12:])
		ev.Args["spender"] = common.BytesToAddress(l.Topics[2].Bytes()[12:])
		v, ok := wordBig(l.Data, 0)
		if !ok {
			return DecodedEvent{}, false
		}
		ev.Args["value"] = v
	case EventApprovalForAll:
		if len(l.Topics) < 3 {
			return DecodedEvent{}, false
		}
		ev.Args["owner"] = common.BytesToAddress(l.Topics[1].Bytes()[12:])
		ev.Args["operator"] = common.BytesToAddress(l.Topics[2].Bytes()[12:])
		b, ok := wordBool(l.Data, 0)
		if !ok {
			return DecodedEvent{}, false
		}
		ev.Args["approved"] = b
	case EventAddedOwner, EventRemovedOwner:
		a, ok := wordAddress(l.Data, 0)
		if !ok {
			return DecodedEvent{}, false
		}
		ev.Args["owner"] = a
	case EventChangedThreshold:
		v, ok := wordBig(l.Data, 0)
		if !ok {
			return DecodedEvent{}, false
		}
		ev.Args["threshold"] = v
	case EventConfirmation, EventRevocation:
		if len(l.Topics) < 3 {
			return DecodedEvent{}, false
		}
		ev.Args["sender"] = common.BytesToAddress(l.Topics[1].Bytes()[12:])
		ev.Args["transactionId"] = new(big.Int).SetBytes(l.Topics[2].Bytes())
	case EventAuthRequired:
		op, ok1 := wordHash(l.Data, 0)
		req, ok2 := wordAddress(l.Data, 1)
		tgt, ok3 := wordAddress(l.Data, 2)
		val, ok4 := wordBig(l.Data, 3)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return DecodedEvent{}, false
		}
		ev.Args["operationId"] = op
		ev.Args["requester"] = req
		ev.Args["target"] = tgt
		ev.Args["value"] = val
	case EventAuthSuccess:
		op, ok1 := wordHash(l.Data, 0)
		user, ok2 := wordAddress(l.Data, 1)
		if !ok1 || !ok2 {
			return DecodedEvent{}, false
		}
		ev.Args["operationId"] = op
		ev.Args["user"] = user
	case EventAuthFailed:
		op, ok1 := wordHash(l.Data, 0)
		user, ok2 := wordAddress(l.Data, 1)
		reason, ok3 := wordString(l.Data, 2)
		if !ok1 || !ok2 || !ok3 {
			return DecodedEvent{}, false
		}
		ev.Args["operationId"] = op
		ev.Args["user"] = user
		ev.Args["reason"] = reason
	}
	return ev, true
}

// DecodeCallData decodes raw call data against the known selector catalogue.
// Swap argument names are normalized to amountIn/amountOutMin/path so the
// MEV detector sees one shape regardless of the router function.
func DecodeCallData(from, to common.Address, input []byte) (DecodedCall, bool) {
	if len(input) < 4 {
		return DecodedCall{}, false
	}
	var sel [4]byte
	copy(sel[:], input[:4])
	sig, ok := selectorCatalogue[sel]
	if !ok {
		return DecodedCall{}, false
	}
	c := DecodedCall{Signature: sig, Selector: sel, From: from, To: to, Input: input, Args: Args{}}
	data := input[4:]

	set := func(ok bool, key string, v any) bool {
		if !ok {
			return false
		}
		c.Args[key] = v
		return true
	}

	switch sig {
	case SigTransfer:
		a, ok1 := wordAddress(data, 0)
		v, ok2 := wordBig(data, 1)
		if !set(ok1, "recipient", a) || !set(ok2, "amount", v) {
			return DecodedCall{}, false
		}
	case SigTransferFrom:
		f, ok1 := wordAddress(data, 0)
		t, ok2 := wordAddress(data, 1)
		v, ok3 := wordBig(data, 2)
		if !set(ok1, "from", f) || !set(ok2, "to", t) || !set(ok3, "amount", v) {
			return DecodedCall{}, false
		}
	case SigApprove:
		s, ok1 := wordAddress(data, 0)
		v, ok2 := wordBig(data, 1)
		if !set(ok1, "spender", s) || !set(ok2, "value", v) {
			return DecodedCall{}, false
		}
	case SigSetApprovalAll:
		o, ok1 := wordAddress(data, 0)
		b, ok2 := wordBool(data, 1)
		if !set(ok1, "operator", o) || !set(ok2, "approved", b) {
			return DecodedCall{}, false
		}
	case SigDelegate:
		d, ok1 := wordAddress(data, 0)
		if !set(ok1, "delegatee", d) {
			return DecodedCall{}, false
		}
	case SigSwapExactTokens, SigSwapTokensForETH:
		in, ok1 := wordBig(data, 0)
		out, ok2 := wordBig(data, 1)
		path, ok3 := wordAddressSlice(data, 2)
		if !set(ok1, "amountIn", in) || !set(ok2, "amountOutMin", out) || !set(ok3, "path", path) {
			return DecodedCall{}, false
		}
	case SigSwapForExact:
		// Exact-output swap: the maximum input is the conservative amountIn.
		out, ok1 := wordBig(data, 0)
		in, ok2 := wordBig(data, 1)
		path, ok3 := wordAddressSlice(data, 2)
		if !set(ok1, "amountOutMin", out) || !set(ok2, "amountIn", in) || !set(ok3, "path", path) {
			return DecodedCall{}, false
		}
	case SigSwapExactETH:
		// amountIn is msg.value; the detector falls back to the tx value.
		out, ok1 := wordBig(data, 0)
		path, ok2 := wordAddressSlice(data, 1)
		if !set(ok1, "amountOutMin", out) || !set(ok2, "path", path) {
			return DecodedCall{}, false
		}
	case SigConfirmTx, SigRevokeConfirm:
		id, ok1 := wordBig(data, 0)
		if !set(ok1, "transactionId", id) {
			return DecodedCall{}, false
		}
	case SigChangeThreshold:
		v, ok1 := wordBig(data, 0)
		if !set(ok1, "threshold", v) {
			return DecodedCall{}, false
		}
	case SigAddOwner:
		a, ok1 := wordAddress(data, 0)
		v, ok2 := wordBig(data, 1)
		if !set(ok1, "owner", a) || !set(ok2, "threshold", v) {
			return DecodedCall{}, false
		}
	case SigRemoveOwner:
		p, ok1 := wordAddress(data, 0)
		a, ok2 := wordAddress(data, 1)
		v, ok3 := wordBig(data, 2)
		if !set(ok1, "prevOwner", p) || !set(ok2, "owner", a) || !set(ok3, "threshold", v) {
			return DecodedCall{}, false
		}
	case SigExecTransaction:
		t, ok1 := wordAddress(data, 0)
		v, ok2 := wordBig(data, 1)
		if !set(ok1, "to", t) || !set(ok2, "value", v) {
			return DecodedCall{}, false
		}
	}
	return c, true
}

// BuildEvent assembles a TransactionEvent from raw chain data, decoding the
// top-level call and every catalogued receipt log.
func BuildEvent(tx *types.Transaction, from common.Address, receipt *types.Receipt, blockTime uint64) *TransactionEvent {
	e := &TransactionEvent{
		Hash:      tx.Hash(),
		Timestamp: int64(blockTime),
		From:      from,
		To:        tx.To(),
		Value:     tx.Value(),
		GasPrice:  tx.GasPrice(),
		Input:     tx.Data(),
	}
	if receipt != nil {
		e.BlockNumber = receipt.BlockNumber.Uint64()
		for _, l := range receipt.Logs {
			if ev, ok := DecodeLog(*l); ok {
				e.Events = append(e.Events, ev)
			}
		}
	}
	if tx.To() != nil {
		if c, ok := DecodeCallData(from, *tx.To(), tx.Data()); ok {
			e.Calls = append(e.Calls, c)
		}
	}
	return e
}
