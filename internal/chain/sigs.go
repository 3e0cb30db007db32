package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Canonical function signatures the detectors match on.
const (
	SigTransfer         = "transfer(address,uint256)"
	SigTransferFrom     = "transferFrom(address,address,uint256)"
	SigApprove          = "approve(address,uint256)"
	SigSetApprovalAll   = "setApprovalForAll(address,bool)"
	SigDelegate         = "delegate(address)"
	SigMulticall        = "multicall(bytes[])"
	SigBatchTransfer    = "batchTransfer(address[],uint256[])"
	SigSwapExactTokens  = "swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"
	SigSwapForExact     = "swapTokensForExactTokens(uint256,uint256,address[],address,uint256)"
	SigSwapExactETH     = "swapExactETHForTokens(uint256,address[],address,uint256)"
	SigSwapTokensForETH = "swapExactTokensForETH(uint256,uint256,address[],address,uint256)"
	SigExecTransaction  = "execTransaction(address,uint256,bytes,uint8,uint256,uint256,uint256,address,address,bytes)"
	SigConfirmTx        = "confirmTransaction(uint256)"
	SigRevokeConfirm    = "revokeConfirmation(uint256)"
	SigAddOwner         = "addOwnerWithThreshold(address,uint256)"
	SigRemoveOwner      = "removeOwner(address,address,uint256)"
	SigChangeThreshold  = "changeThreshold(uint256)"
	SigGetOwners        = "getOwners()"
	SigGetThreshold     = "getThreshold()"
)

// Canonical event signatures.
const (
	EventApproval         = "Approval(address,address,uint256)"
	EventApprovalForAll   = "ApprovalForAll(address,address,bool)"
	EventAddedOwner       = "AddedOwner(address)"
	EventRemovedOwner     = "RemovedOwner(address)"
	EventChangedThreshold = "ChangedThreshold(uint256)"
	EventConfirmation     = "Confirmation(address,uint256)"
	EventRevocation       = "Revocation(address,uint256)"
	EventAuthRequired     = "AuthenticationRequired(bytes32,address,address,uint256)"
	EventAuthSuccess      = "AuthenticationSuccessful(bytes32,address)"
	EventAuthFailed       = "AuthenticationFailed(bytes32,address,string)"
)

// SelectorOf returns the 4-byte function selector for a canonical signature.
func SelectorOf(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// TopicOf returns the Keccak-256 event topic for a canonical signature.
func TopicOf(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// SwapSignatures lists the router swap functions the MEV detector decodes.
var SwapSignatures = []string{
	SigSwapExactTokens,
	SigSwapForExact,
	SigSwapExactETH,
	SigSwapTokensForETH,
}

// SensitiveSelectors maps the selectors of sensitive operations to their
// operation-type tag. The same catalogue backs the phishing new-contract
// check and the 2FA operation classification.
var SensitiveSelectors = map[[4]byte]string{
	SelectorOf(SigTransfer):       "token_transfer",
	SelectorOf(SigTransferFrom):   "token_transfer",
	SelectorOf(SigApprove):        "token_approval",
	SelectorOf(SigSetApprovalAll): "nft_approval",
	SelectorOf(SigDelegate):       "delegation",
	SelectorOf(SigMulticall):      "multicall",
	SelectorOf(SigBatchTransfer):  "batch_transfer",
}

// ClassifyOperation derives a best-effort operation-type tag from raw call
// data: empty call data is a plain value transfer, a catalogued selector
// maps to its tag, anything else is unknown.
func ClassifyOperation(input []byte) string {
	if len(input) == 0 {
		return "eth_transfer"
	}
	if len(input) >= 4 {
		var sel [4]byte
		copy(sel[:], input[:4])
		if tag, ok := SensitiveSelectors[sel]; ok {
			return tag
		}
	}
	return "unknown"
}
