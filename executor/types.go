// Package executor implements the ERC-4337 bundler executor manager: the
// scheduling, bundling, submission-tracking, and replacement state machine
// that sits between the mempool and the chain.
package executor

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UserOperationInfo is the bundler's view of a single signed user operation.
// The wire payload itself is opaque to the executor; only the fields the
// state machine needs to reason about are modeled here.
type UserOperationInfo struct {
	UserOpHash     common.Hash
	EntryPoint     common.Address
	FirstSubmitted time.Time
	Compressed     bool

	// UserOperation is the opaque signed payload handed back to the
	// mempool/executor collaborators unmodified.
	UserOperation any
}

// TxRequest is the mutable EVM request backing a TransactionInfo. Only the
// fields the replacement policy needs to read or bump are modeled; nonce
// management and signing live in the Executor collaborator.
type TxRequest struct {
	Gas                  uint64
	Nonce                uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Clone returns a deep copy so mutation of one TxRequest never aliases another.
func (r *TxRequest) Clone() *TxRequest {
	if r == nil {
		return nil
	}
	cp := &TxRequest{Gas: r.Gas, Nonce: r.Nonce}
	if r.MaxFeePerGas != nil {
		cp.MaxFeePerGas = new(big.Int).Set(r.MaxFeePerGas)
	}
	if r.MaxPriorityFeePerGas != nil {
		cp.MaxPriorityFeePerGas = new(big.Int).Set(r.MaxPriorityFeePerGas)
	}
	return cp
}

// TransactionInfo is an executor-owned, actively-tracked broadcast
// transaction. It is mutated in place by the replacement policy (gas/nonce
// bumps) under the invariant that the bundled ops have already been removed
// from the mempool's "submitted" set before the mutation is dispatched.
type TransactionInfo struct {
	TransactionHash           common.Hash
	PreviousTransactionHashes []common.Hash
	TransactionRequest        *TxRequest
	UserOperationInfos        []*UserOperationInfo
	Executor                  common.Address
	IsVersion06               bool
	LastReplaced              time.Time
	TimesPotentiallyIncluded  int
}

// candidateHashes returns transactionHash union previousTransactionHashes,
// the set searched by the Transaction Status Resolver.
func (t *TransactionInfo) candidateHashes() []common.Hash {
	hashes := make([]common.Hash, 0, 1+len(t.PreviousTransactionHashes))
	hashes = append(hashes, t.TransactionHash)
	hashes = append(hashes, t.PreviousTransactionHashes...)
	return hashes
}

func (t *TransactionInfo) userOpHashes() []common.Hash {
	hashes := make([]common.Hash, len(t.UserOperationInfos))
	for i, op := range t.UserOperationInfos {
		hashes[i] = op.UserOpHash
	}
	return hashes
}

// SubmittedUserOperation is the tuple the mempool maintains once an op has
// been bound to a broadcast transaction.
type SubmittedUserOperation struct {
	UserOperationInfo *UserOperationInfo
	TransactionInfo   *TransactionInfo
}

// BundleMode selects between periodic auto-bundling and manual triggering.
type BundleMode int

const (
	ModeAuto BundleMode = iota
	ModeManual
)

func (m BundleMode) String() string {
	if m == ModeAuto {
		return "auto"
	}
	return "manual"
}
