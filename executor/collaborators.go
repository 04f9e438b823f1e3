package executor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Mempool is the in-process store of pending, processing, and submitted
// user operations. Its concurrency contract is the mempool's own concern;
// the executor only reads/mutates through this interface.
type Mempool interface {
	// Process drains up to maxGas worth of operations (at least minCount,
	// if available) into a single batch. Returns an empty slice once the
	// mempool has nothing left to offer.
	Process(ctx context.Context, maxGas uint64, minCount int) ([]*UserOperationInfo, error)

	// DumpSubmittedOps snapshots every currently-submitted op.
	DumpSubmittedOps(ctx context.Context) ([]*SubmittedUserOperation, error)

	// MarkSubmitted binds opHash to txInfo, moving the op into "submitted".
	MarkSubmitted(ctx context.Context, opHash common.Hash, txInfo *TransactionInfo) error

	// RemoveProcessing drops an op that was taken out via Process but never
	// reached "submitted" (failure/resubmit outcomes).
	RemoveProcessing(ctx context.Context, opHash common.Hash) error

	// RemoveSubmitted removes an op from "submitted" on a terminal
	// transition (included, rejected, frontrun, or explicit removal).
	RemoveSubmitted(ctx context.Context, opHash common.Hash) error

	// ReplaceSubmitted rebinds a submitted op's TransactionInfo after a
	// successful replacement.
	ReplaceSubmitted(ctx context.Context, opInfo *UserOperationInfo, newTxInfo *TransactionInfo) error

	// Add re-queues an op at the given entry point (the "resubmit" outcome).
	Add(ctx context.Context, opInfo *UserOperationInfo, entryPoint common.Address) error
}

// BundleResultKind tags a BundleResult's payload.
type BundleResultKind int

const (
	BundleSuccess BundleResultKind = iota
	BundleFailure
	BundleResubmit
)

// BundleResult is the tagged union the Executor returns per user operation
// it attempted to bundle.
type BundleResult struct {
	Kind BundleResultKind

	// UserOperation is set for every kind; TransactionInfo only on success.
	UserOperation   *UserOperationInfo
	TransactionInfo *TransactionInfo

	// Failure and resubmit payload.
	UserOpHash common.Hash
	Reason     string

	// Resubmit payload.
	EntryPoint common.Address
}

// ReplaceResultKind tags a ReplaceResult's payload.
type ReplaceResultKind int

const (
	ReplaceFailed ReplaceResultKind = iota
	ReplacePotentiallyAlreadyIncluded
	ReplaceReplaced
)

// ReplaceResult is the tagged union Executor.ReplaceTransaction returns.
type ReplaceResult struct {
	Kind ReplaceResultKind

	// Populated only when Kind == ReplaceReplaced.
	TransactionInfo *TransactionInfo
}

func (k ReplaceResultKind) String() string {
	switch k {
	case ReplaceFailed:
		return "failed"
	case ReplacePotentiallyAlreadyIncluded:
		return "potentially_already_included"
	case ReplaceReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Executor is the low-level bundle-sending collaborator: transaction
// construction, signing, and nonce management live behind this interface,
// out of scope for the executor manager itself.
type Executor interface {
	Bundle(ctx context.Context, entryPoint common.Address, ops []*UserOperationInfo) ([]*BundleResult, error)
	BundleCompressed(ctx context.Context, entryPoint common.Address, ops []*UserOperationInfo) ([]*BundleResult, error)
	ReplaceTransaction(ctx context.Context, txInfo *TransactionInfo) (*ReplaceResult, error)
	MarkWalletProcessed(executor common.Address)
}

// GasPrice is the oracle's current recommendation.
type GasPrice struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// GasPriceOracle reports the current network gas price.
type GasPriceOracle interface {
	GetGasPrice(ctx context.Context) (*GasPrice, error)
}

// ReputationManager is informed whenever an op is included on-chain.
type ReputationManager interface {
	UpdateUserOperationIncludedStatus(ctx context.Context, op *UserOperationInfo, entryPoint common.Address, accountDeployed bool)
}

// MonitorStatus is the user-visible lifecycle state the Monitor tracks.
type MonitorStatus string

const (
	MonitorSubmitted MonitorStatus = "submitted"
	MonitorIncluded  MonitorStatus = "included"
	MonitorRejected  MonitorStatus = "rejected"
)

// Monitor exposes user-operation status to external observers (RPC, UI).
type Monitor interface {
	SetUserOperationStatus(ctx context.Context, opHash common.Hash, status MonitorStatus, transactionHash *common.Hash)
}

// EventManager emits the user-operation lifecycle events the rest of the
// package reports as it resolves transaction outcomes.
type EventManager interface {
	EmitDropped(ctx context.Context, op *UserOperationInfo, reason string)
	EmitIncludedOnChain(ctx context.Context, op *UserOperationInfo, txHash common.Hash)
	EmitExecutionRevertedOnChain(ctx context.Context, op *UserOperationInfo, txHash common.Hash, revertReason string)
	EmitFailedOnChain(ctx context.Context, op *UserOperationInfo, txHash common.Hash)
	EmitFrontranOnChain(ctx context.Context, op *UserOperationInfo, txHash common.Hash)
}

// BundleStatusKind classifies a submitted transaction's on-chain state.
type BundleStatusKind int

const (
	StatusNotFound BundleStatusKind = iota
	StatusIncluded
	StatusReverted
)

// PerOpStatus is the outcome reported for a single bundled op once the
// transaction is included. Status is spelled exactly as the collaborator
// contract requires ("succesful" is not a typo to be fixed).
type PerOpStatus struct {
	Status          string // "succesful" | "reverted"
	AccountDeployed bool
	RevertReason    string
}

const (
	OpStatusSuccessful = "succesful"
	OpStatusReverted   = "reverted"
)

// BundleStatus is the result of asking the chain about one candidate hash.
type BundleStatus struct {
	Kind BundleStatusKind

	// Reverted payload.
	IsAA95 bool
	Reason string

	// Included payload: userOpHash -> outcome.
	PerOp map[common.Hash]*PerOpStatus
}

// EVMClient is the minimal public-RPC surface the executor manager needs.
// Transaction construction/signing/nonce management are out of scope and
// live in Executor instead.
type EVMClient interface {
	WatchBlocks(ctx context.Context, pollingInterval int64, emitMissed, includeTransactions bool, handler func(blockNumber uint64)) (Subscription, error)
	WatchBlockNumber(ctx context.Context, handler func(blockNumber uint64)) (Subscription, error)

	GetBundleStatus(ctx context.Context, entryPoint common.Address, txHash common.Hash) (*BundleStatus, error)

	GetLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, fromBlock, toBlock *big.Int) ([]types.Log, error)
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	GetTransaction(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// Subscription is a cancelable handle to a live watch, mirroring
// github.com/ethereum/go-ethereum/event.Subscription.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}
