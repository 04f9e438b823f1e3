package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrReceiptNotFound is the collaborator-contract retry signal:
// GetTransactionReceipt returning this error means keep polling, any other
// error propagates.
var ErrReceiptNotFound = errors.New("receipt not found")

// errNoUserOperationEvent is returned when a transaction hash is known but
// its receipt carries no UserOperationEvent for the requested hash.
var errNoUserOperationEvent = errors.New("no UserOperationEvent in logs")

var (
	userOperationEventArgs = abi.Arguments{
		{Name: "nonce", Type: mustType("uint256")},
		{Name: "success", Type: mustType("bool")},
		{Name: "actualGasCost", Type: mustType("uint256")},
		{Name: "actualGasUsed", Type: mustType("uint256")},
	}
	userOperationRevertReasonArgs = abi.Arguments{
		{Name: "nonce", Type: mustType("uint256")},
		{Name: "revertReason", Type: mustType("bytes")},
	}

	userOperationEventTopic0        = crypto.Keccak256Hash([]byte("UserOperationEvent(bytes32,address,address,uint256,bool,uint256,uint256)"))
	userOperationRevertReasonTopic0 = crypto.Keccak256Hash([]byte("UserOperationRevertReason(bytes32,address,uint256,bytes)"))
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Receipt is the reconstructed synthetic user-operation receipt returned to
// callers asking for a single user operation's on-chain outcome.
type Receipt struct {
	UserOpHash      common.Hash
	EntryPoint      common.Address
	Sender          common.Address
	Nonce           *big.Int
	Paymaster       *common.Address
	ActualGasUsed   *big.Int
	ActualGasCost   *big.Int
	Success         bool
	Reason          string
	Logs            []types.Log
	TransactionHash common.Hash
	Receipt         *types.Receipt
}

// getUserOperationReceipt reconstructs a user operation's receipt: log
// query, pending detection, receipt fetch with indefinite ReceiptNotFound
// retry, log-window slicing, and schema validation.
func (m *Manager) getUserOperationReceipt(ctx context.Context, userOpHash common.Hash, entryPoint common.Address) (*Receipt, error) {
	fromBlock, toBlock, err := m.receiptBlockRange(ctx)
	if err != nil {
		return nil, fmt.Errorf("get block number: %w", err)
	}

	logs, err := m.client.GetLogs(ctx,
		[]common.Address{entryPoint},
		[][]common.Hash{{userOperationEventTopic0}, {userOpHash}},
		fromBlock, toBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("get logs: %w", err)
	}
	if len(logs) == 0 {
		return nil, nil
	}

	eventLog := logs[0]
	if len(eventLog.Topics) < 4 {
		return nil, &SchemaError{Field: "topics", Reason: "UserOperationEvent expects 3 indexed topics"}
	}
	sender := common.BytesToAddress(eventLog.Topics[2].Bytes())
	paymasterAddr := common.BytesToAddress(eventLog.Topics[3].Bytes())

	decoded, err := userOperationEventArgs.UnpackValues(eventLog.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack UserOperationEvent: %w", err)
	}
	nonce, ok0 := decoded[0].(*big.Int)
	success, ok1 := decoded[1].(bool)
	actualGasCost, ok2 := decoded[2].(*big.Int)
	actualGasUsed, ok3 := decoded[3].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return nil, &SchemaError{Field: "args", Reason: "unexpected decoded types"}
	}
	senderHash := common.BytesToHash(sender.Bytes())
	nonceU64 := nonce.Uint64()
	if err := validateUserOperationLog(userOpHash, senderHash, &nonceU64, &success, toU64Ptr(actualGasCost), toU64Ptr(actualGasUsed)); err != nil {
		return nil, err
	}

	if eventLog.TxHash == (common.Hash{}) {
		// Pending: the event exists but has not been mined into a
		// transaction we can resolve yet.
		return nil, nil
	}

	receipt, err := m.fetchReceiptWithRetry(ctx, eventLog.TxHash)
	if err != nil {
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}

	if receipt.EffectiveGasPrice == nil {
		tx, _, err := m.client.GetTransaction(ctx, eventLog.TxHash)
		if err == nil && tx != nil {
			receipt.EffectiveGasPrice = tx.GasPrice()
		}
	}

	for _, l := range receipt.Logs {
		if !logHasTopology(l.BlockHash, l.BlockNumber, l.TxIndex, l.TxHash, l.Index, l.Topics) {
			return nil, nil
		}
	}

	startIndex, endIndex := -1, -1
	var reason string
	for i, l := range receipt.Logs {
		if len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case userOperationEventTopic0:
			if len(l.Topics) > 1 && l.Topics[1] == userOpHash {
				endIndex = i
			} else if endIndex == -1 {
				startIndex = i
			}
		case userOperationRevertReasonTopic0:
			if len(l.Topics) > 1 && l.Topics[1] == userOpHash {
				decoded, err := userOperationRevertReasonArgs.UnpackValues(l.Data)
				if err == nil && len(decoded) == 2 {
					if b, ok := decoded[1].([]byte); ok {
						reason = string(b)
					}
				}
			}
		}
	}
	if endIndex == -1 {
		return nil, errNoUserOperationEvent
	}

	opLogs := receipt.Logs[startIndex+1 : endIndex]
	plainLogs := make([]types.Log, len(opLogs))
	for i, l := range opLogs {
		if err := validateLogField(l); err != nil {
			return nil, err
		}
		plainLogs[i] = *l
	}

	status := uint64(0)
	if receipt.Status == types.ReceiptStatusSuccessful {
		status = 1
	}
	if err := validateReceiptSchema(status, receipt.BlockHash, receipt.TxHash); err != nil {
		return nil, err
	}

	var paymaster *common.Address
	if paymasterAddr != (common.Address{}) {
		paymaster = &paymasterAddr
	}

	return &Receipt{
		UserOpHash:      userOpHash,
		EntryPoint:      entryPoint,
		Sender:          sender,
		Nonce:           nonce,
		Paymaster:       paymaster,
		ActualGasUsed:   actualGasUsed,
		ActualGasCost:   actualGasCost,
		Success:         success,
		Reason:          reason,
		Logs:            plainLogs,
		TransactionHash: eventLog.TxHash,
		Receipt:         receipt,
	}, nil
}

func validateLogField(l *types.Log) error {
	if !logHasTopology(l.BlockHash, l.BlockNumber, l.TxIndex, l.TxHash, l.Index, l.Topics) {
		return &SchemaError{Field: "log", Reason: "missing topology fields"}
	}
	return nil
}

func toU64Ptr(v *big.Int) *uint64 {
	if v == nil {
		return nil
	}
	u := v.Uint64()
	return &u
}

// receiptBlockRange applies the rpcMaxBlockRange clamp: [latest-range,
// latest], clamped at 0, or the full range if unconfigured.
func (m *Manager) receiptBlockRange(ctx context.Context) (fromBlock, toBlock *big.Int, err error) {
	if m.config.RPCMaxBlockRange == nil {
		return nil, nil, nil
	}
	latest, err := m.client.GetBlockNumber(ctx)
	if err != nil {
		return nil, nil, err
	}
	var from uint64
	if latest > *m.config.RPCMaxBlockRange {
		from = latest - *m.config.RPCMaxBlockRange
	}
	return new(big.Int).SetUint64(from), new(big.Int).SetUint64(latest), nil
}

// fetchReceiptWithRetry retries indefinitely on ErrReceiptNotFound, the
// only retryable error this path recognizes.
func (m *Manager) fetchReceiptWithRetry(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := m.client.GetTransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
