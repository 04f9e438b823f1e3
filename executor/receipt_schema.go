package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SchemaError is returned when decoded chain data fails log/receipt schema
// validation. Plain Go validation functions are used here rather than a
// reflection-based schema library (see DESIGN.md): the shape being checked
// is a fixed, small set of go-ethereum types (types.Log, types.Receipt),
// not user-supplied JSON, so a general-purpose validator buys nothing a
// handful of field checks doesn't already give directly and more legibly.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema validation failed: field %q: %s", e.Field, e.Reason)
}

// logHasTopology reports whether a log carries the fields it needs before
// it can be treated as resolved rather than pending: a non-zero block hash,
// block number and transaction hash, and at least one topic. The
// transaction index and log index are not checked, since zero is a valid
// value for both.
func logHasTopology(blockHash common.Hash, blockNumber uint64, txIndex uint, txHash common.Hash, logIndex uint, topics []common.Hash) bool {
	if blockHash == (common.Hash{}) || blockNumber == 0 {
		return false
	}
	if txHash == (common.Hash{}) {
		return false
	}
	if len(topics) == 0 {
		return false
	}
	_ = txIndex
	_ = logIndex
	return true
}

// validateUserOperationLog checks the decoded UserOperationEvent args carry
// every field the caller needs; any missing field fails the lookup fatally
// rather than silently reporting pending.
func validateUserOperationLog(userOpHash, sender common.Hash, nonce *uint64, success *bool, actualGasCost, actualGasUsed *uint64) error {
	if userOpHash == (common.Hash{}) {
		return &SchemaError{Field: "userOpHash", Reason: "zero hash"}
	}
	if sender == (common.Hash{}) {
		return &SchemaError{Field: "sender", Reason: "zero address"}
	}
	if nonce == nil {
		return &SchemaError{Field: "nonce", Reason: "missing"}
	}
	if success == nil {
		return &SchemaError{Field: "success", Reason: "missing"}
	}
	if actualGasCost == nil {
		return &SchemaError{Field: "actualGasCost", Reason: "missing"}
	}
	if actualGasUsed == nil {
		return &SchemaError{Field: "actualGasUsed", Reason: "missing"}
	}
	return nil
}

// validateReceiptSchema checks the receipt's required fields, after status
// has already been normalised to 1/0 by the caller.
func validateReceiptSchema(status uint64, blockHash common.Hash, txHash common.Hash) error {
	if status != 0 && status != 1 {
		return &SchemaError{Field: "status", Reason: "not normalised to 0/1"}
	}
	if blockHash == (common.Hash{}) {
		return &SchemaError{Field: "blockHash", Reason: "zero hash"}
	}
	if txHash == (common.Hash{}) {
		return &SchemaError{Field: "transactionHash", Reason: "zero hash"}
	}
	return nil
}
