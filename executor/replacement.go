package executor

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// replaceTransaction delegates to the Executor, then applies the
// mempool/metric bookkeeping the result tag demands. Unlike the
// AA95 caller (status.go), which removes ops from submitted before calling
// this, the block-handler callers (block_handler.go) still have their ops
// in submitted when this runs — the "failed" and "replaced" branches below
// are responsible for the removal in that case.
func (m *Manager) replaceTransaction(ctx context.Context, l log.Logger, txInfo *TransactionInfo, reason string) error {
	result, resultErr := m.executor.ReplaceTransaction(ctx, txInfo)

	status := "failed"
	if resultErr == nil && result != nil {
		status = result.Kind.String()
	}
	metricReplacedTransaction(reason, status)

	if resultErr != nil {
		for _, op := range txInfo.UserOperationInfos {
			if err := m.mempool.RemoveSubmitted(ctx, op.UserOpHash); err != nil {
				l.Warn("remove submitted failed", "userOpHash", op.UserOpHash, "err", err)
			}
		}
		return fmt.Errorf("executor replace transaction: %w", resultErr)
	}

	switch result.Kind {
	case ReplaceFailed:
		for _, op := range txInfo.UserOperationInfos {
			if err := m.mempool.RemoveSubmitted(ctx, op.UserOpHash); err != nil {
				l.Warn("remove submitted failed", "userOpHash", op.UserOpHash, "err", err)
			}
		}
		l.Warn("replacement failed, ops removed from submitted", "txHash", txInfo.TransactionHash, "reason", reason)

	case ReplacePotentiallyAlreadyIncluded:
		txInfo.TimesPotentiallyIncluded++
		if txInfo.TimesPotentiallyIncluded >= m.config.MaxPotentiallyIncluded {
			for _, op := range txInfo.UserOperationInfos {
				if err := m.mempool.RemoveSubmitted(ctx, op.UserOpHash); err != nil {
					l.Warn("remove submitted failed", "userOpHash", op.UserOpHash, "err", err)
				}
			}
			m.executor.MarkWalletProcessed(txInfo.Executor)
			l.Warn("dropping submitted tx, potentially-included limit reached", "txHash", txInfo.TransactionHash)
		}

	case ReplaceReplaced:
		newTxInfo := result.TransactionInfo
		missing, matching := diffUserOperations(txInfo.UserOperationInfos, newTxInfo.UserOperationInfos)

		for _, op := range matching {
			if err := m.mempool.ReplaceSubmitted(ctx, op, newTxInfo); err != nil {
				l.Warn("replace submitted failed", "userOpHash", op.UserOpHash, "err", err)
			}
		}
		for _, op := range missing {
			if err := m.mempool.RemoveSubmitted(ctx, op.UserOpHash); err != nil {
				l.Warn("remove submitted failed", "userOpHash", op.UserOpHash, "err", err)
			}
			l.Info("op dropped from replacement transaction", "userOpHash", op.UserOpHash)
		}
	}

	return nil
}

// diffUserOperations computes missing = old \ new and matching = old ∩ new
// by user-operation hash, using mapset for the set
// arithmetic rather than hand-rolled nested loops.
func diffUserOperations(oldOps, newOps []*UserOperationInfo) (missing, matching []*UserOperationInfo) {
	newSet := mapset.NewSet[common.Hash]()
	newByHash := make(map[common.Hash]*UserOperationInfo, len(newOps))
	for _, op := range newOps {
		newSet.Add(op.UserOpHash)
		newByHash[op.UserOpHash] = op
	}

	oldSet := mapset.NewSet[common.Hash]()
	for _, op := range oldOps {
		oldSet.Add(op.UserOpHash)
	}

	for _, h := range oldSet.Difference(newSet).ToSlice() {
		for _, op := range oldOps {
			if op.UserOpHash == h {
				missing = append(missing, op)
				break
			}
		}
	}
	for _, h := range oldSet.Intersect(newSet).ToSlice() {
		if op, ok := newByHash[h]; ok {
			matching = append(matching, op)
		}
	}
	return missing, matching
}
