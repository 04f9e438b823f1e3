package executor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// refreshTransactionStatus resolves every distinct Transaction Info in
// parallel. Each individual resolution itself fans its candidate-hash
// lookups out in parallel too.
func (m *Manager) refreshTransactionStatus(ctx context.Context, l log.Logger, txInfos []*TransactionInfo) {
	g, gctx := errgroup.WithContext(ctx)
	for _, txInfo := range txInfos {
		txInfo := txInfo
		g.Go(func() error {
			m.resolveOne(gctx, l, txInfo)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) resolveOne(ctx context.Context, l log.Logger, txInfo *TransactionInfo) {
	entryPoint := transactionEntryPoint(txInfo)
	l = l.New("txHash", txInfo.TransactionHash, "entryPoint", entryPoint)

	hashes := txInfo.candidateHashes()
	statuses := make([]*BundleStatus, len(hashes))

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			status, err := m.client.GetBundleStatus(gctx, entryPoint, h)
			if err != nil {
				l.Warn("get bundle status failed", "candidateHash", h, "err", err)
				return nil
			}
			statuses[i] = status
			return nil
		})
	}
	_ = g.Wait()

	// included wins over reverted; first match in candidate order otherwise.
	var included, reverted *BundleStatus
	for _, s := range statuses {
		if s == nil {
			continue
		}
		if s.Kind == StatusIncluded && included == nil {
			included = s
		}
		if s.Kind == StatusReverted && reverted == nil {
			reverted = s
		}
	}

	switch {
	case included != nil:
		m.handleIncluded(ctx, l, txInfo, entryPoint, included)
	case reverted != nil:
		m.handleReverted(ctx, l, txInfo, entryPoint, reverted)
	default:
		for _, op := range txInfo.UserOperationInfos {
			l.Debug("user operation pending", "userOpHash", op.UserOpHash)
		}
		metricUserOperationsOnChain("pending", int64(len(txInfo.UserOperationInfos)))
	}
}

func transactionEntryPoint(txInfo *TransactionInfo) common.Address {
	if len(txInfo.UserOperationInfos) == 0 {
		return common.Address{}
	}
	return txInfo.UserOperationInfos[0].EntryPoint
}

func (m *Manager) handleIncluded(ctx context.Context, l log.Logger, txInfo *TransactionInfo, entryPoint common.Address, status *BundleStatus) {
	for _, op := range txInfo.UserOperationInfos {
		outcome, ok := status.PerOp[op.UserOpHash]
		if !ok {
			l.Warn("included status missing per-op outcome", "userOpHash", op.UserOpHash)
			continue
		}

		metricUserOperationInclusionDuration(op.FirstSubmitted)
		if err := m.mempool.RemoveSubmitted(ctx, op.UserOpHash); err != nil {
			l.Warn("remove submitted failed", "userOpHash", op.UserOpHash, "err", err)
		}
		m.reputation.UpdateUserOperationIncludedStatus(ctx, op, entryPoint, outcome.AccountDeployed)

		switch outcome.Status {
		case OpStatusSuccessful:
			m.events.EmitIncludedOnChain(ctx, op, txInfo.TransactionHash)
		case OpStatusReverted:
			m.events.EmitExecutionRevertedOnChain(ctx, op, txInfo.TransactionHash, outcome.RevertReason)
		}
		m.monitor.SetUserOperationStatus(ctx, op.UserOpHash, MonitorIncluded, &txInfo.TransactionHash)
	}
	m.executor.MarkWalletProcessed(txInfo.Executor)
	metricUserOperationsOnChain("included", int64(len(txInfo.UserOperationInfos)))
}

func (m *Manager) handleReverted(ctx context.Context, l log.Logger, txInfo *TransactionInfo, entryPoint common.Address, status *BundleStatus) {
	switch {
	case status.IsAA95:
		m.handleAA95(ctx, l, txInfo, status)
	case IsAA25(status.Reason):
		for _, op := range txInfo.UserOperationInfos {
			m.startFrontrunWatcher(ctx, op, txInfo, entryPoint)
		}
		metricUserOperationsOnChain("pending", int64(len(txInfo.UserOperationInfos)))
	default:
		for _, op := range txInfo.UserOperationInfos {
			if err := m.mempool.RemoveSubmitted(ctx, op.UserOpHash); err != nil {
				l.Warn("remove submitted failed", "userOpHash", op.UserOpHash, "err", err)
			}
			m.monitor.SetUserOperationStatus(ctx, op.UserOpHash, MonitorRejected, nil)
			m.events.EmitFailedOnChain(ctx, op, txInfo.TransactionHash)
			l.Warn("user operation reverted on chain", "userOpHash", op.UserOpHash, "reason", status.Reason)
		}
		m.executor.MarkWalletProcessed(txInfo.Executor)
		metricUserOperationsOnChain("rejected", int64(len(txInfo.UserOperationInfos)))
	}
}

func (m *Manager) handleAA95(ctx context.Context, l log.Logger, txInfo *TransactionInfo, status *BundleStatus) {
	req := txInfo.TransactionRequest
	if req != nil && req.Gas > 0 {
		req.Gas = req.Gas * m.config.AA95ResubmitMultiplier / 100
		req.Nonce++
	}
	for _, op := range txInfo.UserOperationInfos {
		if err := m.mempool.RemoveSubmitted(ctx, op.UserOpHash); err != nil {
			l.Warn("remove submitted failed", "userOpHash", op.UserOpHash, "err", err)
		}
	}
	metricUserOperationsOnChain("rejected", int64(len(txInfo.UserOperationInfos)))

	if err := m.replaceTransaction(ctx, l, txInfo, "AA95"); err != nil {
		l.Warn("AA95 replace failed", "err", err)
	}
}
