package executor

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// startFrontrunWatcher spawns the per-op ephemeral watcher that looks for a
// frontrunning nonce race: it subscribes to new block numbers and fires once
// the chain has advanced two blocks past the anchor. It guarantees exactly
// one transition per op via a sync.Once guarding the unsubscribe, the same
// "bind unsubscribe to termination" idiom the teacher's event-subscription
// loops use for their error channel.
func (m *Manager) startFrontrunWatcher(ctx context.Context, op *UserOperationInfo, txInfo *TransactionInfo, entryPoint common.Address) {
	l := m.log.New("userOpHash", op.UserOpHash, "watcher", "frontrun")

	anchorBlock, err := m.client.GetBlockNumber(ctx)
	if err != nil {
		l.Warn("get block number failed, skipping frontrun watch", "err", err)
		return
	}

	var once sync.Once
	var sub Subscription
	unsubscribe := func() {
		once.Do(func() {
			if sub != nil {
				sub.Unsubscribe()
			}
			m.untrackFrontrunWatcher(sub)
		})
	}

	sub, err = m.client.WatchBlockNumber(ctx, func(currentBlockNumber uint64) {
		if currentBlockNumber <= anchorBlock+1 {
			return
		}
		defer unsubscribe()

		receipt, err := m.getUserOperationReceipt(ctx, op.UserOpHash, entryPoint)
		if err != nil {
			l.Warn("frontrun receipt lookup failed", "err", err)
			return
		}
		if err := m.mempool.RemoveSubmitted(ctx, op.UserOpHash); err != nil {
			l.Warn("remove submitted failed", "err", err)
		}
		if receipt != nil {
			m.monitor.SetUserOperationStatus(ctx, op.UserOpHash, MonitorIncluded, &receipt.TransactionHash)
			m.events.EmitFrontranOnChain(ctx, op, receipt.TransactionHash)
			l.Info("op frontran but included", "txHash", receipt.TransactionHash)
			metricUserOperationsOnChain("frontran", 1)
			return
		}

		m.monitor.SetUserOperationStatus(ctx, op.UserOpHash, MonitorRejected, nil)
		m.events.EmitFailedOnChain(ctx, op, txInfo.TransactionHash)
		l.Warn("op not found after frontrun window, marking rejected")
		metricUserOperationsOnChain("rejected", 1)
	})
	if err != nil {
		l.Warn("watch block number failed, skipping frontrun watch", "err", err)
		return
	}
	m.trackFrontrunWatcher(sub)

	go func() {
		if e, ok := <-sub.Err(); ok && e != nil {
			l.Warn("frontrun watch subscription ended", "err", e)
		}
	}()
}
