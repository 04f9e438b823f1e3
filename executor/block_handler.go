package executor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// handlingBlock is the single-flight guard: a new block tick that arrives
// while the previous one is still being processed is dropped rather than
// queued. It adapts miner/worker.go's atomic.Int32-based interrupt style to
// a CompareAndSwap gate instead of an interrupt signal, since overlapping
// handling must be skipped outright rather than cancelled mid-flight.
func (m *Manager) onNewBlock(blockNumber uint64) {
	if !m.handlingBlock.CompareAndSwap(false, true) {
		m.log.Debug("dropping block tick, handler already running", "block", blockNumber)
		return
	}
	defer m.handlingBlock.Store(false)

	ctx := context.Background()
	l := m.log.New("block", blockNumber)

	submitted, err := m.mempool.DumpSubmittedOps(ctx)
	if err != nil {
		l.Warn("dump submitted ops failed", "err", err)
		return
	}
	if len(submitted) == 0 {
		m.blockWatcher.Stop()
		return
	}

	txInfos := distinctTransactionInfos(submitted)

	m.refreshTransactionStatus(ctx, l, txInfos)

	gasPrice, err := m.gasPriceOracle.GetGasPrice(ctx)
	if err != nil {
		l.Warn("get gas price failed", "err", err)
		gasPrice = nil
	}

	// Re-snapshot: status resolution above may have removed ops from
	// submitted (included/reverted/AA95 paths), and those Transaction Infos
	// must not be replaced again this tick.
	remaining, err := m.mempool.DumpSubmittedOps(ctx)
	if err != nil {
		l.Warn("dump submitted ops failed", "err", err)
		return
	}
	for _, txInfo := range distinctTransactionInfos(remaining) {
		m.maybeReplace(ctx, l, txInfo, gasPrice)
	}
}

// distinctTransactionInfos dedupes by transaction hash, since several
// SubmittedUserOperation entries can share one Transaction Info.
func distinctTransactionInfos(submitted []*SubmittedUserOperation) []*TransactionInfo {
	seen := make(map[common.Hash]struct{}, len(submitted))
	out := make([]*TransactionInfo, 0, len(submitted))
	for _, su := range submitted {
		if su.TransactionInfo == nil {
			continue
		}
		h := su.TransactionInfo.TransactionHash
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, su.TransactionInfo)
	}
	return out
}

// maybeReplace runs the two replacement triggers: a gas-price bump when
// either fee field the transaction currently offers is strictly below the
// oracle's recommendation, and a stuck-timeout bump when the transaction
// has sat unreplaced for too long regardless of gas price. The outcome
// bookkeeping (removal, mempool rebinding, counters) is the Replacement
// Policy's responsibility (replacement.go), not this caller's.
func (m *Manager) maybeReplace(ctx context.Context, l log.Logger, txInfo *TransactionInfo, gasPrice *GasPrice) {
	req := txInfo.TransactionRequest
	if req == nil {
		return
	}

	reason := ""
	switch {
	case gasPrice != nil && feeBelowOracle(req, gasPrice):
		reason = "gas_price"
	case time.Since(txInfo.LastReplaced) >= m.config.StuckTimeout:
		reason = "stuck"
	default:
		return
	}

	if err := m.replaceTransaction(ctx, l, txInfo, reason); err != nil {
		l.Warn("replace transaction failed", "reason", reason, "err", err)
	}
}

// feeBelowOracle reports whether either fee field the transaction currently
// offers is strictly below the oracle's recommendation. Comparisons run in
// uint256, the same MustFromBig conversion miner/worker.go uses for its fee
// filter, rather than big.Int.Cmp directly.
func feeBelowOracle(req *TxRequest, gasPrice *GasPrice) bool {
	if req.MaxFeePerGas != nil && gasPrice.MaxFeePerGas != nil {
		if uint256.MustFromBig(gasPrice.MaxFeePerGas).Gt(uint256.MustFromBig(req.MaxFeePerGas)) {
			return true
		}
	}
	if req.MaxPriorityFeePerGas != nil && gasPrice.MaxPriorityFeePerGas != nil {
		if uint256.MustFromBig(gasPrice.MaxPriorityFeePerGas).Gt(uint256.MustFromBig(req.MaxPriorityFeePerGas)) {
			return true
		}
	}
	return false
}
