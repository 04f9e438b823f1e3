package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNoOpsToBundle is raised by bundleNow when the mempool has nothing to
// offer.
var ErrNoOpsToBundle = errors.New("no ops to bundle")

// errNoTxHash is raised internally when an entry point's dispatch produced
// no transaction hash for bundleNow to report.
var errNoTxHash = errors.New("no tx hash")

// bundle is the Mode Controller's periodic tick: it drains the mempool in
// gas-capped batches and dispatches each batch to the Executor.
func (m *Manager) bundle(ctx context.Context) {
	tickID := uuid.New().String()[:8]
	l := m.log.New("tick", tickID)

	g, gctx := errgroup.WithContext(ctx)
	batchCount := 0
	for {
		batch, err := m.mempool.Process(ctx, bundleGasCap, 1)
		if err != nil {
			l.Warn("mempool process failed", "err", err)
			return
		}
		if len(batch) == 0 {
			break
		}
		batchCount++
		idx := batchCount
		g.Go(func() error {
			m.dispatchBatch(gctx, l.New("batch", idx), batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.Error("bundle tick failed", "err", err)
	}
}

// dispatchBatch partitions one batch by entry point and dispatches each
// partition in parallel.
func (m *Manager) dispatchBatch(ctx context.Context, l log.Logger, ops []*UserOperationInfo) {
	byEntryPoint := partitionByEntryPoint(ops)

	g, gctx := errgroup.WithContext(ctx)
	for _, entryPoint := range m.config.EntryPoints {
		entryPoint := entryPoint
		opsForEntryPoint, ok := byEntryPoint[entryPoint]
		if !ok || len(opsForEntryPoint) == 0 {
			l.Warn("no ops to bundle for entry point", "entryPoint", entryPoint)
			continue
		}
		g.Go(func() error {
			_, err := m.sendToExecutor(gctx, entryPoint, opsForEntryPoint)
			if err != nil {
				l.Error("sendToExecutor failed", "entryPoint", entryPoint, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// BundleNow is the manual one-shot trigger: it drains one gas-capped batch
// immediately regardless of the current mode and returns the resulting
// transaction hashes.
func (m *Manager) BundleNow(ctx context.Context) ([]common.Hash, error) {
	batch, err := m.mempool.Process(ctx, m.config.MaxGasLimitPerBundle, 1)
	if err != nil {
		return nil, fmt.Errorf("mempool process: %w", err)
	}
	if len(batch) == 0 {
		return nil, ErrNoOpsToBundle
	}

	byEntryPoint := partitionByEntryPoint(batch)

	type result struct {
		entryPoint common.Address
		txHash     common.Hash
		err        error
	}
	g, gctx := errgroup.WithContext(ctx)
	results := make([]result, 0, len(byEntryPoint))
	resultsCh := make(chan result, len(byEntryPoint))
	for entryPoint, ops := range byEntryPoint {
		entryPoint, ops := entryPoint, ops
		g.Go(func() error {
			txHash, err := m.sendToExecutor(gctx, entryPoint, ops)
			resultsCh <- result{entryPoint: entryPoint, txHash: txHash, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(resultsCh)
	for r := range resultsCh {
		results = append(results, r)
	}

	hashes := make([]common.Hash, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		if r.txHash == (common.Hash{}) {
			return nil, errNoTxHash
		}
		hashes = append(hashes, r.txHash)
	}
	return hashes, nil
}

func partitionByEntryPoint(ops []*UserOperationInfo) map[common.Address][]*UserOperationInfo {
	byEntryPoint := make(map[common.Address][]*UserOperationInfo)
	for _, op := range ops {
		byEntryPoint[op.EntryPoint] = append(byEntryPoint[op.EntryPoint], op)
	}
	return byEntryPoint
}

// sendToExecutor is shared by bundle() and BundleNow(). It returns the
// transaction hash of the first successful result, matching the caller's
// use of that hash as its own return value.
func (m *Manager) sendToExecutor(ctx context.Context, entryPoint common.Address, ops []*UserOperationInfo) (common.Hash, error) {
	l := m.log.New("entryPoint", entryPoint)

	var compressed, uncompressed []*UserOperationInfo
	for _, op := range ops {
		if op.Compressed {
			compressed = append(compressed, op)
		} else {
			uncompressed = append(uncompressed, op)
		}
	}

	var results []*BundleResult
	if len(uncompressed) > 0 {
		res, err := m.executor.Bundle(ctx, entryPoint, uncompressed)
		if err != nil {
			return common.Hash{}, fmt.Errorf("executor bundle: %w", err)
		}
		results = append(results, res...)
	}
	if len(compressed) > 0 {
		res, err := m.executor.BundleCompressed(ctx, entryPoint, compressed)
		if err != nil {
			return common.Hash{}, fmt.Errorf("executor bundleCompressed: %w", err)
		}
		results = append(results, res...)
	}

	allSuccess := len(results) > 0
	for _, r := range results {
		if r.Kind != BundleSuccess {
			allSuccess = false
			break
		}
	}
	metricBundleSubmitted(allSuccess)

	if len(results) < len(ops) {
		metricUserOperationsSubmitted("filtered", int64(len(ops)-len(results)))
		l.Warn("fewer bundle results than ops supplied", "ops", len(ops), "results", len(results))
	}

	var firstTxHash common.Hash
	for _, r := range results {
		switch r.Kind {
		case BundleSuccess:
			if err := m.handleBundleSuccess(ctx, l, r); err != nil {
				l.Error("handle bundle success failed", "err", err)
				continue
			}
			if firstTxHash == (common.Hash{}) {
				firstTxHash = r.TransactionInfo.TransactionHash
			}
		case BundleFailure:
			m.handleBundleFailure(ctx, l, r)
		case BundleResubmit:
			m.handleBundleResubmit(ctx, l, r, entryPoint)
		}
	}
	return firstTxHash, nil
}

func (m *Manager) handleBundleSuccess(ctx context.Context, l log.Logger, r *BundleResult) error {
	if err := m.mempool.MarkSubmitted(ctx, r.UserOperation.UserOpHash, r.TransactionInfo); err != nil {
		return err
	}
	txHash := r.TransactionInfo.TransactionHash
	m.monitor.SetUserOperationStatus(ctx, r.UserOperation.UserOpHash, MonitorSubmitted, &txHash)
	m.startWatchingBlocks(ctx)
	metricUserOperationsSubmitted("success", 1)
	return nil
}

func (m *Manager) handleBundleFailure(ctx context.Context, l log.Logger, r *BundleResult) {
	if err := m.mempool.RemoveProcessing(ctx, r.UserOpHash); err != nil {
		l.Warn("remove processing failed", "userOpHash", r.UserOpHash, "err", err)
	}
	m.events.EmitDropped(ctx, r.UserOperation, r.Reason)
	m.monitor.SetUserOperationStatus(ctx, r.UserOpHash, MonitorRejected, nil)
	l.Warn("user operation rejected", "userOpHash", r.UserOpHash, "reason", r.Reason, "aaCode", ClassifyAAError(r.Reason))
	metricUserOperationsSubmitted("failed", 1)
}

func (m *Manager) handleBundleResubmit(ctx context.Context, l log.Logger, r *BundleResult, fallbackEntryPoint common.Address) {
	if err := m.mempool.RemoveProcessing(ctx, r.UserOpHash); err != nil {
		l.Warn("remove processing failed", "userOpHash", r.UserOpHash, "err", err)
	}
	entryPoint := r.EntryPoint
	if entryPoint == (common.Address{}) {
		entryPoint = fallbackEntryPoint
	}
	if err := m.mempool.Add(ctx, r.UserOperation, entryPoint); err != nil {
		l.Warn("resubmit add failed", "userOpHash", r.UserOpHash, "err", err)
		return
	}
	metricUserOperationsResubmitted(1)
}
