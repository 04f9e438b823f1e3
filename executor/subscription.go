package executor

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// blockWatcher owns the single active block subscription used to drive the
// Block Handler. Starting it twice is a no-op; whichever caller gets the
// lock first creates the subscription.
type blockWatcher struct {
	mu     sync.Mutex
	active bool
	sub    Subscription

	client          EVMClient
	pollingInterval int64
	onBlock         func(blockNumber uint64)
	log             log.Logger
}

func newBlockWatcher(client EVMClient, pollingInterval int64, onBlock func(blockNumber uint64), logger log.Logger) *blockWatcher {
	return &blockWatcher{
		client:          client,
		pollingInterval: pollingInterval,
		onBlock:         onBlock,
		log:             logger,
	}
}

// Start is idempotent: a second call while a subscription is already active
// does nothing.
func (w *blockWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active {
		return
	}
	sub, err := w.client.WatchBlocks(ctx, w.pollingInterval, false, false, w.onBlock)
	if err != nil {
		w.log.Error("watch blocks failed", "err", err)
		return
	}
	w.active = true
	w.sub = sub
	go w.watchErr(sub)
}

func (w *blockWatcher) watchErr(sub Subscription) {
	err, ok := <-sub.Err()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != sub {
		// already replaced/stopped by someone else
		return
	}
	w.active = false
	w.sub = nil
	if ok && err != nil {
		w.log.Warn("block subscription ended", "err", err)
	}
}

// Stop tears the subscription down; safe to call when not active.
func (w *blockWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return
	}
	w.sub.Unsubscribe()
	w.active = false
	w.sub = nil
}

// startWatchingBlocks is called whenever the Bundling Loop marks an
// operation submitted; it ensures exactly one block subscription is live
// for as long as there is something to watch.
func (m *Manager) startWatchingBlocks(ctx context.Context) {
	m.blockWatcher.Start(ctx)
}
