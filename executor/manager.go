package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Manager is the Executor Manager: the scheduling, bundling,
// submission-tracking, and replacement state machine for user operations
// awaiting on-chain inclusion. It is the single point callers construct and
// drive; every sub-component (mode controller, block watcher, single-flight
// guard) lives as a field owned by exactly one Manager instance, never as
// package-level mutable state.
type Manager struct {
	config *Config
	log    log.Logger

	mempool        Mempool
	executor       Executor
	gasPriceOracle GasPriceOracle
	reputation     ReputationManager
	monitor        Monitor
	events         EventManager
	client         EVMClient

	mode         *modeController
	blockWatcher *blockWatcher

	handlingBlock atomic.Bool

	frontrunMu   sync.Mutex
	frontrunSubs map[Subscription]struct{}
}

// Deps bundles every external collaborator the Manager needs.
type Deps struct {
	Mempool        Mempool
	Executor       Executor
	GasPriceOracle GasPriceOracle
	Reputation     ReputationManager
	Monitor        Monitor
	Events         EventManager
	Client         EVMClient
}

// New constructs a Manager wired to deps and config, starting the Mode
// Controller's timer immediately if config.BundleMode is auto.
func New(config Config, deps Deps, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.Root()
	}
	m := &Manager{
		config:         &config,
		log:            logger,
		mempool:        deps.Mempool,
		executor:       deps.Executor,
		gasPriceOracle: deps.GasPriceOracle,
		reputation:     deps.Reputation,
		monitor:        deps.Monitor,
		events:         deps.Events,
		client:         deps.Client,
		frontrunSubs:   map[Subscription]struct{}{},
	}
	m.blockWatcher = newBlockWatcher(deps.Client, int64(config.PollingInterval.Milliseconds()), m.onNewBlock, logger.New("component", "blockWatcher"))
	m.mode = newModeController(config.BundleMode, config.BundlerFrequency, func() {
		m.bundle(context.Background())
	}, logger.New("component", "modeController"))
	return m
}

// Mode returns the current bundling mode.
func (m *Manager) Mode() BundleMode {
	return m.mode.Mode()
}

// SetMode switches between auto and manual bundling.
func (m *Manager) SetMode(mode BundleMode) {
	m.mode.SetMode(mode)
}

// GetUserOperationReceipt is the public entry point for the Receipt
// Reconstructor.
func (m *Manager) GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash, entryPoint common.Address) (*Receipt, error) {
	return m.getUserOperationReceipt(ctx, userOpHash, entryPoint)
}

// Shutdown stops the mode timer, any active block subscription, and any
// frontrun watchers still waiting on a later block. Their lifetime is
// normally scoped to a single transition, but process teardown must not
// leave them running past the manager that owns them.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mode.Shutdown(ctx)
	m.blockWatcher.Stop()

	m.frontrunMu.Lock()
	subs := make([]Subscription, 0, len(m.frontrunSubs))
	for sub := range m.frontrunSubs {
		subs = append(subs, sub)
	}
	m.frontrunMu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (m *Manager) trackFrontrunWatcher(sub Subscription) {
	m.frontrunMu.Lock()
	defer m.frontrunMu.Unlock()
	m.frontrunSubs[sub] = struct{}{}
}

func (m *Manager) untrackFrontrunWatcher(sub Subscription) {
	m.frontrunMu.Lock()
	defer m.frontrunMu.Unlock()
	delete(m.frontrunSubs, sub)
}
