package executor

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeMempool is an in-memory stand-in for the Mempool collaborator,
// enough to drive the executor's state machine through a test.
type fakeMempool struct {
	mu         sync.Mutex
	pending    []*UserOperationInfo
	processing map[common.Hash]*UserOperationInfo
	submitted  map[common.Hash]*SubmittedUserOperation
	added      []*UserOperationInfo
}

func newFakeMempool(ops ...*UserOperationInfo) *fakeMempool {
	return &fakeMempool{
		pending:    ops,
		processing: map[common.Hash]*UserOperationInfo{},
		submitted:  map[common.Hash]*SubmittedUserOperation{},
	}
}

func (f *fakeMempool) Process(ctx context.Context, maxGas uint64, minCount int) ([]*UserOperationInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	batch := f.pending
	f.pending = nil
	for _, op := range batch {
		f.processing[op.UserOpHash] = op
	}
	return batch, nil
}

func (f *fakeMempool) DumpSubmittedOps(ctx context.Context) ([]*SubmittedUserOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*SubmittedUserOperation, 0, len(f.submitted))
	for _, su := range f.submitted {
		out = append(out, su)
	}
	return out, nil
}

func (f *fakeMempool) MarkSubmitted(ctx context.Context, opHash common.Hash, txInfo *TransactionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	op := f.processing[opHash]
	delete(f.processing, opHash)
	f.submitted[opHash] = &SubmittedUserOperation{UserOperationInfo: op, TransactionInfo: txInfo}
	return nil
}

func (f *fakeMempool) RemoveProcessing(ctx context.Context, opHash common.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.processing, opHash)
	return nil
}

func (f *fakeMempool) RemoveSubmitted(ctx context.Context, opHash common.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.submitted, opHash)
	return nil
}

func (f *fakeMempool) ReplaceSubmitted(ctx context.Context, opInfo *UserOperationInfo, newTxInfo *TransactionInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted[opInfo.UserOpHash] = &SubmittedUserOperation{UserOperationInfo: opInfo, TransactionInfo: newTxInfo}
	return nil
}

func (f *fakeMempool) Add(ctx context.Context, opInfo *UserOperationInfo, entryPoint common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, opInfo)
	f.pending = append(f.pending, opInfo)
	return nil
}

// fakeExecutor lets each test script its bundle/replace responses.
type fakeExecutor struct {
	mu                sync.Mutex
	bundleFn          func(entryPoint common.Address, ops []*UserOperationInfo) ([]*BundleResult, error)
	replaceFn         func(txInfo *TransactionInfo) (*ReplaceResult, error)
	processedWallets  []common.Address
}

func (f *fakeExecutor) Bundle(ctx context.Context, entryPoint common.Address, ops []*UserOperationInfo) ([]*BundleResult, error) {
	return f.bundleFn(entryPoint, ops)
}

func (f *fakeExecutor) BundleCompressed(ctx context.Context, entryPoint common.Address, ops []*UserOperationInfo) ([]*BundleResult, error) {
	return f.bundleFn(entryPoint, ops)
}

func (f *fakeExecutor) ReplaceTransaction(ctx context.Context, txInfo *TransactionInfo) (*ReplaceResult, error) {
	return f.replaceFn(txInfo)
}

func (f *fakeExecutor) MarkWalletProcessed(executor common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processedWallets = append(f.processedWallets, executor)
}

type fakeGasOracle struct {
	price *GasPrice
	err   error
}

func (f *fakeGasOracle) GetGasPrice(ctx context.Context) (*GasPrice, error) {
	return f.price, f.err
}

type fakeReputation struct {
	mu      sync.Mutex
	updates int
}

func (f *fakeReputation) UpdateUserOperationIncludedStatus(ctx context.Context, op *UserOperationInfo, entryPoint common.Address, accountDeployed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
}

type fakeMonitor struct {
	mu       sync.Mutex
	statuses map[common.Hash]MonitorStatus
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{statuses: map[common.Hash]MonitorStatus{}}
}

func (f *fakeMonitor) SetUserOperationStatus(ctx context.Context, opHash common.Hash, status MonitorStatus, transactionHash *common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[opHash] = status
}

type fakeEvents struct {
	mu                 sync.Mutex
	dropped            int
	includedOnChain    int
	revertedOnChain    int
	failedOnChain      int
	frontranOnChain    int
}

func (f *fakeEvents) EmitDropped(ctx context.Context, op *UserOperationInfo, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped++
}
func (f *fakeEvents) EmitIncludedOnChain(ctx context.Context, op *UserOperationInfo, txHash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.includedOnChain++
}
func (f *fakeEvents) EmitExecutionRevertedOnChain(ctx context.Context, op *UserOperationInfo, txHash common.Hash, revertReason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revertedOnChain++
}
func (f *fakeEvents) EmitFailedOnChain(ctx context.Context, op *UserOperationInfo, txHash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedOnChain++
}
func (f *fakeEvents) EmitFrontranOnChain(ctx context.Context, op *UserOperationInfo, txHash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frontranOnChain++
}

// fakeSubscription is a Subscription handle that closes its error channel
// on Unsubscribe, so any goroutine parked on Err() can observe termination
// instead of leaking for the rest of the test binary's life.
type fakeSubscription struct {
	once  sync.Once
	errCh chan error
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error)}
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}
func (s *fakeSubscription) Err() <-chan error {
	return s.errCh
}

// fakeEVMClient scripts block-status and log responses per test.
type fakeEVMClient struct {
	mu                      sync.Mutex
	bundleStatus            map[common.Hash]*BundleStatus
	blockNumber             uint64
	logs                    []types.Log
	receipts                map[common.Hash]*types.Receipt
	watchBlockNumberHandler func(blockNumber uint64)
	watchBlockNumberSub     *fakeSubscription
}

func newFakeEVMClient() *fakeEVMClient {
	return &fakeEVMClient{
		bundleStatus: map[common.Hash]*BundleStatus{},
		receipts:     map[common.Hash]*types.Receipt{},
	}
}

func (c *fakeEVMClient) WatchBlocks(ctx context.Context, pollingInterval int64, emitMissed, includeTransactions bool, handler func(blockNumber uint64)) (Subscription, error) {
	return newFakeSubscription(), nil
}

// WatchBlockNumber records handler instead of calling it: tests drive the
// watcher by calling triggerBlockNumber once they have set up whatever
// receipt/bundle-status fixtures the handler's lookup needs.
func (c *fakeEVMClient) WatchBlockNumber(ctx context.Context, handler func(blockNumber uint64)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchBlockNumberHandler = handler
	c.watchBlockNumberSub = newFakeSubscription()
	return c.watchBlockNumberSub, nil
}

// triggerBlockNumber invokes the handler passed to the most recent
// WatchBlockNumber call, the way a real subscription would on observing a
// new block. It panics if no handler was ever registered, since that means
// the test set up a watcher incorrectly.
func (c *fakeEVMClient) triggerBlockNumber(blockNumber uint64) {
	c.mu.Lock()
	handler := c.watchBlockNumberHandler
	c.mu.Unlock()
	if handler == nil {
		panic("triggerBlockNumber called with no WatchBlockNumber handler registered")
	}
	handler(blockNumber)
}

func (c *fakeEVMClient) GetBundleStatus(ctx context.Context, entryPoint common.Address, txHash common.Hash) (*BundleStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.bundleStatus[txHash]; ok {
		return s, nil
	}
	return &BundleStatus{Kind: StatusNotFound}, nil
}

func (c *fakeEVMClient) GetLogs(ctx context.Context, addresses []common.Address, topics [][]common.Hash, fromBlock, toBlock *big.Int) ([]types.Log, error) {
	return c.logs, nil
}

func (c *fakeEVMClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ErrReceiptNotFound
}

func (c *fakeEVMClient) GetTransaction(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, nil
}

func (c *fakeEVMClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockNumber, nil
}

func testManager(t *testing.T, mempool Mempool, ex Executor, client EVMClient) (*Manager, *fakeMonitor, *fakeEvents) {
	t.Helper()
	monitor := newFakeMonitor()
	events := &fakeEvents{}
	cfg := DefaultConfig
	cfg.EntryPoints = []common.Address{common.HexToAddress("0xE1")}
	m := New(cfg, Deps{
		Mempool:        mempool,
		Executor:       ex,
		GasPriceOracle: &fakeGasOracle{price: &GasPrice{MaxFeePerGas: big.NewInt(0), MaxPriorityFeePerGas: big.NewInt(0)}},
		Reputation:     &fakeReputation{},
		Monitor:        monitor,
		Events:         events,
		Client:         client,
	}, nil)
	m.SetMode(ModeManual)
	return m, monitor, events
}
