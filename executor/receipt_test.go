package executor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packUserOperationEventData(t *testing.T, nonce *big.Int, success bool, gasCost, gasUsed *big.Int) []byte {
	t.Helper()
	data, err := userOperationEventArgs.Pack(nonce, success, gasCost, gasUsed)
	require.NoError(t, err)
	return data
}

func userOperationEventLog(entryPoint common.Address, userOpHash common.Hash, sender, paymaster common.Address, nonce *big.Int, success bool) types.Log {
	return types.Log{
		Address: entryPoint,
		Topics: []common.Hash{
			userOperationEventTopic0,
			userOpHash,
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(paymaster.Bytes()),
		},
	}
}

func TestGetUserOperationReceipt_NoMatchesReturnsNil(t *testing.T) {
	client := newFakeEVMClient()
	mp := newFakeMempool()
	m, _, _ := testManager(t, mp, &fakeExecutor{}, client)
	defer m.Shutdown(context.Background())

	receipt, err := m.GetUserOperationReceipt(context.Background(), common.HexToHash("0xaa"), common.HexToAddress("0xE1"))
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestGetUserOperationReceipt_PendingWhenTxHashMissing(t *testing.T) {
	entryPoint := common.HexToAddress("0xE1")
	userOpHash := common.HexToHash("0xaa")
	sender := common.HexToAddress("0x1234")

	client := newFakeEVMClient()
	eventLog := userOperationEventLog(entryPoint, userOpHash, sender, common.Address{}, big.NewInt(1), true)
	eventLog.Data = packUserOperationEventData(t, big.NewInt(1), true, big.NewInt(100), big.NewInt(90))
	// eventLog.TxHash left zero -> pending
	client.logs = []types.Log{eventLog}

	mp := newFakeMempool()
	m, _, _ := testManager(t, mp, &fakeExecutor{}, client)
	defer m.Shutdown(context.Background())

	receipt, err := m.GetUserOperationReceipt(context.Background(), userOpHash, entryPoint)
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestGetUserOperationReceipt_SingleOpLogWindow(t *testing.T) {
	entryPoint := common.HexToAddress("0xE1")
	userOpHash := common.HexToHash("0xaa")
	sender := common.HexToAddress("0x1234")
	txHash := common.HexToHash("0xdead")

	client := newFakeEVMClient()
	eventLog := userOperationEventLog(entryPoint, userOpHash, sender, common.Address{}, big.NewInt(1), true)
	eventLog.Data = packUserOperationEventData(t, big.NewInt(1), true, big.NewInt(100), big.NewInt(90))
	eventLog.TxHash = txHash
	client.logs = []types.Log{eventLog}

	receiptEventLog := &types.Log{
		Address:     entryPoint,
		Topics:      eventLog.Topics,
		Data:        eventLog.Data,
		BlockHash:   common.HexToHash("0xblock"),
		BlockNumber: 10,
		TxHash:      txHash,
		TxIndex:     0,
		Index:       0,
	}
	client.receipts[txHash] = &types.Receipt{
		Status:    types.ReceiptStatusSuccessful,
		BlockHash: common.HexToHash("0xblock"),
		TxHash:    txHash,
		Logs:      []*types.Log{receiptEventLog},
	}

	mp := newFakeMempool()
	m, _, _ := testManager(t, mp, &fakeExecutor{}, client)
	defer m.Shutdown(context.Background())

	receipt, err := m.GetUserOperationReceipt(context.Background(), userOpHash, entryPoint)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, userOpHash, receipt.UserOpHash)
	assert.Equal(t, sender, receipt.Sender)
	assert.True(t, receipt.Success)
	assert.Empty(t, receipt.Logs, "the op is the only log in the transaction, so its window is empty")
}

func TestGetUserOperationReceipt_MultiOpSlicingAndRevertReason(t *testing.T) {
	entryPoint := common.HexToAddress("0xE1")
	hashA := common.HexToHash("0xa")
	hashB := common.HexToHash("0xb")
	hashC := common.HexToHash("0xc")
	sender := common.HexToAddress("0x1234")
	txHash := common.HexToHash("0xdead")
	blockHash := common.HexToHash("0xblock")

	eventA := &types.Log{Address: entryPoint, Topics: []common.Hash{userOperationEventTopic0, hashA, common.BytesToHash(sender.Bytes()), common.Hash{}}, Data: packUserOperationEventData(t, big.NewInt(1), true, big.NewInt(1), big.NewInt(1)), BlockHash: blockHash, BlockNumber: 10, TxHash: txHash, Index: 0}
	mid := &types.Log{Address: common.HexToAddress("0xOTHER"), Topics: []common.Hash{common.HexToHash("0xf00d")}, BlockHash: blockHash, BlockNumber: 10, TxHash: txHash, Index: 1}
	revertB, err := userOperationRevertReasonArgs.Pack(big.NewInt(2), []byte("AA23 reverted"))
	require.NoError(t, err)
	revertLog := &types.Log{Address: entryPoint, Topics: []common.Hash{userOperationRevertReasonTopic0, hashB}, Data: revertB, BlockHash: blockHash, BlockNumber: 10, TxHash: txHash, Index: 2}
	eventB := &types.Log{Address: entryPoint, Topics: []common.Hash{userOperationEventTopic0, hashB, common.BytesToHash(sender.Bytes()), common.Hash{}}, Data: packUserOperationEventData(t, big.NewInt(2), false, big.NewInt(1), big.NewInt(1)), BlockHash: blockHash, BlockNumber: 10, TxHash: txHash, Index: 3}
	eventC := &types.Log{Address: entryPoint, Topics: []common.Hash{userOperationEventTopic0, hashC, common.BytesToHash(sender.Bytes()), common.Hash{}}, Data: packUserOperationEventData(t, big.NewInt(3), true, big.NewInt(1), big.NewInt(1)), BlockHash: blockHash, BlockNumber: 10, TxHash: txHash, Index: 4}

	client := newFakeEVMClient()
	client.logs = []types.Log{*eventB}
	client.receipts[txHash] = &types.Receipt{
		Status:    types.ReceiptStatusFailed,
		BlockHash: blockHash,
		TxHash:    txHash,
		Logs:      []*types.Log{eventA, mid, revertLog, eventB, eventC},
	}

	mp := newFakeMempool()
	m, _, _ := testManager(t, mp, &fakeExecutor{}, client)
	defer m.Shutdown(context.Background())

	receipt, err := m.GetUserOperationReceipt(context.Background(), hashB, entryPoint)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	// window is (eventA, endIndex=eventB) exclusive of both -> {mid, revertLog}
	require.Len(t, receipt.Logs, 2)
	assert.Equal(t, "AA23 reverted", receipt.Reason)
	assert.False(t, receipt.Success)
}

func TestGetUserOperationReceipt_RPCMaxBlockRangeClamp(t *testing.T) {
	entryPoint := common.HexToAddress("0xE1")
	client := newFakeEVMClient()
	client.blockNumber = 5

	mp := newFakeMempool()
	m, _, _ := testManager(t, mp, &fakeExecutor{}, client)
	defer m.Shutdown(context.Background())
	rangeLimit := uint64(100)
	m.config.RPCMaxBlockRange = &rangeLimit

	from, to, err := m.receiptBlockRange(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), from.Uint64(), "range larger than current block clamps fromBlock to 0")
	assert.Equal(t, uint64(5), to.Uint64())
}

func TestFetchReceiptWithRetry_RetriesOnNotFound(t *testing.T) {
	txHash := common.HexToHash("0xdead")
	client := newFakeEVMClient()
	// receipt absent -> ErrReceiptNotFound until a goroutine inserts it
	done := make(chan struct{})
	go func() {
		client.mu.Lock()
		client.receipts[txHash] = &types.Receipt{TxHash: txHash}
		client.mu.Unlock()
		close(done)
	}()

	mp := newFakeMempool()
	m, _, _ := testManager(t, mp, &fakeExecutor{}, client)
	defer m.Shutdown(context.Background())

	receipt, err := m.fetchReceiptWithRetry(context.Background(), txHash)
	<-done
	require.NoError(t, err)
	assert.Equal(t, txHash, receipt.TxHash)
}
