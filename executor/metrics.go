package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

// Metric names and grouping follow preconf/metrics.go's style: package-level
// registered gauges/meters/timers, updated through small helper funcs rather
// than touched directly by callers.
var (
	bundlesSubmittedSuccessMeter = metrics.NewRegisteredMeter("executor/bundlesSubmitted/success", nil)
	bundlesSubmittedFailedMeter  = metrics.NewRegisteredMeter("executor/bundlesSubmitted/failed", nil)

	userOpsSubmittedSuccessMeter  = metrics.NewRegisteredMeter("executor/userOperationsSubmitted/success", nil)
	userOpsSubmittedFailedMeter   = metrics.NewRegisteredMeter("executor/userOperationsSubmitted/failed", nil)
	userOpsSubmittedFilteredMeter = metrics.NewRegisteredMeter("executor/userOperationsSubmitted/filtered", nil)

	userOpsResubmittedMeter = metrics.NewRegisteredMeter("executor/userOperationsResubmitted", nil)

	userOpsOnChainIncludedMeter = metrics.NewRegisteredMeter("executor/userOperationsOnChain/included", nil)
	userOpsOnChainRejectedMeter = metrics.NewRegisteredMeter("executor/userOperationsOnChain/rejected", nil)
	userOpsOnChainFrontranMeter = metrics.NewRegisteredMeter("executor/userOperationsOnChain/frontran", nil)
	userOpsOnChainPendingMeter  = metrics.NewRegisteredMeter("executor/userOperationsOnChain/pending", nil)

	userOperationInclusionDurationTimer = metrics.NewRegisteredTimer("executor/userOperationInclusionDuration", nil)

	replacedTransactionsMu     sync.Mutex
	replacedTransactionsMeters = map[string]map[string]metrics.Meter{}
)

// replacedTransactionsMeter is called concurrently: the block handler can
// run AA95 replacements for several Transaction Infos in the same tick,
// each from its own status-refresh goroutine, so the lazy map population
// here needs the same mutex-guarded-map treatment
// core/txpool/locals/preconf_tx_tracker.go gives its tracked-transaction
// map.
func replacedTransactionsMeter(reason, status string) metrics.Meter {
	replacedTransactionsMu.Lock()
	defer replacedTransactionsMu.Unlock()

	byStatus, ok := replacedTransactionsMeters[reason]
	if !ok {
		byStatus = map[string]metrics.Meter{}
		replacedTransactionsMeters[reason] = byStatus
	}
	m, ok := byStatus[status]
	if !ok {
		m = metrics.NewRegisteredMeter(fmt.Sprintf("executor/replacedTransactions/%s/%s", reason, status), nil)
		byStatus[status] = m
	}
	return m
}

func metricBundleSubmitted(success bool) {
	if success {
		bundlesSubmittedSuccessMeter.Mark(1)
	} else {
		bundlesSubmittedFailedMeter.Mark(1)
	}
}

func metricUserOperationsSubmitted(status string, count int64) {
	if count <= 0 {
		return
	}
	switch status {
	case "success":
		userOpsSubmittedSuccessMeter.Mark(count)
	case "failed":
		userOpsSubmittedFailedMeter.Mark(count)
	case "filtered":
		userOpsSubmittedFilteredMeter.Mark(count)
	}
}

func metricUserOperationsResubmitted(count int64) {
	userOpsResubmittedMeter.Mark(count)
}

func metricUserOperationsOnChain(status string, count int64) {
	if count <= 0 {
		return
	}
	switch status {
	case "included":
		userOpsOnChainIncludedMeter.Mark(count)
	case "rejected":
		userOpsOnChainRejectedMeter.Mark(count)
	case "frontran":
		userOpsOnChainFrontranMeter.Mark(count)
	case "pending":
		userOpsOnChainPendingMeter.Mark(count)
	}
}

func metricUserOperationInclusionDuration(firstSubmitted time.Time) {
	userOperationInclusionDurationTimer.Update(time.Since(firstSubmitted))
}

func metricReplacedTransaction(reason, status string) {
	replacedTransactionsMeter(reason, status).Mark(1)
}
