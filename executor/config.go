package executor

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds the executor manager's external configuration.
type Config struct {
	EntryPoints []common.Address

	// PollingInterval is the block-watch poll interval.
	PollingInterval time.Duration

	BundleMode BundleMode

	// BundlerFrequency is the auto-mode tick period.
	BundlerFrequency time.Duration

	MaxGasLimitPerBundle uint64

	// AA95ResubmitMultiplier is a percentage, e.g. 125 for +25%.
	AA95ResubmitMultiplier uint64

	// RPCMaxBlockRange bounds getLogs queries; nil means unbounded.
	RPCMaxBlockRange *uint64

	// StuckTimeout is the "stuck" replacement threshold, fixed at 5 minutes
	// by default and kept configurable here for testing.
	StuckTimeout time.Duration

	// MaxPotentiallyIncluded bounds the replacement policy's tolerance for
	// a transaction reported "potentially already included", fixed at 3 by
	// default and kept configurable here for testing.
	MaxPotentiallyIncluded int
}

// DefaultConfig mirrors the defaults a bundler operator would reach for,
// grounded on preconf.DefaultMinerConfig's style of documenting every knob
// with a concrete value rather than leaving it to zero-value surprises.
var DefaultConfig = Config{
	PollingInterval:        1 * time.Second,
	BundleMode:             ModeAuto,
	BundlerFrequency:       2 * time.Second,
	MaxGasLimitPerBundle:   5_000_000,
	AA95ResubmitMultiplier: 125,
	StuckTimeout:           5 * time.Minute,
	MaxPotentiallyIncluded: 3,
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"entryPoints=%d pollingInterval=%s bundleMode=%s bundlerFrequency=%s "+
			"maxGasLimitPerBundle=%d aa95ResubmitMultiplier=%d%% rpcMaxBlockRange=%v "+
			"stuckTimeout=%s maxPotentiallyIncluded=%d",
		len(c.EntryPoints), c.PollingInterval, c.BundleMode, c.BundlerFrequency,
		c.MaxGasLimitPerBundle, c.AA95ResubmitMultiplier, c.RPCMaxBlockRange,
		c.StuckTimeout, c.MaxPotentiallyIncluded,
	)
}

// bundleGasCap is the hard-coded per-batch gas cap the auto-mode bundling
// loop uses, distinct from BundleNow's configured MaxGasLimitPerBundle.
// The divergence is preserved rather than unified.
const bundleGasCap = 5_000_000
