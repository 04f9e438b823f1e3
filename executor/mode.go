package executor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// modeController owns the process-wide bundling mode and the single
// cancellable periodic tick that drives auto-bundling.
type modeController struct {
	mu     sync.Mutex
	mode   BundleMode
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}

	frequency time.Duration
	onTick    func()
	log       log.Logger
}

func newModeController(mode BundleMode, frequency time.Duration, onTick func(), logger log.Logger) *modeController {
	m := &modeController{
		mode:      mode,
		frequency: frequency,
		onTick:    onTick,
		log:       logger,
	}
	if mode == ModeAuto {
		m.startTimer()
	}
	return m
}

// Mode returns the current bundling mode.
func (m *modeController) Mode() BundleMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode switches modes. Idempotent if mode already matches.
func (m *modeController) SetMode(mode BundleMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == mode {
		return
	}
	m.mode = mode
	switch mode {
	case ModeAuto:
		m.startTimer()
	case ModeManual:
		m.stopTimer()
	}
	m.log.Info("bundle mode switched", "mode", mode.String())
}

// startTimer must be called with mu held.
func (m *modeController) startTimer() {
	if m.ticker != nil {
		return
	}
	m.ticker = time.NewTicker(m.frequency)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	ticker, stop, done, onTick := m.ticker, m.stop, m.done, m.onTick
	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				onTick()
			case <-stop:
				return
			}
		}
	}()
}

// stopTimer must be called with mu held; it blocks until the tick goroutine
// has exited so callers never observe a tick running after shutdown.
func (m *modeController) stopTimer() {
	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	done := m.done
	m.ticker = nil
	m.stop = nil
	m.done = nil
	// Release the lock while waiting so a tick already in flight (which may
	// itself want mu) cannot deadlock; the caller is about to unlock anyway,
	// but stopTimer is also invoked from Shutdown where we wait explicitly.
	m.mu.Unlock()
	<-done
	m.mu.Lock()
}

// Shutdown stops the timer if running and waits for the goroutine to exit.
func (m *modeController) Shutdown(_ context.Context) {
	m.mu.Lock()
	m.stopTimer()
	m.mu.Unlock()
}
