// Package stats provides periodic sampling of tunnel data counters.
package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tunnelbridge/ovpnd/internal/engine"
)

// DefaultInterval is the poll interval used when the host supplies none.
const DefaultInterval = 3 * time.Second

// SampleFunc reads the current counters. ok is false when the session
// is not actively counting or the sample is unavailable.
type SampleFunc func() (dc engine.DataCount, ok bool)

// PublishFunc receives each sample. A nil count means "not counting".
// It is invoked from the polling goroutine, or from the caller's
// goroutine for on-demand ticks.
type PublishFunc func(dc *engine.DataCount)

// Poller periodically samples data counters and publishes the result.
// A non-positive interval disables the timer entirely; TickNow still
// works for on-demand samples.
type Poller struct {
	interval time.Duration
	sample   SampleFunc
	publish  PublishFunc

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a poller. interval <= 0 means polling is disabled.
func NewPoller(interval time.Duration, sample SampleFunc, publish PublishFunc) *Poller {
	return &Poller{
		interval: interval,
		sample:   sample,
		publish:  publish,
	}
}

// Start begins periodic sampling. It is a no-op if the interval is
// non-positive or the poller is already running.
func (p *Poller) Start() {
	if p.interval <= 0 {
		return
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})
	stop := p.stopChan
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(stop)

	slog.Debug("Data count poller started", "interval", p.interval)
}

// Cancel stops periodic sampling. It blocks until the polling
// goroutine has exited, so no publish can happen after it returns.
// Safe to call from any goroutine and idempotent.
func (p *Poller) Cancel() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()

	slog.Debug("Data count poller cancelled")
}

// IsRunning returns true while the polling loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// TickNow performs a single sample-and-publish on the calling
// goroutine, independent of the timer. Used for session lifecycle
// edges where observers expect a fresh count immediately.
func (p *Poller) TickNow() {
	p.tick()
}

func (p *Poller) loop(stop <-chan struct{}) {
	defer p.wg.Done()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			// Rearm before sampling so a cancel during a slow sample
			// still deterministically stops future ticks.
			timer.Reset(p.interval)
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	dc, ok := p.sample()
	if !ok {
		p.publish(nil)
		return
	}
	p.publish(&dc)
}
