package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tunnelbridge/ovpnd/internal/engine"
	"github.com/tunnelbridge/ovpnd/internal/logging"
	"github.com/tunnelbridge/ovpnd/internal/stats"
)

// StartCompletion is invoked exactly once per Start call. err carries
// the raw, engine-native failure; the published state carries the
// classified one.
type StartCompletion func(err error)

// StopCompletion is invoked exactly once per Stop call.
type StopCompletion func()

// Options configures a Controller.
type Options struct {
	// LogDir is the directory for the session debug log. Empty
	// disables log sink configuration (useful in tests).
	LogDir string
	// PostStopHook runs after a stop completion has been delivered.
	// Host environments that must exit the process to release the
	// network interface install their policy here; nil means none.
	PostStopHook func()
}

// Controller drives the session lifecycle against the protocol engine:
// configuration validation, credential resolution, log sink setup,
// start/stop orchestration, and counter polling. It implements
// engine.Delegate.
//
// All state mutations funnel through the controller's mutex; host
// Start/Stop calls and engine delegate callbacks may interleave
// freely. Start and Stop never block the caller beyond their
// synchronous validation phase.
type Controller struct {
	engine  engine.Engine
	secrets SecretStore
	opts    Options

	published *PublishedState

	// opMu serializes the synchronous phase of Start/Stop so two
	// concurrent hosts cannot both pass the state gate.
	opMu sync.Mutex

	mu            sync.Mutex
	state         SessionState
	cfg           *Configuration
	counting      bool
	poller        *stats.Poller
	logSink       *logging.Sink
	onStateChange func(old, new SessionState)
	onDataCount   func(dc *engine.DataCount)
}

// NewController creates a controller for the given engine and secret
// store. The controller installs itself as the engine's delegate.
func NewController(eng engine.Engine, secrets SecretStore, opts Options) *Controller {
	c := &Controller{
		engine:    eng,
		secrets:   secrets,
		opts:      opts,
		published: &PublishedState{},
		state:     StateIdle,
	}
	eng.SetDelegate(c)
	return c
}

// State returns the current session state.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Published returns the host-visible state surface.
func (c *Controller) Published() *PublishedState {
	return c.published
}

// OnStateChange registers a callback for state transitions. The
// callback runs outside the controller's locks.
func (c *Controller) OnStateChange(callback func(old, new SessionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = callback
}

// OnDataCount registers a callback invoked for every published
// counter sample; nil samples mean the session is not counting. The
// callback runs on the poller goroutine.
func (c *Controller) OnDataCount(callback func(dc *engine.DataCount)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDataCount = callback
}

// setState transitions to a new state if the transition is valid.
// The state change callback is invoked outside the lock to prevent
// deadlocks.
func (c *Controller) setState(newState SessionState) error {
	c.mu.Lock()
	if !IsValidTransition(c.state, newState) {
		c.mu.Unlock()
		return fmt.Errorf("invalid state transition from %s to %s", c.state, newState)
	}
	oldState := c.state
	c.state = newState
	callback := c.onStateChange
	c.mu.Unlock()

	if callback != nil {
		callback(oldState, newState)
	}
	return nil
}

// Start validates the raw options, resolves credentials, configures
// the log sinks, and starts the engine. completion is invoked exactly
// once on every code path. Configuration and credential failures are
// reported without any state transition.
func (c *Controller) Start(raw map[string]any, completion StartCompletion) {
	if completion == nil {
		completion = func(error) {}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.State().CanStart() {
		completion(NewError(KindAlreadyActive, nil))
		return
	}

	cfg, err := LoadConfiguration(raw)
	if err != nil {
		completion(err)
		return
	}

	// Tunables are applied in one explicit step per session, never as
	// piecemeal property writes after the engine has started.
	c.engine.ApplyTunables(cfg.Tunables())

	username, err := stringValue(raw, keyUsername)
	if err != nil {
		completion(err)
		return
	}
	secretRef, err := stringValue(raw, keyPasswordReference)
	if err != nil {
		completion(err)
		return
	}
	creds, err := ResolveCredentials(c.secrets, username, secretRef)
	if err != nil {
		completion(err)
		return
	}

	if c.opts.LogDir != "" {
		if err := c.configureLogging(cfg); err != nil {
			completion(err)
			return
		}
	}

	if err := c.setState(StateStarting); err != nil {
		completion(NewError(KindAlreadyActive, err))
		return
	}
	c.published.SetLastError(nil)
	c.published.SetServerConfiguration(nil)

	interval := cfg.DataCountInterval
	poller := stats.NewPoller(interval, c.sampleDataCount, c.publishDataCount)

	c.mu.Lock()
	c.cfg = cfg
	c.poller = poller
	c.mu.Unlock()

	slog.Info("Starting tunnel session", "server", cfg.ServerAddress, "debug", cfg.Debug)

	c.engine.Start(cfg.ServerAddress, creds, func(startErr error) {
		if startErr == nil {
			c.mu.Lock()
			c.counting = true
			c.mu.Unlock()
			if err := c.setState(StateRunning); err != nil {
				slog.Warn("Failed to transition to running state", "error", err)
			}
			poller.Start()
		} else {
			c.published.SetServerConfiguration(nil)
			c.published.SetLastError(Classify(startErr))
			if err := c.setState(StateStopped); err != nil {
				slog.Warn("Failed to transition to stopped state", "error", err)
			}
		}
		completion(startErr)
	})
}

// configureLogging installs the session log sinks and publishes the
// debug log path. The previous session's file handle, if any, is
// released first so repeated cycles hold exactly one handle.
func (c *Controller) configureLogging(cfg *Configuration) error {
	c.mu.Lock()
	prev := c.logSink
	c.mu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			slog.Warn("Failed to close previous log sink", "error", err)
		}
	}

	sink, err := logging.Configure(logging.Options{
		Debug:  cfg.Debug,
		Format: cfg.DebugLogFormat,
		Dir:    c.opts.LogDir,
	})
	if err != nil {
		return fmt.Errorf("failed to configure session logging: %w", err)
	}

	c.mu.Lock()
	c.logSink = sink
	c.mu.Unlock()
	c.published.SetDebugLogPath(sink.Path())
	return nil
}

// Stop tears the session down. Stopping an inactive session is an
// idempotent no-op that still invokes completion. The injected
// post-stop hook, if any, runs after the completion has been
// delivered.
func (c *Controller) Stop(reason string, completion StopCompletion) {
	if completion == nil {
		completion = func() {}
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.State().CanStop() {
		completion()
		return
	}

	slog.Info("Stopping tunnel session", "reason", reason)

	c.published.SetLastError(nil)
	if err := c.setState(StateStopping); err != nil {
		slog.Warn("Failed to transition to stopping state", "error", err)
	}

	c.engine.Stop(func() {
		c.mu.Lock()
		c.counting = false
		poller := c.poller
		c.mu.Unlock()

		if poller != nil {
			poller.Cancel()
		}
		c.published.SetDataCount(nil)

		if err := c.setState(StateStopped); err != nil {
			slog.Warn("Failed to transition to stopped state", "error", err)
		}
		completion()

		if c.opts.PostStopHook != nil {
			c.opts.PostStopHook()
		}
	})
}

// SessionWillStart implements engine.Delegate.
func (c *Controller) SessionWillStart() {
	c.published.SetServerConfiguration(nil)
	c.published.SetLastError(nil)
	c.pollNow()
}

// SessionDidStart implements engine.Delegate.
func (c *Controller) SessionDidStart(cfg engine.ServerConfiguration) {
	c.published.SetServerConfiguration(&cfg)
	c.pollNow()
	slog.Info("Session established", "remote", cfg.RemoteAddress)
}

// SessionDidStop implements engine.Delegate. A non-nil err is
// classified and published; it persists until the next successful
// start clears it.
func (c *Controller) SessionDidStop(err error) {
	c.published.SetServerConfiguration(nil)

	c.mu.Lock()
	c.counting = false
	c.mu.Unlock()
	c.pollNow()

	if err != nil {
		classified := Classify(err)
		c.published.SetLastError(classified)
		slog.Warn("Session stopped with error", "kind", classified.Kind, "error", err)
	}
}

// pollNow triggers one immediate counter sample, outside the poller's
// timer schedule.
func (c *Controller) pollNow() {
	c.mu.Lock()
	poller := c.poller
	c.mu.Unlock()
	if poller != nil {
		poller.TickNow()
	}
}

// sampleDataCount reads the engine counters while the session is
// actively counting.
func (c *Controller) sampleDataCount() (engine.DataCount, bool) {
	c.mu.Lock()
	counting := c.counting
	c.mu.Unlock()
	if !counting {
		return engine.DataCount{}, false
	}
	return c.engine.DataCount()
}

func (c *Controller) publishDataCount(dc *engine.DataCount) {
	c.published.SetDataCount(dc)

	c.mu.Lock()
	callback := c.onDataCount
	c.mu.Unlock()
	if callback != nil {
		callback(dc)
	}
}
