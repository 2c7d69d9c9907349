// Package main provides the entry point for the ovpnd tunnel daemon.
//
// The daemon runs privileged (typically as a systemd service), drives
// the OpenVPN client engine through the session controller, and serves
// control requests from unprivileged clients over a UNIX socket using
// JSON messages.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tunnelbridge/ovpnd/internal/config"
	"github.com/tunnelbridge/ovpnd/internal/control"
	"github.com/tunnelbridge/ovpnd/internal/engine/openvpn"
	"github.com/tunnelbridge/ovpnd/internal/keyring"
	"github.com/tunnelbridge/ovpnd/internal/provider"
)

const defaultConfigPath = "/etc/ovpnd/config.yaml"

var (
	version = "dev"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to the daemon configuration file")
	socketPath := flag.String("socket", control.DefaultSocketPath, "Path to the UNIX socket")
	openvpnPath := flag.String("openvpn", "", "Path to the OpenVPN binary (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ovpnd %s\n", version)
		os.Exit(0)
	}

	// Daemon-level logging; session logging is reconfigured per start.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("Starting ovpnd", "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *socketPath != control.DefaultSocketPath || cfg.SocketPath == "" {
		cfg.SocketPath = *socketPath
	}
	if *openvpnPath != "" {
		cfg.OpenVPNPath = *openvpnPath
	}

	if _, err := exec.LookPath(cfg.OpenVPNPath); err != nil {
		slog.Error("OpenVPN binary not found", "path", cfg.OpenVPNPath, "error", err)
		os.Exit(1)
	}

	eng := openvpn.NewAdapter(cfg.OpenVPNPath)
	controller := provider.NewController(eng, keyring.NewSystemKeyring(), provider.Options{
		LogDir: cfg.LogDir,
	})

	// Thread-safe broadcaster so the manager can be created before the
	// server exists.
	broadcaster := &safeBroadcaster{}

	mgr := control.NewManager(controller, broadcaster.Broadcast, cfg.SnapshotPath)
	mgr.SetDefaultOptions(cfg.Options)
	srv := control.NewServerWithGroup(cfg.SocketPath, cfg.SocketGroup, mgr.HandleRequest)

	broadcaster.SetServer(srv)

	if err := srv.Start(); err != nil {
		slog.Error("Failed to start control server", "error", err)
		os.Exit(1)
	}

	notifySystemd("READY=1")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go watchdogLoop()

	sig := <-sigChan
	slog.Info("Received shutdown signal", "signal", sig)

	notifySystemd("STOPPING=1")

	// Graceful shutdown: stop any active session, then the server.
	mgr.Shutdown()
	if err := srv.Stop(); err != nil {
		slog.Warn("Failed to stop control server", "error", err)
	}

	slog.Info("Shutdown complete")
}

// notifySystemd sends a notification to systemd.
func notifySystemd(state string) {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return
	}

	conn, err := syscall.Socket(syscall.AF_UNIX, syscall.SOCK_DGRAM, 0)
	if err != nil {
		slog.Warn("Failed to create notify socket", "error", err)
		return
	}
	defer syscall.Close(conn)

	addr := &syscall.SockaddrUnix{Name: socketPath}
	if err := syscall.Sendto(conn, []byte(state), 0, addr); err != nil {
		slog.Warn("Failed to notify systemd", "error", err)
	}
}

// watchdogLoop sends periodic watchdog notifications to systemd.
func watchdogLoop() {
	watchdogUsec := os.Getenv("WATCHDOG_USEC")
	if watchdogUsec == "" {
		return
	}

	var usec int64
	if _, err := fmt.Sscanf(watchdogUsec, "%d", &usec); err != nil {
		slog.Warn("Invalid WATCHDOG_USEC", "value", watchdogUsec)
		return
	}

	// Notify at half the watchdog interval.
	interval := usec / 2

	for {
		syscall.Select(0, nil, nil, nil, &syscall.Timeval{
			Sec:  interval / 1000000,
			Usec: interval % 1000000,
		})
		notifySystemd("WATCHDOG=1")
	}
}

// safeBroadcaster provides thread-safe event broadcasting to clients.
// This avoids a race during initialization where the server might not
// be set yet when events are broadcast.
type safeBroadcaster struct {
	mu  sync.RWMutex
	srv *control.Server
}

// SetServer sets the server for broadcasting.
func (b *safeBroadcaster) SetServer(srv *control.Server) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.srv = srv
}

// Broadcast sends an event to all connected clients.
func (b *safeBroadcaster) Broadcast(event *control.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.srv != nil {
		b.srv.Broadcast(event)
	}
}
