// Package main provides ovpnctl, a command-line client for the ovpnd
// tunnel daemon.
//
// Usage:
//
//	ovpnctl start [-options file.yaml] [-watch]
//	ovpnctl stop [-reason text]
//	ovpnctl status
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/tunnelbridge/ovpnd/internal/control"
)

func main() {
	socketPath := flag.String("socket", control.DefaultSocketPath, "Path to the daemon UNIX socket")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	if !control.IsDaemonAvailableAt(*socketPath) {
		fmt.Fprintf(os.Stderr, "ovpnctl: daemon not reachable at %s\n", *socketPath)
		os.Exit(1)
	}

	client, err := control.DialPath(*socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ovpnctl: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	var cmdErr error
	switch args[0] {
	case "start":
		cmdErr = runStart(client, args[1:])
	case "stop":
		cmdErr = runStop(client, args[1:])
	case "status":
		cmdErr = runStatus(client)
	default:
		fmt.Fprintf(os.Stderr, "ovpnctl: unknown command %q\n", args[0])
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "ovpnctl: %v\n", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ovpnctl [-socket path] <command>

Commands:
  start [-options file.yaml] [-watch]   Start a tunnel session
  stop [-reason text]                   Stop the active session
  status                                Show the current session status
`)
}

// runStart starts a session. With no options file the daemon applies
// its configured defaults.
func runStart(client *control.Client, args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	optionsPath := fs.String("options", "", "YAML file with session options")
	watch := fs.Bool("watch", false, "Stay connected and print session events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var options map[string]any
	if *optionsPath != "" {
		data, err := os.ReadFile(*optionsPath)
		if err != nil {
			return fmt.Errorf("failed to read options file: %w", err)
		}
		if err := yaml.Unmarshal(data, &options); err != nil {
			return fmt.Errorf("failed to parse options file: %w", err)
		}
	}

	if *watch {
		client.OnEvent(printEvent)
	}

	if err := client.Start(options); err != nil {
		return err
	}
	fmt.Println("session started")

	if *watch {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
	}
	return nil
}

func runStop(client *control.Client, args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	reason := fs.String("reason", "", "Reason recorded in the session log")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := client.Stop(*reason); err != nil {
		return err
	}
	fmt.Println("session stopped")
	return nil
}

func runStatus(client *control.Client) error {
	status, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Printf("state: %s\n", status.State)
	if status.LastError != "" {
		fmt.Printf("last error: %s\n", status.LastError)
	}
	if cfg := status.ServerConfiguration; cfg != nil {
		fmt.Printf("remote: %s\n", cfg.RemoteAddress)
		if cfg.TunnelAddress != "" {
			fmt.Printf("tunnel address: %s\n", cfg.TunnelAddress)
		}
		if cfg.Gateway != "" {
			fmt.Printf("gateway: %s\n", cfg.Gateway)
		}
		for _, dns := range cfg.DNSServers {
			fmt.Printf("dns: %s\n", dns)
		}
		if cfg.MTU > 0 {
			fmt.Printf("mtu: %d\n", cfg.MTU)
		}
	}
	if dc := status.DataCount; dc != nil {
		fmt.Printf("bytes in: %d\n", dc.BytesIn)
		fmt.Printf("bytes out: %d\n", dc.BytesOut)
	}
	if status.DebugLogPath != "" {
		fmt.Printf("debug log: %s\n", status.DebugLogPath)
	}
	return nil
}

func printEvent(event *control.Event) {
	fmt.Printf("event %s: %s\n", event.Name, string(event.Data))
}
