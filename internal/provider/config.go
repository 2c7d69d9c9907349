package provider

import (
	"strings"
	"time"

	"github.com/tunnelbridge/ovpnd/internal/engine"
)

// Configuration is the validated, immutable settings record for one
// session. It is built once per start attempt from the host's untyped
// options map and discarded at teardown.
type Configuration struct {
	// ServerAddress is the VPN server to connect to. Required.
	ServerAddress string
	// Debug enables verbose engine and controller logging.
	Debug bool
	// DebugLogFormat is the log line format used when Debug is set.
	DebugLogFormat string
	// MasksPrivateData redacts addresses and hostnames in log output.
	MasksPrivateData bool
	// VersionIdentifier is reported to the server as the app version.
	VersionIdentifier string
	// FallbackDNS are resolvers used when the server pushes none.
	FallbackDNS []string

	// Engine tunables, all optional; zero means engine default.
	DNSTimeout        time.Duration
	SocketTimeout     time.Duration
	ShutdownTimeout   time.Duration
	ReconnectionDelay time.Duration
	// DataCountInterval is the counter poll interval; <= 0 disables
	// polling entirely.
	DataCountInterval time.Duration
}

// Option map keys. These are the host-facing names and part of the
// provider contract.
const (
	keyServerAddress     = "server_address"
	keyDebug             = "debug"
	keyDebugLogFormat    = "debug_log_format"
	keyMasksPrivateData  = "masks_private_data"
	keyVersionIdentifier = "version_identifier"
	keyFallbackDNS       = "fallback_dns"
	keyDNSTimeout        = "dns_timeout"
	keySocketTimeout     = "socket_timeout"
	keyShutdownTimeout   = "shutdown_timeout"
	keyReconnectionDelay = "reconnection_delay"
	keyDataCountInterval = "data_count_interval"
	keyUsername          = "username"
	keyPasswordReference = "password_reference"
)

// LoadConfiguration validates and decodes the host's raw options map.
// Timeouts and delays are expressed in milliseconds. Absent optional
// keys fall back to defaults; present-but-mistyped values are rejected
// with a configuration error naming the key. No side effects.
func LoadConfiguration(raw map[string]any) (*Configuration, error) {
	if len(raw) == 0 {
		return nil, NewMissingParameterError("provider_configuration")
	}

	server, err := stringValue(raw, keyServerAddress)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(server) == "" {
		return nil, NewMissingParameterError(keyServerAddress)
	}

	cfg := &Configuration{
		ServerAddress:    server,
		MasksPrivateData: true,
	}

	if cfg.Debug, err = boolValue(raw, keyDebug); err != nil {
		return nil, err
	}
	if cfg.DebugLogFormat, err = stringValue(raw, keyDebugLogFormat); err != nil {
		return nil, err
	}
	if v, ok := raw[keyMasksPrivateData]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return nil, NewMissingParameterError(keyMasksPrivateData)
		}
		cfg.MasksPrivateData = b
	}
	if cfg.VersionIdentifier, err = stringValue(raw, keyVersionIdentifier); err != nil {
		return nil, err
	}
	if cfg.FallbackDNS, err = stringListValue(raw, keyFallbackDNS); err != nil {
		return nil, err
	}

	millis := []struct {
		key  string
		dest *time.Duration
	}{
		{keyDNSTimeout, &cfg.DNSTimeout},
		{keySocketTimeout, &cfg.SocketTimeout},
		{keyShutdownTimeout, &cfg.ShutdownTimeout},
		{keyReconnectionDelay, &cfg.ReconnectionDelay},
		{keyDataCountInterval, &cfg.DataCountInterval},
	}
	for _, m := range millis {
		ms, err := intValue(raw, m.key)
		if err != nil {
			return nil, err
		}
		*m.dest = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}

// Tunables converts the configuration into the engine's knob set.
func (c *Configuration) Tunables() engine.Tunables {
	debugLevel := 0
	if c.Debug {
		debugLevel = 4
	}
	return engine.Tunables{
		AppVersion:        c.VersionIdentifier,
		DebugLevel:        debugLevel,
		MasksPrivateData:  c.MasksPrivateData,
		FallbackDNS:       c.FallbackDNS,
		DNSTimeout:        c.DNSTimeout,
		SocketTimeout:     c.SocketTimeout,
		ShutdownTimeout:   c.ShutdownTimeout,
		ReconnectionDelay: c.ReconnectionDelay,
	}
}

func stringValue(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, isString := v.(string)
	if !isString {
		return "", NewMissingParameterError(key)
	}
	return s, nil
}

func boolValue(raw map[string]any, key string) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return false, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, NewMissingParameterError(key)
	}
	return b, nil
}

// intValue tolerates the numeric types produced by JSON and YAML
// decoders; anything else present under the key is a type mismatch.
func intValue(raw map[string]any, key string) (int64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, NewMissingParameterError(key)
	}
}

func stringListValue(raw map[string]any, key string) ([]string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, isString := item.(string)
			if !isString {
				return nil, NewMissingParameterError(key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, NewMissingParameterError(key)
	}
}
