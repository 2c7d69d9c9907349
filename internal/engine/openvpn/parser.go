package openvpn

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tunnelbridge/ovpnd/internal/engine"
)

// EventType represents the type of event parsed from OpenVPN client
// output.
type EventType string

const (
	// EventConnecting indicates the client started negotiating.
	EventConnecting EventType = "connecting"
	// EventConnected indicates the initialization sequence completed.
	EventConnected EventType = "connected"
	// EventPushReply carries server-pushed tunnel configuration.
	EventPushReply EventType = "push_reply"
	// EventByteCount carries a transferred-byte counter sample.
	EventByteCount EventType = "byte_count"
	// EventError indicates a recognized failure line; Err carries the
	// typed engine error.
	EventError EventType = "error"
)

// OutputEvent represents a parsed event from OpenVPN client output.
type OutputEvent struct {
	Type    EventType
	Message string
	Data    map[string]string
	// Err is set for EventError and is always one of the engine's
	// typed errors.
	Err error
}

// GetData retrieves a data value by key, returning empty string if not
// found.
func (e *OutputEvent) GetData(key string) string {
	if e.Data == nil {
		return ""
	}
	return e.Data[key]
}

// Regex patterns for parsing OpenVPN client output.
var (
	// Matches: Initialization Sequence Completed
	initCompletePattern = regexp.MustCompile(`Initialization Sequence Completed`)

	// Matches: TCPv4_CLIENT link remote: / UDPv4 link remote: ...
	linkRemotePattern = regexp.MustCompile(`link remote: \[?AF_INET6?\]?([0-9a-fA-F.:]+)`)

	// Matches: PUSH: Received control message: 'PUSH_REPLY,...'
	pushReplyPattern = regexp.MustCompile(`PUSH: Received control message: 'PUSH_REPLY,(.+)'`)

	// Matches management-style byte counters: >BYTECOUNT:in,out
	byteCountPattern = regexp.MustCompile(`>BYTECOUNT:(\d+),(\d+)`)

	// Matches: AUTH: Received control message: AUTH_FAILED
	authFailedPattern = regexp.MustCompile(`AUTH_FAILED`)

	// Matches: TLS Error: TLS key negotiation failed to occur within 60 seconds
	negotiationTimeoutPattern = regexp.MustCompile(`TLS key negotiation failed to occur within`)

	// Matches: TLS Error: TLS handshake failed
	tlsHandshakePattern = regexp.MustCompile(`TLS Error: TLS handshake failed`)

	// Matches: VERIFY ERROR: ... / certificate verify failed
	peerVerifyPattern = regexp.MustCompile(`VERIFY ERROR|certificate verify failed`)

	// Matches: VERIFY X509NAME ERROR / VERIFY KU ERROR / VERIFY EKU ERROR
	serverEKUPattern  = regexp.MustCompile(`VERIFY (?:KU|EKU) ERROR`)
	serverHostPattern = regexp.MustCompile(`VERIFY X509NAME ERROR`)

	// Matches: Cannot load CA certificate file
	caReadPattern = regexp.MustCompile(`Cannot load CA certificate`)

	// Matches: Cannot load certificate file / private key file
	clientCertPattern = regexp.MustCompile(`Cannot load certificate file`)
	clientKeyPattern  = regexp.MustCompile(`Cannot load private key file`)

	// Matches: Inactivity timeout (--ping-restart) / (--ping-exit)
	pingTimeoutPattern = regexp.MustCompile(`Inactivity timeout \(--ping-(?:restart|exit)\)`)

	// Matches: Bad compression stub / compression mismatch complaints
	compressionPattern = regexp.MustCompile(`[Bb]ad compression stub|compression.*mismatch`)

	// Matches link write failures: write UDPv4: ... / write TCPv4_CLIENT: ...
	linkWritePattern = regexp.MustCompile(`write (?:UDP|TCP)v?\d?[^:]*: (.+)`)

	// Matches: ERROR: Linux route add command failed / add_route failures
	routingPattern = regexp.MustCompile(`route add command failed|ERROR: .*add_route`)

	// Matches: SIGTERM[soft,remote-exit] / SIGUSR1[soft,connection-reset] server side
	serverShutdownPattern = regexp.MustCompile(`remote-exit|server_shutdown`)

	// Matches: Authenticate/Decrypt packet error
	decryptErrorPattern = regexp.MustCompile(`Authenticate/Decrypt packet error`)
)

// ParseLine parses a single line of OpenVPN client output and returns
// an event if recognized. Returns nil for unrecognized lines, which
// the adapter forwards to the debug log verbatim.
func ParseLine(line string) *OutputEvent {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	if m := byteCountPattern.FindStringSubmatch(line); m != nil {
		return &OutputEvent{
			Type:    EventByteCount,
			Message: line,
			Data:    map[string]string{"in": m[1], "out": m[2]},
		}
	}

	if initCompletePattern.MatchString(line) {
		return &OutputEvent{
			Type:    EventConnected,
			Message: "Initialization Sequence Completed",
		}
	}

	if m := pushReplyPattern.FindStringSubmatch(line); m != nil {
		return &OutputEvent{
			Type:    EventPushReply,
			Message: line,
			Data:    parsePushReply(m[1]),
		}
	}

	if m := linkRemotePattern.FindStringSubmatch(line); m != nil {
		return &OutputEvent{
			Type:    EventConnecting,
			Message: line,
			Data:    map[string]string{"remote": m[1]},
		}
	}

	if err := parseErrorLine(line); err != nil {
		return &OutputEvent{
			Type:    EventError,
			Message: trimmed,
			Err:     err,
		}
	}

	return nil
}

// parseErrorLine maps recognized failure lines to typed engine errors.
// Order matters: more specific patterns are checked before the generic
// ones they overlap with.
func parseErrorLine(line string) error {
	switch {
	case authFailedPattern.MatchString(line):
		return &engine.SessionError{Reason: engine.ReasonAuthFailed, Detail: line}
	case negotiationTimeoutPattern.MatchString(line):
		return &engine.SessionError{Reason: engine.ReasonNegotiationTimeout, Detail: line}
	case tlsHandshakePattern.MatchString(line):
		return &engine.NativeError{Code: engine.CodeTLSHandshake, Detail: line}
	case serverEKUPattern.MatchString(line):
		return &engine.NativeError{Code: engine.CodeTLSServerEKU, Detail: line}
	case serverHostPattern.MatchString(line):
		return &engine.NativeError{Code: engine.CodeTLSServerHost, Detail: line}
	case peerVerifyPattern.MatchString(line):
		return &engine.NativeError{Code: engine.CodeTLSCAPeerVerification, Detail: line}
	case caReadPattern.MatchString(line):
		return &engine.NativeError{Code: engine.CodeTLSCARead, Detail: line}
	case clientCertPattern.MatchString(line):
		return &engine.NativeError{Code: engine.CodeTLSClientCertificateRead, Detail: line}
	case clientKeyPattern.MatchString(line):
		return &engine.NativeError{Code: engine.CodeTLSClientKeyRead, Detail: line}
	case pingTimeoutPattern.MatchString(line):
		return &engine.SessionError{Reason: engine.ReasonPingTimeout, Detail: line}
	case decryptErrorPattern.MatchString(line):
		return &engine.NativeError{Code: engine.CodeCryptoHMAC, Detail: line}
	case compressionPattern.MatchString(line):
		return &engine.SessionError{Reason: engine.ReasonCompressionMismatch, Detail: line}
	case routingPattern.MatchString(line):
		return &engine.SessionError{Reason: engine.ReasonRouting, Detail: line}
	case serverShutdownPattern.MatchString(line):
		return &engine.SessionError{Reason: engine.ReasonServerShutdown, Detail: line}
	case linkWritePattern.MatchString(line):
		return &engine.SessionError{Reason: engine.ReasonLinkWrite, Detail: line}
	}
	return nil
}

// parsePushReply decodes the comma-separated PUSH_REPLY option list
// into the fields the adapter reports as server configuration.
func parsePushReply(options string) map[string]string {
	data := make(map[string]string)
	var dns []string

	for _, opt := range strings.Split(options, ",") {
		fields := strings.Fields(strings.TrimSpace(opt))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "ifconfig":
			if len(fields) > 1 {
				data["tunnel_address"] = fields[1]
			}
		case "route-gateway":
			if len(fields) > 1 {
				data["gateway"] = fields[1]
			}
		case "dhcp-option":
			if len(fields) > 2 && fields[1] == "DNS" {
				dns = append(dns, fields[2])
			}
		case "tun-mtu":
			if len(fields) > 1 {
				if _, err := strconv.Atoi(fields[1]); err == nil {
					data["mtu"] = fields[1]
				}
			}
		}
	}

	if len(dns) > 0 {
		data["dns"] = strings.Join(dns, " ")
	}
	return data
}
