package engine

import "fmt"

// NativeCode identifies an engine-native failure from the crypto, TLS,
// or data-path layers. The set mirrors the engine's own error codes and
// may grow across engine versions; consumers must treat unknown codes
// as recognized-but-unmapped rather than failing.
type NativeCode int

const (
	// CodeUnknown is a typed error the engine could not attribute.
	CodeUnknown NativeCode = iota

	// Crypto layer.
	CodeCryptoRandomGenerator
	CodeCryptoAlgorithm
	CodeCryptoEncryption
	CodeCryptoHMAC

	// TLS setup.
	CodeTLSCARead
	CodeTLSCAUse
	CodeTLSCAPeerVerification
	CodeTLSClientCertificateRead
	CodeTLSClientCertificateUse
	CodeTLSClientKeyRead
	CodeTLSClientKeyUse

	// TLS server identity.
	CodeTLSServerCertificate
	CodeTLSServerEKU
	CodeTLSServerHost

	// TLS negotiation.
	CodeTLSHandshake

	// Data path.
	CodeDataPathOverflow
	CodeDataPathPeerIDMismatch
	CodeDataPathCompression
)

var nativeCodeNames = map[NativeCode]string{
	CodeUnknown:                  "unknown",
	CodeCryptoRandomGenerator:    "crypto_random_generator",
	CodeCryptoAlgorithm:          "crypto_algorithm",
	CodeCryptoEncryption:         "crypto_encryption",
	CodeCryptoHMAC:               "crypto_hmac",
	CodeTLSCARead:                "tls_ca_read",
	CodeTLSCAUse:                 "tls_ca_use",
	CodeTLSCAPeerVerification:    "tls_ca_peer_verification",
	CodeTLSClientCertificateRead: "tls_client_certificate_read",
	CodeTLSClientCertificateUse:  "tls_client_certificate_use",
	CodeTLSClientKeyRead:         "tls_client_key_read",
	CodeTLSClientKeyUse:          "tls_client_key_use",
	CodeTLSServerCertificate:     "tls_server_certificate",
	CodeTLSServerEKU:             "tls_server_eku",
	CodeTLSServerHost:            "tls_server_host",
	CodeTLSHandshake:             "tls_handshake",
	CodeDataPathOverflow:         "data_path_overflow",
	CodeDataPathPeerIDMismatch:   "data_path_peer_id_mismatch",
	CodeDataPathCompression:      "data_path_compression",
}

// String returns the snake_case name of the code.
func (c NativeCode) String() string {
	if name, ok := nativeCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("native_code(%d)", int(c))
}

// NativeError is a typed error surfaced directly by the engine's
// crypto/TLS/data-path layers.
type NativeError struct {
	Code   NativeCode
	Detail string
}

func (e *NativeError) Error() string {
	if e.Detail == "" {
		return "engine: " + e.Code.String()
	}
	return "engine: " + e.Code.String() + ": " + e.Detail
}

// SessionReason identifies a session-level failure. Some engine
// conditions are only attributable at this layer (e.g. a timeout that
// the native code set cannot distinguish from a stale session).
type SessionReason int

const (
	// ReasonUnknown is a session error the engine could not attribute.
	ReasonUnknown SessionReason = iota
	ReasonNegotiationTimeout
	ReasonPingTimeout
	ReasonStaleSession
	ReasonAuthFailed
	ReasonCompressionMismatch
	ReasonLinkWrite
	ReasonRouting
	ReasonServerShutdown
)

var sessionReasonNames = map[SessionReason]string{
	ReasonUnknown:             "unknown",
	ReasonNegotiationTimeout:  "negotiation_timeout",
	ReasonPingTimeout:         "ping_timeout",
	ReasonStaleSession:        "stale_session",
	ReasonAuthFailed:          "auth_failed",
	ReasonCompressionMismatch: "compression_mismatch",
	ReasonLinkWrite:           "link_write",
	ReasonRouting:             "routing",
	ReasonServerShutdown:      "server_shutdown",
}

// String returns the snake_case name of the reason.
func (r SessionReason) String() string {
	if name, ok := sessionReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("session_reason(%d)", int(r))
}

// SessionError is a typed session-level error from the engine.
type SessionError struct {
	Reason SessionReason
	Detail string
}

func (e *SessionError) Error() string {
	if e.Detail == "" {
		return "engine session: " + e.Reason.String()
	}
	return "engine session: " + e.Reason.String() + ": " + e.Detail
}
