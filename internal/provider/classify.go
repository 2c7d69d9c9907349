package provider

import (
	"errors"

	"github.com/tunnelbridge/ovpnd/internal/engine"
)

// nativeKinds maps engine-native codes to provider kinds.
var nativeKinds = map[engine.NativeCode]Kind{
	engine.CodeCryptoRandomGenerator: KindEncryptionInitialization,
	engine.CodeCryptoAlgorithm:       KindEncryptionInitialization,

	engine.CodeCryptoEncryption: KindEncryptionData,
	engine.CodeCryptoHMAC:       KindEncryptionData,

	engine.CodeTLSCARead:                KindTLSInitialization,
	engine.CodeTLSCAUse:                 KindTLSInitialization,
	engine.CodeTLSCAPeerVerification:    KindTLSInitialization,
	engine.CodeTLSClientCertificateRead: KindTLSInitialization,
	engine.CodeTLSClientCertificateUse:  KindTLSInitialization,
	engine.CodeTLSClientKeyRead:         KindTLSInitialization,
	engine.CodeTLSClientKeyUse:          KindTLSInitialization,

	engine.CodeTLSServerCertificate: KindTLSServerVerification,
	engine.CodeTLSServerEKU:         KindTLSServerVerification,
	engine.CodeTLSServerHost:        KindTLSServerVerification,

	engine.CodeTLSHandshake: KindTLSHandshake,

	engine.CodeDataPathOverflow:       KindUnexpectedReply,
	engine.CodeDataPathPeerIDMismatch: KindUnexpectedReply,

	engine.CodeDataPathCompression: KindServerCompression,
}

// sessionKinds maps engine session-level reasons to provider kinds.
var sessionKinds = map[engine.SessionReason]Kind{
	engine.ReasonNegotiationTimeout:  KindTimeout,
	engine.ReasonPingTimeout:         KindTimeout,
	engine.ReasonStaleSession:        KindTimeout,
	engine.ReasonAuthFailed:          KindAuthentication,
	engine.ReasonCompressionMismatch: KindServerCompression,
	engine.ReasonLinkWrite:           KindLinkError,
	engine.ReasonRouting:             KindRouting,
	engine.ReasonServerShutdown:      KindServerShutdown,
}

// Classify maps an engine error into the closed provider taxonomy.
//
// Dispatch is two-tier: engine-native typed codes first, then the
// session-level error type. The order matters — conditions like a
// compression mismatch exist at both layers and carry different codes.
// Errors that are already classified pass through unchanged. The
// function is total: a typed-but-unrecognized error becomes
// KindUnexpectedReply, anything else KindLinkError.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ne *engine.NativeError
	if errors.As(err, &ne) {
		if kind, ok := nativeKinds[ne.Code]; ok {
			return NewError(kind, err)
		}
		return NewError(KindUnexpectedReply, err)
	}

	var se *engine.SessionError
	if errors.As(err, &se) {
		if kind, ok := sessionKinds[se.Reason]; ok {
			return NewError(kind, err)
		}
		return NewError(KindUnexpectedReply, err)
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	return NewError(KindLinkError, err)
}
