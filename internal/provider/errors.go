package provider

// Kind identifies a provider-facing error. The set is closed: every
// engine failure classifies into exactly one kind, and external
// observers (host application, control clients) only ever see these.
type Kind string

const (
	// KindConfigurationMissing indicates a required configuration
	// parameter is absent or mistyped. Error.Field names it.
	KindConfigurationMissing Kind = "configuration_missing"
	// KindCredentialLookupFailed indicates the secret reference for the
	// configured username could not be resolved.
	KindCredentialLookupFailed Kind = "credential_lookup_failed"
	// KindAlreadyActive indicates a start was rejected because a
	// session is already starting or running.
	KindAlreadyActive Kind = "already_active"

	// KindEncryptionInitialization indicates the crypto layer failed to
	// set up (RNG failure, unsupported algorithm).
	KindEncryptionInitialization Kind = "encryption_initialization"
	// KindEncryptionData indicates an encryption, decryption, or MAC
	// verification failure on live traffic.
	KindEncryptionData Kind = "encryption_data"
	// KindTLSInitialization indicates CA or client certificate/key
	// material could not be read or used.
	KindTLSInitialization Kind = "tls_initialization"
	// KindTLSServerVerification indicates the server identity check
	// failed (certificate, EKU, or hostname mismatch).
	KindTLSServerVerification Kind = "tls_server_verification"
	// KindTLSHandshake indicates the TLS handshake failed.
	KindTLSHandshake Kind = "tls_handshake"
	// KindUnexpectedReply indicates the server sent something the
	// engine could not make sense of.
	KindUnexpectedReply Kind = "unexpected_reply"
	// KindServerCompression indicates a compression mismatch with the
	// server.
	KindServerCompression Kind = "server_compression"
	// KindTimeout indicates negotiation or keep-alive timed out, or the
	// session went stale.
	KindTimeout Kind = "timeout"
	// KindAuthentication indicates the server rejected the credentials.
	KindAuthentication Kind = "authentication"
	// KindLinkError indicates a failure on the transport link.
	KindLinkError Kind = "link_error"
	// KindRouting indicates no usable route was available.
	KindRouting Kind = "routing"
	// KindServerShutdown indicates the server initiated the shutdown.
	KindServerShutdown Kind = "server_shutdown"
)

// Error is a classified provider error.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind
	// Field names the offending parameter for KindConfigurationMissing.
	Field string
	// cause is the underlying engine or lookup error, if any.
	cause error
}

// NewError returns an Error of the given kind wrapping cause.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// NewMissingParameterError returns a configuration error naming the
// missing or mistyped field.
func NewMissingParameterError(field string) *Error {
	return &Error{Kind: KindConfigurationMissing, Field: field}
}

func (e *Error) Error() string {
	msg := "provider: " + string(e.Kind)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}
