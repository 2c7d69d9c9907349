package provider

import "github.com/tunnelbridge/ovpnd/internal/engine"

// SecretStore resolves an opaque secret reference to its value. The
// keyring package provides the system implementation; tests inject
// fakes.
type SecretStore interface {
	// Resolve returns the secret for the given reference, or an error
	// if the reference does not exist or cannot be read.
	Resolve(reference string) (string, error)
}

// ResolveCredentials turns an optional username and secret reference
// into session credentials.
//
// No username means certificate-based auth: the result is nil and not
// an error. A username whose secret reference cannot be resolved is a
// credential lookup failure. The secret is read fresh on every start
// and never persisted by this package.
func ResolveCredentials(store SecretStore, username, secretRef string) (*engine.Credentials, error) {
	if username == "" {
		return nil, nil
	}
	if store == nil {
		return nil, NewError(KindCredentialLookupFailed, nil)
	}
	secret, err := store.Resolve(secretRef)
	if err != nil {
		return nil, NewError(KindCredentialLookupFailed, err)
	}
	return &engine.Credentials{Username: username, Password: secret}, nil
}
