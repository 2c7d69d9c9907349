// Package keyring provides secret resolution backed by the system
// keyring.
package keyring

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	zkeyring "github.com/zalando/go-keyring"
)

// ServiceName is the identifier used for storing secrets in the
// system keyring.
const ServiceName = "ovpnd"

var (
	// ErrSecretNotFound is returned when a secret reference does not
	// exist in the keyring.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrInvalidReference is returned when a secret reference is not a
	// valid UUID.
	ErrInvalidReference = errors.New("invalid secret reference: must be a valid UUID")
)

// SystemKeyring resolves secret references against the system keyring.
// It satisfies provider.SecretStore.
type SystemKeyring struct{}

// NewSystemKeyring creates a new SystemKeyring instance.
func NewSystemKeyring() *SystemKeyring {
	return &SystemKeyring{}
}

// Resolve retrieves the secret for the given reference.
// Returns ErrSecretNotFound if no secret exists for the reference.
func (s *SystemKeyring) Resolve(reference string) (string, error) {
	if err := validateReference(reference); err != nil {
		return "", err
	}
	secret, err := zkeyring.Get(ServiceName, reference)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("failed to retrieve secret: %w", err)
	}
	return secret, nil
}

// Store saves a secret under the given reference. Used by host tooling
// that provisions credentials ahead of a session.
func (s *SystemKeyring) Store(reference, secret string) error {
	if err := validateReference(reference); err != nil {
		return err
	}
	if err := zkeyring.Set(ServiceName, reference, secret); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// Delete removes the secret for the given reference.
// This operation is idempotent - it does not return an error if the
// secret doesn't exist.
func (s *SystemKeyring) Delete(reference string) error {
	if err := validateReference(reference); err != nil {
		return err
	}
	err := zkeyring.Delete(ServiceName, reference)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// validateReference ensures the reference is a valid UUID. References
// are opaque to the provider layer but the stored-credential namespace
// is UUID-keyed.
func validateReference(reference string) error {
	if _, err := uuid.Parse(reference); err != nil {
		return ErrInvalidReference
	}
	return nil
}
