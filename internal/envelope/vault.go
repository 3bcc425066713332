package envelope

import (
	"crypto/rand"
	"io"

	"github.com/yakka/backend/internal/apperrors"
)

// Vault wraps and unwraps per-chat data keys under the master key.
type Vault struct {
	masterKey []byte
	scheme    Scheme
}

type VaultOption func(*Vault)

// WithLegacyWrites makes the vault wrap keys, and report a message scheme,
// in the legacy CBC encoding.
func WithLegacyWrites() VaultOption {
	return func(v *Vault) { v.scheme = SchemeLegacy }
}

func NewVault(masterKey []byte, opts ...VaultOption) (*Vault, error) {
	if len(masterKey) != KeySize {
		return nil, apperrors.Crypto("invalid master key", errKeySize)
	}
	v := &Vault{
		masterKey: append([]byte(nil), masterKey...),
		scheme:    SchemeV2,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Scheme is the encoding new message ciphertexts should use.
func (v *Vault) Scheme() Scheme { return v.scheme }

// CreateWrappedKey generates a fresh data key and returns it wrapped.
func (v *Vault) CreateWrappedKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", apperrors.Crypto("failed to generate data key", err)
	}
	return v.Wrap(key)
}

// Wrap seals raw under the master key with a fresh IV.
func (v *Vault) Wrap(raw []byte) (string, error) {
	out, err := seal(v.scheme, raw, v.masterKey)
	if err != nil {
		return "", apperrors.Crypto("failed to wrap data key", err)
	}
	return out, nil
}

// Unwrap recovers the raw data key from its wrapped form.
func (v *Vault) Unwrap(wrapped string) ([]byte, error) {
	raw, err := open(wrapped, v.masterKey)
	if err != nil {
		return nil, apperrors.Crypto("failed to unwrap data key", err)
	}
	if len(raw) != KeySize {
		return nil, apperrors.Crypto("failed to unwrap data key", errKeySize)
	}
	return raw, nil
}
