package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yakka/backend/internal/apperrors"
)

func TestNewVault_RejectsShortMasterKey(t *testing.T) {
	_, err := NewVault([]byte("too short"))
	assert.ErrorIs(t, err, apperrors.ErrCrypto)
}

func TestVault_WrapRoundTrip(t *testing.T) {
	for _, opts := range [][]VaultOption{nil, {WithLegacyWrites()}} {
		v, err := NewVault(testKey(10), opts...)
		require.NoError(t, err)

		raw := testKey(20)
		w1, err := v.Wrap(raw)
		require.NoError(t, err)
		w2, err := v.Wrap(raw)
		require.NoError(t, err)
		assert.NotEqual(t, w1, w2, "wrapping twice must use distinct IVs")

		u1, err := v.Unwrap(w1)
		require.NoError(t, err)
		u2, err := v.Unwrap(w2)
		require.NoError(t, err)
		assert.Equal(t, raw, u1)
		assert.Equal(t, raw, u2)
	}
}

func TestVault_CreateWrappedKey(t *testing.T) {
	v, err := NewVault(testKey(10))
	require.NoError(t, err)

	w1, err := v.CreateWrappedKey()
	require.NoError(t, err)
	w2, err := v.CreateWrappedKey()
	require.NoError(t, err)

	k1, err := v.Unwrap(w1)
	require.NoError(t, err)
	k2, err := v.Unwrap(w2)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)
	assert.NotEqual(t, k1, k2)

	// the unwrapped key is usable by the message cipher
	ct, err := Encrypt("hello", k1)
	require.NoError(t, err)
	pt, err := Decrypt(ct, k1)
	require.NoError(t, err)
	assert.Equal(t, "hello", pt)
}

func TestVault_UnwrapFailures(t *testing.T) {
	v, err := NewVault(testKey(10))
	require.NoError(t, err)
	other, err := NewVault(testKey(30))
	require.NoError(t, err)

	wrapped, err := v.CreateWrappedKey()
	require.NoError(t, err)

	_, err = other.Unwrap(wrapped)
	assert.ErrorIs(t, err, apperrors.ErrCrypto, "wrong master key")

	_, err = v.Unwrap("not-a-key")
	assert.ErrorIs(t, err, apperrors.ErrCrypto, "malformed")

	_, err = v.Unwrap(wrapped[:10])
	assert.ErrorIs(t, err, apperrors.ErrCrypto, "truncated")
}

func TestVault_ReadsLegacyWrappedKeys(t *testing.T) {
	legacy, err := NewVault(testKey(10), WithLegacyWrites())
	require.NoError(t, err)
	current, err := NewVault(testKey(10))
	require.NoError(t, err)

	wrapped, err := legacy.CreateWrappedKey()
	require.NoError(t, err)

	raw, err := current.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Len(t, raw, KeySize)
	assert.Equal(t, SchemeLegacy, legacy.Scheme())
	assert.Equal(t, SchemeV2, current.Scheme())
}
