package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yakka/backend/internal/apperrors"
)

func testKey(b byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = b + byte(i)
	}
	return key
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := testKey(1)
	plaintexts := []string{"", "hello", "that's damn annoying", "ünïcødé 🙂", strings.Repeat("x", 4096)}

	for _, scheme := range []Scheme{SchemeV2, SchemeLegacy} {
		for _, p := range plaintexts {
			ct, err := EncryptWith(scheme, p, key)
			require.NoError(t, err)

			got, err := Decrypt(ct, key)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		}
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	key := testKey(2)

	a, err := Encrypt("hello", key)
	require.NoError(t, err)
	b, err := Encrypt("hello", key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "hello")

	la, err := EncryptLegacy("hello", key)
	require.NoError(t, err)
	lb, err := EncryptLegacy("hello", key)
	require.NoError(t, err)
	assert.NotEqual(t, la, lb)
}

func TestEncrypt_Encodings(t *testing.T) {
	key := testKey(3)

	v2, err := Encrypt("hi", key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(v2, "v2:"))

	legacy, err := EncryptLegacy("hi", key)
	require.NoError(t, err)
	ivHex, _, ok := strings.Cut(legacy, ":")
	require.True(t, ok)
	assert.Len(t, ivHex, 32)
}

// A value produced the way the previous backend did (aes-256-cbc, pkcs7, hex iv:ct).
func TestDecrypt_ExistingLegacyData(t *testing.T) {
	key := testKey(4)
	iv := []byte("0123456789abcdef")
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	padded := pkcs7Pad([]byte("hello"), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	got, err := Decrypt(hex.EncodeToString(iv)+":"+hex.EncodeToString(ct), key)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestDecrypt_Errors(t *testing.T) {
	key := testKey(5)
	good, err := Encrypt("hello", key)
	require.NoError(t, err)
	flip := "0"
	if strings.HasSuffix(good, "0") {
		flip = "1"
	}
	tampered := good[:len(good)-1] + flip

	tests := []struct {
		name  string
		input string
		key   []byte
	}{
		{name: "no separator", input: "deadbeef", key: key},
		{name: "bad hex", input: "zz:zz", key: key},
		{name: "short iv", input: "0011:00112233445566778899aabbccddeeff", key: key},
		{name: "partial block", input: strings.Repeat("00", 16) + ":0011", key: key},
		{name: "v2 missing ciphertext", input: "v2:0011", key: key},
		{name: "v2 wrong key", input: good, key: testKey(9)},
		{name: "v2 tampered", input: tampered, key: key},
		{name: "short key", input: good, key: []byte("short")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.input, tt.key)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrCrypto)
		})
	}
}

func TestPKCS7Unpad_Rejects(t *testing.T) {
	_, err := pkcs7Unpad([]byte{1, 2, 3}, aes.BlockSize)
	assert.Error(t, err)

	block := make([]byte, aes.BlockSize)
	block[len(block)-1] = 0
	_, err = pkcs7Unpad(block, aes.BlockSize)
	assert.Error(t, err)

	block[len(block)-1] = 3
	block[len(block)-2] = 2
	_, err = pkcs7Unpad(block, aes.BlockSize)
	assert.Error(t, err)
}
