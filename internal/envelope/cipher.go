package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/yakka/backend/internal/apperrors"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of both master and data keys.
const KeySize = 32

const v2Prefix = "v2:"

type Scheme int

const (
	SchemeV2 Scheme = iota
	SchemeLegacy
)

var (
	errMalformed  = errors.New("malformed ciphertext encoding")
	errBadPadding = errors.New("invalid padding")
	errKeySize    = errors.New("key must be 32 bytes")
)

// Encrypt seals plaintext under key using the authenticated v2 scheme.
func Encrypt(plaintext string, key []byte) (string, error) {
	return EncryptWith(SchemeV2, plaintext, key)
}

// EncryptLegacy seals plaintext with AES-256-CBC in the legacy encoding.
func EncryptLegacy(plaintext string, key []byte) (string, error) {
	return EncryptWith(SchemeLegacy, plaintext, key)
}

// EncryptWith seals plaintext with the given scheme. A fresh random IV or
// nonce is drawn for every call.
func EncryptWith(scheme Scheme, plaintext string, key []byte) (string, error) {
	out, err := seal(scheme, []byte(plaintext), key)
	if err != nil {
		return "", apperrors.Crypto("failed to encrypt message", err)
	}
	return out, nil
}

// Decrypt opens a value produced by any supported scheme.
func Decrypt(ciphertext string, key []byte) (string, error) {
	plain, err := open(ciphertext, key)
	if err != nil {
		return "", apperrors.Crypto("failed to decrypt message", err)
	}
	return string(plain), nil
}

func seal(scheme Scheme, plaintext, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", errKeySize
	}

	switch scheme {
	case SchemeLegacy:
		iv := make([]byte, aes.BlockSize)
		if _, err := io.ReadFull(rand.Reader, iv); err != nil {
			return "", err
		}
		ct, err := cbcEncrypt(key, iv, plaintext)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct), nil

	default:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return "", err
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return "", err
		}
		ct := aead.Seal(nil, nonce, plaintext, nil)
		return v2Prefix + hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ct), nil
	}
}

func open(encoded string, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errKeySize
	}

	if rest, ok := strings.CutPrefix(encoded, v2Prefix); ok {
		nonceHex, ctHex, found := strings.Cut(rest, ":")
		if !found {
			return nil, errMalformed
		}
		nonce, err := hex.DecodeString(nonceHex)
		if err != nil {
			return nil, err
		}
		ct, err := hex.DecodeString(ctHex)
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}
		if len(nonce) != aead.NonceSize() {
			return nil, errMalformed
		}
		return aead.Open(nil, nonce, ct, nil)
	}

	// legacy: iv:ct
	ivHex, ctHex, found := strings.Cut(encoded, ":")
	if !found {
		return nil, errMalformed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, err
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, errMalformed
	}
	return cbcDecrypt(key, iv, ct)
}

func cbcEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func cbcDecrypt(key, iv, ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, errMalformed
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
