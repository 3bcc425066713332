// Package envelope implements per-chat envelope encryption.
//
// Every chat owns a random 32-byte data key. The data key is stored wrapped
// under a process-wide master key (Vault) and message text is sealed under the
// unwrapped data key (Encrypt, Decrypt). Two encodings are understood:
//
//	legacy: hex(iv):hex(aes-256-cbc ciphertext)
//	v2:     v2:hex(nonce):hex(xchacha20-poly1305 ciphertext)
//
// Legacy values are always readable. New values are written as v2 unless the
// caller selects SchemeLegacy.
package envelope
