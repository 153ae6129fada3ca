// Package crypto provides the authenticated encryption used for every record
// in the grimoire store.
//
// Each secret is sealed independently with AES-256-GCM under the vault key.
// A fresh random 96-bit nonce is drawn for every call to Encrypt; the
// 128-bit authentication tag is appended to the ciphertext.
//
//	ciphertext, nonce, err := crypto.Encrypt(key, plaintext)
//	plaintext, err := crypto.Decrypt(key, ciphertext, nonce)
//	crypto.SecureWipe(key)
//
// Decrypt reports ErrAuthentication when the tag does not verify. Callers must
// treat it as a hard integrity failure, never as an empty result.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"
)

const (
	// KeyLength is the length of the vault key in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// TagLength is the length of the GCM authentication tag in bytes.
	TagLength = 16
)

// Format errors. These describe malformed input, not a failed integrity check.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// ErrAuthentication indicates the authentication tag did not verify: wrong
// key, wrong nonce, or modified ciphertext.
var ErrAuthentication = errors.New("crypto: authentication failed, ciphertext or nonce has been modified or the key is wrong")

// Encrypt seals plaintext with AES-256-GCM under key.
//
// A new nonce is read from crypto/rand on every call and returned alongside
// the ciphertext; it must be stored with the ciphertext for decryption.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext produced by Encrypt.
//
// Returns ErrInvalidKeyLength, ErrInvalidNonceLength or ErrCiphertextTooShort
// for malformed input and ErrAuthentication when tag verification fails.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithTagSize(block, TagLength)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// b is still "in use" after the loop, so the stores above are kept.
	runtime.KeepAlive(b)
}
