package backup

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/grimoire/pkg/auth"
	"github.com/forest6511/grimoire/pkg/crypto"
)

const (
	// SaltLength is the length of the backup salt in bytes.
	SaltLength = 32

	// HMACLength is the length of the HMAC-SHA256 in bytes.
	HMACLength = 32
)

// HKDF info strings for key derivation.
const (
	hkdfInfoEncryption = "grimoire-backup-encryption"
	hkdfInfoMAC        = "grimoire-backup-mac"
)

// generateSalt returns a fresh random salt.
func generateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("backup: failed to generate salt: %w", err)
	}
	return salt, nil
}

// deriveBackupKeys derives the encryption and MAC keys from a password. The
// backup salt is never the vault's salt.
func deriveBackupKeys(password, salt []byte, params auth.Params) (encKey, macKey []byte, err error) {
	if len(password) == 0 {
		return nil, nil, ErrEmptyPassword
	}
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	masterKey := argon2.IDKey(password, salt, params.Time, params.Memory, params.Threads, crypto.KeyLength)
	defer crypto.SecureWipe(masterKey)
	return splitKey(masterKey)
}

// splitKey expands one key into independent encryption and MAC keys.
func splitKey(master []byte) (encKey, macKey []byte, err error) {
	encKey, err = deriveHKDF(master, []byte(hkdfInfoEncryption))
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to derive encryption key: %w", err)
	}
	macKey, err = deriveHKDF(master, []byte(hkdfInfoMAC))
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("backup: failed to derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

func deriveHKDF(secret, info []byte) ([]byte, error) {
	key := make([]byte, crypto.KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, err
	}
	return key, nil
}

// encryptPayload seals plaintext and prepends the nonce.
func encryptPayload(plaintext, key []byte) ([]byte, error) {
	ciphertext, nonce, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("backup: encryption failed: %w", err)
	}
	return append(nonce, ciphertext...), nil
}

// decryptPayload opens data produced by encryptPayload.
func decryptPayload(data, key []byte) ([]byte, error) {
	if len(data) < crypto.NonceLength {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := crypto.Decrypt(key, data[crypto.NonceLength:], data[:crypto.NonceLength])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func computeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func verifyHMAC(data, expectedMAC, key []byte) bool {
	return hmac.Equal(computeHMAC(data, key), expectedMAC)
}

// ReadKeyFile reads a 32-byte backup key from a file.
func ReadKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read key file: %w", err)
	}
	if len(key) != crypto.KeyLength {
		crypto.SecureWipe(key)
		return nil, ErrInvalidKeyFile
	}
	return key, nil
}
