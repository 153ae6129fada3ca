// Package secret implements the encrypted secret collection: the Secret data
// model, its on-disk encrypted form and the credential queries used by the
// browser transports.
package secret

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/forest6511/grimoire/pkg/crypto"
)

// Pair is one labelled value inside a secret. Keys need not be unique.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Secret is a named, ordered list of pairs.
type Secret struct {
	Name         string    `json:"name"`
	Contents     []Pair    `json:"contents"`
	LastModified time.Time `json:"last_modified"`
}

// New returns a secret stamped with the current time.
func New(name string, contents []Pair) Secret {
	return Secret{
		Name:         name,
		Contents:     slices.Clone(contents),
		LastModified: time.Now(),
	}
}

// Clone returns a deep copy of s.
func (s Secret) Clone() Secret {
	s.Contents = slices.Clone(s.Contents)
	return s
}

// Username returns the value of the last username, user or email pair.
func (s Secret) Username() (string, bool) {
	return s.lastValue(usernameKeys)
}

// Password returns the value of the last password or pass pair.
func (s Secret) Password() (string, bool) {
	return s.lastValue(passwordKeys)
}

// Credentials returns the secret's username and password when it has both.
func (s Secret) Credentials() (Credentials, bool) {
	username, ok := s.Username()
	if !ok {
		return Credentials{}, false
	}
	password, ok := s.Password()
	if !ok {
		return Credentials{}, false
	}
	return Credentials{Username: username, Password: password}, true
}

var (
	usernameKeys = []string{"username", "user", "email"}
	passwordKeys = []string{"password", "pass"}
)

func (s Secret) lastValue(keys []string) (string, bool) {
	var value string
	var found bool
	for _, p := range s.Contents {
		if slices.Contains(keys, fold(p.Key)) {
			value = p.Value
			found = true
		}
	}
	return value, found
}

// Credentials is a username/password pair extracted from a secret.
type Credentials struct {
	Username string
	Password string
}

// EncryptedSecret is the persisted form of a Secret: the AES-GCM sealed JSON
// encoding of the secret and the nonce it was sealed with. The nonce is
// serialized as an array of 12 integers.
type EncryptedSecret struct {
	Nonce      [crypto.NonceLength]byte `json:"nonce"`
	Ciphertext string                   `json:"ciphertext"`
}

// Encrypt seals s under key with a fresh nonce.
func (s Secret) Encrypt(key []byte) (EncryptedSecret, error) {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("secret: failed to encode secret: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	ciphertext, nonce, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return EncryptedSecret{}, fmt.Errorf("secret: failed to encrypt secret: %w", err)
	}

	var es EncryptedSecret
	copy(es.Nonce[:], nonce)
	es.Ciphertext = base64.StdEncoding.EncodeToString(ciphertext)
	return es, nil
}

// Decrypt opens es under key. Every failure, including authentication
// failure, wraps ErrIntegrity.
func (es EncryptedSecret) Decrypt(key []byte) (Secret, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(es.Ciphertext)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: invalid ciphertext encoding: %w", ErrIntegrity, err)
	}

	plaintext, err := crypto.Decrypt(key, ciphertext, es.Nonce[:])
	if err != nil {
		return Secret{}, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	defer crypto.SecureWipe(plaintext)

	var s Secret
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return Secret{}, fmt.Errorf("%w: invalid secret encoding: %w", ErrIntegrity, err)
	}
	return s, nil
}
