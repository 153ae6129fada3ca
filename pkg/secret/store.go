package secret

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/forest6511/grimoire/internal/fsutil"
)

var (
	// ErrIntegrity indicates a stored secret failed to decrypt or decode.
	// A load that hits it leaves the collection untouched.
	ErrIntegrity = errors.New("secret: store integrity check failed")

	// ErrEmptyDomain indicates a domain that normalizes to the empty string.
	ErrEmptyDomain = errors.New("secret: domain is empty after normalization")

	// ErrIndexOutOfRange indicates an index past the end of the collection.
	ErrIndexOutOfRange = errors.New("secret: index out of range")

	// ErrEmptyName indicates a secret without a name.
	ErrEmptyName = errors.New("secret: name must not be empty")
)

// UpsertResult is the outcome of UpsertCredentialsForDomain.
type UpsertResult int

const (
	// Created means a new secret was appended and persisted.
	Created UpsertResult = iota
	// Unchanged means a matching secret already holds the same credentials.
	Unchanged
	// Conflict means matching secrets hold different credentials. Nothing
	// was modified.
	Conflict
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Unchanged:
		return "unchanged"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Store is the in-memory decrypted collection backed by a store file.
// It is not safe for concurrent use; the vault serializes access.
type Store struct {
	path    string
	secrets []Secret
}

// NewStore returns an empty store persisted at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and decrypts every record in the store file. A missing or empty
// file is an empty collection. Any record that fails to decrypt aborts the
// whole load with ErrIntegrity and the current collection is kept.
func (s *Store) Load(key []byte) error {
	records, err := ReadFile(s.path)
	if err != nil {
		return err
	}

	secrets := make([]Secret, 0, len(records))
	for i, es := range records {
		sec, err := es.Decrypt(key)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		secrets = append(secrets, sec)
	}

	s.secrets = secrets
	return nil
}

// SaveAll re-encrypts every secret with a fresh nonce and replaces the store
// file.
func (s *Store) SaveAll(key []byte) error {
	return s.persist(key, s.secrets)
}

// persist writes secrets to disk and, on success, makes them the current
// collection. On failure the collection is unchanged.
func (s *Store) persist(key []byte, secrets []Secret) error {
	records := make([]EncryptedSecret, 0, len(secrets))
	for _, sec := range secrets {
		es, err := sec.Encrypt(key)
		if err != nil {
			return err
		}
		records = append(records, es)
	}

	if err := WriteFile(s.path, records); err != nil {
		return err
	}
	s.secrets = secrets
	return nil
}

// Len returns the number of secrets.
func (s *Store) Len() int {
	return len(s.secrets)
}

// Secrets returns a copy of the collection in stored order.
func (s *Store) Secrets() []Secret {
	out := make([]Secret, len(s.secrets))
	for i, sec := range s.secrets {
		out[i] = sec.Clone()
	}
	return out
}

// Get returns a copy of the secret at index.
func (s *Store) Get(index int) (Secret, error) {
	if index < 0 || index >= len(s.secrets) {
		return Secret{}, ErrIndexOutOfRange
	}
	return s.secrets[index].Clone(), nil
}

// Reset drops the decrypted collection from memory.
func (s *Store) Reset() {
	s.secrets = nil
}

// FindCredentialsForDomain returns the credentials of the first secret, in
// stored order, whose name contains the normalized domain and which carries
// both a username and a password.
func (s *Store) FindCredentialsForDomain(domain string) (Credentials, bool) {
	normalized := NormalizeDomain(domain)
	for _, sec := range s.secrets {
		if !matchesDomain(sec.Name, normalized) {
			continue
		}
		if creds, ok := sec.Credentials(); ok {
			return creds, true
		}
	}
	return Credentials{}, false
}

// UpsertCredentialsForDomain records credentials captured for domain.
//
// If a matching secret already holds exactly these credentials the result is
// Unchanged. If matching secrets hold different credentials the result is
// Conflict and nothing is written. Otherwise a secret named after the raw
// domain is appended, persisted, and the result is Created.
func (s *Store) UpsertCredentialsForDomain(key []byte, domain, username, password string) (UpsertResult, error) {
	normalized := NormalizeDomain(domain)
	if normalized == "" {
		return Unchanged, ErrEmptyDomain
	}

	conflict := false
	for _, sec := range s.secrets {
		if !matchesDomain(sec.Name, normalized) {
			continue
		}
		creds, ok := sec.Credentials()
		if !ok {
			continue
		}
		if creds.Username == username && creds.Password == password {
			return Unchanged, nil
		}
		conflict = true
	}
	if conflict {
		return Conflict, nil
	}

	created := New(domain, []Pair{
		{Key: "username", Value: username},
		{Key: "password", Value: password},
	})
	if err := s.persist(key, appendSecret(s.secrets, created)); err != nil {
		return Created, err
	}
	return Created, nil
}

// Add appends sec and persists the collection.
func (s *Store) Add(key []byte, sec Secret) error {
	if sec.Name == "" {
		return ErrEmptyName
	}
	return s.persist(key, appendSecret(s.secrets, sec.Clone()))
}

// Replace removes the secret at index and appends sec in its place at the
// end of the collection.
func (s *Store) Replace(key []byte, index int, sec Secret) error {
	if index < 0 || index >= len(s.secrets) {
		return ErrIndexOutOfRange
	}
	if sec.Name == "" {
		return ErrEmptyName
	}
	next := slices.Delete(slices.Clone(s.secrets), index, index+1)
	return s.persist(key, append(next, sec.Clone()))
}

// Remove deletes the secret at index and persists the collection.
func (s *Store) Remove(key []byte, index int) error {
	if index < 0 || index >= len(s.secrets) {
		return ErrIndexOutOfRange
	}
	return s.persist(key, slices.Delete(slices.Clone(s.secrets), index, index+1))
}

// Search returns the indices of secrets whose case-folded name contains the
// case-folded query.
func (s *Store) Search(query string) []int {
	q := fold(query)
	var out []int
	for i, sec := range s.secrets {
		if strings.Contains(fold(sec.Name), q) {
			out = append(out, i)
		}
	}
	return out
}

// appendSecret returns a new slice so the current collection stays intact
// until a write succeeds.
func appendSecret(secrets []Secret, sec Secret) []Secret {
	out := make([]Secret, len(secrets), len(secrets)+1)
	copy(out, secrets)
	return append(out, sec)
}

// ReadFile reads the encrypted records in path. A missing or empty file
// yields no records.
func ReadFile(path string) ([]EncryptedSecret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("secret: failed to read store: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []EncryptedSecret
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: malformed store file: %w", ErrIntegrity, err)
	}
	return records, nil
}

// WriteFile atomically replaces path with records.
func WriteFile(path string, records []EncryptedSecret) error {
	if records == nil {
		records = []EncryptedSecret{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("secret: failed to encode store: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, fsutil.FileMode); err != nil {
		return fmt.Errorf("secret: failed to write store: %w", err)
	}
	return nil
}
