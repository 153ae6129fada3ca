package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/grimoire/internal/fsutil"
	"github.com/forest6511/grimoire/pkg/crypto"
)

// ErrNoRecord indicates no master password has been set yet (the record file
// is missing or empty). The vault starts in first-time setup.
var ErrNoRecord = errors.New("auth: no master password record")

// keySaltInfo separates the key-derivation pass from the stored verifier.
// The vault key is never equal to the hash written to disk.
const keySaltInfo = "grimoire vault key v1"

// Gate owns the master-password record file.
type Gate struct {
	path   string
	params Params
}

// NewGate returns a gate persisting its record at path. params are used for
// newly created records; existing records carry their own parameters.
func NewGate(path string, params Params) *Gate {
	return &Gate{path: path, params: params}
}

// Path returns the record file path.
func (g *Gate) Path() string {
	return g.path
}

// ReadRecord returns the raw stored record. A missing or whitespace-only file
// yields ErrNoRecord. Other read failures are returned wrapped.
func (g *Gate) ReadRecord() ([]byte, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("auth: failed to read master password record: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrNoRecord
	}
	return data, nil
}

// SetMasterPassword creates a new record for password with a fresh salt,
// overwriting any previous record, and returns the derived vault key.
//
// This is first-time setup. Secrets encrypted under a previous key are not
// re-encrypted.
func (g *Gate) SetMasterPassword(password string) ([]byte, error) {
	if err := g.params.Validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("auth: failed to generate salt: %w", err)
	}

	record := &Record{
		Params: g.params,
		Salt:   salt,
		Hash:   argon2.IDKey([]byte(password), salt, g.params.Time, g.params.Memory, g.params.Threads, HashLength),
	}

	if err := fsutil.WriteFileAtomic(g.path, []byte(record.String()), fsutil.FileMode); err != nil {
		return nil, fmt.Errorf("auth: failed to write master password record: %w", err)
	}

	return deriveKey(password, record)
}

// Authenticate reports whether password matches the stored record. A wrong
// password is (false, nil); an unparsable record is ErrCorruptAuthRecord.
func Authenticate(password string, stored []byte) (bool, error) {
	record, err := ParseRecord(string(stored))
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), record.Salt,
		record.Params.Time, record.Params.Memory, record.Params.Threads, uint32(len(record.Hash)))
	defer crypto.SecureWipe(computed)

	return subtle.ConstantTimeCompare(computed, record.Hash) == 1, nil
}

// DeriveKey recomputes the 32-byte vault key from password and the salt and
// parameters embedded in the stored record.
//
// It does not verify the password: with a wrong password it silently returns
// a wrong key. Call Authenticate first.
func DeriveKey(password string, stored []byte) ([]byte, error) {
	record, err := ParseRecord(string(stored))
	if err != nil {
		return nil, err
	}
	return deriveKey(password, record)
}

func deriveKey(password string, record *Record) ([]byte, error) {
	keySalt := make([]byte, len(record.Salt))
	r := hkdf.New(sha256.New, record.Salt, nil, []byte(keySaltInfo))
	if _, err := io.ReadFull(r, keySalt); err != nil {
		return nil, fmt.Errorf("auth: failed to expand key salt: %w", err)
	}

	return argon2.IDKey([]byte(password), keySalt,
		record.Params.Time, record.Params.Memory, record.Params.Threads, crypto.KeyLength), nil
}
