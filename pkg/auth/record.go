// Package auth implements the master-password gate: the Argon2id password
// record that is persisted on disk and the derivation of the vault key.
package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Default Argon2id parameters.
const (
	// DefaultMemory is the memory cost in KiB (64MB).
	DefaultMemory = 64 * 1024

	// DefaultTime is the number of passes.
	DefaultTime = 3

	// DefaultThreads is the degree of parallelism.
	DefaultThreads = 4

	// SaltLength is the length of freshly generated salts (128 bits).
	SaltLength = 16

	// HashLength is the length of the stored verifier hash.
	HashLength = 32

	// minSaltLength is the shortest salt accepted when parsing a record.
	minSaltLength = 8
)

// ErrCorruptAuthRecord indicates the stored master-password record could not
// be parsed. It is fatal: the store cannot be unlocked without the record.
var ErrCorruptAuthRecord = errors.New("auth: master password record is corrupt")

// Params are the Argon2id cost parameters.
type Params struct {
	Memory  uint32 `yaml:"memory"`  // KiB
	Time    uint32 `yaml:"time"`    // passes
	Threads uint8  `yaml:"threads"` // lanes
}

// DefaultParams returns the production cost parameters.
func DefaultParams() Params {
	return Params{
		Memory:  DefaultMemory,
		Time:    DefaultTime,
		Threads: DefaultThreads,
	}
}

// Validate rejects zero cost parameters.
func (p Params) Validate() error {
	if p.Memory == 0 || p.Time == 0 || p.Threads == 0 {
		return fmt.Errorf("auth: invalid argon2 parameters m=%d,t=%d,p=%d", p.Memory, p.Time, p.Threads)
	}
	return nil
}

// Record is a parsed master-password record in PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
//
// salt and hash are unpadded standard base64.
type Record struct {
	Params Params
	Salt   []byte
	Hash   []byte
}

// String encodes the record in PHC format.
func (r *Record) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		r.Params.Memory, r.Params.Time, r.Params.Threads,
		base64.RawStdEncoding.EncodeToString(r.Salt),
		base64.RawStdEncoding.EncodeToString(r.Hash),
	)
}

// ParseRecord decodes a PHC-formatted Argon2id record. Surrounding whitespace
// is ignored. Any structural problem yields ErrCorruptAuthRecord.
func ParseRecord(encoded string) (*Record, error) {
	parts := strings.Split(strings.TrimSpace(encoded), "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: unexpected format", ErrCorruptAuthRecord)
	}
	if parts[1] != "argon2id" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrCorruptAuthRecord, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, fmt.Errorf("%w: bad version field", ErrCorruptAuthRecord)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrCorruptAuthRecord, version)
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return nil, fmt.Errorf("%w: bad parameter field", ErrCorruptAuthRecord)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptAuthRecord, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < minSaltLength {
		return nil, fmt.Errorf("%w: bad salt", ErrCorruptAuthRecord)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, fmt.Errorf("%w: bad hash", ErrCorruptAuthRecord)
	}

	return &Record{Params: p, Salt: salt, Hash: hash}, nil
}
