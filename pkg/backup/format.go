package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MagicNumber starts every backup file.
var MagicNumber = [8]byte{'G', 'R', 'I', 'M', '_', 'B', 'K', 'P'}

// FormatVersion is the current backup format version.
const FormatVersion = 1

// maxHeaderSize caps the JSON header.
const maxHeaderSize = 1 << 20

// EncryptionMode specifies how the backup key is obtained.
type EncryptionMode string

const (
	// EncryptionModePassword derives the key from a password with Argon2id.
	EncryptionModePassword EncryptionMode = "password"
	// EncryptionModeKey uses a 32-byte key file.
	EncryptionModeKey EncryptionMode = "key"
)

// KDFParams records the Argon2id salt and cost used for the backup key.
type KDFParams struct {
	Salt        []byte `json:"salt"`
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// Header is the unencrypted backup metadata. It is covered by the HMAC.
type Header struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	EncryptionMode EncryptionMode `json:"encryption_mode"`
	KDFParams      *KDFParams     `json:"kdf_params,omitempty"`
	IncludesAudit  bool           `json:"includes_audit"`
	SecretCount    int            `json:"secret_count"`
	ChecksumAlgo   string         `json:"checksum_algorithm"`
}

// Payload is the encrypted part of a backup: the vault files byte for byte.
type Payload struct {
	Record []byte `json:"record"`
	Store  []byte `json:"store,omitempty"`
	// Audit maps audit file names to their contents.
	Audit map[string][]byte `json:"audit,omitempty"`
}

// WriteHeader writes the magic number, the header length (big-endian) and
// the header JSON.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("backup: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, ErrInvalidMagic
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, ErrTruncated
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("backup: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, ErrTruncated
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal header: %w", err)
	}
	if header.Version > FormatVersion || header.Version < 1 {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}
