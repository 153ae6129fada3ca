// Package backup writes and restores encrypted snapshots of a grimoire data
// directory.
//
// Features:
//   - Encrypted backup with AES-256-GCM
//   - Argon2id key derivation with a separate backup salt, or a 32-byte key file
//   - HMAC-SHA256 over header and ciphertext
//   - Optional audit log inclusion
//
// A backup holds the master password record and the store file exactly as
// they are on disk; the secrets inside stay sealed under the vault key. The
// backup password only protects the snapshot as a whole.
package backup

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/forest6511/grimoire/internal/fsutil"
	"github.com/forest6511/grimoire/pkg/auth"
	"github.com/forest6511/grimoire/pkg/crypto"
)

// Files locates the vault files a backup covers.
type Files struct {
	RecordPath string
	StorePath  string
	// AuditDir is the audit log directory. Empty disables audit handling.
	AuditDir string
}

// BackupOptions configures the backup operation.
type BackupOptions struct {
	Files Files
	// Output is the destination writer for the backup.
	Output io.Writer
	// IncludeAudit includes audit logs in the backup.
	IncludeAudit bool
	// Password for encryption.
	Password []byte
	// KeyFile path for encryption key (overrides Password).
	KeyFile string
	// Params are the Argon2id costs for Password. Zero means auth.DefaultParams.
	Params auth.Params
}

// RestoreOptions configures the restore operation.
type RestoreOptions struct {
	Files Files
	// Overwrite replaces an existing vault instead of failing.
	Overwrite bool
	// DryRun verifies and reports without writing anything.
	DryRun bool
	// WithAudit restores audit logs, replacing the existing ones.
	WithAudit bool
	// Password for decryption.
	Password []byte
	// KeyFile path for decryption key (overrides Password).
	KeyFile string
}

// RestoreResult contains the result of a restore operation.
type RestoreResult struct {
	// SecretsRestored is the number of secrets in the restored store.
	SecretsRestored int
	// AuditRestored indicates if audit logs were restored.
	AuditRestored bool
	// DryRun indicates this was a dry run.
	DryRun bool
}

// VerifyResult contains the result of a verify operation.
type VerifyResult struct {
	// Valid indicates the backup passed all integrity checks.
	Valid bool
	// Version is the backup format version.
	Version int
	// CreatedAt is when the backup was created.
	CreatedAt time.Time
	// SecretCount is the number of secrets in the backup.
	SecretCount int
	// IncludesAudit indicates if audit logs are included.
	IncludesAudit bool
	// Error is set if verification failed.
	Error string
}

// Backup writes an encrypted snapshot of the vault files to opts.Output.
func Backup(opts BackupOptions) error {
	if opts.Output == nil {
		return fmt.Errorf("backup: output writer is required")
	}

	payload, secretCount, err := collectVaultData(opts.Files, opts.IncludeAudit)
	if err != nil {
		return err
	}

	header := &Header{
		Version:       FormatVersion,
		CreatedAt:     time.Now().UTC(),
		IncludesAudit: opts.IncludeAudit,
		SecretCount:   secretCount,
		ChecksumAlgo:  "sha256",
	}

	var encKey, macKey []byte
	if opts.KeyFile != "" {
		key, err := ReadKeyFile(opts.KeyFile)
		if err != nil {
			return err
		}
		encKey, macKey, err = splitKey(key)
		crypto.SecureWipe(key)
		if err != nil {
			return err
		}
		header.EncryptionMode = EncryptionModeKey
	} else {
		params := opts.Params
		if params == (auth.Params{}) {
			params = auth.DefaultParams()
		}
		salt, err := generateSalt()
		if err != nil {
			return err
		}
		encKey, macKey, err = deriveBackupKeys(opts.Password, salt, params)
		if err != nil {
			return err
		}
		header.EncryptionMode = EncryptionModePassword
		header.KDFParams = &KDFParams{
			Salt:        salt,
			Memory:      params.Memory,
			Iterations:  params.Time,
			Parallelism: params.Threads,
		}
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal payload: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	ciphertext, err := encryptPayload(plaintext, encKey)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext))); err != nil {
		return fmt.Errorf("backup: failed to write ciphertext length: %w", err)
	}
	buf.Write(ciphertext)
	buf.Write(computeHMAC(buf.Bytes(), macKey))

	if _, err := opts.Output.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("backup: failed to write backup: %w", err)
	}
	return nil
}

// Restore verifies the backup at backupPath and writes its files back.
//
// An existing vault is only replaced when opts.Overwrite is set. The store is
// written before the record. Restore must not run while grimoire has the
// vault open.
func Restore(backupPath string, opts RestoreOptions) (*RestoreResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup file: %w", err)
	}

	header, payload, err := verifyAndDecrypt(data, opts.Password, opts.KeyFile)
	if err != nil {
		return nil, err
	}
	defer wipePayload(payload)

	result := &RestoreResult{
		SecretsRestored: header.SecretCount,
		AuditRestored:   opts.WithAudit && len(payload.Audit) > 0 && opts.Files.AuditDir != "",
		DryRun:          opts.DryRun,
	}

	if _, err := os.Stat(opts.Files.RecordPath); err == nil && !opts.Overwrite {
		return nil, fmt.Errorf("%w at %s", ErrVaultExists, opts.Files.RecordPath)
	}
	if opts.DryRun {
		return result, nil
	}

	if len(payload.Store) > 0 {
		if err := fsutil.WriteFileAtomic(opts.Files.StorePath, payload.Store, fsutil.FileMode); err != nil {
			return nil, fmt.Errorf("backup: failed to restore store: %w", err)
		}
	} else if err := os.Remove(opts.Files.StorePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("backup: failed to remove store: %w", err)
	}

	if err := fsutil.WriteFileAtomic(opts.Files.RecordPath, payload.Record, fsutil.FileMode); err != nil {
		return nil, fmt.Errorf("backup: failed to restore master password record: %w", err)
	}

	if result.AuditRestored {
		if err := restoreAudit(opts.Files.AuditDir, payload.Audit); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Verify checks backup integrity without restoring.
func Verify(backupPath string, password []byte, keyFile string) (*VerifyResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	header, payload, err := verifyAndDecrypt(data, password, keyFile)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}
	wipePayload(payload)

	return &VerifyResult{
		Valid:         true,
		Version:       header.Version,
		CreatedAt:     header.CreatedAt,
		SecretCount:   header.SecretCount,
		IncludesAudit: header.IncludesAudit,
	}, nil
}

// collectVaultData reads the vault files. The store is parsed only to count
// its records.
func collectVaultData(files Files, includeAudit bool) (*Payload, int, error) {
	record, err := os.ReadFile(files.RecordPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrVaultNotFound
		}
		return nil, 0, fmt.Errorf("backup: failed to read master password record: %w", err)
	}

	payload := &Payload{Record: record}
	count := 0
	store, err := os.ReadFile(files.StorePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, 0, fmt.Errorf("backup: failed to read store: %w", err)
	case len(bytes.TrimSpace(store)) > 0:
		var records []json.RawMessage
		if err := json.Unmarshal(store, &records); err != nil {
			return nil, 0, fmt.Errorf("backup: store file is malformed: %w", err)
		}
		payload.Store = store
		count = len(records)
	}

	if includeAudit && files.AuditDir != "" {
		if payload.Audit, err = readAuditDir(files.AuditDir); err != nil {
			return nil, 0, err
		}
	}
	return payload, count, nil
}

func readAuditDir(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read audit directory: %w", err)
	}

	files := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("backup: failed to read audit file: %w", err)
		}
		files[entry.Name()] = data
	}
	return files, nil
}

// restoreAudit replaces the audit directory with files. A partial log would
// break the HMAC chain, so the old files are removed first.
func restoreAudit(dir string, files map[string][]byte) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("backup: failed to clear audit directory: %w", err)
	}
	for name, data := range files {
		if name != filepath.Base(name) || name == "." || name == ".." {
			return fmt.Errorf("backup: invalid audit file name %q", name)
		}
		if err := fsutil.WriteFileAtomic(filepath.Join(dir, name), data, fsutil.FileMode); err != nil {
			return fmt.Errorf("backup: failed to restore audit file: %w", err)
		}
	}
	return nil
}

// verifyAndDecrypt checks the HMAC before decrypting anything.
func verifyAndDecrypt(data, password []byte, keyFile string) (*Header, *Payload, error) {
	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}

	var ciphertextLen uint32
	if err := binary.Read(reader, binary.BigEndian, &ciphertextLen); err != nil {
		return nil, nil, ErrTruncated
	}
	if uint64(reader.Len()) != uint64(ciphertextLen)+HMACLength {
		return nil, nil, ErrTruncated
	}
	signedLen := len(data) - HMACLength
	ciphertext := data[signedLen-int(ciphertextLen) : signedLen]
	storedHMAC := data[signedLen:]

	var encKey, macKey []byte
	switch {
	case keyFile != "":
		key, err := ReadKeyFile(keyFile)
		if err != nil {
			return nil, nil, err
		}
		encKey, macKey, err = splitKey(key)
		crypto.SecureWipe(key)
		if err != nil {
			return nil, nil, err
		}
	case header.EncryptionMode == EncryptionModePassword && header.KDFParams != nil:
		params := auth.Params{
			Memory:  header.KDFParams.Memory,
			Time:    header.KDFParams.Iterations,
			Threads: header.KDFParams.Parallelism,
		}
		encKey, macKey, err = deriveBackupKeys(password, header.KDFParams.Salt, params)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("backup: backup is encrypted with a key file")
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !verifyHMAC(data[:signedLen], storedHMAC, macKey) {
		return nil, nil, ErrIntegrityFailed
	}

	plaintext, err := decryptPayload(ciphertext, encKey)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(plaintext)

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to unmarshal payload: %w", err)
	}
	if len(payload.Record) == 0 {
		return nil, nil, fmt.Errorf("backup: backup has no master password record")
	}
	return header, &payload, nil
}

func wipePayload(p *Payload) {
	crypto.SecureWipe(p.Record)
	crypto.SecureWipe(p.Store)
}
