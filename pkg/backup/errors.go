package backup

import "errors"

// Backup/Restore errors
var (
	// ErrInvalidMagic indicates the backup file has an invalid magic number.
	ErrInvalidMagic = errors.New("backup: invalid backup file: magic number mismatch")

	// ErrUnsupportedVersion indicates the backup format version is not supported.
	ErrUnsupportedVersion = errors.New("backup: unsupported backup format version")

	// ErrIntegrityFailed indicates the HMAC verification failed: wrong
	// password or key, or a modified file.
	ErrIntegrityFailed = errors.New("backup: integrity check failed: HMAC mismatch")

	// ErrDecryptionFailed indicates the payload did not decrypt.
	ErrDecryptionFailed = errors.New("backup: decryption failed")

	// ErrTruncated indicates the file ends before the declared payload.
	ErrTruncated = errors.New("backup: file truncated")

	// ErrVaultNotFound indicates there is no master password record to back up.
	ErrVaultNotFound = errors.New("backup: vault not found")

	// ErrVaultExists indicates restore would overwrite an existing vault.
	ErrVaultExists = errors.New("backup: vault already exists")

	// ErrInvalidKeyFile indicates the key file is invalid or wrong size.
	ErrInvalidKeyFile = errors.New("backup: invalid key file: must be exactly 32 bytes")

	// ErrEmptyPassword indicates an empty password was provided.
	ErrEmptyPassword = errors.New("backup: password cannot be empty")
)
