// Package vault ties the master-password gate and the secret store into the
// locked/unlocked state machine shared by the console and every transport.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/grimoire/pkg/audit"
	"github.com/forest6511/grimoire/pkg/auth"
	"github.com/forest6511/grimoire/pkg/crypto"
	"github.com/forest6511/grimoire/pkg/secret"
)

// Errors
var (
	ErrLocked             = errors.New("vault: vault is locked")
	ErrAlreadyUnlocked    = errors.New("vault: vault is already unlocked")
	ErrAlreadyInitialized = errors.New("vault: master password is already set")
	ErrNotInitialized     = errors.New("vault: master password has not been set")
	ErrEmptyPassword      = errors.New("vault: master password must not be empty")
	ErrIntegrity          = errors.New("vault: secret store failed integrity check")
)

// State is the lifecycle state of a Vault.
type State int

const (
	// Uninitialized means no master password record exists yet.
	Uninitialized State = iota
	// Locked means a record exists but no key is held.
	Locked
	// Unlocked means the key is in memory and secrets are decrypted.
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Unlock attempt outcomes reported to UnlockRecorder.
const (
	UnlockSuccess       = "success"
	UnlockWrongPassword = "wrong_password"
	UnlockIntegrity     = "integrity"
	UnlockError         = "error"
)

// UnlockRecorder receives the outcome of every unlock attempt.
type UnlockRecorder interface {
	UnlockAttempt(result string)
}

// Options configures a Vault.
type Options struct {
	RecordPath string
	StorePath  string
	// Params apply to records created by Initialize.
	Params  auth.Params
	Logger  *zap.Logger
	Audit   *audit.Logger
	Metrics UnlockRecorder
}

// Vault is the single owner of the vault key and the decrypted collection.
//
// One mutex guards all state. Every public method holds it for the whole
// logical operation, including the write to disk, so concurrent callers
// observe a sequential history. It is never held while talking to a client.
type Vault struct {
	mu      sync.Mutex
	state   State
	key     []byte
	gate    *auth.Gate
	store   *secret.Store
	log     *zap.Logger
	audit   *audit.Logger
	metrics UnlockRecorder
}

// New opens the vault described by opts. A missing record yields an
// Uninitialized vault; a corrupt record is an error.
func New(opts Options) (*Vault, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	v := &Vault{
		gate:    auth.NewGate(opts.RecordPath, opts.Params),
		store:   secret.NewStore(opts.StorePath),
		log:     log,
		audit:   opts.Audit,
		metrics: opts.Metrics,
	}

	stored, err := v.gate.ReadRecord()
	switch {
	case errors.Is(err, auth.ErrNoRecord):
		v.state = Uninitialized
	case err != nil:
		return nil, err
	default:
		if _, err := auth.ParseRecord(string(stored)); err != nil {
			return nil, err
		}
		v.state = Locked
	}

	v.checkPermissions(opts.RecordPath, opts.StorePath)
	return v, nil
}

// State returns the current lifecycle state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// IsUnlocked reports whether the vault holds a key.
func (v *Vault) IsUnlocked() bool {
	return v.State() == Unlocked
}

// Initialize performs first-time setup: it writes a new master password
// record and unlocks the vault with the derived key.
//
// A store file left behind by a previous record cannot be opened with the
// new key; it is moved aside to <store>.orphaned-<unix time> and the vault
// starts empty.
func (v *Vault) Initialize(ctx context.Context, password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Uninitialized {
		return ErrAlreadyInitialized
	}
	if password == "" {
		return ErrEmptyPassword
	}

	key, err := v.gate.SetMasterPassword(password)
	if err != nil {
		return err
	}

	if err := v.store.Load(key); err != nil {
		if !errors.Is(err, secret.ErrIntegrity) {
			crypto.SecureWipe(key)
			return err
		}
		orphan := fmt.Sprintf("%s.orphaned-%d", v.store.Path(), time.Now().Unix())
		if err := os.Rename(v.store.Path(), orphan); err != nil {
			crypto.SecureWipe(key)
			return fmt.Errorf("vault: failed to move unreadable store aside: %w", err)
		}
		v.log.Warn("existing store could not be opened with the new master password; moved aside",
			zap.String("path", orphan))
		v.store.Reset()
	}

	v.setKey(key)
	v.state = Unlocked

	if err := v.audit.SetHMACKey(key); err != nil {
		v.log.Warn("failed to initialize audit log", zap.Error(err))
	}
	v.logAudit(ctx, audit.OpVaultInit, audit.ResultSuccess, "", nil)
	v.log.Info("vault initialized")
	return nil
}

// Unlock authenticates password and, on success, loads the store.
//
// A wrong password returns (false, nil) and leaves the vault Locked. If any
// stored secret fails to decrypt the unlock fails with ErrIntegrity, the key
// is discarded and the vault stays Locked.
func (v *Vault) Unlock(ctx context.Context, password string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case Uninitialized:
		return false, ErrNotInitialized
	case Unlocked:
		return false, ErrAlreadyUnlocked
	}

	stored, err := v.gate.ReadRecord()
	if err != nil {
		v.recordUnlock(UnlockError)
		return false, err
	}

	ok, err := auth.Authenticate(password, stored)
	if err != nil {
		v.recordUnlock(UnlockError)
		return false, err
	}
	if !ok {
		v.recordUnlock(UnlockWrongPassword)
		v.logAudit(ctx, audit.OpVaultUnlockFailed, audit.ResultError, "", errors.New("invalid master password"))
		v.log.Info("unlock rejected: wrong master password")
		return false, nil
	}

	key, err := auth.DeriveKey(password, stored)
	if err != nil {
		v.recordUnlock(UnlockError)
		return false, err
	}

	if err := v.store.Load(key); err != nil {
		crypto.SecureWipe(key)
		v.store.Reset()
		if errors.Is(err, secret.ErrIntegrity) {
			v.recordUnlock(UnlockIntegrity)
			v.log.Error("secret store failed integrity check", zap.Error(err))
			return false, fmt.Errorf("%w: %w", ErrIntegrity, err)
		}
		v.recordUnlock(UnlockError)
		return false, err
	}

	v.setKey(key)
	v.state = Unlocked
	v.recordUnlock(UnlockSuccess)

	if err := v.audit.SetHMACKey(key); err != nil {
		v.log.Warn("failed to initialize audit log", zap.Error(err))
	}
	v.logAudit(ctx, audit.OpVaultUnlock, audit.ResultSuccess, "", nil)
	v.log.Info("vault unlocked", zap.Int("secrets", v.store.Len()))
	return true, nil
}

// Close wipes the key and drops the decrypted collection. It is called once
// at shutdown; the vault reports Locked afterwards.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		_ = crypto.UnlockMemory(v.key)
		crypto.SecureWipe(v.key)
		v.key = nil
	}
	v.store.Reset()
	if v.state == Unlocked {
		v.state = Locked
	}
}

// setKey takes ownership of key. v.mu must be held.
func (v *Vault) setKey(key []byte) {
	if err := crypto.LockMemory(key); err != nil {
		v.log.Debug("could not lock key memory", zap.Error(err))
	}
	v.key = key
}

func (v *Vault) recordUnlock(result string) {
	if v.metrics != nil {
		v.metrics.UnlockAttempt(result)
	}
}

func (v *Vault) logAudit(ctx context.Context, op, result, subject string, opErr error) {
	if err := v.audit.Log(op, audit.SourceFrom(ctx), result, subject, opErr); err != nil {
		v.log.Warn("failed to write audit record", zap.String("op", op), zap.Error(err))
	}
}
