// Package audit provides an append-only log of vault operations with an HMAC
// chain for tamper detection.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/grimoire/internal/fsutil"
)

// MinAuditDiskSpace is the free space required before a record is written.
const MinAuditDiskSpace = 1024 * 1024

// maxPending bounds the events buffered before the HMAC key is known.
const maxPending = 128

const genesis = "genesis"

// Operation types
const (
	OpVaultInit         = "vault.init"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"

	OpCredentialsGet = "credentials.get"
	OpCredentialsSet = "credentials.set"

	OpSecretAdd    = "secret.add"
	OpSecretUpdate = "secret.update"
	OpSecretDelete = "secret.delete"
)

// Source identifies where the operation originated
const (
	SourceConsole = "console"
	SourceIPC     = "ipc"
	SourceHTTP    = "http"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultMiss    = "miss"
)

// ErrHMACKeyNotSet is returned by Verify before the key has been derived.
var ErrHMACKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	// Subject is an HMAC of the secret name or domain, never the name itself.
	Subject   string `json:"subject,omitempty"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
	Chain     Chain  `json:"chain"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Logger writes audit events to monthly JSONL files in a directory.
//
// The HMAC key is derived from the vault key, so events logged before the
// first unlock (failed attempts) are held in memory and written once
// SetHMACKey is called. A nil *Logger discards everything.
type Logger struct {
	path      string
	mu        sync.Mutex
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
	pending   []pendingEvent
	now       func() time.Time
}

type pendingEvent struct {
	event   Event
	subject string
}

// NewLogger creates a logger writing under path.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// Path returns the audit log directory.
func (l *Logger) Path() string {
	return l.path
}

// SetHMACKey derives the HMAC key from the vault key, resumes the persisted
// chain and flushes events buffered while locked.
func (l *Logger) SetHMACKey(vaultKey []byte) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, vaultKey, nil, []byte("audit-log-v1")), key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		l.sequence = 0
		l.prevHash = genesis
	}

	pending := l.pending
	l.pending = nil
	for _, p := range pending {
		if err := l.append(p.event, p.subject); err != nil {
			return err
		}
	}
	return nil
}

// Log records an operation. subject is the secret name or domain the
// operation touched; it is stored only as an HMAC.
func (l *Logger) Log(op, source, result, subject string, opErr error) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		Version:   1,
		ID:        newEventID(),
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Source:    source,
		SessionID: l.sessionID,
		Result:    result,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}

	if l.hmacKey == nil {
		if len(l.pending) < maxPending {
			l.pending = append(l.pending, pendingEvent{event: event, subject: subject})
		}
		return nil
	}
	return l.append(event, subject)
}

// LogSuccess is a convenience method for successful operations.
func (l *Logger) LogSuccess(op, source, subject string) error {
	return l.Log(op, source, ResultSuccess, subject, nil)
}

// LogError is a convenience method for failed operations.
func (l *Logger) LogError(op, source, subject string, err error) error {
	return l.Log(op, source, ResultError, subject, err)
}

// append chains and writes event. l.mu must be held and the key set.
func (l *Logger) append(event Event, subject string) error {
	if err := os.MkdirAll(l.path, fsutil.DirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	if subject != "" {
		mac := hmac.New(sha256.New, l.hmacKey)
		mac.Write([]byte(subject))
		event.Subject = hex.EncodeToString(mac.Sum(nil))
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.sign(&event)
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(&event); err != nil {
		return err
	}
	return l.saveChainState()
}

func (l *Logger) sign(event *Event) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Subject,
		event.Source,
		event.SessionID,
		event.Result,
		event.Error,
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// writeEvent appends an event to the current month's log file.
func (l *Logger) writeEvent(event *Event) error {
	name := filepath.Join(l.path, l.now().UTC().Format("2006-01")+".jsonl")

	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fsutil.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, "audit.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(l.path, "audit.meta"), data, fsutil.FileMode); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// newEventID returns a time-ordered identifier.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// VerifyResult contains the results of chain verification.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Verify walks every log file in chronological order and checks sequence
// numbers, back links and HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrHMACKeyNotSet
	}

	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl sorts chronologically.
	slices.Sort(files)

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1

	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}

		for _, event := range events {
			result.RecordsTotal++

			if event.Chain.Sequence != expectedSeq {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"sequence gap at record %s: expected %d, got %d",
					event.ID, expectedSeq, event.Chain.Sequence))
			}
			if event.Chain.PrevHash != expectedPrev {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"chain broken at record %s", event.ID))
			}
			if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.sign(&event))) {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"HMAC mismatch at record %s: possible tampering", event.ID))
			}

			expectedPrev = event.Chain.HMAC
			expectedSeq++
		}
	}
	return result, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

type sourceKey struct{}

// WithSource tags ctx with the origin of the operations performed under it.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source stored in ctx, or SourceConsole.
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceConsole
}
