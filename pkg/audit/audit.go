// Package audit provides an append-only log of vault operations with an HMAC
// chain for tamper detection.
//
// Records are JSON lines grouped in monthly files (YYYY-MM.jsonl). Each record
// carries the HMAC of the previous one, so deleting, reordering or editing a
// record breaks verification from that point on.
package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Disk space constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs
)

// Operation types for audit logging
const (
	OpVaultCreate = "vault.create"
	OpVaultImport = "vault.import"
	OpVaultLoad   = "vault.load"
	OpVaultClose  = "vault.close"
)

// Source identifies where the operation originated
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const (
	genesisHash   = "genesis"
	chainFileName = "audit.meta"
)

// AuditEvent is a single audit log record
type AuditEvent struct {
	Version   int    `json:"v"`  // Schema version (1)
	ID        string `json:"id"` // Time-sortable event ID
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	Target    string `json:"target,omitempty"` // vault file or workspace path

	Source    string `json:"source"`  // cli | mcp
	SessionID string `json:"session"` // one per Logger instance

	Result string     `json:"result"` // success | error
	Error  *ErrorInfo `json:"error,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain provides HMAC chain for tamper detection
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Logger handles audit log writing with HMAC chain
type Logger struct {
	path       string
	hmacKey    []byte
	mu         sync.Mutex
	sequence   int64
	prevHash   string
	sessionID  string
	hmacKeySet bool
	now        func() time.Time
}

// NewLogger creates a new audit logger writing under path.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		prevHash:  genesisHash,
		sessionID: generateSessionID(),
		now:       time.Now,
	}
}

// Open returns a logger for path keyed from the install key in keyFile,
// creating the key on first use.
func Open(path, keyFile string) (*Logger, error) {
	key, err := LoadOrCreateKey(keyFile)
	if err != nil {
		return nil, err
	}
	l := NewLogger(path)
	if err := l.SetHMACKey(key); err != nil {
		return nil, err
	}
	return l, nil
}

// SetHMACKey derives and sets the HMAC key from the install key using HKDF
func (l *Logger) SetHMACKey(masterKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hkdfReader := hkdf.New(sha256.New, masterKey, nil, []byte("vault-audit-log-v1"))
	l.hmacKey = make([]byte, 32)
	if _, err := hkdfReader.Read(l.hmacKey); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKeySet = true

	// Not fatal: there is no chain state on first run
	if err := l.loadChainState(); err != nil {
		l.sequence = 0
		l.prevHash = genesisHash
	}

	return nil
}

// Log records an audit event
func (l *Logger) Log(op, source, result, target string, errInfo *ErrorInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return fmt.Errorf("audit: HMAC key not set")
	}

	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	now := l.now().UTC()
	event := AuditEvent{
		Version:   1,
		ID:        generateEventID(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Target:    target,
		Source:    source,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.sign(&event)

	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(&event, now); err != nil {
		return err
	}

	return l.saveChainState()
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, source, target string) error {
	return l.Log(op, source, ResultSuccess, target, nil)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, source, target, errCode, errMsg string) error {
	return l.Log(op, source, ResultError, target, &ErrorInfo{Code: errCode, Message: errMsg})
}

func (l *Logger) sign(event *AuditEvent) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(buildRecordData(event))
	return hex.EncodeToString(mac.Sum(nil))
}

// buildRecordData creates the data to be HMACed: every field except the HMAC itself
func buildRecordData(event *AuditEvent) []byte {
	errorData := ""
	if event.Error != nil {
		errorData = fmt.Sprintf("%s|%s", event.Error.Code, event.Error.Message)
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Target,
		event.Source,
		event.SessionID,
		event.Result,
		errorData,
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)
	return []byte(data)
}

// writeEvent appends an event to the current month's log file
func (l *Logger) writeEvent(event *AuditEvent, now time.Time) error {
	filename := now.Format("2006-01") + ".jsonl"

	f, err := os.OpenFile(filepath.Join(l.path, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
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

// ChainState holds the persistent chain state
type ChainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, chainFileName))
	if err != nil {
		return err
	}

	var state ChainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(ChainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}

	if err := os.WriteFile(filepath.Join(l.path, chainFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}

	return nil
}

// generateSessionID creates a unique session identifier
func generateSessionID() string {
	return uuid.NewString()
}

// generateEventID creates a time-sortable event identifier (UUIDv7).
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify checks the integrity of the audit log chain
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return nil, fmt.Errorf("audit: HMAC key not set")
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrevHash := genesisHash
	var expectedSeq int64 = 1

	for i := range events {
		event := &events[i]
		result.RecordsTotal++

		if event.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence))
		}

		if event.Chain.PrevHash != expectedPrevHash {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s: expected prev %s, got %s",
				event.ID, expectedPrevHash, event.Chain.PrevHash))
		}

		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.sign(event))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		} else {
			result.RecordsVerified++
		}

		expectedPrevHash = event.Chain.HMAC
		expectedSeq++
	}

	return result, nil
}

// ListEvents returns audit events, oldest first.
// limit: maximum number of events to return, most recent kept (0 = all)
// since: only return events after this time (zero = no filter)
func (l *Logger) ListEvents(limit int, since time.Time) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var filtered []AuditEvent
	if !since.IsZero() {
		for _, event := range events {
			eventTime, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if eventTime.After(since) {
				filtered = append(filtered, event)
			}
		}
	} else {
		filtered = events
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	return filtered, nil
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// readAll reads every log file in chronological order
func (l *Logger) readAll() ([]AuditEvent, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl names sort chronologically
	sort.Strings(files)

	var all []AuditEvent
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]AuditEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []AuditEvent
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}

	return events, nil
}
