package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir)

	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(i)
	}
	if err := logger.SetHMACKey(masterKey); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	return logger, tmpDir
}

func TestNewLogger(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir)

	if logger.path != tmpDir {
		t.Errorf("expected path %s, got %s", tmpDir, logger.path)
	}
	if logger.prevHash != genesisHash {
		t.Errorf("expected prevHash 'genesis', got %s", logger.prevHash)
	}
	if logger.sessionID == "" {
		t.Error("expected non-empty sessionID")
	}
}

func TestLogWithoutHMACKey(t *testing.T) {
	logger := NewLogger(t.TempDir())

	if err := logger.LogSuccess(OpVaultLoad, SourceCLI, "/tmp/v.dat"); err == nil {
		t.Error("expected error when logging without HMAC key")
	}
}

func TestLogSuccess(t *testing.T) {
	logger, tmpDir := testLogger(t)

	if err := logger.LogSuccess(OpVaultCreate, SourceCLI, "/tmp/x/vault.dat"); err != nil {
		t.Fatalf("LogSuccess failed: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
	if err != nil {
		t.Fatalf("failed to list log files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var event AuditEvent
	if err := json.Unmarshal(bytes.TrimSpace(data), &event); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	if event.Operation != OpVaultCreate {
		t.Errorf("expected operation %s, got %s", OpVaultCreate, event.Operation)
	}
	if event.Target != "/tmp/x/vault.dat" {
		t.Errorf("expected target recorded, got %q", event.Target)
	}
	if event.Result != ResultSuccess {
		t.Errorf("expected result %s, got %s", ResultSuccess, event.Result)
	}
	if event.Source != SourceCLI {
		t.Errorf("expected source %s, got %s", SourceCLI, event.Source)
	}
	if event.Chain.Sequence != 1 || event.Chain.PrevHash != genesisHash || event.Chain.HMAC == "" {
		t.Errorf("unexpected chain %+v", event.Chain)
	}
}

func TestLogError(t *testing.T) {
	logger, _ := testLogger(t)

	if err := logger.LogError(OpVaultLoad, SourceMCP, "/missing.dat", "invalid_path", "vault file does not exist"); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}

	events, err := logger.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Result != ResultError || e.Error == nil || e.Error.Code != "invalid_path" {
		t.Errorf("unexpected error event: %+v", e)
	}
}

func TestChainPersistence(t *testing.T) {
	tmpDir := t.TempDir()
	masterKey := make([]byte, 32)

	logger1 := NewLogger(tmpDir)
	if err := logger1.SetHMACKey(masterKey); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := logger1.LogSuccess(OpVaultLoad, SourceCLI, "a"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	// A second process continues the same chain
	logger2 := NewLogger(tmpDir)
	if err := logger2.SetHMACKey(masterKey); err != nil {
		t.Fatalf("SetHMACKey failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := logger2.LogSuccess(OpVaultClose, SourceCLI, "b"); err != nil {
			t.Fatalf("LogSuccess failed: %v", err)
		}
	}

	result, err := logger2.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain after session resume, got errors: %v", result.Errors)
	}
	if result.RecordsTotal != 5 || result.RecordsVerified != 5 {
		t.Errorf("expected 5/5 records, got %d/%d", result.RecordsVerified, result.RecordsTotal)
	}
}

func TestTamperingDetection(t *testing.T) {
	t.Run("modified record", func(t *testing.T) {
		logger, tmpDir := testLogger(t)
		for i := 0; i < 3; i++ {
			if err := logger.LogSuccess(OpVaultLoad, SourceCLI, "/v.dat"); err != nil {
				t.Fatalf("LogSuccess failed: %v", err)
			}
		}

		files, _ := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
		if len(files) == 0 {
			t.Fatal("no log files found")
		}
		data, err := os.ReadFile(files[0])
		if err != nil {
			t.Fatal(err)
		}
		tampered := strings.Replace(string(data), `"target":"/v.dat"`, `"target":"/other.dat"`, 1)
		if err := os.WriteFile(files[0], []byte(tampered), 0600); err != nil {
			t.Fatal(err)
		}

		result, err := logger.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected tampering to be detected")
		}
	})

	t.Run("deleted record", func(t *testing.T) {
		logger, tmpDir := testLogger(t)
		for i := 0; i < 3; i++ {
			if err := logger.LogSuccess(OpVaultLoad, SourceCLI, "/v.dat"); err != nil {
				t.Fatalf("LogSuccess failed: %v", err)
			}
		}

		files, _ := filepath.Glob(filepath.Join(tmpDir, "*.jsonl"))
		data, _ := os.ReadFile(files[0])
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		kept := lines[0] + "\n" + lines[2] + "\n"
		if err := os.WriteFile(files[0], []byte(kept), 0600); err != nil {
			t.Fatal(err)
		}

		result, err := logger.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected deleted record to be detected")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		logger, tmpDir := testLogger(t)
		if err := logger.LogSuccess(OpVaultCreate, SourceCLI, "/v.dat"); err != nil {
			t.Fatal(err)
		}

		other := NewLogger(tmpDir)
		if err := other.SetHMACKey(bytes.Repeat([]byte{0xAA}, 32)); err != nil {
			t.Fatal(err)
		}
		result, err := other.Verify()
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if result.Valid {
			t.Error("expected verification with a different key to fail")
		}
	})
}

func TestVerifyEmptyLog(t *testing.T) {
	logger, _ := testLogger(t)
	result, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.RecordsTotal != 0 {
		t.Errorf("expected empty valid result, got %+v", result)
	}
}

func TestListEvents_LimitAndSince(t *testing.T) {
	logger, _ := testLogger(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	logger.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for i := 0; i < 5; i++ {
		if err := logger.LogSuccess(OpVaultLoad, SourceCLI, "v"); err != nil {
			t.Fatal(err)
		}
	}

	events, err := logger.ListEvents(2, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].Chain.Sequence != 5 {
		t.Errorf("expected the 2 most recent events, got %d (last seq %d)", len(events), events[len(events)-1].Chain.Sequence)
	}

	since, err := logger.ListEvents(0, base.Add(3*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 {
		t.Errorf("expected 2 events after cutoff, got %d", len(since))
	}
}

func TestGenerateEventID(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = generateEventID()
	}

	seen := make(map[string]bool)
	for i, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("id %q is not a UUID: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Errorf("expected version 7, got %d", parsed.Version())
		}
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
		if i > 0 && ids[i-1] >= id {
			t.Errorf("ids not time ordered: %s >= %s", ids[i-1], id)
		}
	}
}

func TestGenerateSessionID(t *testing.T) {
	if a, b := generateSessionID(), generateSessionID(); a == b {
		t.Error("expected unique session ids")
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "audit.key")

	key1, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKey failed: %v", err)
	}
	if len(key1) != KeyLength {
		t.Fatalf("expected %d byte key, got %d", KeyLength, len(key1))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600 key file, got %o", perm)
	}

	key2, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("expected the stored key to be reused")
	}

	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateKey(path); err != ErrInvalidKeyFile {
		t.Errorf("expected ErrInvalidKeyFile, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	logger, err := Open(filepath.Join(dir, "audit"), filepath.Join(dir, "audit.key"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := logger.LogSuccess(OpVaultImport, SourceCLI, "v"); err != nil {
		t.Fatal(err)
	}
	result, err := logger.Verify()
	if err != nil || !result.Valid {
		t.Fatalf("expected valid chain, got %+v, %v", result, err)
	}
}
