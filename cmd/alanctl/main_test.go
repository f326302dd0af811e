package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/fingerprint"
	"github.com/CLIAIMONITOR/internal/store"
	_ "modernc.org/sqlite"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alan.db")

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	obs := store.Observation{
		ID:                 "obs-1",
		SessionID:          "session-1",
		CommandFingerprint: fingerprint.Fingerprint("ls -la"),
		CommandTemplate:    fingerprint.Template("ls -la"),
		CommandPreview:     "ls -la",
		ExitCode:           0,
		Pipestatus:         []int{0},
		DurationMS:         42,
		TimedOut:           false,
		Weight:             1.0,
		CreatedAt:          time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
	}
	if err := st.InsertObservation(obs); err != nil {
		t.Fatalf("InsertObservation() error = %v", err)
	}
	if err := st.UpsertManoptCache("ls", "-a, -l, -h"); err != nil {
		t.Fatalf("UpsertManoptCache() error = %v", err)
	}
	return path
}

func openReadOnly(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPrintStatsKnownPattern(t *testing.T) {
	path := seedDB(t)
	db := openReadOnly(t, path)

	var buf bytes.Buffer
	withStdout(t, &buf, func() {
		if err := printStats(db, "ls -la"); err != nil {
			t.Fatalf("printStats() error = %v", err)
		}
	})

	var stats patternStats
	if err := json.Unmarshal(buf.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !stats.Known || stats.TotalCount != 1 {
		t.Errorf("stats = %+v, want Known=true TotalCount=1", stats)
	}
}

func TestPrintStatsUnknownPattern(t *testing.T) {
	path := seedDB(t)
	db := openReadOnly(t, path)

	var buf bytes.Buffer
	withStdout(t, &buf, func() {
		if err := printStats(db, "this never ran"); err != nil {
			t.Fatalf("printStats() error = %v", err)
		}
	})

	var stats patternStats
	if err := json.Unmarshal(buf.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Known {
		t.Errorf("expected Known=false for an unobserved command, got %+v", stats)
	}
}

func TestPrintManoptFound(t *testing.T) {
	path := seedDB(t)
	db := openReadOnly(t, path)

	var buf bytes.Buffer
	withStdout(t, &buf, func() {
		if err := printManopt(db, "ls -la"); err != nil {
			t.Fatalf("printManopt() error = %v", err)
		}
	})

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result["found"] != true {
		t.Errorf("result = %+v, want found=true", result)
	}
}

// withStdout temporarily redirects os.Stdout to a pipe and copies everything
// written during fn into buf, since the action printers write to os.Stdout
// directly via json.NewEncoder(os.Stdout).
func withStdout(t *testing.T, buf *bytes.Buffer, fn func()) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()

	fn()

	w.Close()
	os.Stdout = orig
	<-done
}
