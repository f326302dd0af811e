package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alan.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndQueryPattern(t *testing.T) {
	s := newTestStore(t)

	fp := "abc123fingerprnt"
	for i := 0; i < 5; i++ {
		obs := Observation{
			ID:                 uuid.New().String(),
			SessionID:          "session-1",
			CommandFingerprint: fp,
			CommandPreview:     "tar xf file.tar",
			ExitCode:           0,
			Pipestatus:         []int{0},
			DurationMS:         100,
			Weight:             1.0,
			CreatedAt:          time.Now(),
		}
		if err := s.InsertObservation(obs); err != nil {
			t.Fatalf("InsertObservation() error = %v", err)
		}
	}

	stats, err := s.QueryPattern(fp, 24)
	if err != nil {
		t.Fatalf("QueryPattern() error = %v", err)
	}
	if !stats.Known {
		t.Fatal("expected pattern to be known")
	}
	if stats.TotalCount != 5 {
		t.Errorf("TotalCount = %d, want 5", stats.TotalCount)
	}
	if stats.SuccessRate != 1.0 {
		t.Errorf("SuccessRate = %v, want 1.0", stats.SuccessRate)
	}
}

func TestQueryPatternUnknown(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.QueryPattern("nosuchfingerprnt", 24)
	if err != nil {
		t.Fatalf("QueryPattern() error = %v", err)
	}
	if stats.Known {
		t.Error("expected unknown pattern")
	}
}

func TestPruneSafety(t *testing.T) {
	s := newTestStore(t)

	old := time.Now().Add(-1000 * time.Hour)
	for i := 0; i < 10; i++ {
		obs := Observation{
			ID:                 uuid.New().String(),
			SessionID:          "session-1",
			CommandFingerprint: "fp-prune-test-01",
			CommandPreview:     "echo hi",
			ExitCode:           0,
			Pipestatus:         []int{0},
			DurationMS:         10,
			Weight:             1.0,
			CreatedAt:          old,
		}
		if err := s.InsertObservation(obs); err != nil {
			t.Fatalf("InsertObservation() error = %v", err)
		}
	}

	if err := s.Prune(24, 0.01, 1000); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	stats, err := s.QueryPattern("fp-prune-test-01", 24)
	if err != nil {
		t.Fatalf("QueryPattern() error = %v", err)
	}
	if stats.Known {
		t.Error("expected all heavily-aged observations to be pruned below threshold")
	}
}

func TestPruneCapsMaxEntries(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 20; i++ {
		obs := Observation{
			ID:                 uuid.New().String(),
			SessionID:          "session-1",
			CommandFingerprint: "fp-cap-test",
			CommandPreview:     "echo hi",
			ExitCode:           0,
			Pipestatus:         []int{0},
			DurationMS:         10,
			Weight:             1.0,
			CreatedAt:          time.Now(),
		}
		if err := s.InsertObservation(obs); err != nil {
			t.Fatalf("InsertObservation() error = %v", err)
		}
	}

	if err := s.Prune(24, 0.01, 5); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	stats, err := s.QueryPattern("fp-cap-test", 24)
	if err != nil {
		t.Fatalf("QueryPattern() error = %v", err)
	}
	if stats.TotalCount > 5 {
		t.Errorf("TotalCount = %d, want <= 5 after cap", stats.TotalCount)
	}
}

func TestManoptCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, found, err := s.GetManoptCache("tar"); err != nil || found {
		t.Fatalf("expected no cache entry, found=%v err=%v", found, err)
	}

	if err := s.UpsertManoptCache("tar", "-x extract\n-f file\n-v verbose"); err != nil {
		t.Fatalf("UpsertManoptCache() error = %v", err)
	}

	text, found, err := s.GetManoptCache("tar")
	if err != nil {
		t.Fatalf("GetManoptCache() error = %v", err)
	}
	if !found {
		t.Fatal("expected cache entry to be found")
	}
	if text == "" {
		t.Error("expected non-empty cached text")
	}
}

func TestLastPruneRoundTrip(t *testing.T) {
	s := newTestStore(t)

	zero, err := s.GetLastPrune()
	if err != nil {
		t.Fatalf("GetLastPrune() error = %v", err)
	}
	if !zero.IsZero() {
		t.Error("expected zero time before any prune")
	}

	now := time.Now().Truncate(time.Second)
	if err := s.SetLastPrune(now); err != nil {
		t.Fatalf("SetLastPrune() error = %v", err)
	}

	got, err := s.GetLastPrune()
	if err != nil {
		t.Fatalf("GetLastPrune() error = %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("GetLastPrune() = %v, want %v", got, now)
	}
}
