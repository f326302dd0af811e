// Package store provides transactional persistence for A.L.A.N. observations,
// the manopt option-table cache, and service metadata (spec.md §4.3), backed
// by SQLite via mattn/go-sqlite3, adapting the migration/withTx pattern of
// the teacher's internal/memory/db.go.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CLIAIMONITOR/internal/apierr"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const beginTxTimeout = 5 * time.Second

// Observation is one row per command execution (spec.md §3).
type Observation struct {
	ID                 string
	SessionID          string
	CommandFingerprint string
	CommandTemplate    string
	CommandPreview     string
	ExitCode           int
	Pipestatus         []int
	DurationMS         int64
	TimedOut           bool
	OutputSnippet      string
	ErrorSnippet       string
	Weight             float64
	CreatedAt          time.Time
}

// PatternStats is the aggregate computed by QueryPattern.
type PatternStats struct {
	Known          bool
	TotalCount     int
	WeightedTotal  float64
	TimeoutRate    float64
	SuccessRate    float64
	AvgDurationMS  float64
	MaxDurationMS  int64
}

// Store wraps a SQLite connection pool.
type Store struct {
	db *sql.DB
}

// Open creates the data directory if necessary, opens the SQLite database
// with WAL mode and a busy timeout, and runs schema migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check schema version: %w", err)
	}
	if version < schemaVersion {
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// withTx begins a short-lived transaction, bounded by beginTxTimeout, and
// commits iff fn succeeds. Acquisition failures surface as StoreUnavailable.
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), beginTxTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindStoreUnavailable, "begin transaction", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.KindStoreUnavailable, "commit transaction", err)
	}
	return nil
}

func encodePipestatus(ps []int) string {
	parts := make([]string, len(ps))
	for i, v := range ps {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertObservation persists one observation at obs.Weight; a zero Weight is
// stored as 1.0.
func (s *Store) InsertObservation(obs Observation) error {
	if obs.Weight == 0 {
		obs.Weight = 1.0
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO observations
			(id, session_id, command_fingerprint, command_template, command_preview, exit_code, pipestatus,
			 duration_ms, timed_out, output_snippet, error_snippet, weight, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			obs.ID, obs.SessionID, obs.CommandFingerprint, obs.CommandTemplate, obs.CommandPreview, obs.ExitCode,
			encodePipestatus(obs.Pipestatus), obs.DurationMS, boolToInt(obs.TimedOut),
			nullable(obs.OutputSnippet), nullable(obs.ErrorSnippet), obs.Weight,
			// Fixed-width fractional seconds keep created_at text ordering
			// chronological for ORDER BY created_at.
			obs.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
		if err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		return nil
	})
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// QueryPattern aggregates every observation sharing fingerprint, after
// applying decay in place (spec.md §4.4 get_pattern_stats).
func (s *Store) QueryPattern(fingerprint string, halfLifeHours float64) (PatternStats, error) {
	if err := s.ApplyDecay(halfLifeHours); err != nil {
		return PatternStats{}, err
	}

	var stats PatternStats
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT exit_code, timed_out, duration_ms, weight
			FROM observations WHERE command_fingerprint = ?`, fingerprint)
		if err != nil {
			return fmt.Errorf("query pattern: %w", err)
		}
		defer rows.Close()

		var (
			total       int
			weighted    float64
			timeouts    float64
			successes   float64
			durationSum float64
			maxDuration int64
		)
		for rows.Next() {
			var exitCode, timedOut int
			var duration int64
			var weight float64
			if err := rows.Scan(&exitCode, &timedOut, &duration, &weight); err != nil {
				return fmt.Errorf("scan pattern row: %w", err)
			}
			total++
			weighted += weight
			if timedOut != 0 {
				timeouts += weight
			} else if exitCode == 0 {
				successes += weight
			}
			durationSum += float64(duration) * weight
			if duration > maxDuration {
				maxDuration = duration
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate pattern rows: %w", err)
		}

		if total == 0 {
			stats = PatternStats{Known: false}
			return nil
		}

		stats = PatternStats{
			Known:         true,
			TotalCount:    total,
			WeightedTotal: weighted,
			MaxDurationMS: maxDuration,
		}
		if weighted > 0 {
			stats.TimeoutRate = timeouts / weighted
			stats.SuccessRate = successes / weighted
			stats.AvgDurationMS = durationSum / weighted
		}
		return nil
	})
	return stats, err
}

// QueryRecentByTemplate returns exit codes (newest first) for observations
// sharing template and session, used for streak counting (spec.md §4.3
// query_recent_by_template).
func (s *Store) QueryRecentByTemplate(template, sessionID string, limit int) ([]int, error) {
	var exitCodes []int
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT exit_code FROM observations
			WHERE session_id = ? AND command_template = ?
			ORDER BY created_at DESC LIMIT ?`, sessionID, template, limit)
		if err != nil {
			return fmt.Errorf("query recent by template: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var exitCode int
			if err := rows.Scan(&exitCode); err != nil {
				return fmt.Errorf("scan recent row: %w", err)
			}
			exitCodes = append(exitCodes, exitCode)
		}
		return rows.Err()
	})
	return exitCodes, err
}

// ApplyDecay multiplies every weight by 0.5^(hours_since_created/half_life).
func (s *Store) ApplyDecay(halfLifeHours float64) error {
	if halfLifeHours <= 0 {
		halfLifeHours = 24
	}
	return s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id, weight, created_at FROM observations`)
		if err != nil {
			return fmt.Errorf("decay: select: %w", err)
		}
		type row struct {
			id        string
			weight    float64
			createdAt time.Time
		}
		var toUpdate []row
		for rows.Next() {
			var id, createdAtStr string
			var weight float64
			if err := rows.Scan(&id, &weight, &createdAtStr); err != nil {
				rows.Close()
				return fmt.Errorf("decay: scan: %w", err)
			}
			createdAt, _ := time.Parse(time.RFC3339Nano, createdAtStr)
			toUpdate = append(toUpdate, row{id, weight, createdAt})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := time.Now()
		stmt, err := tx.Prepare(`UPDATE observations SET weight = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("decay: prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range toUpdate {
			ageHours := now.Sub(r.createdAt).Hours()
			if ageHours < 0 {
				ageHours = 0
			}
			newWeight := r.weight * decayFactor(ageHours, halfLifeHours)
			if newWeight < 0 {
				newWeight = 0
			}
			if _, err := stmt.Exec(newWeight, r.id); err != nil {
				return fmt.Errorf("decay: update %s: %w", r.id, err)
			}
		}
		return nil
	})
}

func decayFactor(ageHours, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		return 1
	}
	exponent := ageHours / halfLifeHours
	return math.Pow(0.5, exponent)
}

// Prune applies decay, deletes rows with weight below threshold, then caps
// total rows to maxEntries keeping the highest-weight survivors.
func (s *Store) Prune(halfLifeHours, threshold float64, maxEntries int) error {
	if err := s.ApplyDecay(halfLifeHours); err != nil {
		return err
	}
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM observations WHERE weight < ?`, threshold); err != nil {
			return fmt.Errorf("prune: delete below threshold: %w", err)
		}

		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&count); err != nil {
			return fmt.Errorf("prune: count: %w", err)
		}
		if count > maxEntries {
			excess := count - maxEntries
			_, err := tx.Exec(`DELETE FROM observations WHERE id IN (
				SELECT id FROM observations ORDER BY weight ASC LIMIT ?)`, excess)
			if err != nil {
				return fmt.Errorf("prune: cap entries: %w", err)
			}
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('last_prune', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, now)
		if err != nil {
			return fmt.Errorf("prune: set last_prune: %w", err)
		}
		return nil
	})
}

// GetLastPrune returns the last instant prune ran, or the zero time if it
// has never run.
func (s *Store) GetLastPrune() (time.Time, error) {
	var t time.Time
	err := s.withTx(func(tx *sql.Tx) error {
		var value string
		err := tx.QueryRow(`SELECT value FROM meta WHERE key = 'last_prune'`).Scan(&value)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get last_prune: %w", err)
		}
		t, _ = time.Parse(time.RFC3339Nano, value)
		return nil
	})
	return t, err
}

// SetLastPrune records the instant prune last ran.
func (s *Store) SetLastPrune(t time.Time) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('last_prune', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			t.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("set last_prune: %w", err)
		}
		return nil
	})
}

// UpsertManoptCache stores the harvested option summary for a base command.
func (s *Store) UpsertManoptCache(base, text string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO manopt_cache (base_command, options_text, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(base_command) DO UPDATE SET options_text = excluded.options_text, created_at = excluded.created_at`,
			base, text, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("upsert manopt cache: %w", err)
		}
		return nil
	})
}

// GetManoptCache returns the cached option text for base, and whether any
// entry exists.
func (s *Store) GetManoptCache(base string) (string, bool, error) {
	var text string
	var found bool
	err := s.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT options_text FROM manopt_cache WHERE base_command = ?`, base).Scan(&text)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get manopt cache: %w", err)
		}
		found = true
		return nil
	})
	return text, found, err
}

// SessionCounts summarizes observations recorded by one session_id, for the
// supplemented session-rollup report (SPEC_FULL.md §5.4).
type SessionCounts struct {
	Total     int
	Timeouts  int
	Successes int
	Failures  int
}

// SessionSummary aggregates counts for sessionID across its lifetime.
func (s *Store) SessionSummary(sessionID string) (SessionCounts, error) {
	var counts SessionCounts
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT exit_code, timed_out FROM observations WHERE session_id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("session summary: query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var exitCode, timedOut int
			if err := rows.Scan(&exitCode, &timedOut); err != nil {
				return fmt.Errorf("session summary: scan: %w", err)
			}
			counts.Total++
			switch {
			case timedOut != 0:
				counts.Timeouts++
			case exitCode == 0:
				counts.Successes++
			default:
				counts.Failures++
			}
		}
		return rows.Err()
	})
	return counts, err
}
