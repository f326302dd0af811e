// Command alanctl is a read-only diagnostic inspector for an A.L.A.N.
// database: it opens the database via the pure-Go SQLite driver (no cgo)
// and prints pattern stats or the manopt option cache for a command as
// JSON. The live service never shells out to it (SPEC_FULL.md §5.11).
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/CLIAIMONITOR/internal/fingerprint"
	_ "modernc.org/sqlite"
)

func main() {
	dbPath := flag.String("db", "", "Path to the A.L.A.N. SQLite database")
	action := flag.String("action", "", "Action to perform: stats, manopt, recent")
	command := flag.String("command", "", "Shell command to derive a fingerprint/template from")
	limit := flag.Int("limit", 20, "Row limit for -action recent")
	flag.Parse()

	if *dbPath == "" || *action == "" {
		fmt.Fprintln(os.Stderr, "Usage: alanctl -db <path> -action <stats|manopt|recent> [-command <cmd>] [-limit N]")
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", *dbPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "alanctl: open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch *action {
	case "stats":
		if *command == "" {
			fmt.Fprintln(os.Stderr, "alanctl: -action stats requires -command")
			os.Exit(1)
		}
		if err := printStats(db, *command); err != nil {
			fmt.Fprintf(os.Stderr, "alanctl: %v\n", err)
			os.Exit(1)
		}

	case "manopt":
		if *command == "" {
			fmt.Fprintln(os.Stderr, "alanctl: -action manopt requires -command")
			os.Exit(1)
		}
		if err := printManopt(db, *command); err != nil {
			fmt.Fprintf(os.Stderr, "alanctl: %v\n", err)
			os.Exit(1)
		}

	case "recent":
		if err := printRecent(db, *limit); err != nil {
			fmt.Fprintf(os.Stderr, "alanctl: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "alanctl: unknown action %q\n", *action)
		os.Exit(1)
	}
}

type patternStats struct {
	Fingerprint   string  `json:"fingerprint"`
	Known         bool    `json:"known"`
	TotalCount    int     `json:"total_count"`
	WeightedTotal float64 `json:"weighted_total"`
	TimeoutRate   float64 `json:"timeout_rate"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	MaxDurationMS int64   `json:"max_duration_ms"`
}

func printStats(db *sql.DB, command string) error {
	fp := fingerprint.Fingerprint(command)

	rows, err := db.Query(`SELECT exit_code, timed_out, duration_ms, weight
		FROM observations WHERE command_fingerprint = ?`, fp)
	if err != nil {
		return fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var (
		total             int
		weightedTotal     float64
		weightedTimeouts  float64
		weightedSuccesses float64
		weightedDuration  float64
		maxDuration       int64
	)
	for rows.Next() {
		var exitCode, durationMS int64
		var timedOut int
		var weight float64
		if err := rows.Scan(&exitCode, &timedOut, &durationMS, &weight); err != nil {
			return fmt.Errorf("scan observation: %w", err)
		}
		total++
		weightedTotal += weight
		weightedDuration += weight * float64(durationMS)
		if durationMS > maxDuration {
			maxDuration = durationMS
		}
		if timedOut != 0 {
			weightedTimeouts += weight
		} else if exitCode == 0 {
			weightedSuccesses += weight
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate observations: %w", err)
	}

	stats := patternStats{Fingerprint: fp, Known: total > 0}
	if total > 0 {
		stats.TotalCount = total
		stats.WeightedTotal = weightedTotal
		if weightedTotal > 0 {
			stats.TimeoutRate = weightedTimeouts / weightedTotal
			stats.SuccessRate = weightedSuccesses / weightedTotal
			stats.AvgDurationMS = weightedDuration / weightedTotal
		}
		stats.MaxDurationMS = maxDuration
	}

	return json.NewEncoder(os.Stdout).Encode(stats)
}

func printManopt(db *sql.DB, command string) error {
	base := fingerprint.BaseCommand(command)

	var optionsText, createdAt string
	err := db.QueryRow(`SELECT options_text, created_at FROM manopt_cache WHERE base_command = ?`, base).
		Scan(&optionsText, &createdAt)
	switch {
	case err == sql.ErrNoRows:
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"base_command": base,
			"found":        false,
		})
	case err != nil:
		return fmt.Errorf("query manopt_cache: %w", err)
	}

	return json.NewEncoder(os.Stdout).Encode(map[string]any{
		"base_command": base,
		"found":        true,
		"options_text": optionsText,
		"created_at":   createdAt,
	})
}

type observationRow struct {
	CommandPreview string    `json:"command_preview"`
	ExitCode       int64     `json:"exit_code"`
	TimedOut       bool      `json:"timed_out"`
	DurationMS     int64     `json:"duration_ms"`
	Weight         float64   `json:"weight"`
	CreatedAt      time.Time `json:"created_at"`
}

func printRecent(db *sql.DB, limit int) error {
	rows, err := db.Query(`SELECT command_preview, exit_code, timed_out, duration_ms, weight, created_at
		FROM observations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return fmt.Errorf("query recent observations: %w", err)
	}
	defer rows.Close()

	var out []observationRow
	for rows.Next() {
		var r observationRow
		var timedOut int
		var createdAt string
		if err := rows.Scan(&r.CommandPreview, &r.ExitCode, &timedOut, &r.DurationMS, &r.Weight, &createdAt); err != nil {
			return fmt.Errorf("scan observation: %w", err)
		}
		r.TimedOut = timedOut != 0
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate observations: %w", err)
	}

	return json.NewEncoder(os.Stdout).Encode(out)
}
