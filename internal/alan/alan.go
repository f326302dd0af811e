// Package alan implements A.L.A.N. ("As Long As Necessary"), the persistent
// time-decayed learning store described in spec.md §4.4: command
// fingerprinting, decayed observations, streak/success statistics,
// pipe-segment analysis, and insight synthesis. Grounded in shape on the
// teacher's internal/memory/learning.go (a SQLite-backed learning/stats
// package), though the decay/prune/streak logic itself is new — the
// teacher's learning store has no time-decay concept.
package alan

import (
	"strings"
	"sync"
	"time"

	"github.com/CLIAIMONITOR/internal/bus"
	"github.com/CLIAIMONITOR/internal/fingerprint"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/google/uuid"
)

const (
	commandPreviewLen = 200
	snippetLen        = 500
	streakQueryLimit  = 50
)

// Config bundles the subset of the service configuration A.L.A.N. needs.
type Config struct {
	DecayHalfLifeHours float64
	PruneThreshold     float64
	PruneInterval      time.Duration
	MaxEntries         int

	ManoptEnabled     bool
	ManoptFailTrigger int
	ManoptFailPresent int
	ManoptTimeout     time.Duration
}

// Alan is the per-process learning store, wired to one Store, one session,
// and an optional Bus for publishing manopt harvest events.
type Alan struct {
	store     *store.Store
	cfg       Config
	sessionID string
	bus       *bus.Bus

	mu                  sync.Mutex
	consecutiveFailures map[string]int // template -> count, this session
}

// New constructs an Alan instance bound to store st, using a fresh
// process-lifetime session ID.
func New(st *store.Store, cfg Config, b *bus.Bus) *Alan {
	return &Alan{
		store:               st,
		cfg:                 cfg,
		sessionID:           uuid.New().String(),
		bus:                 b,
		consecutiveFailures: make(map[string]int),
	}
}

// SessionID returns the process-lifetime session identifier shared by every
// observation this instance records.
func (a *Alan) SessionID() string { return a.sessionID }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func splitPipeline(cmd string) []string {
	parts := strings.Split(cmd, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Record inserts one observation for cmd, plus one synthetic per-segment
// observation when pipestatus has more than one element (spec.md §4.4
// record). It opportunistically prunes and may trigger a manopt harvest.
func (a *Alan) Record(cmd string, exitCode int, durationMS int64, timedOut bool, stdoutSnippet, stderrSnippet string, pipestatus []int) error {
	now := time.Now()
	fp := fingerprint.Fingerprint(cmd)
	tmpl := fingerprint.Template(cmd)

	obs := store.Observation{
		ID:                 uuid.New().String(),
		SessionID:          a.sessionID,
		CommandFingerprint: fp,
		CommandTemplate:    tmpl,
		CommandPreview:     truncate(cmd, commandPreviewLen),
		ExitCode:           exitCode,
		Pipestatus:         pipestatus,
		DurationMS:         durationMS,
		TimedOut:           timedOut,
		OutputSnippet:      truncate(stdoutSnippet, snippetLen),
		ErrorSnippet:       truncate(stderrSnippet, snippetLen),
		Weight:             1.0,
		CreatedAt:          now,
	}
	if err := a.store.InsertObservation(obs); err != nil {
		return err
	}

	if len(pipestatus) > 1 {
		segments := splitPipeline(cmd)
		for i, code := range pipestatus {
			segCmd := cmd
			if i < len(segments) {
				segCmd = segments[i]
			}
			segObs := store.Observation{
				ID:                 uuid.New().String(),
				SessionID:          a.sessionID,
				CommandFingerprint: fingerprint.Fingerprint(segCmd),
				CommandTemplate:    fingerprint.Template(segCmd),
				CommandPreview:     truncate(segCmd, commandPreviewLen),
				ExitCode:           code,
				Pipestatus:         []int{code},
				DurationMS:         durationMS,
				TimedOut:           false,
				Weight:             1.0,
				CreatedAt:          now,
			}
			// Synthetic per-segment observations are part of the
			// observability path; a failure here must not fail Record.
			_ = a.store.InsertObservation(segObs)
		}
	}

	a.maybePrune()
	a.trackFailureStreak(tmpl, exitCode, timedOut)

	return nil
}

func (a *Alan) maybePrune() {
	last, err := a.store.GetLastPrune()
	if err != nil {
		return
	}
	if !last.IsZero() && time.Since(last) < a.cfg.PruneInterval {
		return
	}
	_ = a.store.Prune(a.cfg.DecayHalfLifeHours, a.cfg.PruneThreshold, a.cfg.MaxEntries)
}

// trackFailureStreak updates the per-template consecutive-failure counter
// and triggers a manopt harvest exactly when the count transitions THROUGH
// manopt_fail_trigger (spec.md: "equals, not exceeds").
func (a *Alan) trackFailureStreak(template string, exitCode int, timedOut bool) {
	failed := timedOut || exitCode != 0

	a.mu.Lock()
	if failed {
		a.consecutiveFailures[template]++
	} else {
		a.consecutiveFailures[template] = 0
	}
	count := a.consecutiveFailures[template]
	a.mu.Unlock()

	if failed && a.cfg.ManoptEnabled && count == a.cfg.ManoptFailTrigger {
		base := fingerprint.BaseCommand(template)
		a.harvestManopt(base)
	}
}

// GetPatternStats aggregates observations sharing cmd's fingerprint.
func (a *Alan) GetPatternStats(cmd string) (store.PatternStats, error) {
	fp := fingerprint.Fingerprint(cmd)
	return a.store.QueryPattern(fp, a.cfg.DecayHalfLifeHours)
}

// Streak is the result of GetStreak.
type Streak struct {
	Length    int
	HasStreak bool
	AllFailed bool
}

// GetStreak returns the run length of consecutive identical outcomes (all
// success or all failure) for cmd's template within this session, newest
// first. HasStreak is true at length >= 3.
func (a *Alan) GetStreak(cmd string) (Streak, error) {
	tmpl := fingerprint.Template(cmd)
	exitCodes, err := a.store.QueryRecentByTemplate(tmpl, a.sessionID, streakQueryLimit)
	if err != nil {
		return Streak{}, err
	}
	if len(exitCodes) == 0 {
		return Streak{}, nil
	}

	firstSuccess := exitCodes[0] == 0
	length := 0
	for _, code := range exitCodes {
		if (code == 0) != firstSuccess {
			break
		}
		length++
	}

	return Streak{
		Length:    length,
		HasStreak: length >= 3,
		AllFailed: !firstSuccess,
	}, nil
}

// GetSessionSummary returns a rollup of this session's recorded
// observations (SPEC_FULL.md §5.4 supplement).
func (a *Alan) GetSessionSummary() (store.SessionCounts, error) {
	return a.store.SessionSummary(a.sessionID)
}

func (a *Alan) consecutiveFailureCount(template string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consecutiveFailures[template]
}
