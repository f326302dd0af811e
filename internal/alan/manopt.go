package alan

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/CLIAIMONITOR/internal/bus"
)

// manoptFailed holds the base commands whose harvest has failed in this
// process; harvestManopt does not spawn the helper for them again.
var manoptFailed sync.Map

// locateManopt prefers an executable named "manopt" on PATH, else falls
// back to a sibling scripts/manopt path for development (spec.md §4.4).
func locateManopt() (string, bool) {
	if path, err := exec.LookPath("manopt"); err == nil {
		return path, true
	}

	exe, err := os.Executable()
	if err != nil {
		return "", false
	}
	sibling := filepath.Join(filepath.Dir(exe), "scripts", "manopt")
	if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
		return sibling, true
	}
	return "", false
}

// harvestManopt asynchronously spawns the manopt helper for base and, on a
// clean exit with non-empty stdout, caches the result. It never blocks the
// caller and never retries within this process on failure.
func (a *Alan) harvestManopt(base string) {
	if base == "" {
		return
	}
	if _, failed := manoptFailed.Load(base); failed {
		return
	}
	path, ok := locateManopt()
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ManoptTimeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, path, base)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout

		if err := cmd.Run(); err != nil {
			manoptFailed.Store(base, true)
			log.Printf("[ALAN] manopt harvest for %q failed silently: %v", base, err)
			return
		}
		text := stdout.String()
		if text == "" {
			manoptFailed.Store(base, true)
			return
		}

		if err := a.store.UpsertManoptCache(base, text); err != nil {
			log.Printf("[ALAN] manopt harvest for %q could not be cached: %v", base, err)
			return
		}

		a.bus.Publish(bus.SubjectAlanManopt, map[string]string{"base_command": base})
	}()
}
