package alan

import (
	"fmt"
	"strings"

	"github.com/CLIAIMONITOR/internal/fingerprint"
)

// Level is the severity of an Insight.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Insight is one (level, message) entry in a pre- or post-execution list.
type Insight struct {
	Level   Level
	Message string
}

var benignExitOne = map[string]string{
	"grep": "no match",
	"diff": "files differ",
	"test": "condition false",
	"[":    "condition false",
	"cmp":  "files differ",
}

var universalExitCodes = map[int]string{
	126: "permission denied",
	127: "command not found",
	255: "SSH connection failed",
}

// GetInsights produces the deterministic, ordered pre-execution warning/info
// list for cmd (spec.md §4.4 get_insights), at most one insight per
// category.
func (a *Alan) GetInsights(cmd string, timeoutSeconds float64) ([]Insight, error) {
	var insights []Insight

	stats, err := a.GetPatternStats(cmd)
	if err != nil {
		return nil, err
	}

	if !stats.Known {
		insights = append(insights, Insight{LevelInfo, "new pattern, no history yet"})
	} else {
		switch {
		case stats.SuccessRate >= 0.9:
			insights = append(insights, Insight{LevelInfo,
				fmt.Sprintf("reliable: %.0f%% success rate over %d runs", stats.SuccessRate*100, stats.TotalCount)})
		case stats.SuccessRate >= 0.4:
			insights = append(insights, Insight{LevelInfo,
				fmt.Sprintf("mixed reliability: %.0f%% success rate over %d runs", stats.SuccessRate*100, stats.TotalCount)})
		default:
			insights = append(insights, Insight{LevelWarning,
				fmt.Sprintf("unreliable: %.0f%% success rate over %d runs", stats.SuccessRate*100, stats.TotalCount)})
		}

		if timeoutSeconds > 0 && float64(stats.MaxDurationMS) >= 0.8*timeoutSeconds*1000 {
			insights = append(insights, Insight{LevelWarning,
				fmt.Sprintf("historical max duration %.1fs is close to the %.0fs timeout", float64(stats.MaxDurationMS)/1000, timeoutSeconds)})
		}
	}

	streak, err := a.GetStreak(cmd)
	if err != nil {
		return nil, err
	}
	if streak.HasStreak {
		outcome := "success"
		if streak.AllFailed {
			outcome = "failure"
		}
		insights = append(insights, Insight{LevelInfo,
			fmt.Sprintf("%d consecutive %ses for this pattern", streak.Length, outcome)})
	}

	template := fingerprint.Template(cmd)
	if a.consecutiveFailureCount(template) >= a.cfg.ManoptFailPresent-1 {
		base := fingerprint.BaseCommand(cmd)
		text, found, err := a.store.GetManoptCache(base)
		if err != nil {
			return nil, err
		}
		if found {
			insights = append(insights, Insight{LevelWarning, text})
		}
	}

	return insights, nil
}

// GetPostInsights produces the deterministic post-execution insight list
// (spec.md §4.4 get_post_insights) from the overall exit code, the
// pipestatus, and the captured output.
func (a *Alan) GetPostInsights(cmd string, exitCode int, pipestatus []int, output string) []Insight {
	var insights []Insight

	if msg, ok := universalExitCodes[exitCode]; ok {
		insights = append(insights, Insight{LevelWarning, msg})
	} else {
		base := fingerprint.BaseCommand(cmd)
		if exitCode == 1 {
			if desc, ok := benignExitOne[base]; ok {
				insights = append(insights, Insight{LevelInfo, fmt.Sprintf("exit 1 is normal for %s: %s", base, desc)})
			}
		}
	}

	if len(pipestatus) >= 2 {
		final := pipestatus[len(pipestatus)-1]
		if final == 0 {
			for i, code := range pipestatus[:len(pipestatus)-1] {
				if code == 0 || code == 141 {
					continue
				}
				insights = append(insights, Insight{LevelWarning,
					fmt.Sprintf("pipe segment %d failed (exit %d), masked by subsequent success", i+1, code)})
			}
		}
	}

	if exitCode == 0 && strings.TrimSpace(output) == "" {
		insights = append(insights, Insight{LevelInfo, "No output"})
	}

	return insights
}
