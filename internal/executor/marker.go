package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// pipestatusMarker precedes the machine-readable pipestatus line the wrapped
// script appends after the caller's command (spec.md §4.6, design note on
// pipestatus capture). The leading record-separator byte keeps it from
// colliding with anything a shell command would print in the ordinary
// course of events.
const pipestatusMarker = "\x1e#ZSHTOOL_PIPESTATUS#"

// wrapWithPipestatusMarker appends a printf call that reports zsh's
// $pipestatus array for cmd's (possibly pipelined) invocation. Parameter
// expansion for the printf argv happens before printf itself runs, so
// "${pipestatus[*]}" still reflects cmd's pipeline, not the printf call.
func wrapWithPipestatusMarker(cmd string) string {
	return cmd + "\n" + fmt.Sprintf(`printf '\n%s%%s\n' "${pipestatus[*]}"`, pipestatusMarker)
}

// stripPipestatusMarker locates the last pipestatus marker in raw, splits
// off everything from it onward, and parses the trailing whitespace
// separated exit codes. It tolerates the command's own output lacking a
// trailing newline, since the marker is always preceded by one we inject.
func stripPipestatusMarker(raw string) (clean string, pipestatus []int, found bool) {
	idx := strings.LastIndex(raw, pipestatusMarker)
	if idx == -1 {
		return raw, nil, false
	}

	clean = raw[:idx]
	rest := strings.TrimRight(raw[idx+len(pipestatusMarker):], "\n")
	for _, f := range strings.Fields(rest) {
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		pipestatus = append(pipestatus, n)
	}
	return clean, pipestatus, len(pipestatus) > 0
}
