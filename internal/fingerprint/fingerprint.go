// Package fingerprint normalizes shell command strings into stable keys
// used by the A.L.A.N. learning store.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	whitespaceRun    = regexp.MustCompile(`\s+`)
	doubleQuotedRun  = regexp.MustCompile(`"[^"]*"`)
	singleQuotedRun  = regexp.MustCompile(`'[^']*'`)
	digitRun         = regexp.MustCompile(`[0-9]+`)
	pathLikeToken    = regexp.MustCompile(`^[./~]`)
	globToken        = regexp.MustCompile(`[*?\[\]]`)
	numericToken     = regexp.MustCompile(`^[0-9]+$`)
)

// normalize collapses whitespace, blanks quoted-string contents, and
// replaces digit runs with the literal N, matching spec.md §4.2.
func normalize(cmd string) string {
	s := strings.TrimSpace(cmd)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = doubleQuotedRun.ReplaceAllString(s, `""`)
	s = singleQuotedRun.ReplaceAllString(s, `''`)
	s = digitRun.ReplaceAllString(s, "N")
	return s
}

// Fingerprint returns the 16-hex-char stable identity of a command,
// collapsing whitespace runs, digit runs, and quoted-string contents while
// keeping literal operators so that e.g. "tar xf" and "tar cf" differ.
// Paths that differ in anything other than digits give different
// fingerprints; Template is the form that collapses whole paths.
func Fingerprint(cmd string) string {
	normalized := normalize(cmd)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)[:16]
}

// BaseCommand extracts the leading program name of a normalized command,
// reducing a path like "/usr/bin/tar" to its last segment "tar". Used as
// the option-cache key.
func BaseCommand(cmd string) string {
	normalized := normalize(cmd)
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return ""
	}
	first := fields[0]
	if idx := strings.LastIndex(first, "/"); idx >= 0 {
		first = first[idx+1:]
	}
	return first
}

// Template replaces path-like, glob, and numeric tokens with "*", producing
// the unit used for streak counting ("same shape, different files").
func Template(cmd string) string {
	normalized := normalize(cmd)
	fields := strings.Fields(normalized)
	for i, tok := range fields {
		if looksLikePathGlobOrNumber(tok) {
			fields[i] = "*"
		}
	}
	return strings.Join(fields, " ")
}

func looksLikePathGlobOrNumber(tok string) bool {
	if tok == "N" || numericToken.MatchString(tok) {
		return true
	}
	if pathLikeToken.MatchString(tok) || strings.Contains(tok, "/") {
		return true
	}
	if globToken.MatchString(tok) {
		return true
	}
	return false
}
