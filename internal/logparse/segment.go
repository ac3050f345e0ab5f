// Package logparse splits raw job logs into per-step excerpts.
//
// GitHub Actions logs mark collapsible sections with "##[group]<header>"
// lines. The first fold of a log opens job setup and every step executed by
// a "run" or "uses" directive opens a fold whose header starts with "Run ".
// Those fold openings are taken as step boundaries and assigned to the
// reported steps by position. Reported pseudo-steps ("Set up job", post
// actions, "Complete job") do not always have a fold of their own, so the
// mapping is best effort: extra steps receive an empty excerpt and extra
// boundaries are ignored.
package logparse

import (
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/lei/actions-ledger/internal/models"
)

const (
	foldMarker = "##[group]"
	runPrefix  = "Run "
)

// StripANSI removes terminal escape sequences from s
func StripANSI(s string) string {
	if s == "" {
		return s
	}
	return ansi.Strip(s)
}

// Boundaries returns the indices of the lines that open a step section
func Boundaries(lines []string) []int {
	var out []int
	for i, line := range lines {
		idx := strings.Index(line, foldMarker)
		if idx < 0 {
			continue
		}
		header := line[idx+len(foldMarker):]
		if len(out) == 0 || strings.HasPrefix(header, runPrefix) {
			out = append(out, i)
		}
	}
	return out
}

// Segment returns a copy of steps in the same order, each carrying the log
// excerpt assigned to it. It never fails: steps beyond the number of
// detected boundaries get an empty excerpt.
func Segment(rawLog string, steps []models.Step) []models.Step {
	lines := strings.Split(StripANSI(rawLog), "\n")
	bounds := Boundaries(lines)

	out := make([]models.Step, len(steps))
	for i, step := range steps {
		excerpt := ""
		if i < len(bounds) {
			end := len(lines)
			if i+1 < len(bounds) {
				end = bounds[i+1]
			}
			excerpt = strings.Join(lines[bounds[i]:end], "\n")
		}
		step.LogContent = &excerpt
		out[i] = step
	}
	return out
}
