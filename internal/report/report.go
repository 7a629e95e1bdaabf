// Package report assembles the downloadable plain-text report for a
// completed crew run. The layout is fixed: a configuration part and a
// results part, separated by rule lines.
package report

import (
	"fmt"
	"strings"
	"time"
)

const (
	title          = "CREWDECK - COMPLETE REPORT"
	sectionRule    = "=================================================="
	entryRule      = "--------------------------------------------------"
	timestampFmt   = "2006-01-02 15:04:05"
	filenameFmt    = "20060102_150405"
	filenamePref   = "crew_report_"
	filenameSuffix = ".txt"
)

// Entry is one agent's slot in the report: its configuration and, for a
// completed run, its output.
type Entry struct {
	Name         string
	Instructions string
	Output       string
}

// Build renders the full report text. Names, instructions, and outputs
// are included verbatim.
func Build(sharedContext string, entries []Entry, now time.Time) string {
	ts := now.Format(timestampFmt)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n\n", title, sectionRule)

	fmt.Fprintf(&sb, "PART 1: CREW CONFIGURATION\n%s\n", sectionRule)
	fmt.Fprintf(&sb, "Timestamp: %s\n\n", ts)
	fmt.Fprintf(&sb, "Additional Context:\n%s\n\n", sharedContext)
	sb.WriteString("Agent Configurations:\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "\nAgent %d: %s\n", i+1, e.Name)
		fmt.Fprintf(&sb, "Instructions:\n%s\n", e.Instructions)
		sb.WriteString(entryRule + "\n")
	}

	fmt.Fprintf(&sb, "\n%s\nPART 2: CREW RESULTS\n%s\n", sectionRule, sectionRule)
	fmt.Fprintf(&sb, "Timestamp: %s\n\n", ts)
	sb.WriteString("Results by Agent:\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "\nAgent %d: %s\n", i+1, e.Name)
		fmt.Fprintf(&sb, "Output:\n%s\n", e.Output)
		sb.WriteString(entryRule + "\n")
	}

	return sb.String()
}

// Filename derives the download name from the timestamp, e.g.
// crew_report_20260829_153000.txt.
func Filename(now time.Time) string {
	return filenamePref + now.Format(filenameFmt) + filenameSuffix
}
