// Package logparse turns raw playbook runner output into structured,
// line-numbered log entries ready for bulk storage.
package logparse

import (
	"regexp"
	"strings"
	"time"

	"opsplane/internal/store"
)

var (
	// ANSI escape sequences emitted by the runner's colored output.
	ansiPattern = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

	errorPattern   = regexp.MustCompile(`(?i)(error|failed|fatal)`)
	warningPattern = regexp.MustCompile(`(?i)(warn|warning|deprecated)`)
	debugPattern   = regexp.MustCompile(`(?i)(debug|verbose)`)

	taskPattern    = regexp.MustCompile(`^TASK \[(.*?)\]`)
	playPattern    = regexp.MustCompile(`^PLAY \[(.*?)\]`)
	okPattern      = regexp.MustCompile(`^ok: \[(.*?)\]`)
	changedPattern = regexp.MustCompile(`^changed: \[(.*?)\]`)
	failedPattern  = regexp.MustCompile(`^failed: \[(.*?)\]`)
	skippedPattern = regexp.MustCompile(`^skipping: \[(.*?)\]`)
)

// StripANSI removes terminal escape sequences from text.
func StripANSI(text string) string {
	return ansiPattern.ReplaceAllString(text, "")
}

// DetectLevel classifies a line by content. Error markers win over
// warning markers, which win over debug markers.
func DetectLevel(line string) store.LogLevel {
	switch {
	case errorPattern.MatchString(line):
		return store.LevelError
	case warningPattern.MatchString(line):
		return store.LevelWarning
	case debugPattern.MatchString(line):
		return store.LevelDebug
	default:
		return store.LevelInfo
	}
}

// Parse splits raw output into ordered log entries. Blank lines are
// dropped; line numbers are 1-based and gap-free over the kept lines.
func Parse(output string) []store.JobLog {
	return ParseFrom(output, 0)
}

// ParseFrom parses output with line numbers continuing after startLine.
func ParseFrom(output string, startLine int) []store.JobLog {
	lines := strings.Split(output, "\n")
	now := time.Now().UTC()

	logs := make([]store.JobLog, 0, len(lines))
	n := startLine
	for _, raw := range lines {
		clean := strings.TrimRight(StripANSI(raw), " \t\r")
		if strings.TrimSpace(clean) == "" {
			continue
		}
		n++
		logs = append(logs, store.JobLog{
			LineNumber: n,
			Content:    clean,
			Level:      DetectLevel(clean),
			Timestamp:  now,
		})
	}
	return logs
}

// Summary aggregates the per-task outcome counters of a parsed run.
type Summary struct {
	TotalTasks int
	OK         int
	Changed    int
	Failed     int
	Skipped    int
	Errors     []store.JobLog
}

// Summarize extracts an execution summary from parsed log entries.
func Summarize(logs []store.JobLog) Summary {
	var sum Summary
	for _, l := range logs {
		switch {
		case taskPattern.MatchString(l.Content):
			sum.TotalTasks++
		case okPattern.MatchString(l.Content):
			sum.OK++
		case changedPattern.MatchString(l.Content):
			sum.Changed++
		case failedPattern.MatchString(l.Content):
			sum.Failed++
			sum.Errors = append(sum.Errors, l)
		case skippedPattern.MatchString(l.Content):
			sum.Skipped++
		case playPattern.MatchString(l.Content):
			// plays carry no counters, matched only to keep them out of
			// the task bucket
		}
	}
	return sum
}
