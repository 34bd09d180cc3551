// Package parser implements the Output Parser (spec §4.4): a pure
// function classifying a raw output line into one of {output, command,
// file_change, test_result, error}, with an optional enriched payload.
// Classification rules run against ANSI-stripped text via
// github.com/charmbracelet/x/ansi, the same stripping helper the rest of
// this codebase's terminal-output consumers use.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/agentloom/orchestrator/internal/domain"
)

// Result is the Parser's output for one line.
type Result struct {
	Type     domain.StreamEventType
	Metadata domain.StreamMetadata
}

var (
	commandRe    = regexp.MustCompile(`^\$\s+.+`)
	creatingRe   = regexp.MustCompile(`^>\s*(?:Creating|Writing|Adding)\s+(.+)$`)
	editingRe    = regexp.MustCompile(`^>\s*(?:Editing|Modifying|Updating)\s+(.+)$`)
	deletingRe   = regexp.MustCompile(`^>\s*(?:Deleting|Removing)\s+(.+)$`)
	passFailRe   = regexp.MustCompile(`^(PASS|FAIL)\s+(.+)$`)
	summaryRe    = regexp.MustCompile(`(?i)^Tests:\s*(.+)$`)
	summaryPart  = regexp.MustCompile(`(?i)(\d+)\s*(passed|skipped|failed|total)`)
	tapRe        = regexp.MustCompile(`^(ok|not ok)\s+\d+\s*-\s*(.+)$`)
	checkRe      = regexp.MustCompile(`^(?:✓|✔)\s+(.+?)(?:\s*\([^)]*\))?$`)
	crossRe      = regexp.MustCompile(`^(?:✕|✗|✘|×)\s+(.+)$`)
	runtimeErrRe = regexp.MustCompile(`^(SyntaxError|TypeError|ReferenceError|RangeError|URIError|EvalError|Error):\s*(.+)$`)
	tsErrRe      = regexp.MustCompile(`^error TS(\d+):\s*(.+)$`)
	npmErrRe     = regexp.MustCompile(`^npm ERR!\s*(?:code\s+(\S+))?\s*(.*)$`)
)

// Parse classifies a single raw output line. The returned Metadata is the
// zero value (IsEmpty() true) when the classification carries no
// additional structured data.
func Parse(line string) Result {
	if commandRe.MatchString(line) {
		return Result{Type: domain.StreamCommand}
	}

	if res, ok := parseFileChange(line); ok {
		return res
	}

	stripped := ansi.Strip(line)

	if res, ok := parseTestResult(stripped); ok {
		return res
	}

	if res, ok := parseError(stripped); ok {
		return res
	}

	return Result{Type: domain.StreamOutput}
}

// looksLikeFilePath requires the last '/'-separated segment to contain a
// dot, per spec §4.4 ("must look like a file, not a directory").
func looksLikeFilePath(candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	candidate = strings.TrimSuffix(candidate, "...")
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	segments := strings.Split(candidate, "/")
	last := segments[len(segments)-1]
	if !strings.Contains(last, ".") {
		return "", false
	}
	return candidate, true
}

func parseFileChange(line string) (Result, bool) {
	if m := creatingRe.FindStringSubmatch(line); m != nil {
		if path, ok := looksLikeFilePath(m[1]); ok {
			return fileChangeResult(path, domain.FileCreated), true
		}
	}
	if m := editingRe.FindStringSubmatch(line); m != nil {
		if path, ok := looksLikeFilePath(m[1]); ok {
			return fileChangeResult(path, domain.FileEdited), true
		}
	}
	if m := deletingRe.FindStringSubmatch(line); m != nil {
		if path, ok := looksLikeFilePath(m[1]); ok {
			return fileChangeResult(path, domain.FileDeleted), true
		}
	}
	return Result{}, false
}

func fileChangeResult(path string, change domain.FileChangeType) Result {
	name := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		name = path[idx+1:]
	}
	return Result{
		Type: domain.StreamFileChange,
		Metadata: domain.StreamMetadata{
			FileName:   name,
			FilePath:   path,
			ChangeType: change,
		},
	}
}

func parseTestResult(line string) (Result, bool) {
	if m := passFailRe.FindStringSubmatch(line); m != nil {
		status := domain.TestPassed
		if m[1] == "FAIL" {
			status = domain.TestFailed
		}
		return Result{
			Type: domain.StreamTestResult,
			Metadata: domain.StreamMetadata{
				TestStatus: status,
				FilePath:   strings.TrimSpace(m[2]),
			},
		}, true
	}

	if m := summaryRe.FindStringSubmatch(line); m != nil {
		summary := domain.TestSummary{}
		for _, part := range summaryPart.FindAllStringSubmatch(m[1], -1) {
			n, err := strconv.Atoi(part[1])
			if err != nil {
				continue
			}
			switch strings.ToLower(part[2]) {
			case "passed":
				summary.Passed = n
			case "skipped":
				summary.Skipped = n
			case "failed":
				summary.Failed = n
			case "total":
				summary.Total = n
			}
		}
		status := domain.TestPassed
		if summary.Failed > 0 {
			status = domain.TestFailed
		}
		return Result{
			Type: domain.StreamTestResult,
			Metadata: domain.StreamMetadata{
				TestStatus: status,
				Summary:    &summary,
			},
		}, true
	}

	if m := tapRe.FindStringSubmatch(line); m != nil {
		status := domain.TestPassed
		if m[1] == "not ok" {
			status = domain.TestFailed
		}
		return Result{
			Type: domain.StreamTestResult,
			Metadata: domain.StreamMetadata{
				TestName:   strings.TrimSpace(m[2]),
				TestStatus: status,
			},
		}, true
	}

	if m := checkRe.FindStringSubmatch(line); m != nil {
		return Result{
			Type: domain.StreamTestResult,
			Metadata: domain.StreamMetadata{
				TestName:   strings.TrimSpace(m[1]),
				TestStatus: domain.TestPassed,
			},
		}, true
	}

	if m := crossRe.FindStringSubmatch(line); m != nil {
		return Result{
			Type: domain.StreamTestResult,
			Metadata: domain.StreamMetadata{
				TestName:   strings.TrimSpace(m[1]),
				TestStatus: domain.TestFailed,
			},
		}, true
	}

	return Result{}, false
}

func parseError(line string) (Result, bool) {
	if m := runtimeErrRe.FindStringSubmatch(line); m != nil {
		return Result{
			Type: domain.StreamError,
			Metadata: domain.StreamMetadata{
				ErrorType: m[1],
			},
		}, true
	}
	if m := tsErrRe.FindStringSubmatch(line); m != nil {
		return Result{
			Type: domain.StreamError,
			Metadata: domain.StreamMetadata{
				ErrorType: "TypeCheckError",
				ErrorCode: "TS" + m[1],
			},
		}, true
	}
	if m := npmErrRe.FindStringSubmatch(line); m != nil {
		return Result{
			Type: domain.StreamError,
			Metadata: domain.StreamMetadata{
				ErrorType: "PackageManagerError",
				ErrorCode: m[1],
			},
		}, true
	}
	return Result{}, false
}
