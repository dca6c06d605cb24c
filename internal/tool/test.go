package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/forgeline/pipeline/internal/executor"
)

// ProjectKind is the detected project type of a checked-out working tree.
type ProjectKind string

const (
	ProjectPython  ProjectKind = "python"
	ProjectNode    ProjectKind = "node"
	ProjectUnknown ProjectKind = "unknown"
)

// DetectProject inspects a working tree and reports its project kind.
// Python markers win over Node markers when both are present, matching the
// order the test commands were introduced in.
func DetectProject(workdir string) ProjectKind {
	for _, marker := range []string{"requirements.txt", "pyproject.toml", "setup.py"} {
		if fileExists(filepath.Join(workdir, marker)) {
			return ProjectPython
		}
	}
	if fileExists(filepath.Join(workdir, "package.json")) {
		return ProjectNode
	}
	return ProjectUnknown
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var (
	pytestPassed = regexp.MustCompile(`(\d+) passed`)
	pytestFailed = regexp.MustCompile(`(\d+) failed`)
)

// ProjectTester runs the test command appropriate to the detected project
// type: pytest for Python-style projects, npm test for Node-style ones.
type ProjectTester struct {
	runner executor.Runner
}

// NewProjectTester returns a Tester shelling out through runner.
func NewProjectTester(runner executor.Runner) *ProjectTester {
	return &ProjectTester{runner: runner}
}

// Test implements Tester. An unrecognized project type fails the stage: a
// repository we cannot test is reported, not silently passed.
func (t *ProjectTester) Test(ctx context.Context, workdir string) (TestReport, error) {
	kind := DetectProject(workdir)

	var program string
	var args []string
	switch kind {
	case ProjectPython:
		program, args = "python3", []string{"-m", "pytest", "--tb=short", "-q"}
	case ProjectNode:
		program, args = "npm", []string{"test", "--silent"}
	default:
		return TestReport{}, fmt.Errorf("no supported test runner for this project (looked for Python and Node markers)")
	}

	result, err := t.runner.Run(ctx, program, args, executor.WithWorkingDir(workdir))
	if err != nil {
		return TestReport{}, fmt.Errorf("%s invocation failed: %w", program, err)
	}

	report := parseTestOutput(kind, result.Stdout, result.Stderr)
	if result.ExitCode != 0 {
		return report, fmt.Errorf("test suite failed (exit %d): %s", result.ExitCode, report.Detail)
	}
	return report, nil
}

// parseTestOutput extracts pass/fail counts from runner output where the
// format is known. pytest prints a "N passed, M failed" summary; npm output
// varies by test framework, so Node projects get a summary line only.
func parseTestOutput(kind ProjectKind, stdout, stderr string) TestReport {
	report := TestReport{Detail: lastNonEmptyLine(stdout, stderr)}

	if kind != ProjectPython {
		return report
	}

	combined := stdout + "\n" + stderr
	if m := pytestPassed.FindStringSubmatch(combined); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			report.Passed = &n
		}
	}
	if m := pytestFailed.FindStringSubmatch(combined); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			report.Failed = &n
		}
	}
	if report.Passed != nil && report.Failed == nil {
		zero := 0
		report.Failed = &zero
	}
	return report
}

func lastNonEmptyLine(streams ...string) string {
	for i := len(streams) - 1; i >= 0; i-- {
		lines := strings.Split(strings.TrimSpace(streams[i]), "\n")
		for j := len(lines) - 1; j >= 0; j-- {
			if line := strings.TrimSpace(lines[j]); line != "" {
				return line
			}
		}
	}
	return ""
}
