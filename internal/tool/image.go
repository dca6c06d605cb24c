package tool

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/forgeline/pipeline/internal/executor"
)

// digestPattern matches the content digest the container CLI prints after a
// successful push.
var digestPattern = regexp.MustCompile(`sha256:[a-f0-9]{64}`)

// DockerCLI builds and pushes images by shelling out to the container CLI.
type DockerCLI struct {
	runner executor.Runner
	binary string
}

// NewDockerCLI returns image build/push capabilities backed by the given
// CLI binary (normally "docker").
func NewDockerCLI(runner executor.Runner, binary string) *DockerCLI {
	return &DockerCLI{runner: runner, binary: binary}
}

// Build implements ImageBuilder.
func (d *DockerCLI) Build(ctx context.Context, workdir, tag string) error {
	result, err := d.runner.Run(ctx, d.binary, []string{"build", "-t", tag, "."},
		executor.WithWorkingDir(workdir),
	)
	if err != nil {
		return fmt.Errorf("%s build invocation failed: %w", d.binary, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("image build failed (exit %d): %s", result.ExitCode, tailOf(result.Stderr))
	}
	return nil
}

// Push implements ImagePusher.
func (d *DockerCLI) Push(ctx context.Context, tag string) (PushReport, error) {
	result, err := d.runner.Run(ctx, d.binary, []string{"push", tag})
	if err != nil {
		return PushReport{}, fmt.Errorf("%s push invocation failed: %w", d.binary, err)
	}
	if result.ExitCode != 0 {
		return PushReport{}, fmt.Errorf("image push failed (exit %d): %s", result.ExitCode, tailOf(result.Stderr))
	}

	report := PushReport{Ref: tag}
	if match := digestPattern.FindString(result.Stdout); match != "" {
		if dg, parseErr := digest.Parse(match); parseErr == nil {
			report.Digest = dg
		}
	}
	return report, nil
}

// ImageTag builds the image reference for a run: the repository identifier
// flattened to a registry path, tagged with the short commit hash. With no
// registry host configured the reference stays local.
func ImageTag(registryHost, repository, shortSHA string) string {
	path := strings.ToLower(repository)
	if registryHost == "" {
		return path + ":" + shortSHA
	}
	return registryHost + "/" + path + ":" + shortSHA
}

// tailOf returns the last few lines of command output, enough to carry the
// actual error message without the full build log.
func tailOf(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	const keep = 5
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.Join(lines, "\n")
}
