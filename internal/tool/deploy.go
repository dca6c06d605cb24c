package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeline/pipeline/internal/executor"
)

// KubectlDeployer updates a workload's image reference through the
// cluster-management CLI.
type KubectlDeployer struct {
	runner       executor.Runner
	binary       string
	deployment   string
	container    string
	namespace    string
	probeTimeout time.Duration
}

// NewKubectlDeployer returns a Deployer targeting the given deployment and
// container. namespace may be empty to use the CLI's current context.
func NewKubectlDeployer(
	runner executor.Runner,
	binary, deployment, container, namespace string,
	probeTimeout time.Duration,
) *KubectlDeployer {
	return &KubectlDeployer{
		runner:       runner,
		binary:       binary,
		deployment:   deployment,
		container:    container,
		namespace:    namespace,
		probeTimeout: probeTimeout,
	}
}

// Available implements Deployer. It requires a configured target workload
// and a reachable cluster; either missing makes the deploy stage skip.
func (k *KubectlDeployer) Available(ctx context.Context) error {
	if k.deployment == "" || k.container == "" {
		return fmt.Errorf("no deploy target configured")
	}

	args := k.withNamespace([]string{"cluster-info"})
	result, err := k.runner.Run(ctx, k.binary, args, executor.WithTimeout(k.probeTimeout))
	if err != nil {
		return fmt.Errorf("cluster CLI unavailable: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("cluster unreachable: %s", tailOf(result.Stderr))
	}
	return nil
}

// Deploy implements Deployer.
func (k *KubectlDeployer) Deploy(ctx context.Context, imageRef string) (string, error) {
	args := k.withNamespace([]string{
		"set", "image",
		"deployment/" + k.deployment,
		k.container + "=" + imageRef,
	})

	result, err := k.runner.Run(ctx, k.binary, args)
	if err != nil {
		return "", fmt.Errorf("%s invocation failed: %w", k.binary, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("deploy failed (exit %d): %s", result.ExitCode, tailOf(result.Stderr))
	}
	return fmt.Sprintf("deployment/%s now runs %s", k.deployment, imageRef), nil
}

func (k *KubectlDeployer) withNamespace(args []string) []string {
	if k.namespace == "" {
		return args
	}
	return append(args, "--namespace", k.namespace)
}
