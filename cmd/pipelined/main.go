// Command pipelined serves the demo pipeline trigger API: POST /api/trigger
// runs the fixed stage sequence for a repository, GET /api/overview serves
// the latest status to the polling dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/forgeline/pipeline/internal/config"
	"github.com/forgeline/pipeline/internal/creds"
	"github.com/forgeline/pipeline/internal/executor"
	"github.com/forgeline/pipeline/internal/metrics"
	"github.com/forgeline/pipeline/internal/pipeline"
	"github.com/forgeline/pipeline/internal/server"
	"github.com/forgeline/pipeline/internal/stage"
	"github.com/forgeline/pipeline/internal/store"
	"github.com/forgeline/pipeline/internal/tool"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pipelined:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listenAddr string
	)
	pflag.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	pflag.StringVar(&listenAddr, "listen", "", "listen address, overrides the configured one")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	log := newLogger(cfg.LogLevel)

	srv, err := buildServer(cfg, log)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildServer wires the component graph: credential provider, command
// runner, tools, stage runner, pipeline executor, store, metrics, HTTP
// server.
func buildServer(cfg *config.Config, log *slog.Logger) (*server.Server, error) {
	provider := creds.NewEnv()
	runner := executor.NewCommandRunner()

	var prober tool.RegistryProber = tool.NoRegistry{}
	if cfg.Registry.Host != "" {
		prober = tool.NewRegistryProbe(
			cfg.Registry.Host,
			cfg.Registry.PlainHTTP,
			provider,
			cfg.Registry.UsernameEnv,
			cfg.Registry.PasswordEnv,
		)
	}

	tools := pipeline.Toolset{
		Checkout: tool.NewGitCheckout(cfg.Git.Host, cfg.Git.CloneDepth, cfg.Git.WorkdirRoot),
		Tester:   tool.NewProjectTester(runner),
		Builder:  tool.NewDockerCLI(runner, cfg.Registry.Binary),
		Pusher:   tool.NewDockerCLI(runner, cfg.Registry.Binary),
		Registry: prober,
		Deployer: tool.NewKubectlDeployer(
			runner,
			cfg.Deploy.Binary,
			cfg.Deploy.Deployment,
			cfg.Deploy.Container,
			cfg.Deploy.Namespace,
			cfg.Deploy.ProbeTimeout.Std(),
		),
	}

	st := store.New()
	exec := pipeline.New(
		tools,
		stage.NewRunner(provider, log.With("component", "stage")),
		st,
		pipeline.Config{
			CheckoutTimeout:     cfg.Git.Timeout.Std(),
			TestTimeout:         cfg.Test.Timeout.Std(),
			BuildTimeout:        cfg.Registry.BuildTimeout.Std(),
			PushTimeout:         cfg.Registry.PushTimeout.Std(),
			DeployTimeout:       cfg.Deploy.Timeout.Std(),
			RegistryHost:        cfg.Registry.Host,
			RegistryUserEnv:     cfg.Registry.UsernameEnv,
			RegistryPasswordEnv: cfg.Registry.PasswordEnv,
		},
		log.With("component", "pipeline"),
	)

	source, err := metrics.NewClient(cfg.Metrics.PrometheusURL, cfg.Metrics.QueryTimeout.Std(), log.With("component", "metrics"))
	if err != nil {
		return nil, err
	}

	return server.New(exec, st, source, metrics.NewInstrumenter(), cfg.Tools, log.With("component", "http")), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
