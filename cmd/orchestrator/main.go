// Command orchestrator runs the orchestration core as a standalone
// process: it builds an orchestrator.App from environment configuration,
// runs it until SIGINT/SIGTERM, then shuts down.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	orchestrator "github.com/agentloom/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := orchestrator.New(
		orchestrator.WithLogger(logger),
		orchestrator.WithProviderKeys(
			os.Getenv("ANTHROPIC_API_KEY"),
			os.Getenv("OPENAI_API_KEY"),
			os.Getenv("GOOGLE_AI_API_KEY"),
			os.Getenv("DEEPSEEK_API_KEY"),
		),
	)
	if err != nil {
		logger.Error("fatal: build app", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
