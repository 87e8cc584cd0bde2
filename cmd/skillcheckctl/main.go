// Command skillcheckctl is the operator CLI for skillcheck.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/skillcheck/internal/cli"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// Load .env file if present, matching the server.
	_ = godotenv.Load()
	cli.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
