package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gosuda/boardsync/cmd/boardsync/commands"
	"github.com/gosuda/boardsync/internal/render"
)

// Version information - set during build
var version = "dev"

func main() {
	commands.SetVersion(version)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := commands.Execute(ctx); err != nil {
		render.Error(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
