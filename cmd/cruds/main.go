package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cruds-go/cruds/cmd/cruds/commands"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// SIGINT and SIGTERM cancel the context so in-flight logins and calls
	// abort cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, os.Args, version, commit); err != nil {
		slog.ErrorContext(ctx, "Command failed", "error", err)
		os.Exit(1)
	}
}
