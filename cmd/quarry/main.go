// Package main provides the quarry command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/quarrybuild/quarry/internal/cli"
)

func main() {
	// Long-running commands (explore, repl) stop cleanly on Ctrl-C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
