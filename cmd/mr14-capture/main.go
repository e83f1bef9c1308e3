// Command mr14-capture extracts MR-14 maintenance reports from scanned forms with Vertex AI and
// exports the captured data as a spreadsheet.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(DefaultDeps()).ExecuteContext(ctx); err != nil {
		slog.Error("Command failed.", "error", err)
		os.Exit(1)
	}
}
