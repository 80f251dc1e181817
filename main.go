// The main package for the pipelinectl executable.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/lexatlas/acquisition-pipeline/cmd"
)

// main defers all execution to the Cobra CLI defined in the cmd package. A
// signal-driven context lets the serve subcommand drain in-flight work on
// SIGINT/SIGTERM instead of dying mid-request.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.ExecuteContext(ctx)
}
