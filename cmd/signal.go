package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexatlas/acquisition-pipeline/internal/coordinator"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pauses a source's running job",
		RunE:  runSignalCommand("pause", coordinator.Pause{}),
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resumes a source's paused job",
		RunE:  runSignalCommand("resume", coordinator.Resume{}),
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancels a source's running job",
		RunE:  runSignalCommand("cancel", coordinator.Cancel{}),
	}
}

// runSignalCommand builds a RunE for a control signal that carries no
// payload: the remote path segment and the in-process Tell message it maps
// to.
func runSignalCommand(path string, msg any) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		sourceID, err := requireSource()
		if err != nil {
			return err
		}

		if serverAddr != "" {
			client := newControlClient(serverAddr)
			return client.do(cmd.Context(), "POST", "/v1/sources/"+sourceID+"/jobs/"+path, nil, nil)
		}

		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		coord, ok := appInstance.Coordinator(sourceID)
		if !ok {
			return fmt.Errorf("unknown source %q", sourceID)
		}
		return tellSignal(cmd.Context(), coord, msg)
	}
}

func tellSignal(ctx context.Context, coord *coordinator.Actor, msg any) error {
	if err := coord.Tell(ctx, msg); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	return nil
}
