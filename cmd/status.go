package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexatlas/acquisition-pipeline/internal/coordinator"
)

const statusAskTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints the current job status for a source",
		RunE:  runStatusCommand,
	}
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	sourceID, err := requireSource()
	if err != nil {
		return err
	}

	if serverAddr != "" {
		var snapshot coordinator.StatusSnapshot
		client := newControlClient(serverAddr)
		if err := client.do(cmd.Context(), "GET", "/v1/sources/"+sourceID+"/jobs/status", nil, &snapshot); err != nil {
			return err
		}
		return printJSON(snapshot)
	}

	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	coord, ok := appInstance.Coordinator(sourceID)
	if !ok {
		return fmt.Errorf("unknown source %q", sourceID)
	}
	snapshot, err := coord.Status(cmd.Context(), statusAskTimeout)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	return printJSON(snapshot)
}
