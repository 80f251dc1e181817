package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

var logsLimit int

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints recent log entries for a source's running job",
		RunE:  runLogsCommand,
	}
	cmd.Flags().IntVar(&logsLimit, "limit", 50, "maximum number of entries to return (0 returns all buffered entries)")
	return cmd
}

func runLogsCommand(cmd *cobra.Command, _ []string) error {
	sourceID, err := requireSource()
	if err != nil {
		return err
	}

	if serverAddr != "" {
		var resp struct {
			Logs []pipeline.LogEntry `json:"logs"`
		}
		client := newControlClient(serverAddr)
		path := fmt.Sprintf("/v1/sources/%s/jobs/logs?limit=%d", sourceID, logsLimit)
		if err := client.do(cmd.Context(), "GET", path, nil, &resp); err != nil {
			return err
		}
		return printJSON(resp.Logs)
	}

	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	coord, ok := appInstance.Coordinator(sourceID)
	if !ok {
		return fmt.Errorf("unknown source %q", sourceID)
	}
	entries, err := coord.Logs(cmd.Context(), logsLimit, statusAskTimeout)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}
	return printJSON(entries)
}
