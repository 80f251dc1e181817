package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexatlas/acquisition-pipeline/internal/coordinator"
	"github.com/lexatlas/acquisition-pipeline/internal/idgen"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

var startFlags struct {
	mode             string
	date             string
	dateStart        string
	dateEnd          string
	category         string
	scope            string
	status           string
	query            string
	maxResults       int
	outputDirectory  string
	rateLimitRPS     float64
	concurrency      int
	downloadPayloads bool
	checkpointID     string
	maxAttempts      int
	checkpointEvery  int
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Starts a new job for a source",
		RunE:  runStartCommand,
	}
	f := cmd.Flags()
	f.StringVar(&startFlags.mode, "mode", "", "today, date, range, category, or search")
	f.StringVar(&startFlags.date, "date", "", "date for mode=date (YYYY-MM-DD)")
	f.StringVar(&startFlags.dateStart, "date-start", "", "range start for mode=range")
	f.StringVar(&startFlags.dateEnd, "date-end", "", "range end for mode=range")
	f.StringVar(&startFlags.category, "category", "", "category filter for mode=category")
	f.StringVar(&startFlags.scope, "scope", "", "scope filter")
	f.StringVar(&startFlags.status, "status", "", "status filter")
	f.StringVar(&startFlags.query, "query", "", "free-text query for mode=search")
	f.IntVar(&startFlags.maxResults, "max-results", 0, "cap on discovered references (0 means unbounded)")
	f.StringVar(&startFlags.outputDirectory, "output-dir", "", "override the configured storage directory")
	f.Float64Var(&startFlags.rateLimitRPS, "rate-limit-rps", 0, "override the source's default requests-per-second budget")
	f.IntVar(&startFlags.concurrency, "concurrency", 0, "override the source's default fetch worker count")
	f.BoolVar(&startFlags.downloadPayloads, "download-payloads", false, "persist raw fetched bytes through the blob store")
	f.StringVar(&startFlags.checkpointID, "checkpoint-id", "", "resume from a previously saved checkpoint session id")
	f.IntVar(&startFlags.maxAttempts, "max-attempts", 0, "override the retry attempt budget")
	f.IntVar(&startFlags.checkpointEvery, "checkpoint-every", 0, "override checkpoint cadence in completions")
	return cmd
}

func startConfig(sourceID string) pipeline.Config {
	return pipeline.Config{
		SourceID:         sourceID,
		Mode:             pipeline.Mode(startFlags.mode),
		Date:             startFlags.date,
		DateStart:        startFlags.dateStart,
		DateEnd:          startFlags.dateEnd,
		Category:         startFlags.category,
		Scope:            startFlags.scope,
		Status:           startFlags.status,
		Query:            startFlags.query,
		MaxResults:       startFlags.maxResults,
		OutputDirectory:  startFlags.outputDirectory,
		RateLimitRPS:     startFlags.rateLimitRPS,
		Concurrency:      startFlags.concurrency,
		DownloadPayloads: startFlags.downloadPayloads,
		CheckpointID:     startFlags.checkpointID,
		MaxAttempts:      startFlags.maxAttempts,
		CheckpointEvery:  startFlags.checkpointEvery,
	}
}

func runStartCommand(cmd *cobra.Command, _ []string) error {
	sourceID, err := requireSource()
	if err != nil {
		return err
	}
	cfg := startConfig(sourceID)

	if serverAddr != "" {
		var resp struct {
			JobID string `json:"job_id"`
		}
		client := newControlClient(serverAddr)
		if err := client.do(cmd.Context(), "POST", "/v1/sources/"+sourceID+"/jobs", cfg, &resp); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.JobID)
		return nil
	}

	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	coord, ok := appInstance.Coordinator(sourceID)
	if !ok {
		return fmt.Errorf("unknown source %q", sourceID)
	}

	jobID, err := idgen.New().NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	if err := coord.Tell(cmd.Context(), coordinator.StartJob{JobID: jobID, Config: cfg}); err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	fmt.Fprintln(os.Stdout, jobID)
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
