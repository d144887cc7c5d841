package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zonedesk/ingest/internal/pipeline"
)

// newRunCmd creates the 'run' subcommand: submit a manual job for the given
// targets, execute it synchronously, and print the terminal job state.
func newRunCmd() *cobra.Command {
	var (
		kind     string
		schema   string
		urls     []string
		optional bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a one-shot scraping job and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger

			if len(urls) == 0 {
				return fmt.Errorf("at least one --url is required")
			}

			targets := make([]pipeline.Target, 0, len(urls))
			for _, u := range urls {
				targets = append(targets, pipeline.Target{
					URL:       u,
					Schema:    schema,
					Mandatory: !optional,
				})
			}

			jobID, err := appInstance.Orchestrator.Submit(pipeline.JobKind(kind), targets, pipeline.ScheduleManual)
			if err != nil {
				return fmt.Errorf("submit job: %w", err)
			}
			logger.Info("job submitted", zap.String("job_id", jobID))

			job, err := appInstance.Orchestrator.Run(cmd.Context(), jobID)
			if err != nil {
				return fmt.Errorf("run job: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if job.Status == pipeline.StatusFailed {
				return fmt.Errorf("job failed: %s: %s", job.ErrorKind, job.ErrorText)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(pipeline.KindSiteCrawl), "job kind")
	cmd.Flags().StringVar(&schema, "schema", "freezone-profile", "extraction schema applied to every target")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "target URL (repeatable)")
	cmd.Flags().BoolVar(&optional, "optional", false, "treat targets as optional instead of mandatory")

	return cmd
}
