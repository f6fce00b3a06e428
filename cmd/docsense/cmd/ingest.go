package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/docsense/docsense/internal/config"
	"github.com/docsense/docsense/internal/ingest"
	"github.com/docsense/docsense/internal/logging"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest documents into the local index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, cleanup, err := logging.Setup(logging.Config{Level: "warn"})
			if err != nil {
				return err
			}
			defer cleanup()

			a, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}

				job, err := a.pipeline.Submit(cmd.Context(), filepath.Base(path), data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				job, err = waitForJob(a.tracker, job.JobID)
				if err != nil {
					return err
				}
				if job.State == ingest.JobFailed {
					return fmt.Errorf("%s: ingestion failed: %s", path, job.Error)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ingested %s as %s\n", path, job.DocID)
			}

			a.saveDense()
			return nil
		},
	}
}

func waitForJob(tracker *ingest.Tracker, jobID string) (ingest.Job, error) {
	for {
		job, err := tracker.Get(jobID)
		if err != nil {
			return ingest.Job{}, err
		}
		if job.State == ingest.JobCompleted || job.State == ingest.JobFailed {
			return job, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}
