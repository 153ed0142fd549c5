package cli

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BartekS5/ack/internal/config"
	"github.com/BartekS5/ack/internal/etl"
)

func NewValidateCmd() *cobra.Command {
	var jobFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a job file and every connector's options without connecting",
		RunE: func(c *cobra.Command, args []string) error {
			return validateJob(jobFile, afero.NewOsFs(), c.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&jobFile, "config", "c", "job.yaml", "Path to the job file")

	return cmd
}

func validateJob(jobFile string, fs afero.Fs, out io.Writer) error {
	job, err := config.LoadJob(fs, jobFile)
	if err != nil {
		return err
	}
	if err := checkJob(job, etl.Deps{Fs: fs}); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s is valid: %d sources, %d writers\n", jobFile, len(job.Sources), len(job.Writers))
	return nil
}
