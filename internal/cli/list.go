package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BartekS5/ack/internal/etl"
)

func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available reader and writer types",
		Run: func(c *cobra.Command, args []string) {
			out := c.OutOrStdout()
			fmt.Fprintf(out, "readers: %s\n", strings.Join(etl.ReaderTypes(), ", "))
			fmt.Fprintf(out, "writers: %s\n", strings.Join(etl.WriterTypes(), ", "))
		},
	}
}
