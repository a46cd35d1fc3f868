package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List ingested documents",
	Args:  cobra.NoArgs,
	RunE:  runDocs,
}

func init() {
	rootCmd.AddCommand(docsCmd)
}

func runDocs(cmd *cobra.Command, _ []string) error {
	if pipeline == nil {
		return errNotConfigured
	}

	docs, err := pipeline.ListDocuments(cmdContext(cmd))
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		cmd.Println("No documents ingested.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCHUNKS\tINGESTED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.ID, d.Name, d.ChunkCount, d.IngestedAt.Format(time.DateTime))
	}
	return tw.Flush()
}
