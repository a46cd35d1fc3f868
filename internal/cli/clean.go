package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docqa/internal/rag"
)

var (
	cleanAll bool
	cleanDoc string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove one document or every document from the index",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "remove every document")
	cleanCmd.Flags().StringVar(&cleanDoc, "doc", "", "remove the document with this ID")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, _ []string) error {
	if pipeline == nil {
		return errNotConfigured
	}

	var req rag.CleanupRequest
	switch {
	case cleanAll && cleanDoc != "":
		return errors.New("use either --all or --doc, not both")
	case cleanAll:
		req.Action = rag.ClearAll
	case cleanDoc != "":
		req = rag.CleanupRequest{Action: rag.RemoveOne, DocumentID: cleanDoc}
	default:
		return errors.New("one of --all or --doc is required")
	}

	res, err := pipeline.Cleanup(cmdContext(cmd), req)
	if err != nil {
		return err
	}
	cmd.Println(res.Message)
	return nil
}
