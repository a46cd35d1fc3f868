package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docqa/internal/rag"
)

var (
	askDocs []string
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the ingested documents",
	Long: `Retrieves the passages most similar to the question and answers from
them, citing the documents used.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVarP(&askDocs, "doc", "d", nil, "restrict to document IDs (repeatable)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if pipeline == nil {
		return errNotConfigured
	}

	res, err := pipeline.Query(cmdContext(cmd), rag.QueryRequest{Question: args[0], DocumentIDs: askDocs})
	if err != nil {
		return err
	}

	if askJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	printAnswer(cmd, res)
	return nil
}

func printAnswer(cmd *cobra.Command, res *rag.QueryResult) {
	cmd.Println(res.Answer)
	if len(res.Citations) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("Sources:")
	for i, c := range res.Citations {
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, c.Reference, c.Score)
	}
}
