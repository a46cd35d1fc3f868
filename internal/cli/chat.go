package cli

import (
	"bufio"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docqa/internal/memory"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

var (
	chatDocs    []string
	chatHistory int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive question session",
	Long: `Reads questions from standard input until "exit" or end of input.
Recent turns are sent along with each question as conversation history.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringSliceVarP(&chatDocs, "doc", "d", nil, "restrict to document IDs (repeatable)")
	chatCmd.Flags().IntVar(&chatHistory, "history", rag.DefaultHistoryWindow, "number of previous turns to keep")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	if pipeline == nil {
		return errNotConfigured
	}
	ctx := cmdContext(cmd)
	mem := memory.NewBufferMemory(chatHistory)

	in := bufio.NewScanner(cmd.InOrStdin())
	cmd.Println(`Ask a question, or type "exit" to quit.`)
	for {
		cmd.Print("> ")
		if !in.Scan() {
			cmd.Println()
			return in.Err()
		}
		question := strings.TrimSpace(in.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := pipeline.Query(ctx, rag.QueryRequest{
			Question:    question,
			DocumentIDs: chatDocs,
			History:     mem.Turns(0),
		})
		if err != nil {
			cmd.PrintErrln("error:", err)
			continue
		}
		printAnswer(cmd, res)
		cmd.Println()

		mem.Add(models.ConversationTurn{Role: models.RoleUser, Content: question})
		mem.Add(models.ConversationTurn{Role: models.RoleAssistant, Content: res.Answer})
	}
}
