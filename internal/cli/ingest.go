package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

var ingestAuthors []string

var ingestableExts = []string{".pdf", ".txt", ".md", ".docx"}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest documents from files or directories",
	Long: `Extracts text from each file and adds it to the index. Directories are
walked for PDF, DOCX, TXT and Markdown files. Documents are processed one at a
time; a failed document does not stop the rest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringSliceVarP(&ingestAuthors, "author", "a", nil, "author of the documents (repeatable)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if pipeline == nil {
		return errNotConfigured
	}
	ex := extractor
	if ex == nil {
		ex = document.NewExtractor()
	}
	ctx := cmdContext(cmd)

	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported files found (%s)", strings.Join(ingestableExts, ", "))
	}

	var reqs []rag.IngestRequest
	failed := 0
	for _, path := range files {
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			cmd.Printf("  failed  %s: %v\n", name, err)
			failed++
			continue
		}
		out, err := ex.Extract(ctx, name, "", data)
		if err != nil {
			cmd.Printf("  failed  %s [%s]: %v\n", name, models.StageExtract, err)
			failed++
			continue
		}
		reqs = append(reqs, rag.IngestRequest{
			Name:      name,
			SizeBytes: int64(len(data)),
			MediaType: out.MediaType,
			Authors:   ingestAuthors,
			Text:      out.Text,
		})
	}

	ok := 0
	for _, st := range pipeline.IngestBatch(ctx, reqs) {
		if st.Status != rag.StatusOK {
			cmd.Printf("  failed  %s [%s]: %s\n", st.Name, st.Stage, st.Error)
			failed++
			continue
		}
		ok++
		cmd.Printf("  ok      %s (%d chunks)\n", st.Name, st.ChunkCount)
	}

	cmd.Printf("Ingested %d of %d documents.\n", ok, ok+failed)
	if ok == 0 {
		return fmt.Errorf("no documents ingested")
	}
	return nil
}

// collectFiles expands directories into the supported files they contain.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && slices.Contains(ingestableExts, strings.ToLower(filepath.Ext(path))) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return files, nil
}
