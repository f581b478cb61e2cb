package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowsmith-ai/flowsmith/retrieval/bleveindex"
)

var indexCmd = &cobra.Command{
	Use:   "index <documents.json>",
	Short: "Load reference documents into the knowledge index",
	Long: `Reads a JSON array of documents ({"id", "title", "content", "tags"}) and
indexes them for retrieval grounding. Re-indexing an id replaces the document.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().String("index-path", "flowsmith.bleve", "path to the bleve knowledge index")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read documents file: %w", err)
	}

	var docs []bleveindex.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parse documents file: %w", err)
	}

	path, _ := cmd.Flags().GetString("index-path")
	index, err := bleveindex.Open(path)
	if err != nil {
		return fmt.Errorf("open knowledge index: %w", err)
	}
	defer index.Close()

	if err := index.AddBatch(docs); err != nil {
		return fmt.Errorf("index documents: %w", err)
	}

	count, err := index.Count()
	if err != nil {
		return err
	}
	logger.Info("indexed %d documents, %d total", len(docs), count)
	return nil
}
