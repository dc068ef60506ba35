package main

import (
	"fmt"
	"os"

	"github.com/LIUAPP/AgenticBugFix/internal/store"
	"github.com/spf13/cobra"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the resolved-issue knowledge base",
}

var kbImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Load resolved issues from a YAML file",
	Long: `Load resolved issues into the knowledge base searched by query_rag.

The file is a list of entries (or a mapping with an "issues" key), each with
issue_key, description, root_cause and fix_implemented. Every entry is embedded
with OPENAI_EMBEDDING_MODEL and stored with its vector. Existing entries with
the same issue_key are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runKBImport,
}

func init() {
	kbCmd.AddCommand(kbImportCmd)
}

func runKBImport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open knowledge base file: %w", err)
	}
	defer f.Close()

	issues, err := store.DecodeResolvedIssues(f)
	if err != nil {
		return err
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer repo.Close()

	n, err := store.ImportResolvedIssues(cmd.Context(), repo, newOpenAI(cfg, logger), issues)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d resolved issues into %s\n", n, cfg.DBPath)
	return nil
}
