package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caselight/caselight/internal/app"
	"github.com/caselight/caselight/internal/config"
	"github.com/caselight/caselight/internal/kb"
)

var (
	importClear  bool
	importVector bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import historical tickets from a JSON file",
	Long: `Import historical tickets from a JSON file.

The file holds a JSON array of ticket records:

  [{"id": 1, "title": "...", "description": "...", "category": "...",
    "replies": [{"owner": "customer", "content": "..."}]}]

Malformed records are skipped and reported; they never abort the batch.
With --vector the lexical import is followed by a full rebuild of the
vector index from the relational store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(args[0])
	},
}

func init() {
	importCmd.Flags().BoolVar(&importClear, "clear", false, "clear existing tickets and vector index before importing")
	importCmd.Flags().BoolVar(&importVector, "vector", false, "rebuild the vector index after importing")
	rootCmd.AddCommand(importCmd)
}

// parseImportFile reads and validates the import contract: a JSON array of
// ticket records.
func parseImportFile(path string) ([]kb.TicketImport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var tickets []kb.TicketImport
	if err := json.Unmarshal(raw, &tickets); err != nil {
		return nil, fmt.Errorf("parsing %s: file must hold a JSON array of tickets: %w", path, err)
	}
	if len(tickets) == 0 {
		return nil, fmt.Errorf("%s holds no tickets", path)
	}
	return tickets, nil
}

func runImport(path string) error {
	tickets, err := parseImportFile(path)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	if importClear {
		if err := a.Tickets.ClearAll(ctx); err != nil {
			return err
		}
		if err := a.Knowledge.Clear(ctx); err != nil {
			return err
		}
	}

	report, err := a.Tickets.Import(ctx, tickets)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d tickets, %d failed\n", report.Imported, report.Failed)
	for _, f := range report.Failures {
		fmt.Printf("  ticket %d: %s\n", f.OriginalID, f.Reason)
	}

	if importVector {
		if err := reindexVectors(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// reindexVectors rebuilds the vector index from everything currently stored,
// not just this import batch. Batch failures are counted and reported, not
// fatal; re-running the command retries the failed documents.
func reindexVectors(ctx context.Context, a *app.App) error {
	stored, err := a.Tickets.AllTickets(ctx)
	if err != nil {
		return err
	}
	if err := a.Knowledge.Clear(ctx); err != nil {
		return err
	}

	report, err := a.Knowledge.AddTickets(ctx, stored)
	if err != nil {
		return fmt.Errorf("rebuilding vector index: %w", err)
	}

	fmt.Printf("Vector index rebuilt: %d indexed, %d failed\n", report.Indexed, report.Failed)
	return nil
}
