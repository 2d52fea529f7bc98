package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fwkit/rauctl/internal/history"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past installs",
	Long:  `List the outcomes of past install sessions, newest first.`,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum entries to show (0: all)")
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "output format: text or yaml")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	switch historyFormat {
	case "yaml":
		out, err := yaml.Marshal(records)
		if err != nil {
			return fmt.Errorf("encoding history: %w", err)
		}
		fmt.Print(string(out))
	case "text":
		if len(records) == 0 {
			fmt.Println("No installs recorded")
			return nil
		}
		for _, rec := range records {
			fmt.Println(formatHistoryLine(rec))
		}
	default:
		return fmt.Errorf("unknown format %q: must be \"text\" or \"yaml\"", historyFormat)
	}
	return nil
}

// formatHistoryLine renders one record as a single text line.
func formatHistoryLine(rec history.Record) string {
	line := fmt.Sprintf("%s  %-12s  %s",
		rec.FinishedAt.Local().Format(time.DateTime), rec.Outcome, rec.Bundle)
	if rec.Outcome == history.OutcomeFailure {
		line += fmt.Sprintf("  (code %d)", rec.Result)
	}
	if rec.LastError != "" {
		line += fmt.Sprintf("  %s", rec.LastError)
	}
	return line
}
