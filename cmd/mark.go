package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fwkit/rauctl/internal/rauc"
)

var markCmd = &cobra.Command{
	Use:   "mark <good|bad|active> [slot]",
	Short: "Mark a slot's boot state",
	Long: `Mark a slot as good, bad, or active. Without a slot identifier the
currently booted slot is marked.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMark,
}

func init() {
	rootCmd.AddCommand(markCmd)
}

func runMark(cmd *cobra.Command, args []string) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		return err
	}

	state := args[0]
	switch state {
	case "good", "bad", "active":
	default:
		return fmt.Errorf("invalid state %q: must be \"good\", \"bad\", or \"active\"", state)
	}
	slot := ""
	if len(args) == 2 {
		slot = args[1]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	proxy, err := rauc.Dial(ctx, cfg.BusScope())
	if err != nil {
		return fmt.Errorf("connecting to installer service: %w", err)
	}
	defer func() { _ = proxy.Close() }()

	slotName, message, err := proxy.Mark(ctx, state, slot)
	if err != nil {
		return err
	}

	fmt.Printf("Marked %s: %s\n", slotName, message)
	return nil
}
