package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fwkit/rauctl/internal/rauc"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installer's current state",
	Long: `Query the RAUC service for its current operation, progress, boot
slot, and last error.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "output format: text or yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	proxy, err := rauc.Dial(ctx, cfg.BusScope())
	if err != nil {
		return fmt.Errorf("connecting to installer service: %w", err)
	}
	defer func() { _ = proxy.Close() }()

	status, err := proxy.Status(ctx)
	if err != nil {
		return err
	}

	switch statusFormat {
	case "yaml":
		out, err := yaml.Marshal(status)
		if err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		fmt.Print(string(out))
	case "text":
		fmt.Printf("Operation:  %s\n", status.Operation)
		fmt.Printf("Progress:   %3d%% %s\n", status.Progress.Percent, status.Progress.Message)
		fmt.Printf("Compatible: %s\n", status.Compatible)
		if status.Variant != "" {
			fmt.Printf("Variant:    %s\n", status.Variant)
		}
		fmt.Printf("Boot slot:  %s\n", status.BootSlot)
		if status.LastError != "" {
			fmt.Printf("Last error: %s\n", status.LastError)
		}
	default:
		return fmt.Errorf("unknown format %q: must be \"text\" or \"yaml\"", statusFormat)
	}
	return nil
}
