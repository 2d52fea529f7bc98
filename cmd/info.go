package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fwkit/rauctl/internal/rauc"
)

var infoCmd = &cobra.Command{
	Use:   "info <bundle>",
	Short: "Inspect a firmware bundle",
	Long:  `Ask the RAUC service for a bundle's compatible string and version.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		return err
	}

	bundle, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving bundle path: %w", err)
	}

	// Bundle inspection verifies signatures and can take a while on
	// slow storage.
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	proxy, err := rauc.Dial(ctx, cfg.BusScope())
	if err != nil {
		return fmt.Errorf("connecting to installer service: %w", err)
	}
	defer func() { _ = proxy.Close() }()

	info, err := proxy.Info(ctx, bundle)
	if err != nil {
		return err
	}

	fmt.Printf("Compatible: %s\n", info.Compatible)
	fmt.Printf("Version:    %s\n", info.Version)
	return nil
}
