package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/spf13/cobra"

	"github.com/fwkit/rauctl/internal/history"
	"github.com/fwkit/rauctl/internal/installer"
	"github.com/fwkit/rauctl/internal/log"
	"github.com/fwkit/rauctl/internal/rauc"
	"github.com/fwkit/rauctl/internal/tracing"
	"github.com/fwkit/rauctl/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Install bundles dropped into a directory",
	Long: `Watch a directory for new .raucb bundles and install each one as it
appears. A bundle is picked up once writes to it have settled, and a
just-processed bundle is not reinstalled until the cooldown expires.

Installs run one at a time. Press Ctrl+C to stop.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cleanup, err := initLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cfg.Validate(); err != nil {
		return err
	}

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving watch directory: %w", err)
	}
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	w, err := watcher.New(watcher.Config{
		Dir:         dir,
		DebounceDur: cfg.Watch.Debounce,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	bundles, err := w.Start()
	if err != nil {
		return err
	}

	sessionCfg := installer.Config{
		Scope:  cfg.BusScope(),
		Dial:   rauc.Dialer(),
		Tracer: provider.Tracer(),
	}

	// Recently processed bundles sit out the cooldown before another
	// write can trigger a reinstall.
	recent := gocache.New(cfg.Watch.Cooldown, time.Minute)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Watching %s for bundles\n", dir)
	fmt.Println("Press Ctrl+C to stop")

	for {
		select {
		case sig := <-sigCh:
			fmt.Printf("\nReceived %s, stopping\n", sig)
			return nil

		case bundle := <-bundles:
			if _, onCooldown := recent.Get(bundle); onCooldown {
				log.Debug(log.CatWatch, "bundle on cooldown", "bundle", bundle)
				continue
			}
			recent.SetDefault(bundle, struct{}{})

			fmt.Printf("\nInstalling %s\n", bundle)
			started := time.Now()
			result, lastOp, lastErr := runInstallPlain(cmd.Context(), sessionCfg, bundle)
			recordInstall(history.Record{
				ID:            uuid.NewString(),
				Bundle:        bundle,
				Result:        result,
				Outcome:       history.OutcomeFor(result),
				LastOperation: lastOp,
				LastError:     lastErr,
				StartedAt:     started,
				FinishedAt:    time.Now(),
			})
		}
	}
}
