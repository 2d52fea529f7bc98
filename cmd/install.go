package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fwkit/rauctl/internal/history"
	"github.com/fwkit/rauctl/internal/installer"
	"github.com/fwkit/rauctl/internal/log"
	"github.com/fwkit/rauctl/internal/pubsub"
	"github.com/fwkit/rauctl/internal/rauc"
	"github.com/fwkit/rauctl/internal/tracing"
	installui "github.com/fwkit/rauctl/internal/ui/install"
)

var installTUI bool

var installCmd = &cobra.Command{
	Use:   "install <bundle>",
	Short: "Install a firmware bundle",
	Long: `Install a firmware bundle through the RAUC service and stream its
progress until the install succeeds, fails, or the service disappears.

The exit status mirrors the outcome: 0 on success, the service's failure
code on a failed install, and 2 when the service could not be reached or
vanished mid-install.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().BoolVar(&installTUI, "tui", false,
		"show a full-screen progress view instead of plain output")
}

func runInstall(cmd *cobra.Command, args []string) error {
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

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	sessionCfg := installer.Config{
		Scope:  cfg.BusScope(),
		Dial:   rauc.Dialer(),
		Tracer: provider.Tracer(),
	}

	started := time.Now()
	var result int32
	var gotResult bool
	var lastOp, lastErr string

	if installTUI {
		result, gotResult, lastOp, lastErr, err = runInstallTUI(cmd.Context(), sessionCfg, bundle)
	} else {
		result, lastOp, lastErr = runInstallPlain(cmd.Context(), sessionCfg, bundle)
		gotResult = true
	}
	if err != nil {
		return err
	}

	if gotResult {
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
		exitCode = int(result)
	}
	return nil
}

// runInstallPlain streams records to stdout and blocks until the session
// reaches a terminal result.
func runInstallPlain(ctx context.Context, sessionCfg installer.Config, bundle string) (int32, string, string) {
	var lastOp, lastErr string
	resultCh := make(chan int32, 1)

	installer.Start(ctx, sessionCfg, bundle,
		func(ev installer.Event) {
			switch {
			case ev.IsOperation():
				lastOp = ev.Operation
			case ev.IsLastError():
				lastErr = ev.Error
			}
			fmt.Println(ev.String())
		},
		func(result int32) {
			resultCh <- result
		},
	)

	result := <-resultCh
	switch {
	case result == installer.ResultSuccess:
		fmt.Println("Install succeeded")
	case result == installer.ResultDisconnected:
		fmt.Println("Lost connection to installer service")
	default:
		fmt.Printf("Install failed (code %d)\n", result)
	}
	return result, lastOp, lastErr
}

// runInstallTUI streams records through the pubsub broker into a Bubble
// Tea program. Quitting the view before completion abandons the watch;
// the returned gotResult is false in that case.
func runInstallTUI(ctx context.Context, sessionCfg installer.Config, bundle string) (int32, bool, string, string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	broker := pubsub.NewBroker[installer.Event]()
	defer broker.Close()

	listener := pubsub.NewContinuousListener(ctx, broker)
	p := tea.NewProgram(installui.New(bundle, listener), tea.WithAltScreen())

	// Guards lastOp/lastErr: the dispatcher goroutine may still be
	// writing when the user quits the view early.
	var mu sync.Mutex
	var lastOp, lastErr string
	installer.Start(ctx, sessionCfg, bundle,
		func(ev installer.Event) {
			mu.Lock()
			switch {
			case ev.IsOperation():
				lastOp = ev.Operation
			case ev.IsLastError():
				lastErr = ev.Error
			}
			mu.Unlock()
			broker.Publish(pubsub.RecordEvent, ev)
		},
		func(result int32) {
			p.Send(installui.ResultMsg{Code: result})
		},
	)

	final, err := p.Run()
	if err != nil {
		return 0, false, "", "", fmt.Errorf("running program: %w", err)
	}

	mu.Lock()
	op, lastError := lastOp, lastErr
	mu.Unlock()

	model, ok := final.(installui.Model)
	if !ok || !model.Finished() {
		fmt.Println("Stopped watching the install")
		return 0, false, op, lastError, nil
	}
	return model.Result(), true, op, lastError, nil
}

// recordInstall appends a session outcome to the local history. History
// failures never fail the install command.
func recordInstall(rec history.Record) {
	if !cfg.History.Enabled {
		return
	}

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		log.ErrorErr(log.CatHistory, "opening history store", err)
		return
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Add(ctx, rec); err != nil {
		log.ErrorErr(log.CatHistory, "recording install", err)
	}
}
