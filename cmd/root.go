package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fwkit/rauctl/internal/config"
	"github.com/fwkit/rauctl/internal/log"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config

	// exitCode carries a session's terminal result to main so the process
	// exit status mirrors the install outcome.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:     "rauctl",
	Short:   "Drive RAUC firmware installations over D-Bus",
	Long: `rauctl talks to the RAUC update service on the system (or session)
bus. It installs bundles with live progress, inspects the installer's
current status, and keeps a local history of past installs.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/rauctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging (also RAUCTL_DEBUG)")
	rootCmd.PersistentFlags().String("bus", "",
		"bus scope: system or session (default: DBUS_STARTER_BUS_TYPE hint)")

	// Bind flags to viper
	_ = viper.BindPFlag("bus", rootCmd.PersistentFlags().Lookup("bus"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("history.enabled", defaults.History.Enabled)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("watch.cooldown", defaults.Watch.Cooldown)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .rauctl/config.yaml (current directory)
		// 2. ~/.config/rauctl/config.yaml (user config)
		if _, err := os.Stat(".rauctl/config.yaml"); err == nil {
			viper.SetConfigFile(".rauctl/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "rauctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at the user path
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			home, homeErr := os.UserHomeDir()
			if homeErr == nil {
				defaultPath := filepath.Join(home, ".config", "rauctl", "config.yaml")
				if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
					viper.SetConfigFile(defaultPath)
					_ = viper.ReadInConfig()
				}
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// initLogging turns on the debug log when requested via flag or env.
// Returns a cleanup that flushes and closes the log file.
func initLogging() (func(), error) {
	if !debugFlag && os.Getenv("RAUCTL_DEBUG") == "" {
		return func() {}, nil
	}

	logPath := os.Getenv("RAUCTL_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "rauctl starting", "version", version, "logPath", logPath)
	return cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode returns the process exit status main should use after a
// successful Execute. Install commands set it to the session result.
func ExitCode() int {
	return exitCode
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
