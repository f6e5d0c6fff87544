package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configFile string
	verbosity  string
	logFormat  string
	logFile    string

	cfg = defaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "stylus-cli",
	Short: "Compile and run metered wasm programs",
	Long: `Command line tool for compiling, deploying and executing wasm programs
through the host bridge, with ink metering and a sqlite-backed world.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := loadConfig(configFile, &cfg); err != nil {
				return err
			}
		}
		applyFlags(cmd)
		if err := validateConfig(&cfg); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return setupLogger()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "TOML configuration file")
	flags.StringVar(&verbosity, "verbosity", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	flags.StringVar(&logFile, "log-file", "", "Write logs to a rotated file instead of stderr")
	flags.String("db", cfg.DB, "Path of the sqlite state database")
	flags.Bool("debug", false, "Forward program console_log output to the log")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(multicallCmd)
	rootCmd.AddCommand(inspectCmd)
}

// applyFlags lets explicitly set flags override the config file.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB, _ = flags.GetString("db")
	}
	if flags.Changed("debug") {
		cfg.Engine.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("verbosity") || cfg.Log.Level == "" {
		cfg.Log.Level = verbosity
	}
	if flags.Changed("log-format") || cfg.Log.Format == "" {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = logFile
	}
}

func setupLogger() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Log.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
