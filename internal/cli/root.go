// Package cli provides the command-line interface for certbake.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/certbake/internal/config"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// Version information (will be set by build flags in production).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "certbake",
	Short: "Compile CA certificate bundles into firmware headers",
	Long: `certbake turns a trusted root certificate list into a C++ header that
firmware can compile in, one header per target.

Each target in certbake.yaml names a certificate source (the CCADB CSV
report, a PEM bundle URL, a bundle-building script or a local file), an
encoding (compact, indexed or pem) and the header layout. Headers carry
the SHA-256 of the data they were built from, so rebuilding is skipped
while upstream is unchanged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("certbake version %s\n", Version)
		fmt.Printf("  commit: %s\n", GitCommit)
		fmt.Printf("  built:  %s\n", BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
}

// Execute runs the root command and handles errors.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		Error("%v", err)
		os.Exit(bakeerrors.ExitCode(err))
	}
}

// loadConfig reads the configuration named by --config and applies the
// logging flags. It exits with the configuration exit code on failure.
func loadConfig() (*config.Config, *slog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		Error("%v", err)
		if !fileExists(configPath) {
			fmt.Fprintf(os.Stderr, "Run 'certbake init' to create a configuration file\n")
		}
		os.Exit(bakeerrors.ExitCode(err))
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Logging.Validate(); err != nil {
		Error("%v", err)
		os.Exit(bakeerrors.ExitConfigError)
	}

	return cfg, newLogger(os.Stderr, cfg.Logging)
}

// newLogger builds the slog logger described by lc. lc must be valid.
func newLogger(w io.Writer, lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(lc.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
