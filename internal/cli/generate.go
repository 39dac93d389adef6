package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/pipeline"
)

var (
	generateTargets []string
	generateForce   bool
	generateJSON    bool
)

// generateCmd represents the generate command.
var generateCmd = &cobra.Command{
	Use:     "generate",
	Aliases: []string{"gen"},
	Short:   "Generate certificate headers",
	Long: `Generate the certificate header of every configured target, or of the
targets named with --target.

A header younger than the target's max_age is used as is without
contacting upstream. Otherwise the source is retrieved and hashed; the
header is rewritten only when the hash differs from the one it was built
from. If retrieval fails and a previous header exists, it is kept and a
warning is printed.

Use --force to fetch and regenerate regardless of age and hash.

Examples:
  certbake generate
  certbake generate --target esp32 --target linux
  certbake generate --force --json`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringSliceVarP(&generateTargets, "target", "t", nil, "Target to generate (repeatable, default all)")
	generateCmd.Flags().BoolVar(&generateForce, "force", false, "Regenerate even if the header is fresh and unchanged")
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "Output in JSON format")
}

// GenerateOutput represents the structured output of the generate command.
type GenerateOutput struct {
	Results []*pipeline.Result `json:"results"`
	Errors  []string           `json:"errors,omitempty"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, logger := loadConfig()

	targets, err := cfg.Select(generateTargets)
	if err != nil {
		Error("%v", err)
		os.Exit(bakeerrors.ExitCode(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.New(
		pipeline.WithLogger(logger),
		pipeline.WithForce(generateForce),
	)
	results, runErr := runner.RunAll(ctx, targets)

	if generateJSON {
		out := GenerateOutput{Results: results}
		if runErr != nil {
			out.Errors = splitJoined(runErr)
		}
		if err := JSON(out); err != nil {
			Error("Failed to encode JSON: %v", err)
			os.Exit(bakeerrors.ExitGeneralError)
		}
	} else {
		printGenerateResults(results)
		if runErr != nil {
			for _, msg := range splitJoined(runErr) {
				Error("%s", msg)
			}
		}
	}

	if runErr != nil {
		os.Exit(bakeerrors.ExitCode(runErr))
	}
	return nil
}

func printGenerateResults(results []*pipeline.Result) {
	for _, res := range results {
		line := fmt.Sprintf("%s %-12s %s", StatusIcon(res.Status), res.Target, res.Status)
		if res.CertCount > 0 {
			line += fmt.Sprintf(" (%d certificates)", res.CertCount)
		}
		fmt.Println(line)
		if res.Warning != "" {
			Warning("%s: %s", res.Target, res.Warning)
		}
	}
}

// splitJoined returns the messages of an errors.Join result, or the single
// message of any other error.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}
