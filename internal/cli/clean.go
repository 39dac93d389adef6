package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/certbake/internal/cachegate"
	"github.com/princespaghetti/certbake/internal/config"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

var (
	cleanTargets []string
	cleanFull    bool
	cleanForce   bool
)

// cleanCmd represents the clean command.
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up temporary files or remove generated headers",
	Long: `Clean up files certbake leaves next to generated headers.

By default, removes only temporary files (*.tmp, *.lock) and scratch
directories left by interrupted openssl conversions.

Use --full to also remove the generated headers and their cache records
(requires confirmation). The next 'certbake generate' rebuilds them.
Use --full --force to skip confirmation.

Examples:
  certbake clean                      # Remove temp files only
  certbake clean --full --target esp32
  certbake clean --full --force`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().StringSliceVarP(&cleanTargets, "target", "t", nil, "Target to clean (repeatable, default all)")
	cleanCmd.Flags().BoolVar(&cleanFull, "full", false, "Also remove generated headers and cache records")
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "Skip confirmation prompts")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, _ := loadConfig()

	targets, err := cfg.Select(cleanTargets)
	if err != nil {
		Error("%v", err)
		os.Exit(bakeerrors.ExitCode(err))
	}

	if cleanFull {
		return runFullCleanup(targets)
	}
	return runTempCleanup(targets)
}

// findTempFiles lists the temporary and lock files next to each target's
// header, plus stale converter scratch directories.
func findTempFiles(targets []*config.Target) []string {
	seen := make(map[string]bool)
	var found []string
	add := func(matches []string) {
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				found = append(found, m)
			}
		}
	}

	for _, t := range targets {
		gate := cachegate.New(t.Output)
		base := filepath.Base(t.Output)
		dir := filepath.Dir(t.Output)

		matches, _ := filepath.Glob(filepath.Join(dir, globEscape(base)+".*.tmp"))
		add(matches)
		for _, p := range []string{gate.LockPath(), gate.RecordPath() + ".tmp"} {
			if _, err := os.Stat(p); err == nil {
				add([]string{p})
			}
		}
	}

	matches, _ := filepath.Glob(filepath.Join(os.TempDir(), "certbake-der-*"))
	add(matches)
	return found
}

func runTempCleanup(targets []*config.Target) error {
	Info("Cleaning temporary files...")

	foundFiles := findTempFiles(targets)
	if len(foundFiles) == 0 {
		EmptyLine()
		Success("No temporary files found")
		return nil
	}

	removedCount := 0
	for _, file := range foundFiles {
		if err := os.RemoveAll(file); err != nil {
			Warning("Failed to remove %s: %v", file, err)
		} else {
			removedCount++
			fmt.Printf("  Removed: %s\n", file)
		}
	}

	EmptyLine()
	Success("Removed %d temporary file(s)", removedCount)
	return nil
}

func runFullCleanup(targets []*config.Target) error {
	var existing []*config.Target
	for _, t := range targets {
		if cachegate.New(t.Output).Exists() {
			existing = append(existing, t)
		}
	}
	if len(existing) == 0 {
		Info("No generated headers found")
		return runTempCleanup(targets)
	}

	if !cleanForce {
		Warning("This will delete the generated headers and their cache records!")
		EmptyLine()
		Info("This will remove:")
		items := make([]string, 0, len(existing))
		for _, t := range existing {
			items = append(items, fmt.Sprintf("%s (%s)", t.Output, t.Name))
		}
		PrintList(items)
		EmptyLine()
		fmt.Print("Are you sure you want to continue? Type 'yes' to confirm: ")

		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			Error("Error reading input: %v", err)
			os.Exit(bakeerrors.ExitGeneralError)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" {
			EmptyLine()
			Info("Aborted. Nothing was removed.")
			return nil
		}
	}

	EmptyLine()
	for _, t := range existing {
		if err := cachegate.New(t.Output).Remove(); err != nil {
			Error("Failed to remove header for %s: %v", t.Name, err)
			os.Exit(bakeerrors.ExitGeneralError)
		}
		fmt.Printf("  Removed: %s\n", t.Output)
	}

	if err := runTempCleanup(targets); err != nil {
		return err
	}
	Info("To rebuild the headers, run: certbake generate")
	return nil
}

// globEscape quotes the glob metacharacters in a literal file name.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
