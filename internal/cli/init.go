package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/certbake/internal/config"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

var (
	initForce bool
)

// initCmd represents the init command.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create certbake.yaml (or the file named by --config) with the three
standard targets:

  esp8266   indexed headers built from the CCADB CSV report, converted
            with openssl
  esp32     compact headers built from the mk-ca-bundle.pl output
  linux     the same PEM bundle passed through for OpenSSL builds

Edit the file to change sources, output paths or header layout.

Use --force to overwrite an existing configuration file.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.Write(configPath, config.Default(), initForce); err != nil {
		Error("%v", err)
		os.Exit(bakeerrors.ExitCode(err))
	}

	Success("Configuration written to %s", configPath)
	fmt.Printf("\n")
	fmt.Printf("Next steps:\n")
	fmt.Printf("  1. Review the targets and their output paths:\n")
	fmt.Printf("     $EDITOR %s\n", configPath)
	fmt.Printf("\n")
	fmt.Printf("  2. Check that the tools the targets need are installed:\n")
	fmt.Printf("     certbake doctor\n")
	fmt.Printf("\n")
	fmt.Printf("  3. Generate the headers:\n")
	fmt.Printf("     certbake generate\n")
	fmt.Printf("\n")

	return nil
}
