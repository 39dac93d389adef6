package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

// completionGenerators maps a shell name to the cobra generator for it.
var completionGenerators = map[string]func(root *cobra.Command, w io.Writer) error{
	"bash": func(root *cobra.Command, w io.Writer) error { return root.GenBashCompletionV2(w, true) },
	"zsh":  func(root *cobra.Command, w io.Writer) error { return root.GenZshCompletion(w) },
	"fish": func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) },
	"powershell": func(root *cobra.Command, w io.Writer) error {
		return root.GenPowerShellCompletionWithDesc(w)
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Generate shell completion scripts",
	Long: `Print a completion script for bash, zsh, fish or powershell.

  $ source <(certbake completion bash)
  $ certbake completion zsh > "${fpath[1]}/_certbake"
  $ certbake completion fish > ~/.config/fish/completions/certbake.fish
  PS> certbake completion powershell | Out-String | Invoke-Expression`,
	ValidArgs: completionShells(),
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeCompletion(cmd.Root(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func completionShells() []string {
	shells := make([]string, 0, len(completionGenerators))
	for name := range completionGenerators {
		shells = append(shells, name)
	}
	sort.Strings(shells)
	return shells
}

// writeCompletion writes root's completion script for shell to w.
func writeCompletion(root *cobra.Command, w io.Writer, shell string) error {
	gen, ok := completionGenerators[shell]
	if !ok {
		return fmt.Errorf("%w: unsupported shell %q (want one of %v)", bakeerrors.ErrConfig, shell, completionShells())
	}
	if err := gen(root, w); err != nil {
		return fmt.Errorf("generate %s completion: %w", shell, err)
	}
	return nil
}

