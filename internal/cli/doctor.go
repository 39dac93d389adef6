package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/certbake/internal/cachegate"
	"github.com/princespaghetti/certbake/internal/config"
	"github.com/princespaghetti/certbake/internal/encoder"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/fetcher"
)

var (
	doctorVerbose bool
	doctorJSON    bool
)

// doctorCmd represents the doctor command.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostics on the configuration and build environment",
	Long: `Run diagnostics to find problems before a build does.

Checks performed:
  - Configuration file parses and validates
  - External tools each target needs are on PATH (openssl, the script interpreter)
  - Output directories exist and are writable
  - Generated headers carry a marker that matches their cache record

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.

Examples:
  certbake doctor
  certbake doctor --verbose
  certbake doctor --json`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "Show detailed diagnostic information")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output in JSON format")
}

// CheckResult represents the result of a single diagnostic check.
type CheckResult struct {
	Name        string   `json:"name"`
	Status      string   `json:"status"` // "pass", "warn", "fail"
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// DoctorOutput represents the complete diagnostic output.
type DoctorOutput struct {
	Checks      []CheckResult `json:"checks"`
	Summary     Summary       `json:"summary"`
	OverallPass bool          `json:"overall_pass"`
}

// Summary contains counts of check results.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Failures int `json:"failures"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	output := diagnose(configPath, fetcher.ExecRunner{})

	if doctorJSON {
		if err := JSON(output); err != nil {
			Error("Failed to encode JSON: %v", err)
			os.Exit(bakeerrors.ExitGeneralError)
		}
	} else {
		printDoctorOutput(output)
	}

	if !output.OverallPass {
		os.Exit(bakeerrors.ExitGeneralError)
	}
	return nil
}

// diagnose runs every check against the configuration at path.
func diagnose(path string, runner fetcher.Runner) DoctorOutput {
	cfg, cfgResult := checkConfig(path)
	results := []CheckResult{cfgResult}

	if cfg != nil {
		for i := range cfg.Targets {
			t := &cfg.Targets[i]
			results = append(results,
				checkTools(t, runner),
				checkOutputDir(t),
				checkArtifact(t),
			)
		}
	}

	summary := Summary{Total: len(results)}
	overallPass := true
	for _, result := range results {
		switch result.Status {
		case "pass":
			summary.Passed++
		case "warn":
			summary.Warnings++
		case "fail":
			summary.Failures++
			overallPass = false
		}
	}

	return DoctorOutput{
		Checks:      results,
		Summary:     summary,
		OverallPass: overallPass,
	}
}

func printDoctorOutput(output DoctorOutput) {
	Header("certbake Diagnostics")

	for _, check := range output.Checks {
		fmt.Printf("%s %s\n", StatusIcon(check.Status), check.Name)

		if (doctorVerbose || check.Status != "pass") && len(check.Issues) > 0 {
			for _, issue := range check.Issues {
				fmt.Printf("  - %s\n", issue)
			}
		}

		if check.Status != "pass" && len(check.Suggestions) > 0 {
			for _, suggestion := range check.Suggestions {
				fmt.Printf("  → %s\n", suggestion)
			}
		}
	}
	EmptyLine()

	Subheader("Summary")
	Field("Total checks", fmt.Sprintf("%d", output.Summary.Total))
	Field("Passed", fmt.Sprintf("%d", output.Summary.Passed))
	if output.Summary.Warnings > 0 {
		Field("Warnings", fmt.Sprintf("%d", output.Summary.Warnings))
	}
	if output.Summary.Failures > 0 {
		Field("Failures", fmt.Sprintf("%d", output.Summary.Failures))
	}
	EmptyLine()

	switch {
	case !output.OverallPass:
		Info("Status: FAIL")
	case output.Summary.Warnings > 0:
		Info("Status: PASS (with warnings)")
	default:
		Info("Status: PASS")
	}
}

// checkConfig loads and validates the configuration file.
func checkConfig(path string) (*config.Config, CheckResult) {
	result := CheckResult{Name: "Configuration", Status: "pass"}

	cfg, err := config.Load(path)
	if err != nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, err.Error())
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			result.Suggestions = append(result.Suggestions, "Run 'certbake init' to create a configuration file")
		} else {
			result.Suggestions = append(result.Suggestions, "Fix the configuration file and run 'certbake doctor' again")
		}
		return nil, result
	}

	result.Issues = append(result.Issues, fmt.Sprintf("%s: %d target(s)", path, len(cfg.Targets)))
	return cfg, result
}

// checkTools verifies the external programs a target runs are on PATH.
func checkTools(t *config.Target, runner fetcher.Runner) CheckResult {
	result := CheckResult{Name: fmt.Sprintf("Tools for %s", t.Name), Status: "pass"}

	if t.Source.Kind == string(fetcher.KindScript) && len(t.Source.Command) > 0 {
		interp := t.Source.Command[0]
		if p, err := runner.LookPath(interp); err != nil {
			result.Status = "fail"
			result.Issues = append(result.Issues, fmt.Sprintf("%s not found on PATH", interp))
			result.Suggestions = append(result.Suggestions, fmt.Sprintf("Install %s or use a url or csv source", interp))
		} else {
			result.Issues = append(result.Issues, fmt.Sprintf("%s: %s", interp, p))
		}
	}

	if t.Variant() == encoder.VariantIndexed && t.Converter == fetcher.ConverterOpenSSL {
		if p, err := runner.LookPath(fetcher.ConverterOpenSSL); err != nil {
			if t.AllowBuiltinFallback {
				if result.Status == "pass" {
					result.Status = "warn"
				}
				result.Issues = append(result.Issues, "openssl not found, the builtin PEM decoder will be used")
			} else {
				result.Status = "fail"
				result.Issues = append(result.Issues, "openssl not found on PATH")
				result.Suggestions = append(result.Suggestions, "Install openssl, or set allow_builtin_fallback: true")
			}
		} else {
			result.Issues = append(result.Issues, fmt.Sprintf("openssl: %s", p))
		}
	}

	return result
}

// checkOutputDir verifies the header's directory can be written.
func checkOutputDir(t *config.Target) CheckResult {
	result := CheckResult{Name: fmt.Sprintf("Output directory for %s", t.Name), Status: "pass"}
	dir := filepath.Dir(t.Output)

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		result.Status = "warn"
		result.Issues = append(result.Issues, fmt.Sprintf("Directory does not exist: %s", dir))
		result.Suggestions = append(result.Suggestions, "It will be created by 'certbake generate'")
		return result
	case err != nil:
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Cannot access directory: %s (%v)", dir, err))
		return result
	case !info.IsDir():
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Path exists but is not a directory: %s", dir))
		return result
	}

	probe, err := os.CreateTemp(dir, ".certbake-doctor-*")
	if err != nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Directory is not writable: %s (%v)", dir, err))
		result.Suggestions = append(result.Suggestions, "Check the directory permissions")
		return result
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	result.Issues = append(result.Issues, fmt.Sprintf("Writable: %s", dir))
	return result
}

// checkArtifact verifies a generated header's marker against its record.
func checkArtifact(t *config.Target) CheckResult {
	result := CheckResult{Name: fmt.Sprintf("Header for %s", t.Name), Status: "pass"}
	gate := cachegate.New(t.Output)

	//nolint:gosec // Output path comes from the configuration
	data, err := os.ReadFile(t.Output)
	if os.IsNotExist(err) {
		result.Status = "warn"
		result.Issues = append(result.Issues, fmt.Sprintf("Header not generated yet: %s", t.Output))
		result.Suggestions = append(result.Suggestions, fmt.Sprintf("Run 'certbake generate --target %s'", t.Name))
		return result
	}
	if err != nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Cannot read header: %v", err))
		return result
	}

	marker, ok := cachegate.ScanMarker(data)
	if !ok {
		result.Status = "warn"
		result.Issues = append(result.Issues, "Header has no SHA256 marker and will be regenerated on the next fetch")
		return result
	}

	rec, err := gate.ReadRecord()
	if err != nil {
		result.Status = "warn"
		result.Issues = append(result.Issues, fmt.Sprintf("Cannot read cache record: %v", err))
		result.Suggestions = append(result.Suggestions, "The marker in the header will be used instead")
		return result
	}

	if rec.SHA256 != marker {
		result.Status = "warn"
		result.Issues = append(result.Issues, "Header marker does not match its cache record")
		result.Suggestions = append(result.Suggestions, "Header has been modified outside of certbake")
		result.Suggestions = append(result.Suggestions, fmt.Sprintf("Run 'certbake generate --force --target %s'", t.Name))
		return result
	}

	result.Issues = append(result.Issues, fmt.Sprintf("%d certificates, sha256 %s", rec.CertCount, shortHash(marker)))
	return result
}
