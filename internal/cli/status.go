package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/certbake/internal/cachegate"
	"github.com/princespaghetti/certbake/internal/config"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
)

var statusJSON bool

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display generated header status",
	Long: `Display information about each target's generated header without making
network connections.

Shows, per target:
  - Encoding and output path
  - Header age and whether it is within max_age
  - SHA-256 of the data it was built from
  - Number of certificates and the upstream date

Examples:
  certbake status
  certbake status --json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
}

// StatusOutput represents the structured output of the status command.
type StatusOutput struct {
	Config  string         `json:"config"`
	Targets []TargetStatus `json:"targets"`
}

// TargetStatus represents one target's artifact.
type TargetStatus struct {
	Name      string        `json:"name"`
	Encoding  string        `json:"encoding"`
	Output    string        `json:"output"`
	Exists    bool          `json:"exists"`
	Fresh     bool          `json:"fresh"`
	Age       time.Duration `json:"age_ns,omitempty"`
	MaxAge    time.Duration `json:"max_age_ns"`
	SizeBytes int64         `json:"size_bytes,omitempty"`
	SHA256    string        `json:"sha256,omitempty"`
	CertCount int           `json:"cert_count,omitempty"`
	Generated time.Time     `json:"generated,omitempty"`
	Source    string        `json:"source,omitempty"`
	Upstream  string        `json:"upstream,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _ := loadConfig()

	status := gatherStatus(cfg, time.Now())
	status.Config = configPath

	if statusJSON {
		if err := JSON(status); err != nil {
			Error("Failed to encode JSON: %v", err)
			os.Exit(bakeerrors.ExitGeneralError)
		}
		return nil
	}

	if err := printStatusHuman(status); err != nil {
		Error("%v", err)
		os.Exit(bakeerrors.ExitGeneralError)
	}
	return nil
}

// gatherStatus collects status information for every target.
func gatherStatus(cfg *config.Config, now time.Time) StatusOutput {
	var status StatusOutput
	for i := range cfg.Targets {
		status.Targets = append(status.Targets, targetStatus(&cfg.Targets[i], now))
	}
	return status
}

func targetStatus(t *config.Target, now time.Time) TargetStatus {
	gate := cachegate.New(t.Output, cachegate.WithMaxAge(t.MaxAgeOrDefault()))

	ts := TargetStatus{
		Name:     t.Name,
		Encoding: t.Encoding,
		Output:   t.Output,
		MaxAge:   gate.MaxAge(),
	}

	info, err := os.Stat(t.Output)
	if err != nil {
		return ts
	}
	ts.Exists = true
	ts.SizeBytes = info.Size()
	ts.Age = now.Sub(info.ModTime())
	ts.Fresh = gate.CheckAge(now) == cachegate.Skip

	if rec, err := gate.ReadRecord(); err == nil {
		ts.SHA256 = rec.SHA256
		ts.CertCount = rec.CertCount
		ts.Generated = rec.Generated
		ts.Source = rec.Source
		ts.Upstream = rec.Upstream
	} else if hash, ok := gate.PreviousHash(); ok {
		ts.SHA256 = hash
	}
	return ts
}

// printStatusHuman prints the status in a human-readable format.
func printStatusHuman(status StatusOutput) error {
	Header("Certificate Header Status")
	Field("Config", status.Config)
	EmptyLine()

	rows := make([][]string, 0, len(status.Targets))
	for _, ts := range status.Targets {
		rows = append(rows, []string{
			ts.Name,
			ts.Encoding,
			stateLabel(ts),
			formatAge(ts),
			orDash(shortHash(ts.SHA256)),
			countLabel(ts.CertCount),
			orDash(ts.Upstream),
		})
	}
	if err := RenderTable(os.Stdout, []string{"Target", "Encoding", "State", "Age", "SHA256", "Certificates", "Upstream"}, rows); err != nil {
		return err
	}

	for _, ts := range status.Targets {
		if !ts.Exists {
			EmptyLine()
			Info("Some headers are missing. Run 'certbake generate' to create them.")
			break
		}
	}
	return nil
}

func stateLabel(ts TargetStatus) string {
	switch {
	case !ts.Exists:
		return "missing"
	case ts.Fresh:
		return "fresh"
	default:
		return "expired"
	}
}

func formatAge(ts TargetStatus) string {
	if !ts.Exists {
		return "-"
	}
	age := ts.Age.Round(time.Minute)
	switch {
	case age >= 24*time.Hour:
		return fmt.Sprintf("%dd%dh", age/(24*time.Hour), (age%(24*time.Hour))/time.Hour)
	case age >= time.Hour:
		return fmt.Sprintf("%dh%dm", age/time.Hour, (age%time.Hour)/time.Minute)
	default:
		return fmt.Sprintf("%dm", age/time.Minute)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func countLabel(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
