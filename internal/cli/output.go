package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Color codes using ANSI escape sequences
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// colorsEnabled determines if color output is enabled
var colorsEnabled = true

func init() {
	// Disable colors if NO_COLOR environment variable is set
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
	}
}

// Color wraps text with ANSI color codes if colors are enabled
func Color(text, color string) string {
	if !colorsEnabled {
		return text
	}
	return color + text + colorReset
}

// Success prints a success message with a green checkmark
func Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("%s %s\n", Color("✓", colorGreen), msg)
}

// Error prints an error message with a red X to stderr
func Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s Error: %s\n", Color("✗", colorRed), msg)
}

// Warning prints a warning message with a yellow warning sign
func Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("%s Warning: %s\n", Color("⚠", colorYellow), msg)
}

// Info prints an informational message
func Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
}

// Header prints a section header with an underline
func Header(text string) {
	fmt.Println(Color(text, colorBold))
	fmt.Println(strings.Repeat("=", len(text)))
	fmt.Println()
}

// Subheader prints a subsection header
func Subheader(text string) {
	fmt.Println(Color(text, colorBold))
	fmt.Println(strings.Repeat("-", len(text)))
}

// Field prints a labeled field (key-value pair)
func Field(label, value string) {
	labelFormatted := fmt.Sprintf("%-16s", label+":")
	fmt.Printf("%s %s\n", Color(labelFormatted, colorGray), value)
}

// RenderTable writes rows under headers as a markdown table.
func RenderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewMarkdown(tw.Rendition{Streaming: true})),
	)
	table.Header(headers)
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("build table: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}

// JSON marshals and prints data as indented JSON
func JSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatBytes formats byte sizes in human-readable format (B, KB, MB, etc.)
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// TruncateString truncates a string to maxLen with ellipsis
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// StatusIcon returns a colored status icon based on status string
func StatusIcon(status string) string {
	switch strings.ToLower(status) {
	case "pass", "ok", "regenerated", "up-to-date", "skipped":
		return Color("✓", colorGreen)
	case "warn", "warning", "stale":
		return Color("⚠", colorYellow)
	case "fail", "error":
		return Color("✗", colorRed)
	default:
		return "•"
	}
}

// PrintList prints a bulleted list
func PrintList(items []string) {
	for _, item := range items {
		fmt.Printf("  • %s\n", item)
	}
}

// EmptyLine prints an empty line
func EmptyLine() {
	fmt.Println()
}
