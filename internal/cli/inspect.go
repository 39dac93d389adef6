package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/certbake/internal/bundle"
	"github.com/princespaghetti/certbake/internal/cachegate"
	"github.com/princespaghetti/certbake/internal/certparse"
	"github.com/princespaghetti/certbake/internal/encoder"
	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/fetcher"
)

var (
	inspectFeed bool
	inspectJSON bool
)

// inspectCmd represents the inspect command.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the certificates of a source file in bundle order",
	Long: `Parse a certificate source and list its entries in the order they would
be encoded, with the field sizes each encoding stores.

The file may be a PEM bundle, a single DER certificate, a PKCS#7 bundle or
a CCADB CSV report (detected by the .csv extension, or forced with --feed).
For a generated header, the embedded SHA-256 marker is shown instead.

Examples:
  certbake inspect build/ca-bundle.crt
  certbake inspect roots.csv --json
  certbake inspect src/esp32/generated/certificates.hpp`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectFeed, "feed", false, "Treat the file as a CCADB CSV report")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output in JSON format")
}

// InspectOutput represents the structured output of the inspect command.
type InspectOutput struct {
	File        string         `json:"file"`
	SHA256      string         `json:"sha256"`
	Marker      string         `json:"marker,omitempty"`
	Count       int            `json:"count"`
	CompactSize int            `json:"compact_size,omitempty"`
	Entries     []InspectEntry `json:"entries,omitempty"`
}

// InspectEntry describes one certificate in bundle order.
type InspectEntry struct {
	Index          int    `json:"index"`
	Label          string `json:"label"`
	SubjectBytes   int    `json:"subject_bytes"`
	PublicKeyBytes int    `json:"public_key_bytes"`
	DERBytes       int    `json:"der_bytes"`
	IssuerHash     string `json:"issuer_hash"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	//nolint:gosec // Path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		Error("Failed to read %s: %v", path, err)
		os.Exit(bakeerrors.ExitGeneralError)
	}

	feed := inspectFeed || strings.EqualFold(filepath.Ext(path), ".csv")
	out, err := inspectData(path, data, feed)
	if err != nil {
		Error("%v", err)
		os.Exit(bakeerrors.ExitCode(err))
	}

	if inspectJSON {
		if err := JSON(out); err != nil {
			Error("Failed to encode JSON: %v", err)
			os.Exit(bakeerrors.ExitGeneralError)
		}
		return nil
	}

	if err := printInspect(out); err != nil {
		Error("%v", err)
		os.Exit(bakeerrors.ExitGeneralError)
	}
	return nil
}

// inspectData parses data and describes it in bundle order. A generated
// header is reported by its marker alone.
func inspectData(path string, data []byte, feed bool) (*InspectOutput, error) {
	out := &InspectOutput{File: path, SHA256: fetcher.ComputeSHA256(data)}

	if marker, ok := cachegate.ScanMarker(data); ok {
		out.Marker = marker
		if rec, err := cachegate.New(path).ReadRecord(); err == nil {
			out.Count = rec.CertCount
		}
		return out, nil
	}

	var (
		certs []bundle.Certificate
		err   error
	)
	if feed {
		var entries []certparse.FeedEntry
		entries, err = certparse.ParseFeed(data)
		if err == nil {
			certs, err = certparse.FeedCertificates(entries)
		}
	} else {
		certs, err = certparse.Parse(data)
	}
	if err != nil {
		return nil, bakeerrors.Malformed("parse certificates", path, err)
	}

	b, err := bundle.New(certs)
	if err != nil {
		return nil, bakeerrors.Malformed("build bundle", path, err)
	}

	out.Count = b.Count()
	if enc, err := (encoder.Compact{}).Encode(encoder.Input{Bundle: b}); err == nil {
		out.CompactSize = len(enc.Compact)
	}

	for i, c := range b.Certificates() {
		issuer := encoder.IssuerHash(c.IssuerDER)
		out.Entries = append(out.Entries, InspectEntry{
			Index:          i,
			Label:          c.Label,
			SubjectBytes:   len(c.SubjectDER),
			PublicKeyBytes: len(c.PublicKeyDER),
			DERBytes:       len(c.RawDER),
			IssuerHash:     hex.EncodeToString(issuer[:]),
		})
	}
	return out, nil
}

func printInspect(out *InspectOutput) error {
	Header("Certificate Source")
	Field("File", out.File)
	Field("SHA256", out.SHA256)

	if out.Marker != "" {
		Field("Built from", out.Marker)
		if out.Count > 0 {
			Field("Certificates", fmt.Sprintf("%d", out.Count))
		}
		return nil
	}

	Field("Certificates", fmt.Sprintf("%d", out.Count))
	if out.CompactSize > 0 {
		Field("Compact size", FormatBytes(int64(out.CompactSize)))
	}
	EmptyLine()

	rows := make([][]string, 0, len(out.Entries))
	for _, e := range out.Entries {
		rows = append(rows, []string{
			fmt.Sprintf("%d", e.Index),
			TruncateString(e.Label, 48),
			fmt.Sprintf("%d", e.SubjectBytes),
			fmt.Sprintf("%d", e.PublicKeyBytes),
			fmt.Sprintf("%d", e.DERBytes),
			shortHash(e.IssuerHash),
		})
	}
	return RenderTable(os.Stdout, []string{"#", "Name", "Subject", "Key", "DER", "Issuer hash"}, rows)
}
