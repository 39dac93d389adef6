package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	bakeerrors "github.com/princespaghetti/certbake/internal/errors"
	"github.com/princespaghetti/certbake/internal/fetcher"
)

const fileHeader = `# certbake configuration.
#
# Each target produces one C++ header holding a trust bundle for a firmware
# build. Run "certbake generate" before compiling; it only rewrites a header
# when the upstream certificate data changed.
`

// Default returns the configuration written by "certbake init": one target
// per supported firmware platform.
func Default() *Config {
	week := Duration(7 * day)
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Targets: []Target{
			{
				Name:      "esp8266",
				Output:    "src/esp8266/generated/certificates.hpp",
				Encoding:  "indexed",
				MaxAge:    &week,
				Source:    SourceConfig{Kind: string(fetcher.KindCSV), URL: fetcher.DefaultFeedURL},
				Converter: fetcher.ConverterOpenSSL,
				Header: HeaderConfig{
					Guard:    "IOP_CERTIFICATES_H",
					Platform: "IOP_ESP8266",
					Includes: []string{"esp8266/cert_store.hpp"},
					ListType: "iop_hal::CertList",
				},
			},
			{
				Name:     "esp32",
				Output:   "src/esp32/generated/certificates.hpp",
				Encoding: "compact",
				MaxAge:   &week,
				Source: SourceConfig{
					Kind:    string(fetcher.KindScript),
					Command: []string{"perl", "mk-ca-bundle.pl"},
					Dir:     "build",
					Output:  "ca-bundle.crt",
				},
				Header: HeaderConfig{
					Guard:    "IOP_ESP32_CERTIFICATES_H",
					Platform: "IOP_ESP32",
				},
			},
			{
				Name:     "linux",
				Output:   "src/openssl/generated/certificates.hpp",
				Encoding: "pem",
				MaxAge:   &week,
				Source: SourceConfig{
					Kind:    string(fetcher.KindScript),
					Command: []string{"perl", "mk-ca-bundle.pl"},
					Dir:     "build",
					Output:  "ca-bundle.crt",
				},
				Header: HeaderConfig{
					Guard:    "IOP_PEM_CERTIFICATES_H",
					Platform: "defined(IOP_LINUX_MOCK) || defined(IOP_LINUX)",
				},
			},
		},
	}
}

// Marshal encodes cfg as YAML with a leading comment block.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves cfg to path. An existing file is only replaced when force is set.
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s already exists (use --force to overwrite)", bakeerrors.ErrConfig, path)
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
