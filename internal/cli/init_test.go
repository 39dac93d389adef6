package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/princespaghetti/certbake/internal/config"
)

func TestInitCmd_Exists(t *testing.T) {
	if initCmd == nil {
		t.Fatal("initCmd is nil")
	}

	if initCmd.Use != "init" {
		t.Errorf("initCmd.Use = %q, want %q", initCmd.Use, "init")
	}
}

func TestInitCmd_Flags(t *testing.T) {
	flag := initCmd.Flags().Lookup("force")
	if flag == nil {
		t.Fatal("--force flag not found")
	}

	if flag.DefValue != "false" {
		t.Errorf("--force default = %q, want %q", flag.DefValue, "false")
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	tests := []struct {
		name string
		def  string
	}{
		{"config", config.DefaultPath},
		{"log-level", ""},
		{"log-format", ""},
	}

	for _, tt := range tests {
		flag := rootCmd.PersistentFlags().Lookup(tt.name)
		if flag == nil {
			t.Errorf("--%s flag not found", tt.name)
			continue
		}
		if flag.DefValue != tt.def {
			t.Errorf("--%s default = %q, want %q", tt.name, flag.DefValue, tt.def)
		}
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := []string{"clean", "completion", "doctor", "generate", "init", "inspect", "status", "version"}

	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, config.DefaultPath)

	// runInit exits the process on failure, so exercise what it calls.
	if err := config.Write(path, config.Default(), false); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Targets) != 3 {
		t.Fatalf("got %d targets, want 3", len(cfg.Targets))
	}

	for _, tgt := range cfg.Targets {
		if !strings.HasPrefix(tgt.Output, tmpDir) {
			t.Errorf("target %s output %q not resolved against %s", tgt.Name, tgt.Output, tmpDir)
		}
	}
}

func TestInit_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultPath)
	if err := os.WriteFile(path, []byte("# mine\n"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := config.Write(path, config.Default(), false); err == nil {
		t.Fatal("Write() should fail when the file exists")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(data) != "# mine\n" {
		t.Error("existing configuration was modified")
	}

	if err := config.Write(path, config.Default(), true); err != nil {
		t.Fatalf("Write(force) failed: %v", err)
	}
}
