package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	expectedFlags := []string{"dump-text", "dump-debug-info", "max-bytecode-size", "gas-usage-check", "verbose"}
	for _, flagName := range expectedFlags {
		if cmd.Flags().Lookup(flagName) == nil {
			t.Errorf("expected flag --%s to exist", flagName)
		}
	}
}

func writeSampleBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.yaml")
	if err := os.WriteFile(path, []byte(sampleBundle), 0644); err != nil {
		t.Fatalf("failed to write bundle: %v", err)
	}
	return path
}

func TestCompileBundleDumpText(t *testing.T) {
	path := writeSampleBundle(t)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--dump-text", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("sierra2casm failed: %v\nStderr: %s", err, errOut.String())
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 dumped instruction lines (move + ret), got %d: %q", len(lines), out.String())
	}
}

func TestCompileBundleDumpDebugInfo(t *testing.T) {
	path := writeSampleBundle(t)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--dump-debug-info", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("sierra2casm failed: %v\nStderr: %s", err, errOut.String())
	}

	if !strings.Contains(out.String(), "offset=") {
		t.Errorf("expected debug info dump, got %q", out.String())
	}
}

func TestCompileBundleVerboseEnablesDebugLogging(t *testing.T) {
	path := writeSampleBundle(t)

	var quietOut, quietErr bytes.Buffer
	quietCmd := newRootCmd(&quietOut, &quietErr)
	quietCmd.SetArgs([]string{path})
	if err := quietCmd.Execute(); err != nil {
		t.Fatalf("sierra2casm failed: %v\nStderr: %s", err, quietErr.String())
	}
	if strings.Contains(quietErr.String(), "level=debug") {
		t.Errorf("expected no debug-level logging without --verbose, got %q", quietErr.String())
	}

	var verboseOut, verboseErr bytes.Buffer
	verboseCmd := newRootCmd(&verboseOut, &verboseErr)
	verboseCmd.SetArgs([]string{"--verbose", path})
	if err := verboseCmd.Execute(); err != nil {
		t.Fatalf("sierra2casm failed: %v\nStderr: %s", err, verboseErr.String())
	}
	if !strings.Contains(verboseErr.String(), "level=debug") {
		t.Errorf("expected debug-level logging with --verbose, got %q", verboseErr.String())
	}
}

func TestCompileBundleMissingFile(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"nonexistent-bundle.yaml"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for missing bundle file, got nil")
	}
}

func TestCompileBundleRequiresExactlyOneArg(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error when no bundle argument is given")
	}
}
