//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "runs.db")
}

// WriteTestConfig creates a temporary config file for testing
func WriteTestConfig(t *testing.T, manifestPath, dbPath string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.toml")

	config := `[general]
manifest_path = "` + manifestPath + `"
database_path = "` + dbPath + `"
log_level = "debug"

[web]
port = 8080
host = "127.0.0.1"
`
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return configPath
}

// WriteTestManifest creates a build-only manifest with a local jar and input
func WriteTestManifest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	jar := filepath.Join(dir, "engine.jar")
	input := filepath.Join(dir, "feeds.gtfs.zip")
	for _, p := range []string{jar, input} {
		if err := os.WriteFile(p, []byte("stub"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	manifestPath := filepath.Join(dir, "manifest.yaml")
	manifest := `baseDir: ` + filepath.Join(dir, "run") + `
buildGraph: true
engine:
  majorVersion: 2
  jarUri: ` + jar + `
inputUris:
  - ` + input + `
buildTimeoutSeconds: 30
serverTimeoutSeconds: 30
`
	if err := os.WriteFile(manifestPath, []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	return manifestPath
}

// InstallFakeEngine puts a shell script named java on PATH that acts as the
// engine: the build succeeds and produces a graph file.
func InstallFakeEngine(t *testing.T) {
	t.Helper()
	bin := t.TempDir()
	script := `#!/bin/sh
echo "graph written"
: > graph.obj
exit 0
`
	if err := os.WriteFile(filepath.Join(bin, "java"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	paths := []string{
		"../graph-orch",
		"./graph-orch",
		filepath.Join(os.Getenv("GOPATH"), "bin", "graph-orch"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../graph-orch", "../cmd/graph-orch")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../graph-orch")
	return abs
}
