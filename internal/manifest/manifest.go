// Package manifest loads and validates the per-run manifest. The manifest is
// the single external input describing a run: which phases to execute, where
// inputs come from, where artifacts go, and how long the engine may take.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EngineConfig describes the routing engine binary to supervise.
type EngineConfig struct {
	// MajorVersion selects the CLI flag convention and log markers. 1 and 2
	// are supported.
	MajorVersion int `yaml:"majorVersion"`
	// JarURI is where the engine jar is fetched from.
	JarURI string `yaml:"jarUri"`
	// MemoryMB is passed to the JVM as -Xmx. Zero means the JVM default.
	MemoryMB int `yaml:"memoryMb"`
}

// UploadConfig controls artifact publication.
type UploadConfig struct {
	Graph  bool `yaml:"graph"`
	Logs   bool `yaml:"logs"`
	Report bool `yaml:"report"`
	// Prefix is the object-store URI all artifact suffixes are joined to.
	Prefix string `yaml:"prefix"`
}

// Manifest is the validated run configuration. Immutable once validated; the
// orchestrator owns it for the duration of the run.
type Manifest struct {
	BaseDir    string       `yaml:"baseDir"`
	BuildGraph bool         `yaml:"buildGraph"`
	RunServer  bool         `yaml:"runServer"`
	Engine     EngineConfig `yaml:"engine"`

	// InputURIs are the graph inputs (transit feeds, street data) fetched
	// before a build.
	InputURIs []string `yaml:"inputUris"`
	// GraphURI is a pre-built graph, fetched instead of inputs when
	// buildGraph is false.
	GraphURI string `yaml:"graphUri"`

	BuildTimeoutSeconds  int `yaml:"buildTimeoutSeconds"`
	ServerTimeoutSeconds int `yaml:"serverTimeoutSeconds"`

	Upload UploadConfig `yaml:"upload"`

	StatusFile    string `yaml:"statusFile"`
	RunnerLogFile string `yaml:"runnerLogFile"`
	BuildLogFile  string `yaml:"buildLogFile"`
	ServerLogFile string `yaml:"serverLogFile"`

	// Nonce is echoed into the status artifact so a caller polling it can
	// tell this run's output from a previous run's.
	Nonce string `yaml:"nonce"`
}

// Default returns a Manifest with the defaults applied before unmarshalling.
func Default() *Manifest {
	return &Manifest{
		BaseDir: "/var/graph-orch",
		Engine: EngineConfig{
			MajorVersion: 2,
		},
		BuildTimeoutSeconds:  1800,
		ServerTimeoutSeconds: 300,
	}
}

// Load reads a YAML manifest, applies defaults and derives dependent paths.
// It does not validate; callers run Validate separately so all violations are
// reported together.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals manifest bytes with defaults applied.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	m.ApplyDerived()
	return m, nil
}

// ApplyDerived fills paths that default relative to the base directory.
// Parse calls it; callers constructing a Manifest in code must too.
func (m *Manifest) ApplyDerived() {
	if m.StatusFile == "" {
		m.StatusFile = filepath.Join(m.BaseDir, "status.json")
	}
	if m.RunnerLogFile == "" {
		m.RunnerLogFile = filepath.Join(m.BaseDir, "orchestrator.log")
	}
	if m.BuildLogFile == "" {
		m.BuildLogFile = filepath.Join(m.BaseDir, "build.log")
	}
	if m.ServerLogFile == "" {
		m.ServerLogFile = filepath.Join(m.BaseDir, "server.log")
	}
}

// JarPath is where the engine jar lands inside the base directory.
func (m *Manifest) JarPath() string {
	return filepath.Join(m.BaseDir, "engine.jar")
}

// GraphPath is where the built or downloaded graph lives.
func (m *Manifest) GraphPath() string {
	return filepath.Join(m.BaseDir, "graph.obj")
}

// UploadsRequested reports whether any artifact publication is enabled.
func (m *Manifest) UploadsRequested() bool {
	return m.Upload.Graph || m.Upload.Logs || m.Upload.Report
}

// Validate checks every schema and cross-field rule and reports all
// violations together in a single error. A manifest passing Validate is
// considered immutable for the rest of the run.
func (m *Manifest) Validate() error {
	var problems []string

	if m.BaseDir == "" {
		problems = append(problems, "baseDir is required")
	}
	if !m.BuildGraph && !m.RunServer {
		problems = append(problems, "at least one of buildGraph or runServer must be enabled")
	}
	if m.Engine.MajorVersion != 1 && m.Engine.MajorVersion != 2 {
		problems = append(problems, fmt.Sprintf("engine.majorVersion %d is not supported (want 1 or 2)", m.Engine.MajorVersion))
	}
	if m.Engine.JarURI == "" {
		problems = append(problems, "engine.jarUri is required")
	}
	if m.Engine.MemoryMB < 0 {
		problems = append(problems, "engine.memoryMb must not be negative")
	}
	if m.BuildGraph && len(m.InputURIs) == 0 {
		problems = append(problems, "buildGraph requires at least one entry in inputUris")
	}
	if !m.BuildGraph && m.RunServer && m.GraphURI == "" {
		problems = append(problems, "runServer without buildGraph requires graphUri")
	}
	if m.BuildGraph && m.GraphURI != "" {
		problems = append(problems, "graphUri is only valid when buildGraph is false")
	}
	if m.BuildTimeoutSeconds <= 0 {
		problems = append(problems, "buildTimeoutSeconds must be positive")
	}
	if m.ServerTimeoutSeconds <= 0 {
		problems = append(problems, "serverTimeoutSeconds must be positive")
	}
	if m.UploadsRequested() && m.Upload.Prefix == "" {
		problems = append(problems, "upload.prefix is required when any upload is enabled")
	}
	if m.Upload.Prefix != "" && !strings.HasPrefix(m.Upload.Prefix, "s3://") {
		problems = append(problems, fmt.Sprintf("upload.prefix %q must be an s3:// URI", m.Upload.Prefix))
	}
	if m.Upload.Graph && !m.BuildGraph {
		problems = append(problems, "upload.graph requires buildGraph")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid manifest: %s", strings.Join(problems, "; "))
}
