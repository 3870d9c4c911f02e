package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
baseDir: /tmp/graph-orch
buildGraph: true
runServer: true
engine:
  majorVersion: 2
  jarUri: https://example.com/engine.jar
  memoryMb: 2048
inputUris:
  - https://example.com/transit.zip
  - https://example.com/streets.pbf
buildTimeoutSeconds: 1800
serverTimeoutSeconds: 300
upload:
  graph: true
  logs: true
  prefix: s3://bucket/deployments/test
`

func TestParse_Valid(t *testing.T) {
	m, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.True(t, m.BuildGraph)
	assert.True(t, m.RunServer)
	assert.Equal(t, 2, m.Engine.MajorVersion)
	assert.Len(t, m.InputURIs, 2)
	assert.Equal(t, "s3://bucket/deployments/test", m.Upload.Prefix)
}

func TestParse_DerivedPaths(t *testing.T) {
	m, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/graph-orch/status.json", m.StatusFile)
	assert.Equal(t, "/tmp/graph-orch/orchestrator.log", m.RunnerLogFile)
	assert.Equal(t, "/tmp/graph-orch/build.log", m.BuildLogFile)
	assert.Equal(t, "/tmp/graph-orch/server.log", m.ServerLogFile)
	assert.Equal(t, "/tmp/graph-orch/engine.jar", m.JarPath())
	assert.Equal(t, "/tmp/graph-orch/graph.obj", m.GraphPath())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/graph-orch", m.BaseDir)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestValidate_AggregatesAllProblems(t *testing.T) {
	m := &Manifest{
		Engine: EngineConfig{MajorVersion: 3},
	}

	err := m.Validate()
	require.Error(t, err)

	msg := err.Error()
	// Every violation must be present in the single joined message.
	for _, want := range []string{
		"baseDir is required",
		"at least one of buildGraph or runServer",
		"majorVersion 3 is not supported",
		"engine.jarUri is required",
		"buildTimeoutSeconds must be positive",
		"serverTimeoutSeconds must be positive",
	} {
		assert.Contains(t, msg, want)
	}
	assert.Equal(t, 1, strings.Count(msg, "invalid manifest:"))
}

func TestValidate_CrossFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest)
		want   string
	}{
		{
			name:   "build without inputs",
			mutate: func(m *Manifest) { m.InputURIs = nil },
			want:   "inputUris",
		},
		{
			name: "serve only without graph",
			mutate: func(m *Manifest) {
				m.BuildGraph = false
				m.Upload.Graph = false
			},
			want: "requires graphUri",
		},
		{
			name:   "graphUri alongside build",
			mutate: func(m *Manifest) { m.GraphURI = "s3://bucket/graph.obj" },
			want:   "only valid when buildGraph is false",
		},
		{
			name: "upload without prefix",
			mutate: func(m *Manifest) {
				m.Upload.Prefix = ""
			},
			want: "upload.prefix is required",
		},
		{
			name:   "non-s3 prefix",
			mutate: func(m *Manifest) { m.Upload.Prefix = "gs://bucket/x" },
			want:   "must be an s3:// URI",
		},
		{
			name: "graph upload without build",
			mutate: func(m *Manifest) {
				m.BuildGraph = false
				m.GraphURI = "s3://bucket/graph.obj"
			},
			want: "upload.graph requires buildGraph",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(validYAML))
			require.NoError(t, err)
			tt.mutate(m)

			err = m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefault_Timeouts(t *testing.T) {
	m := Default()
	assert.Equal(t, 1800, m.BuildTimeoutSeconds)
	assert.Equal(t, 300, m.ServerTimeoutSeconds)
	assert.Equal(t, 2, m.Engine.MajorVersion)
}
