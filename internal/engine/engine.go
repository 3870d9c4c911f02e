// Package engine describes how to invoke and observe the routing engine. The
// two supported major versions differ in their CLI flag conventions and in
// the log lines announcing readiness; both live here as table data so adding
// an engine version touches nothing in the supervision control flow.
package engine

import (
	"fmt"
	"strings"
)

// Markers are the fixed substrings scanned for in engine output.
type Markers struct {
	// Listening appears once the query server is accepting connections.
	Listening string
	// GraphLoaded appears once the graph is registered with the router.
	// The server is not usable until both this and Listening have appeared.
	GraphLoaded string
	// RegistrationFailure appears when the server came up but could not
	// register its router. Terminal; waiting out the timeout is pointless.
	RegistrationFailure string
}

// Spec is one engine major version's invocation convention.
type Spec struct {
	Major   int
	Markers Markers

	buildArgs []string
	serveArgs []string
}

// baseDirToken is substituted with the run's base directory in arg templates.
const baseDirToken = "{baseDir}"

var specs = map[int]Spec{
	1: {
		Major: 1,
		Markers: Markers{
			Listening:           "Grizzly server running",
			GraphLoaded:         "Registered router 'default'",
			RegistrationFailure: "Can't register router",
		},
		buildArgs: []string{"--build", baseDirToken},
		serveArgs: []string{"--server", "--graphs", baseDirToken, "--router", "default"},
	},
	2: {
		Major: 2,
		Markers: Markers{
			Listening:           "Grizzly server running",
			GraphLoaded:         "Transit model loaded",
			RegistrationFailure: "Can't register router",
		},
		buildArgs: []string{"--build", "--save", baseDirToken},
		serveArgs: []string{"--load", baseDirToken},
	},
}

// Lookup returns the Spec for an engine major version.
func Lookup(major int) (Spec, error) {
	spec, ok := specs[major]
	if !ok {
		return Spec{}, fmt.Errorf("unsupported engine major version %d", major)
	}
	return spec, nil
}

// BuildCommand returns the full argv for a graph build.
func (s Spec) BuildCommand(jarPath, baseDir string, memoryMB int) []string {
	return s.command(s.buildArgs, jarPath, baseDir, memoryMB)
}

// ServeCommand returns the full argv for the query server.
func (s Spec) ServeCommand(jarPath, baseDir string, memoryMB int) []string {
	return s.command(s.serveArgs, jarPath, baseDir, memoryMB)
}

func (s Spec) command(tmpl []string, jarPath, baseDir string, memoryMB int) []string {
	argv := []string{"java"}
	if memoryMB > 0 {
		argv = append(argv, fmt.Sprintf("-Xmx%dm", memoryMB))
	}
	argv = append(argv, "-jar", jarPath)
	for _, a := range tmpl {
		argv = append(argv, strings.ReplaceAll(a, baseDirToken, baseDir))
	}
	return argv
}
