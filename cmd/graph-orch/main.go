package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "graph-orch",
		Short: "Graph Orchestrator - routing engine deployment pipeline",
		Long: `Graph Orchestrator automates the lifecycle of a graph-routing engine:
it fetches the engine and its inputs, builds the graph, starts the query
server, and publishes artifacts, while reporting progress through a
machine-readable status file.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
