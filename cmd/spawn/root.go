package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Crawl directory trees and extract file metadata",
	Long: `spawn walks a directory tree, filters files through include and
exclude patterns, runs the applicable metadata plugins on each file, and
writes the resulting records to JSON files and/or a search index.`,
	Version:      version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spawn %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, console)")
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(versionCmd)
}
