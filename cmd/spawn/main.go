// Spawn crawls directory trees, extracts file metadata through its
// plugin registry, and delivers the records to JSON files on disk
// and/or a remote search index.
//
// Usage:
//
//	# Crawl a tree with the default plugins, writing spawn_metadata.json
//	spawn crawl /data/archive
//
//	# Only text and PDF files, one JSON file per record
//	spawn crawl --include '\.(txt|pdf)$' --json-layout per-record /data/archive
//
//	# Keep crawling as the tree changes
//	spawn crawl --watch /data/incoming
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
