package main

// Package main is the entry point of the loglens command.
//
// loglens reads a per-minute aggregate table and the raw event log it was
// built from, then:
//   - normalises both tables onto UTC minute buckets
//   - drops a partially observed final bucket
//   - scores every minute with a z-score and an isolation forest
//   - correlates per-source activity and summarises levels, sources,
//     error messages and addresses
//   - writes a JSON report, optionally a SQLite history and a
//     node-exporter metrics textfile
//
// SIGINT or SIGTERM cancels a running analysis.

import (
	"fmt"
	"os"

	"github.com/kubilitics/kubilitics-loglens/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loglens: %v\n", err)
		os.Exit(1)
	}
}
