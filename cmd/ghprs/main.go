// Ghprs manages your open pull requests on one GitHub repository: list and
// search them, retarget their base branch and edit their labels in bulk.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: ghprs [flags] <command> [args]

commands:
  list       list your open pull requests
  branches   list repository branches
  labels     list repository labels
  retarget   change the base branch of pull requests
  label      add, remove or replace labels on pull requests
  ratelimit  show the remaining API quota
  profiles   manage saved projects

flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	demo := flag.Bool("demo", false, "use synthetic data instead of GitHub")
	metricsFile := flag.String("metrics-file", "", "write request metrics to this file on exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println("ghprs", version)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := options{configPath: *configPath, demo: *demo, metricsFile: *metricsFile}
	if err := run(ctx, opts, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
