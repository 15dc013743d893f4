package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"polystore/internal/config"
	"polystore/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file (built-in defaults when omitted)")
	flag.Parse()

	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		printUsage()
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func printUsage() {
	fmt.Printf(`Pluggable Key-Value Store Server

Usage:
  %s [options]

Options:
  -config string
        Path to configuration file (built-in defaults when omitted)
  -h, --help
        Show this help message

Environment Variables:
  Configuration can be overridden using environment variables with POLYSTORE_ prefix.

Examples:
  # Start with default config
  %s

  # Start with custom config file
  %s -config /path/to/config.yaml

  # Start with environment override
  POLYSTORE_STORAGE_ENGINE=sqlite %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}
