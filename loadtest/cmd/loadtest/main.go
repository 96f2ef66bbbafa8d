// Package main is the entry point for the DM server load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - saturate: Authenticated connection saturation test
//   - dm:       Friend pairs exchanging direct messages
//
// The server should run with RATE_LIMIT=false, since every simulated user
// comes from the same address.
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "dm":
		runDM(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Connection saturation test: N authenticated, idle users")
	fmt.Println("  dm          Direct message test: friend pairs measure delivery latency")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
