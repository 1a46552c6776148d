package main

import (
	"fmt"
	"os"

	"github.com/datacommons-io/query-compiler/internal/meta"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "configure":
		if err := runConfigure(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--version", "-v", "version":
		fmt.Printf("dcq %s\n", meta.Version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("dcq %s — data-commons query compiler\n", meta.Version)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dcq serve       Start the query compiler server")
	fmt.Println("  dcq configure   Run interactive configuration wizard")
	fmt.Println("  dcq doctor      Validate config and show agent connection snippets")
	fmt.Println("  dcq --version   Show version")
	fmt.Println("  dcq --help      Show this help message")
}
