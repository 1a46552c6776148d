package main

import (
	"flag"
	"os"

	"github.com/datacommons-io/query-compiler/internal/configure"
)

func runConfigure() error {
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	configPath := fs.String("config", ".dcq/config.json", "Path to configuration file")
	fs.Parse(os.Args[2:])

	printBanner(os.Stdout, isTTY(os.Stdout.Fd()))
	return configure.Run(*configPath)
}
