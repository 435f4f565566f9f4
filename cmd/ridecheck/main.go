// Command ridecheck serves the guided two-wheeler inspection gateway.
//
// Usage:
//
//	ridecheck serve [--env-file .env]
//	ridecheck checklist [--file checklist.yaml] [--flat]
//	ridecheck replay [--base-url http://127.0.0.1:8080] [--audio answer.wav]
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ridecheck: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ridecheck",
		Usage:   "Guided two-wheeler inspection gateway for Gemini Live",
		Version: version,
		Commands: []*cli.Command{
			serveCommand(),
			checklistCommand(),
			replayCommand(),
		},
	}
}
