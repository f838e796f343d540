package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "toolgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	subcmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "serve":
		return cmdServe(args)
	case "init":
		return cmdInit()
	case "mode":
		return cmdMode(args)
	case "revoke-elevations":
		return cmdRevokeElevations()
	default:
		return fmt.Errorf("unknown command: %s\nUsage: toolgate [serve|init|mode|revoke-elevations]", subcmd)
	}
}
