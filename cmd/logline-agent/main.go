// Package main provides the logline-agent entrypoint.
//
// Without a subcommand the agent ships one log file to a collector until
// SIGINT or SIGTERM. The sessions and version subcommands are read-only.
//
// Usage:
//
//	logline-agent --name <service> --file <path> [--server host:port] [options]
//	logline-agent sessions --journal-backend fs --journal-path <dir>
//	logline-agent version
//
// Exit codes:
//   - 0: clean shutdown
//   - 1: unexpected error
//   - 2: configuration error
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/logline/cli/cmd"
	"github.com/pithecene-io/logline/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	// -v belongs to --verbose.
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}

	return &cli.App{
		Name:           "logline-agent",
		Usage:          "Ship a log file to a collector over LLP",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Flags:          cmd.AgentFlags(),
		Action:         cmd.AgentAction,
		Commands: []*cli.Command{
			cmd.SessionsCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// Only print if there's a real message (not just "exit status N")
		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	// Unexpected error - print and exit with code 1
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
