// Package cmd provides CLI commands for the logline-agent binary.
package cmd

import (
	"os"

	"github.com/urfave/cli/v2"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:  "format",
		Usage: "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for the sessions command.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (sessions only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// journalFlags select the session journal. Shared by the agent and the
// sessions command so both address the same dataset.
func journalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "journal-backend",
			Usage: "Session journal backend: fs or s3 (empty disables the journal)",
		},
		&cli.StringFlag{
			Name:  "journal-path",
			Usage: "Session journal path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "journal-dataset",
			Usage: "Session journal dataset name (default: logline)",
		},
		&cli.StringFlag{
			Name:  "journal-s3-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "journal-s3-endpoint",
			Usage: "Custom S3 endpoint URL (MinIO, R2, LocalStack)",
		},
		&cli.BoolFlag{
			Name:  "journal-s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a YAML config file (flags override file values)",
	}
}

// isStderrTTY returns true if stderr is a terminal.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
