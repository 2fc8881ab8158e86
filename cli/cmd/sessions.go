package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/logline/cli/render"
	"github.com/pithecene-io/logline/cli/tui"
	"github.com/pithecene-io/logline/journal"
)

// listWarningThreshold is the result count above which an unlimited
// listing prints a hint on a terminal.
const listWarningThreshold = 100

// SessionsCommand returns the sessions command.
// It reads the session journal and never contacts the collector.
func SessionsCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), configFlag())
	flags = append(flags, journalFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:  "service",
			Usage: "Filter by service name",
		},
		&cli.StringFlag{
			Name:  "agent-id",
			Usage: "Filter by agent ID",
		},
		&cli.StringFlag{
			Name:  "day",
			Usage: "Filter by connect day (YYYY-MM-DD, UTC)",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of sessions to return (0 = no limit)",
		},
	)
	return &cli.Command{
		Name:   "sessions",
		Usage:  "List recorded connection sessions from the journal",
		Flags:  flags,
		Action: sessionsAction,
	}
}

func sessionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	fileCfg, err := loadConfigFile(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	jc, err := resolveJournal(c, fileCfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if jc.Backend == "" {
		return cli.Exit("no session journal configured: set --journal-backend and --journal-path (or journal in the config file)", exitConfigError)
	}

	filter, err := sessionFilter(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	records, err := listSessions(c.Context, jc, filter)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewSessions, records)
	}

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(records) > listWarningThreshold && filter.Limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d sessions. Consider using --limit to reduce output.\n\n", len(records))
	}
	return r.Render(records)
}

func sessionFilter(c *cli.Context) (journal.Filter, error) {
	f := journal.Filter{
		Service: c.String("service"),
		AgentID: c.String("agent-id"),
		Day:     c.String("day"),
		Limit:   c.Int("limit"),
	}
	if f.Day != "" {
		if _, err := time.Parse(time.DateOnly, f.Day); err != nil {
			return f, fmt.Errorf("invalid --day %q: want YYYY-MM-DD", f.Day)
		}
	}
	if f.Limit < 0 {
		return f, errors.New("--limit must be >= 0")
	}
	return f, nil
}

// listSessions opens the journal and returns matching records, newest first.
// A journal that has never been written yields an empty list.
func listSessions(ctx context.Context, jc journal.Config, f journal.Filter) ([]journal.SessionRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ds, err := journal.Open(ctx, jc)
	if err != nil {
		return nil, fmt.Errorf("open session journal: %w", err)
	}
	records, err := journal.QuerySessions(ctx, ds, f)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	if records == nil {
		records = []journal.SessionRecord{}
	}
	return records, nil
}
