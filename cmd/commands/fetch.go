package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rbaliyan/calllog"
	"github.com/rbaliyan/calllog/store"
)

func typeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "type",
		Aliases: []string{"t"},
		Usage:   "Call type: incoming, outgoing, missed, voicemail, rejected or blocked",
	}
}

func slotFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "slot",
		Usage: "SIM slot whose phone account to restrict to",
		Value: calllog.SlotAll,
	}
}

// NewListCommand returns the list subcommand.
func NewListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List calls, newest first",
		Flags: []cli.Flag{
			typeFlag(),
			slotFlag(),
			&cli.DurationFlag{
				Name:  "since",
				Usage: "Only calls newer than this long ago, e.g. 72h",
			},
			&cli.BoolFlag{
				Name:  "new",
				Usage: "Only calls not yet seen",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of calls (default: CALLLOG_FETCH_LIMIT)",
			},
		},
		Action: runList,
	}
}

func runList(ctx context.Context, cmd *cli.Command) error {
	callType, err := parseType(cmd.String("type"))
	if err != nil {
		return err
	}

	c := calllog.NewCriteria().OfType(callType).InSlot(cmd.Int("slot"))
	if since := cmd.Duration("since"); since > 0 {
		c = c.NewerThan(time.Now().Add(-since).UnixMilli())
	}
	if cmd.Bool("new") {
		c = c.NewOnly()
	}
	if n := cmd.Int("limit"); n > 0 {
		c = c.Limit(n)
	}
	return fetchAndPrint(ctx, cmd, func(ctx context.Context, d *calllog.Dispatcher) error {
		return d.FetchCallsMatching(ctx, c)
	})
}

// NewSearchCommand returns the search subcommand.
func NewSearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Find calls whose number or cached name contains text",
		ArgsUsage: "<text>",
		Action:    runSearch,
	}
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: calllog search <text>")
	}
	text := cmd.Args().First()
	return fetchAndPrint(ctx, cmd, func(ctx context.Context, d *calllog.Dispatcher) error {
		return d.FetchCallsByText(ctx, text)
	})
}

// NewRangeCommand returns the range subcommand.
func NewRangeCommand() *cli.Command {
	return &cli.Command{
		Name:  "range",
		Usage: "List calls between two dates",
		Flags: []cli.Flag{
			typeFlag(),
			slotFlag(),
			&cli.StringFlag{
				Name:     "from",
				Usage:    "Start date, YYYY-MM-DD or RFC 3339",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "End date, YYYY-MM-DD or RFC 3339 (default: now)",
			},
		},
		Action: runRange,
	}
}

func runRange(ctx context.Context, cmd *cli.Command) error {
	callType, err := parseType(cmd.String("type"))
	if err != nil {
		return err
	}
	from, err := parseTime(cmd.String("from"))
	if err != nil {
		return err
	}
	to := time.Now()
	if cmd.IsSet("to") {
		if to, err = parseTime(cmd.String("to")); err != nil {
			return err
		}
	}
	slot := cmd.Int("slot")
	return fetchAndPrint(ctx, cmd, func(ctx context.Context, d *calllog.Dispatcher) error {
		return d.FetchCallsInDateRange(ctx, callType, from.UnixMilli(), to.UnixMilli(), slot)
	})
}

func fetchAndPrint(ctx context.Context, cmd *cli.Command, submit func(context.Context, *calllog.Dispatcher) error) error {
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	if err := s.run(ctx, submit); err != nil {
		return err
	}
	if !s.results.fetched {
		return fmt.Errorf("no result: the call log is unavailable")
	}
	return printCalls(s.results.calls)
}

// parseType parses a call type name. An empty name matches every type.
func parseType(name string) (store.CallType, error) {
	if name == "" {
		return calllog.CallTypeAll, nil
	}
	return store.ParseCallType(name)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
}
