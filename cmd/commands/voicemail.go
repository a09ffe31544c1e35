package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/rbaliyan/calllog"
)

// NewVoicemailCommand returns the voicemail-status subcommand.
func NewVoicemailCommand() *cli.Command {
	return &cli.Command{
		Name:   "voicemail-status",
		Usage:  "Show the status of every voicemail source",
		Action: runVoicemailStatus,
	}
}

func runVoicemailStatus(ctx context.Context, cmd *cli.Command) error {
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	err = s.run(ctx, func(ctx context.Context, d *calllog.Dispatcher) error {
		return d.FetchVoicemailStatus(ctx)
	})
	if err != nil {
		return err
	}
	if !s.results.fetched {
		return fmt.Errorf("no result: the voicemail status is unavailable")
	}
	return printStatuses(s.results.statuses)
}
