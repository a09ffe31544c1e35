package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/rbaliyan/calllog"
)

// NewMarkCommand returns the mark subcommand.
func NewMarkCommand() *cli.Command {
	return &cli.Command{
		Name:  "mark",
		Usage: "Update call state",
		Commands: []*cli.Command{
			{
				Name:   "calls-old",
				Usage:  "Mark every new call as seen",
				Action: markAction(calllog.KindMarkCallsOld),
			},
			{
				Name:   "voicemails-old",
				Usage:  "Mark every new voicemail as seen",
				Action: markAction(calllog.KindMarkVoicemailsOld),
			},
			{
				Name:   "missed-read",
				Usage:  "Mark every unread missed call as read",
				Action: markAction(calllog.KindMarkMissedRead),
			},
		},
	}
}

func markAction(kind calllog.OperationKind) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		err = s.run(ctx, func(ctx context.Context, d *calllog.Dispatcher) error {
			switch kind {
			case calllog.KindMarkCallsOld:
				return d.MarkNewCallsAsOld(ctx)
			case calllog.KindMarkVoicemailsOld:
				return d.MarkNewVoicemailsAsOld(ctx)
			default:
				return d.MarkMissedCallsAsRead(ctx)
			}
		})
		if err != nil {
			return err
		}
		fmt.Println("ok:", kind)
		return nil
	}
}
