// Package commands implements the calllog command line interface.
package commands

import (
	"github.com/urfave/cli/v3"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "calllog",
		Usage: "Query and update a call log store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "Path to a .env file (default: ./.env if present)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewListCommand(),
			NewSearchCommand(),
			NewRangeCommand(),
			NewVoicemailCommand(),
			NewMarkCommand(),
			NewSeedCommand(),
		},
	}
}
