package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rbaliyan/calllog/store"
)

// NewSeedCommand returns the seed subcommand.
func NewSeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Populate the store with sample calls and voicemail sources",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of calls to insert",
				Value: 20,
			},
			&cli.StringSliceFlag{
				Name:  "account",
				Usage: "Phone account ids to spread the calls across",
				Value: []string{"acct-sim0", "acct-sim1"},
			},
		},
		Action: runSeed,
	}
}

func runSeed(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer b.close(ctx)

	seeder, ok := b.store.(store.Seeder)
	if !ok {
		return fmt.Errorf("backend %s cannot be seeded", cfg.Backend)
	}
	if err := b.store.Connect(ctx); err != nil && !errors.Is(err, store.ErrAlreadyConnected) {
		return fmt.Errorf("connect store: %w", err)
	}
	defer b.store.Close(ctx)

	calls := sampleCalls(cmd.Int("count"), cmd.StringSlice("account"), time.Now())
	if err := seeder.InsertCalls(ctx, calls); err != nil {
		return fmt.Errorf("insert calls: %w", err)
	}
	if err := seeder.UpsertVoicemailStatus(ctx, sampleStatuses()); err != nil {
		return fmt.Errorf("insert voicemail status: %w", err)
	}
	fmt.Printf("Inserted %d calls.\n", len(calls))
	return nil
}

var sampleNames = []string{"Alice", "Bob", "", "Dana", "Erin", ""}

// sampleCalls returns n calls an hour apart ending at now, cycling through
// the call types and accounts.
func sampleCalls(n int, accounts []string, now time.Time) []store.Call {
	calls := make([]store.Call, 0, n)
	for i := range n {
		typ := store.CallType(i%int(store.CallTypeBlocked) + 1)
		c := store.Call{
			Number:     fmt.Sprintf("+1555%07d", 1000+i*37),
			Date:       now.Add(-time.Duration(i) * time.Hour).UnixMilli(),
			Type:       typ,
			CachedName: sampleNames[i%len(sampleNames)],
			New:        i%3 == 0,
			IsRead:     typ != store.CallTypeMissed || i%2 == 0,
		}
		if typ == store.CallTypeIncoming || typ == store.CallTypeOutgoing {
			c.Duration = int64(30 + i*11%600)
		}
		if typ == store.CallTypeVoicemail {
			c.VoicemailURI = fmt.Sprintf("content://voicemail/%d", i)
			c.Transcription = "Please call me back"
		}
		if len(accounts) > 0 {
			c.PhoneAccountID = accounts[i%len(accounts)]
		}
		calls = append(calls, c)
	}
	return calls
}

func sampleStatuses() []store.VoicemailStatus {
	return []store.VoicemailStatus{
		{
			SourcePackage:      "com.example.voicemail",
			SettingsURI:        "content://voicemail/settings",
			VoicemailAccessURI: "tel:+15550000123",
		},
		{
			SourcePackage:            "com.example.visual",
			ConfigurationState:       1,
			DataChannelState:         1,
			NotificationChannelState: 1,
		},
	}
}
