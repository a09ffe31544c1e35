package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rbaliyan/calllog/store"
)

func printCalls(calls []store.Call) error {
	if len(calls) == 0 {
		fmt.Println("No calls found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTYPE\tNUMBER\tNAME\tDURATION\tACCOUNT\tFLAGS")
	for _, c := range calls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			time.UnixMilli(c.Date).Format("2006-01-02 15:04"),
			c.Type,
			c.Number,
			orDash(c.CachedName),
			time.Duration(c.Duration)*time.Second,
			orDash(c.PhoneAccountID),
			callFlags(c),
		)
	}
	return w.Flush()
}

func callFlags(c store.Call) string {
	switch {
	case c.New && !c.IsRead:
		return "new,unread"
	case c.New:
		return "new"
	case !c.IsRead:
		return "unread"
	}
	return "-"
}

func printStatuses(statuses []store.VoicemailStatus) error {
	if len(statuses) == 0 {
		fmt.Println("No voicemail sources found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tCONFIGURATION\tDATA\tNOTIFICATION\tSETTINGS")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
			s.SourcePackage,
			s.ConfigurationState,
			s.DataChannelState,
			s.NotificationChannelState,
			orDash(s.SettingsURI),
		)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
