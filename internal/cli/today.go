package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"prayercall/internal/notifier"
	"prayercall/internal/prayer"
)

type eventView struct {
	Index  int       `json:"index"`
	Kind   string    `json:"kind"`
	Prayer string    `json:"prayer"`
	At     time.Time `json:"at"`
}

func newTodayCmd() *cobra.Command {
	var (
		date   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Print the prayer and iqama times of a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			day, err := parseDay(date, e.loc)
			if err != nil {
				return err
			}
			snap, err := e.table.Snapshot(cmd.Context(), day)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			events := prayer.Build(snap, e.iqama, day)
			if asJSON {
				views := make([]eventView, 0, len(events))
				for _, ev := range events {
					views = append(views, eventView{Index: ev.Index, Kind: ev.Kind.String(), Prayer: ev.Prayer.String(), At: ev.At})
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}

			fmt.Fprintln(out, notifier.RenderDigest(e.cfg.Location.Name, snap, e.iqama, e.loc))
			fmt.Fprintln(out)
			fmt.Fprintf(out, "%-5s  %-7s  %-8s  %s\n", "INDEX", "KIND", "PRAYER", "AT")
			for _, ev := range events {
				fmt.Fprintf(out, "%-5d  %-7s  %-8s  %s\n", ev.Index, ev.Kind, ev.Prayer.Title(), ev.At.In(e.loc).Format("15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to print (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the event list as JSON")
	return cmd
}
