package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"prayercall/internal/app"
	logx "prayercall/pkg/logx"
)

func newHistoryCmd() *cobra.Command {
	var (
		since time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deliveries from the storage journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(e.cfg, e.cfgm.Resolve, logx.Nop())
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("storage is disabled in %s", e.cfgm.Path())
			}
			defer store.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			recs, err := store.ListAnnouncements(cmd.Context(), from, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No deliveries found.")
				return nil
			}
			fmt.Fprintf(out, "%-19s  %-8s  %-6s  %-8s  %-3s  %-8s  %s\n", "SCHEDULED", "CHANNEL", "KIND", "PRAYER", "OK", "ATTEMPTS", "ERROR")
			for _, r := range recs {
				ok := "yes"
				if !r.OK {
					ok = "no"
				}
				fmt.Fprintf(out, "%-19s  %-8s  %-6s  %-8s  %-3s  %-8d  %s\n",
					r.Scheduled.In(e.loc).Format(time.DateTime), r.Channel, r.Kind, r.Prayer, ok, r.Attempts, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Only deliveries newer than this (0 for all)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows (newest kept)")
	return cmd
}
