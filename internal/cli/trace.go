package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"prayercall/internal/emitter"
	"prayercall/internal/prayer"
	"prayercall/pkg/clock"
	logx "prayercall/pkg/logx"
)

func newTraceCmd() *cobra.Command {
	var (
		date, from, until string
		quiet             bool
	)
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the event trace of a day and check it against a simulated run",
		Long: `Print the "<delay>ms <index> ... |" trace of a day started at --from and
observed until --until, then replay the day on a virtual clock and fail when
the emitted trace differs.

Examples:
  prayercall trace --date 2026-10-19
  prayercall trace --date 2026-10-19 --from 06:00 --until 13:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			day, err := parseDay(date, e.loc)
			if err != nil {
				return err
			}
			fromOff, err := parseClock(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			untilOff, err := parseClock(until)
			if err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			snap, err := e.table.Snapshot(cmd.Context(), day)
			if err != nil {
				return err
			}
			ref, end := atClock(day, fromOff), atClock(day, untilOff)

			want, err := prayer.ExpectedTrace(snap, e.iqama, ref, end, prayer.Quantum)
			if err != nil {
				return err
			}
			got, err := simulate(snap, e.iqama, ref, end)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, want.String())
			if !got.Equal(want) {
				return fmt.Errorf("simulated run diverged:\n  want %s\n  got  %s", want, got)
			}
			if !quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "ok: %d events\n", len(want.Entries))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to trace (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&from, "from", "00:00", "Start of the run (HH:MM)")
	cmd.Flags().StringVar(&until, "until", "24:00", "End of the observation (HH:MM)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the trace")
	return cmd
}

// simulate schedules the day on a virtual clock and records what is emitted
// until end.
func simulate(snap prayer.Snapshot, iq prayer.IqamaConfig, ref, end time.Time) (prayer.EventTrace, error) {
	rec := emitter.NewRecorder(ref, end, prayer.Quantum)
	events := prayer.Build(snap, iq, ref)
	if len(events) == 0 {
		return prayer.EventTrace{}, nil
	}
	plan, err := prayer.Compile(events, ref, prayer.Quantum)
	if err != nil {
		return prayer.EventTrace{}, err
	}

	vc := clock.NewVirtual(ref)
	em := emitter.New(vc, logx.Nop())
	em.Subscribe(rec)
	if err := em.Schedule(plan); err != nil {
		return prayer.EventTrace{}, err
	}
	vc.AdvanceTo(end)
	em.Cancel()

	if err := rec.Err(); err != nil {
		return prayer.EventTrace{}, err
	}
	return rec.Trace(), nil
}
