// Package cli implements the prayercall command line.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"prayercall/internal/config"
	"prayercall/internal/prayer"
	"prayercall/internal/timetable"
)

var flagConfig string

// defaultConfig returns PRAYERCALL_CONFIG when set.
func defaultConfig() string {
	if s := os.Getenv("PRAYERCALL_CONFIG"); s != "" {
		return s
	}
	return "./config.yaml"
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "prayercall",
		Short:        "Prayer call and iqama announcer",
		Long:         "prayercall announces the daily prayer calls and iqamas of a mosque from its timetable.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfig(), "config file (or PRAYERCALL_CONFIG env)")

	root.AddCommand(
		newRunCmd(),
		newTodayCmd(),
		newTraceCmd(),
		newHistoryCmd(),
	)
	return root
}

// env is what the offline commands need from the config.
type env struct {
	cfgm  *config.ConfigManager
	cfg   *config.Config
	loc   *time.Location
	iqama prayer.IqamaConfig
	table *timetable.Table
}

func loadEnv() (*env, error) {
	cfgm := config.NewConfigManager(flagConfig)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, err
	}
	iq, err := cfg.IqamaOffsets()
	if err != nil {
		return nil, err
	}
	tbl, err := timetable.Load(cfgm.Resolve(cfg.Timetable.Path), loc)
	if err != nil {
		return nil, err
	}
	return &env{cfgm: cfgm, cfg: cfg, loc: loc, iqama: iq, table: tbl}, nil
}

// parseDay reads YYYY-MM-DD in loc; empty means today.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return d, nil
}

// atClock is the wall-clock instant off after midnight of day, in day's
// location. Unlike day.Add(off) it stays right across DST changes.
func atClock(day time.Time, off time.Duration) time.Time {
	h, m, sec := int(off/time.Hour), int(off%time.Hour/time.Minute), int(off%time.Minute/time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, day.Location())
}

// parseClock reads HH:MM[:SS] as an offset from midnight. "24:00" is
// accepted as the end of the day.
func parseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		return 24 * time.Hour, nil
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
}
