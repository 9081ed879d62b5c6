package notifier

import (
	"fmt"
	"strings"
	"time"

	"prayercall/internal/prayer"
)

const (
	DefaultPrayerTemplate = "🕌 {prayer} ({time})"
	DefaultIqamaTemplate  = "🔔 Iqama for {prayer} ({time})"
)

// Key identifies one call of one location: location|kind|prayer|instant.
func Key(location string, kind prayer.Kind, p prayer.Label, at time.Time) string {
	return strings.Join([]string{location, kind.String(), p.String(), at.UTC().Format(time.RFC3339)}, "|")
}

// Render fills a template. Unknown placeholders are left as they are.
func Render(tmpl, location string, kind prayer.Kind, p prayer.Label, at time.Time) string {
	r := strings.NewReplacer(
		"{prayer}", p.Title(),
		"{time}", at.Format("15:04"),
		"{location}", location,
		"{kind}", kind.String(),
	)
	return r.Replace(tmpl)
}

func (c Config) template(kind prayer.Kind) string {
	if kind == prayer.IqamaCall {
		if c.IqamaTemplate != "" {
			return c.IqamaTemplate
		}
		return DefaultIqamaTemplate
	}
	if c.PrayerTemplate != "" {
		return c.PrayerTemplate
	}
	return DefaultPrayerTemplate
}

// RenderDigest lists the day's prayer times, one per line, with the iqama
// time where one is configured.
func RenderDigest(location string, snap prayer.Snapshot, iqama prayer.IqamaConfig, tz *time.Location) string {
	if tz == nil {
		tz = time.Local
	}
	var b strings.Builder
	day := snap.Day()
	if location != "" {
		fmt.Fprintf(&b, "📅 %s, %s\n", location, day.Format("Mon 2 Jan 2006"))
	} else {
		fmt.Fprintf(&b, "📅 %s\n", day.Format("Mon 2 Jan 2006"))
	}
	for _, l := range prayer.Labels {
		at := snap.At(l).In(tz)
		fmt.Fprintf(&b, "%-8s %s", l.Title(), at.Format("15:04"))
		if off, ok := iqama.Offset(l); ok {
			fmt.Fprintf(&b, "  iqama %s", at.Add(off).Format("15:04"))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
