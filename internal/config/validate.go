package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"prayercall/internal/prayer"
	logx "prayercall/pkg/logx"
)

const (
	DefaultLookaheadDays = 2
	DefaultDigestSpec    = "0 0 3 * * *"
)

// CronParser accepts 5 or 6 field specs and descriptors like @daily.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks everything that can be checked without touching the
// network or the timetable file. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := cfg.TimeLocation(); err != nil {
		add("location.timezone: %w", err)
	}
	if strings.TrimSpace(cfg.Timetable.Path) == "" {
		add("timetable.path is required")
	}
	if _, err := prayer.ParseIqamaConfig(cfg.Iqama); err != nil {
		add("iqama: %w", err)
	}
	if cfg.Scheduler.LookaheadDays < 0 {
		add("scheduler.lookahead_days must be >= 0")
	}
	if spec := cfg.DigestSpec(); spec != "" {
		if _, err := CronParser.Parse(spec); err != nil {
			add("scheduler.digest: %w", err)
		}
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if !logx.ValidLevel(lvl) {
			add("logging.level: unknown level %q", lvl)
		}
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path is required when file logging is enabled")
	}

	if n := cfg.Notifier; n != nil {
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.send_timeout":    n.SendTimeout,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
		if n.RetryMax < 0 {
			add("notifier.retry_max must be >= 0")
		}
	}
	if t := cfg.Telegram; t != nil && t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			add("telegram.token is required when telegram is enabled")
		}
		if t.ChatID == 0 {
			add("telegram.chat_id is required when telegram is enabled")
		}
	}
	if m := cfg.MQTT; m != nil && m.Enabled {
		if strings.TrimSpace(m.Broker) == "" {
			add("mqtt.broker is required when mqtt is enabled")
		}
		if m.QoS < 0 || m.QoS > 2 {
			add("mqtt.qos must be 0, 1 or 2")
		}
		if _, err := ParseDurationField("mqtt.timeout", m.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required for driver %q", s.Driver)
			}
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TimeLocation loads location.timezone.
func (c *Config) TimeLocation() (*time.Location, error) {
	tz := strings.TrimSpace(c.Location.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// IqamaOffsets parses the iqama section.
func (c *Config) IqamaOffsets() (prayer.IqamaConfig, error) {
	return prayer.ParseIqamaConfig(c.Iqama)
}

func (c *Config) LookaheadDays() int {
	if c.Scheduler.LookaheadDays <= 0 {
		return DefaultLookaheadDays
	}
	return c.Scheduler.LookaheadDays
}

// DigestSpec returns the digest cron spec, or "" when the digest is off.
func (c *Config) DigestSpec() string {
	spec := strings.TrimSpace(c.Scheduler.Digest)
	switch strings.ToLower(spec) {
	case "":
		return DefaultDigestSpec
	case "off", "none", "disabled":
		return ""
	}
	return spec
}
