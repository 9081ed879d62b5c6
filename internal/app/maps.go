package app

import (
	"fmt"
	"strings"
	"time"

	"prayercall/internal/config"
	"prayercall/internal/notifier"
	"prayercall/internal/storage"
	"prayercall/internal/transport/mqtt"
	"prayercall/internal/transport/telegram"
	logx "prayercall/pkg/logx"
)

const defaultDedupWindow = 10 * time.Minute

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapNotifierConfig applies runtime defaults for an omitted section.
func mapNotifierConfig(cfg *config.Config, loc *time.Location) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:     true,
		DedupWindow: defaultDedupWindow,
		Location:    strings.TrimSpace(cfg.Location.Name),
		TZ:          loc,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	var err error
	out.Enabled = n.Enabled
	out.Workers = n.Workers
	out.QueueSize = n.QueueSize
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax
	out.DedupMaxEntries = n.DedupMaxEntries
	out.PersistDedup = n.PersistDedup
	out.PrayerTemplate = n.PrayerTemplate
	out.IqamaTemplate = n.IqamaTemplate
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, defaultDedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// mapStorageConfig returns enabled=false for an omitted or "none" section.
func mapStorageConfig(cfg *config.Config, resolve func(string) string) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if resolve != nil {
		path = resolve(path)
	}
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool) {
	t := cfg.Telegram
	if t == nil || !t.Enabled {
		return telegram.Config{}, false
	}
	return telegram.Config{
		Token:          strings.TrimSpace(t.Token),
		ChatID:         t.ChatID,
		ThreadID:       t.ThreadID,
		ParseMode:      t.ParseMode,
		DisablePreview: true,
		Silent:         t.Silent,
		APIURL:         strings.TrimSpace(t.APIURL),
	}, true
}

func mapMQTTConfig(cfg *config.Config) (mqtt.Config, bool, error) {
	m := cfg.MQTT
	if m == nil || !m.Enabled {
		return mqtt.Config{}, false, nil
	}
	timeout, err := config.ParseDurationField("mqtt.timeout", m.Timeout)
	if err != nil {
		return mqtt.Config{}, false, err
	}
	return mqtt.Config{
		Broker:      strings.TrimSpace(m.Broker),
		ClientID:    m.ClientID,
		Username:    m.Username,
		Password:    m.Password,
		TopicPrefix: m.TopicPrefix,
		QoS:         byte(m.QoS),
		Retained:    m.Retained,
		Timeout:     timeout,
	}, true, nil
}

// OpenStore opens the configured journal for read-only tools. It returns nil
// when storage is disabled.
func OpenStore(cfg *config.Config, resolve func(string) string, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg, resolve)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, log)
}
