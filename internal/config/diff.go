package config

import (
	"maps"
	"reflect"
	"sort"
	"strings"

	logx "prayercall/pkg/logx"
)

// Sections that cannot be applied to a running service.
var restartSections = map[string]bool{
	"location": true,
	"storage":  true,
}

// SummarizeConfigChange returns the changed top-level sections (sorted) and
// safe structured attrs for logging. Tokens and passwords are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Location.Name) != strings.TrimSpace(newCfg.Location.Name) ||
		strings.TrimSpace(oldCfg.Location.Timezone) != strings.TrimSpace(newCfg.Location.Timezone) {
		changed = append(changed, "location")
		attrs = append(attrs,
			logx.String("location.name", newCfg.Location.Name),
			logx.String("location.timezone", newCfg.Location.Timezone),
		)
	}

	if strings.TrimSpace(oldCfg.Timetable.Path) != strings.TrimSpace(newCfg.Timetable.Path) {
		changed = append(changed, "timetable")
		attrs = append(attrs, logx.String("timetable.path", newCfg.Timetable.Path))
	}

	if !maps.Equal(oldCfg.Iqama, newCfg.Iqama) {
		changed = append(changed, "iqama")
		if iq, err := newCfg.IqamaOffsets(); err == nil {
			attrs = append(attrs, logx.String("iqama", iq.String()))
		}
	}

	if oldCfg.LookaheadDays() != newCfg.LookaheadDays() || oldCfg.DigestSpec() != newCfg.DigestSpec() {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.lookahead_days", newCfg.LookaheadDays()),
			logx.String("scheduler.digest", newCfg.DigestSpec()),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Nil means runtime defaults.
	oldN, newN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	oldT, newT := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if oldT != newT {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newT.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(newT.Token) != ""),
			logx.Int64("telegram.chat_id", newT.ChatID),
			logx.Int("telegram.thread_id", newT.ThreadID),
		)
	}

	oldM, newM := derefMQTT(oldCfg.MQTT), derefMQTT(newCfg.MQTT)
	if oldM != newM {
		changed = append(changed, "mqtt")
		attrs = append(attrs,
			logx.Bool("mqtt.enabled", newM.Enabled),
			logx.String("mqtt.broker", newM.Broker),
			logx.String("mqtt.topic_prefix", newM.TopicPrefix),
			logx.Bool("mqtt.password_set", newM.Password != ""),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Bool("storage.path_set", newS.Path != ""),
			logx.String("storage.busy_timeout", newS.BusyTimeout),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed down to sections that only take effect
// after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{Enabled: true}
	}
	return *n
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	out := *t
	out.Token = strings.TrimSpace(out.Token)
	return out
}

func derefMQTT(m *MQTTConfig) MQTTConfig {
	if m == nil {
		return MQTTConfig{}
	}
	return *m
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	out := *s
	out.Driver = strings.ToLower(strings.TrimSpace(out.Driver))
	out.Path = strings.TrimSpace(out.Path)
	out.BusyTimeout = strings.TrimSpace(out.BusyTimeout)
	return out
}
