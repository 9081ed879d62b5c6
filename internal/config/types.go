package config

// Config is the whole service configuration. Durations are Go duration
// strings ("500ms", "10s", "6h").
type Config struct {
	Location  LocationConfig  `json:"location"`
	Timetable TimetableConfig `json:"timetable"`
	// Iqama maps a prayer name to minutes after its call. Sunrise is ignored.
	Iqama     map[string]int  `json:"iqama"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	MQTT     *MQTTConfig     `json:"mqtt,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type LocationConfig struct {
	// Name appears in announcements, dedup keys and MQTT topics.
	Name string `json:"name"`
	// Timezone is an IANA name; empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

type TimetableConfig struct {
	// Path is resolved relative to the config file.
	Path string `json:"path"`
}

// SchedulerConfig tunes day rollover and the daily digest.
//
// Defaults:
//   - lookahead_days: 2
//   - digest: "0 0 3 * * *" (seconds field optional; "off" disables)
type SchedulerConfig struct {
	LookaheadDays int    `json:"lookahead_days,omitempty"`
	Digest        string `json:"digest,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifierConfig controls the announcement pipeline.
// If the section is omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	PrayerTemplate  string `json:"prayer_template,omitempty"`
	IqamaTemplate   string `json:"iqama_template,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ChatID    int64  `json:"chat_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
	Silent    bool   `json:"silent,omitempty"`
	APIURL    string `json:"api_url,omitempty"`
}

type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         int    `json:"qos,omitempty"`
	Retained    bool   `json:"retained,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./state/prayercall" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}
