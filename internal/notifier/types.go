package notifier

import "time"

// Config controls the announcement pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool

	// Location names the mosque in keys, topics and texts.
	Location string
	// TZ renders times in announcements. Nil means time.Local.
	TZ *time.Location
	// PrayerTemplate and IqamaTemplate accept {prayer}, {time}, {location}
	// and {kind}.
	PrayerTemplate string
	IqamaTemplate  string
}

type HistoryItem struct {
	At      time.Time
	Key     string
	Channel string
	Text    string
}

// AnnouncementEvent is published on the event bus after each delivery outcome.
type AnnouncementEvent struct {
	Key      string    `json:"key"`
	Channel  string    `json:"channel"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Stats are monotonic counters since start.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Deduped uint64 `json:"deduped"`
	Dropped uint64 `json:"dropped"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
}
