package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal + dedup snapshot
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AnnouncementRecord is one delivery attempt outcome of a prayer or iqama call.
// Keep it compact and schema-stable.
type AnnouncementRecord struct {
	At        time.Time `json:"at"`
	Location  string    `json:"location"`
	Scheduled time.Time `json:"scheduled"`
	Index     int       `json:"index"`
	Kind      string    `json:"kind"`
	Prayer    string    `json:"prayer"`
	Channel   string    `json:"channel"`
	OK        bool      `json:"ok"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}
