// Package transport defines where announcements go. Each Sender delivers one
// announcement to one channel (a Telegram chat, an MQTT topic, ...).
package transport

import (
	"context"
	"time"
)

// Kinds beyond prayer.Kind carried by announcements.
const KindDigest = "digest"

// Announcement is a rendered call ready to be delivered. It is also the JSON
// payload of machine-readable channels.
type Announcement struct {
	// Key identifies the call across restarts: location|kind|prayer|instant.
	Key      string `json:"key"`
	Location string `json:"location"`
	// Index is the event index in its day, -1 for digests.
	Index   int       `json:"index"`
	Kind    string    `json:"kind"`
	Prayer  string    `json:"prayer,omitempty"`
	At      time.Time `json:"at"`
	FiredAt time.Time `json:"fired_at"`
	Text    string    `json:"text"`
}

// Sender delivers announcements. Send must honor ctx and be safe for
// concurrent use.
type Sender interface {
	Name() string
	Send(ctx context.Context, a Announcement) error
	Close() error
}

// Func adapts a function to Sender, mostly for tests and the log-only channel.
type Func struct {
	ID string
	Fn func(ctx context.Context, a Announcement) error
}

func (f Func) Name() string { return f.ID }

func (f Func) Send(ctx context.Context, a Announcement) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, a)
}

func (f Func) Close() error { return nil }
