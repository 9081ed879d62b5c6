package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "prayercall/pkg/logx"
)

// Store is the persistence API used by the notifier and the CLI.
type Store interface {
	AppendAnnouncement(ctx context.Context, r AnnouncementRecord) error
	// ListAnnouncements returns records with At >= since, oldest first, at most
	// limit entries (limit <= 0 means all).
	ListAnnouncements(ctx context.Context, since time.Time, limit int) ([]AnnouncementRecord, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// tail keeps the last limit records.
func tail(in []AnnouncementRecord, limit int) []AnnouncementRecord {
	if limit > 0 && len(in) > limit {
		return in[len(in)-limit:]
	}
	return in
}
