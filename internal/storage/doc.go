// Package storage persists the announcement journal and the notifier's dedup
// state so a restart does not repeat calls that already went out.
//
// Two drivers exist: "file" (JSON Lines plus a compacted snapshot) and
// "sqlite" (pure-Go modernc driver).
package storage
