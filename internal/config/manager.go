package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "prayercall/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// ConfigManager loads the config file and republishes it on change.
//
// Besides the config file itself it can follow companion files (the
// timetable): a change there republishes the current config unchanged so
// subscribers reload what the file points to.
type ConfigManager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64
	extra    []string

	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// refollow restarts a running watcher when the companion list changes.
	refollow chan struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop(), refollow: make(chan struct{}, 1)}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator installs the check run before a reloaded config is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Follow sets the companion files watched alongside the config.
func (m *ConfigManager) Follow(paths ...string) {
	m.mu.Lock()
	same := slices.Equal(m.extra, paths)
	m.extra = append([]string(nil), paths...)
	m.mu.Unlock()
	if same {
		return
	}
	select {
	case m.refollow <- struct{}{}:
	default:
	}
}

func (m *ConfigManager) Path() string { return m.path }

// Resolve makes p absolute relative to the config file's directory.
func (m *ConfigManager) Resolve(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(m.path), p)
}

// Parse reads and strictly decodes the file. Unknown fields and trailing data
// are errors.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Decode parses data as JSON, or YAML when name ends in .yaml/.yml.
func Decode(name string, data []byte) (*Config, error) {
	jb, err := coerceToJSON(name, data)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Load parses, validates and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func hashConfig(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil || cfg == nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish delivers cfg to every subscriber. A full subscriber loses its
// oldest pending config, never the newest.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload parses the file and publishes it if it changed. force republishes an
// unchanged config (companion file edits).
func (m *ConfigManager) reload(ctx context.Context, force bool) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged && !force {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}
	if err := Validate(cfg); err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%x", h)), logx.Bool("forced", force))
}

// Watch follows the config directory (and companion files) until ctx ends,
// recreating the fsnotify watcher with backoff when it breaks.
func (m *ConfigManager) Watch(ctx context.Context) error {
	const (
		backoffMin = 250 * time.Millisecond
		backoffMax = 5 * time.Second
	)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := backoffMin
	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, backoffMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
		force   bool
	)
	schedule := func(companion bool) {
		timerMu.Lock()
		defer timerMu.Unlock()
		force = force || companion
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			timerMu.Lock()
			f := force
			force = false
			timerMu.Unlock()
			m.reload(ctx, f)
		})
	}

	for ctx.Err() == nil {
		targets := m.watchTargets()
		w, err := fsnotify.NewWatcher()
		if err == nil {
			for dir := range targets {
				if err = w.Add(dir); err != nil {
					_ = w.Close()
					break
				}
			}
		}
		if err != nil {
			m.log.Warn("config watch init failed", logx.Err(err))
			if !sleep() {
				return nil
			}
			continue
		}
		backoff = backoffMin
		m.log.Debug("config watcher started", logx.String("path", m.path), logx.Int("dirs", len(targets)))

		res := m.watchLoop(ctx, w, targets, schedule)
		_ = w.Close()
		switch res {
		case loopDone:
			return nil
		case loopRefollow:
			m.log.Debug("config watch targets changed")
			continue
		}
		m.log.Warn("config watcher stopped; restarting")
		if !sleep() {
			return nil
		}
	}
	return nil
}

// watchTargets maps each watched directory to the basenames of interest and
// whether they are companions.
func (m *ConfigManager) watchTargets() map[string]map[string]bool {
	out := map[string]map[string]bool{}
	add := func(p string, companion bool) {
		dir, file := filepath.Dir(p), strings.ToLower(filepath.Base(p))
		if out[dir] == nil {
			out[dir] = map[string]bool{}
		}
		out[dir][file] = out[dir][file] || companion
	}
	add(m.path, false)
	m.mu.RLock()
	for _, p := range m.extra {
		if p != "" {
			add(p, true)
		}
	}
	m.mu.RUnlock()
	return out
}

type loopResult int

const (
	loopDone loopResult = iota
	loopBroken
	loopRefollow
)

func (m *ConfigManager) watchLoop(ctx context.Context, w *fsnotify.Watcher, targets map[string]map[string]bool, schedule func(companion bool)) loopResult {
	for {
		select {
		case <-ctx.Done():
			return loopDone
		case <-m.refollow:
			return loopRefollow
		case ev, ok := <-w.Events:
			if !ok {
				return loopBroken
			}
			files := targets[filepath.Dir(ev.Name)]
			companion, watched := files[strings.ToLower(filepath.Base(ev.Name))]
			if watched && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				schedule(companion)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return loopBroken
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "overflow") {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				schedule(true)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return loopBroken
			}
		}
	}
}
