// Package digest posts the day's timetable on a cron schedule.
package digest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"prayercall/internal/prayer"
	logx "prayercall/pkg/logx"
)

// Publisher announces a digest. notifier.Service implements it.
type Publisher interface {
	Digest(ctx context.Context, snap prayer.Snapshot, iqama prayer.IqamaConfig) error
}

// Source returns the snapshot of a calendar day.
type Source interface {
	Snapshot(ctx context.Context, day time.Time) (prayer.Snapshot, error)
}

type Config struct {
	// Spec is a cron spec (seconds optional). Empty disables the digest.
	Spec     string
	Location *time.Location
	Timeout  time.Duration
}

type Service struct {
	src   Source
	iqama func() prayer.IqamaConfig
	pub   Publisher
	log   logx.Logger

	parser cron.Parser
	now    func() time.Time

	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron
	entry cron.EntryID

	runs, failures atomic.Uint64
}

func New(cfg Config, src Source, iqama func() prayer.IqamaConfig, pub Publisher, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		src:    src,
		iqama:  iqama,
		pub:    pub,
		log:    log.With(logx.String("comp", "digest")),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		cfg:    withDefaults(cfg),
	}
}

func withDefaults(cfg Config) Config {
	cfg.Spec = strings.TrimSpace(cfg.Spec)
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Spec != ""
}

// Start begins triggering. It is idempotent and a no-op while disabled.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.cfg.Spec == "" {
		return nil
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.cfg.Location))
	id, err := c.AddFunc(s.cfg.Spec, s.trigger)
	if err != nil {
		return err
	}
	c.Start()
	s.c, s.entry = c, id
	s.log.Info("digest scheduled", logx.String("spec", s.cfg.Spec), logx.String("tz", s.cfg.Location.String()), logx.Time("next", c.Entry(id).Next))
	return nil
}

// Stop halts triggering and waits for a running digest until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps spec and location, restarting the cron when either changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = withDefaults(cfg)
	if _, err := s.parseSpec(cfg.Spec); err != nil {
		return err
	}
	s.mu.Lock()
	same := s.cfg.Spec == cfg.Spec && s.cfg.Location.String() == cfg.Location.String()
	running := s.c != nil
	s.cfg = cfg
	s.mu.Unlock()
	if same {
		return nil
	}
	if running {
		s.Stop(ctx)
	}
	if cfg.Spec == "" {
		s.log.Info("digest disabled")
		return nil
	}
	return s.Start()
}

func (s *Service) parseSpec(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, nil
	}
	return s.parser.Parse(spec)
}

// Next returns the next trigger time, zero when stopped.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Runs reports how many digests were attempted and how many failed.
func (s *Service) Runs() (runs, failures uint64) {
	return s.runs.Load(), s.failures.Load()
}

func (s *Service) trigger() {
	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.RunNow(ctx); err != nil {
		s.log.Warn("digest failed", logx.Err(err))
	}
}

// RunNow posts the digest of the current day.
func (s *Service) RunNow(ctx context.Context) error {
	s.mu.Lock()
	loc := s.cfg.Location
	s.mu.Unlock()

	s.runs.Add(1)
	now := s.now().In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	snap, err := s.src.Snapshot(ctx, day)
	if err != nil {
		s.failures.Add(1)
		return err
	}
	var iq prayer.IqamaConfig
	if s.iqama != nil {
		iq = s.iqama()
	}
	if err := s.pub.Digest(ctx, snap, iq); err != nil {
		s.failures.Add(1)
		return err
	}
	s.log.Debug("digest posted", logx.String("day", day.Format(time.DateOnly)))
	return nil
}
