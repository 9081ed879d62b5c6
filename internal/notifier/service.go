package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"prayercall/internal/emitter"
	"prayercall/internal/eventbus"
	"prayercall/internal/prayer"
	rtsup "prayercall/internal/runtime/supervisor"
	"prayercall/internal/storage"
	"prayercall/internal/transport"
	logx "prayercall/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	a        transport.Announcement
	queuedAt time.Time
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	senders []transport.Sender
	bus     eventbus.Bus
	store   storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{} // non-nil while stopping
	persistCh chan dedupWrite

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	queued, deduped, dropped, sent, failed atomic.Uint64
}

func New(cfg Config, senders []transport.Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		senders: senders,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		store:   store,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the configuration. Workers and QueueSize take effect on the next
// Start; everything else applies to the next send.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 512
	}
	if cfg.TZ == nil {
		cfg.TZ = time.Local
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSenders replaces the delivery channels. Jobs already picked by a worker
// finish on the old set.
func (s *Service) SetSenders(senders []transport.Sender) {
	s.mu.Lock()
	s.senders = senders
	s.mu.Unlock()
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 256)
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup, q, pch, workers := s.sup, s.queue, s.persistCh, s.cfg.Workers
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			return s.persistLoop(c, pch)
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.workerLoop(c, q)
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Debug("notifier started", logx.Int("workers", workers), logx.Int("senders", len(s.senders)))
}

// Stop refuses new announcements and drains the queue until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if pch != nil {
			close(pch)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
}

// Announce renders an emitted event.
func (s *Service) Announce(ev emitter.Event) transport.Announcement {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return transport.Announcement{
		Key:      Key(cfg.Location, ev.Kind, ev.Prayer, ev.At),
		Location: cfg.Location,
		Index:    ev.Index,
		Kind:     ev.Kind.String(),
		Prayer:   ev.Prayer.String(),
		At:       ev.At,
		FiredAt:  ev.FiredAt,
		Text:     Render(cfg.template(ev.Kind), cfg.Location, ev.Kind, ev.Prayer, ev.At.In(cfg.TZ)),
	}
}

// Digest announces the timetable of snap's day with its iqama times.
func (s *Service) Digest(ctx context.Context, snap prayer.Snapshot, iqama prayer.IqamaConfig) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	day := snap.Day()
	a := transport.Announcement{
		Key:      strings.Join([]string{cfg.Location, transport.KindDigest, day.Format(time.DateOnly)}, "|"),
		Location: cfg.Location,
		Index:    -1,
		Kind:     transport.KindDigest,
		At:       day,
		FiredAt:  time.Now(),
		Text:     RenderDigest(cfg.Location, snap, iqama, cfg.TZ),
	}
	return s.Notify(ctx, a)
}

func (s *Service) OnEvent(ev emitter.Event) error {
	err := s.Notify(context.Background(), s.Announce(ev))
	if errors.Is(err, ErrDisabled) {
		return nil
	}
	return err
}

func (s *Service) OnComplete() {
	s.log.Debug("schedule drained")
}

func (s *Service) OnError(err error) {
	s.log.Warn("schedule failed; no further announcements until it is rebuilt", logx.Err(err))
}

// Notify enqueues a without blocking. A duplicate inside the dedup window is
// dropped silently.
func (s *Service) Notify(ctx context.Context, a transport.Announcement) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	cfg := s.cfg
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if cfg.DedupWindow > 0 && a.Key != "" && !s.dedupAllow(ctx, a.Key, cfg, pch) {
		s.deduped.Add(1)
		s.log.Debug("duplicate announcement suppressed", logx.String("key", a.Key))
		return nil
	}

	select {
	case q <- job{a: a, queuedAt: time.Now()}:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		s.publish(eventbus.TypeAnnouncementError, AnnouncementEvent{Key: a.Key, At: time.Now(), Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

func (s *Service) Stats() Stats {
	return Stats{
		Queued:  s.queued.Load(),
		Deduped: s.deduped.Load(),
		Dropped: s.dropped.Load(),
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
	}
}

// History returns the most recent successful deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.hmu.Unlock()
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w, ok := <-ch:
			if !ok {
				return nil
			}
			cctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := s.store.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	senders := s.senders
	s.mu.Unlock()

	for _, snd := range senders {
		start := time.Now()
		attempts, err := s.sendWithRetry(ctx, snd, j.a)
		rec := storage.AnnouncementRecord{
			At:        time.Now(),
			Location:  j.a.Location,
			Scheduled: j.a.At,
			Index:     j.a.Index,
			Kind:      j.a.Kind,
			Prayer:    j.a.Prayer,
			Channel:   snd.Name(),
			OK:        err == nil,
			Attempts:  attempts,
			TookMS:    time.Since(start).Milliseconds(),
		}
		ev := AnnouncementEvent{Key: j.a.Key, Channel: snd.Name(), Attempts: attempts, At: rec.At}
		if err != nil {
			rec.Error = err.Error()
			ev.Error = rec.Error
			s.failed.Add(1)
			s.log.Warn("announcement failed",
				logx.String("key", j.a.Key), logx.String("channel", snd.Name()),
				logx.Int("attempts", attempts), logx.Err(err))
			s.publish(eventbus.TypeAnnouncementError, ev)
		} else {
			s.sent.Add(1)
			s.appendHistory(HistoryItem{At: rec.At, Key: j.a.Key, Channel: snd.Name(), Text: j.a.Text})
			s.log.Info("announcement sent",
				logx.String("key", j.a.Key), logx.String("channel", snd.Name()),
				logx.Duration("delay", rec.At.Sub(j.a.At)))
			s.publish(eventbus.TypeAnnouncementSent, ev)
		}
		s.journal(rec)
	}
}

func (s *Service) journal(rec storage.AnnouncementRecord) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.store.AppendAnnouncement(ctx, rec); err != nil {
		s.log.Debug("journal append failed", logx.Err(err))
	}
}

func (s *Service) sendWithRetry(ctx context.Context, snd transport.Sender, a transport.Announcement) (int, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return attempt - 1, err
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := snd.Send(cctx, a)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		s.log.Debug("send attempt failed", logx.String("channel", snd.Name()), logx.Int("attempt", attempt), logx.Err(err))
		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return attempt, ctx.Err()
		}
	}
	return maxAttempts, lastErr
}

func (s *Service) publish(typ string, ev AnnouncementEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
	}
}

// dedupAllow reports whether key may go out, and if so opens its window.
func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, pch chan<- dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	pruneDedup(s.dedup, now, cfg.DedupMaxEntries)
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// pruneDedup drops expired keys, then the earliest-expiring ones above max.
func pruneDedup(m map[string]time.Time, now time.Time, max int) {
	for k, until := range m {
		if !now.Before(until) {
			delete(m, k)
		}
	}
	for max > 0 && len(m) > max {
		var minKey string
		var minT time.Time
		for k, t := range m {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(m, minKey)
	}
}

// retryDelay is base*2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
