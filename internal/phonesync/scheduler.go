package phonesync

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/model"
)

const (
	// DefaultInterval is the periodic refresh interval.
	DefaultInterval = 4 * time.Hour
	// DefaultBackoff is the wait after a scheduling fault before the next attempt.
	DefaultBackoff = 5 * time.Minute
)

// ErrStopped is returned by Trigger once Stop has been called.
var ErrStopped = eris.New("phonesync: scheduler stopped")

// Freshness reports how old the cache is.
type Freshness interface {
	Stats(ctx context.Context) (*model.CacheStats, error)
	StaleAge(ctx context.Context) (*time.Duration, error)
}

// Scheduler owns the startup, periodic and on-demand sync triggers.
type Scheduler struct {
	syncer   *Syncer
	cache    Freshness
	interval time.Duration
	backoff  time.Duration
	log      *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler that refreshes the cache every interval.
func NewScheduler(syncer *Syncer, cache Freshness, interval, backoff time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		syncer:   syncer,
		cache:    cache,
		interval: interval,
		backoff:  backoff,
		log:      zap.L().With(zap.String("component", "scheduler")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// StartupDecision picks the startup run type: initial for an empty cache,
// startup when the oldest record is older than interval. ok is false when
// the cache is fresh.
func StartupDecision(uniquePhones int64, staleAge *time.Duration, interval time.Duration) (model.SyncType, bool) {
	if uniquePhones == 0 {
		return model.SyncTypeInitial, true
	}
	if staleAge != nil && *staleAge > interval {
		return model.SyncTypeStartup, true
	}
	return "", false
}

// Startup triggers a background run when the cache is empty or stale.
// It returns the run id, or 0 when no run was needed.
func (s *Scheduler) Startup(ctx context.Context) (int64, error) {
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "phonesync: startup stats")
	}
	age, err := s.cache.StaleAge(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "phonesync: startup stale age")
	}

	syncType, ok := StartupDecision(stats.UniquePhones, age, s.interval)
	if !ok {
		s.log.Info("cache is fresh", zap.Int64("unique_phones", stats.UniquePhones))
		return 0, nil
	}
	fields := []zap.Field{zap.String("sync_type", string(syncType))}
	if age != nil {
		fields = append(fields, zap.Duration("stale_age", *age))
	}
	s.log.Info("cache empty or stale, syncing", fields...)
	return s.Trigger(ctx, syncType)
}

// Start launches the periodic loop. Call Stop to end it.
func (s *Scheduler) Start() {
	if !s.acquire() {
		return
	}
	s.log.Info("starting periodic sync", zap.Duration("interval", s.interval))
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

func (s *Scheduler) loop() {
	delay := s.interval
	for {
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.tick(); err != nil {
			s.log.Error("periodic sync fault, backing off",
				zap.Duration("backoff", s.backoff),
				zap.Error(err),
			)
			delay = s.backoff
			continue
		}
		delay = s.interval
	}
}

// tick runs one auto sync. Only faults that kept the run from starting are
// returned; a failed run is already recorded in the Sync Log.
func (s *Scheduler) tick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("phonesync: periodic sync panic: %v", r)
		}
	}()

	id, err := s.syncer.Begin(s.ctx, model.SyncTypeAuto)
	if err != nil {
		return err
	}
	_, _ = s.syncer.Execute(s.ctx, id, model.SyncTypeAuto)
	return nil
}

// Trigger starts a run in the background and returns its id once the Sync
// Log row exists. It does not reset the periodic timer.
func (s *Scheduler) Trigger(ctx context.Context, syncType model.SyncType) (int64, error) {
	if !s.acquire() {
		return 0, ErrStopped
	}
	id, err := s.syncer.Begin(ctx, syncType)
	if err != nil {
		s.wg.Done()
		return 0, err
	}

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("on-demand sync panic", zap.Int64("sync_id", id), zap.Any("panic", r))
			}
		}()
		_, _ = s.syncer.Execute(s.ctx, id, syncType)
	}()
	return id, nil
}

// acquire registers a run unless the scheduler is stopping.
func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// Stop cancels the periodic loop and in-flight runs, then waits up to
// timeout for them to record their outcome.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.log.Info("stopping scheduler")
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-time.After(timeout):
		return eris.New("phonesync: scheduler shutdown timed out")
	}
}
