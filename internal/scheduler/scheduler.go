// Package scheduler runs the periodic monitoring loop: it holds the
// instance lease, gates each user on their scan frequency and fans
// accounts out to a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/ogulcanaydogan/flow-guardian/pkg/monitor"
	"github.com/ogulcanaydogan/flow-guardian/pkg/state"
)

// ErrLeaseHeld is returned by Start when another instance owns the lease.
var ErrLeaseHeld = errors.New("scheduler lease held by another instance")

// Directory lists the users and accounts to monitor.
type Directory interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
	ListAccounts(ctx context.Context, userID int64, monitoredOnly bool) ([]model.MonitoredAccount, error)
	GetSettings(ctx context.Context, userID int64) (model.Settings, error)
}

// Processor handles one account. monitor.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, account model.MonitoredAccount, settings model.Settings) (monitor.Result, error)
}

// Config controls the loop.
type Config struct {
	Tick         time.Duration
	LeaseTTL     time.Duration
	MinFrequency time.Duration
	MaxFrequency time.Duration
	Workers      int
	InstanceID   string
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 120 * time.Second
	}
	if c.MinFrequency <= 0 {
		c.MinFrequency = 60 * time.Second
	}
	if c.MaxFrequency < c.MinFrequency {
		c.MaxFrequency = max(7200*time.Second, c.MinFrequency)
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.InstanceID == "" {
		c.InstanceID = NewInstanceID()
	}
	return c
}

// NewInstanceID returns a host:pid:random identity for the lease.
func NewInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + ":" + strconv.Itoa(os.Getpid()) + ":" + uuid.NewString()[:8]
}

// TickStats summarizes one tick.
type TickStats struct {
	Started       time.Time     `json:"started"`
	Duration      time.Duration `json:"duration"`
	Skipped       bool          `json:"skipped"`
	Users         int           `json:"users"`
	EligibleUsers int           `json:"eligible_users"`
	Accounts      int           `json:"accounts"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	AuthInvalid   int           `json:"auth_invalid"`
	Notified      int           `json:"notified"`
}

// Status is a point-in-time view of the service.
type Status struct {
	InstanceID string    `json:"instance_id"`
	Running    bool      `json:"running"`
	LeaseHeld  bool      `json:"lease_held"`
	Ticks      int64     `json:"ticks"`
	LastTick   TickStats `json:"last_tick"`
}

// Service is the monitoring loop. Construct one per process.
type Service struct {
	cfg    Config
	dir    Directory
	proc   Processor
	store  state.Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	cron      *cron.Cron
	running   bool
	leaseHeld bool
	ticks     int64
	last      TickStats
}

// New creates a Service.
func New(cfg Config, dir Directory, proc Processor, store state.Store, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg.withDefaults(),
		dir:    dir,
		proc:   proc,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source used for scan markers.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// InstanceID returns the identity this service writes into the lease.
func (s *Service) InstanceID() string {
	return s.cfg.InstanceID
}

// Start acquires the lease and schedules the tick. It returns ErrLeaseHeld
// without scheduling anything when another instance owns the lease.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	claimed, err := s.store.SetIfAbsent(ctx, state.LeaseKey, s.cfg.InstanceID, s.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !claimed {
		holder, _, _ := s.store.Get(ctx, state.LeaseKey)
		if holder != s.cfg.InstanceID {
			s.logger.Warn("scheduler lease held elsewhere, not starting", "holder", holder)
			return ErrLeaseHeld
		}
	}
	s.leaseHeld = true

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	spec := "@every " + s.cfg.Tick.String()
	if _, err := c.AddFunc(spec, func() { s.Tick(context.Background()) }); err != nil {
		s.releaseLease(ctx)
		s.leaseHeld = false
		return fmt.Errorf("schedule tick: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Info("scheduler started",
		"instance", s.cfg.InstanceID, "tick", s.cfg.Tick, "workers", s.cfg.Workers)
	return nil
}

// Stop halts scheduling. The returned context is done once the running tick
// has finished and the lease has been released.
func (s *Service) Stop() context.Context {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	done, cancel := context.WithCancel(context.Background())
	if c == nil {
		cancel()
		return done
	}

	cronDone := c.Stop()
	go func() {
		defer cancel()
		<-cronDone.Done()
		ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		s.releaseLease(ctx)
		s.mu.Lock()
		s.leaseHeld = false
		s.mu.Unlock()
		s.logger.Info("scheduler stopped", "instance", s.cfg.InstanceID)
	}()
	return done
}

// Status reports the lease flag and the last tick.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		InstanceID: s.cfg.InstanceID,
		Running:    s.running,
		LeaseHeld:  s.leaseHeld,
		Ticks:      s.ticks,
		LastTick:   s.last,
	}
}

func (s *Service) releaseLease(ctx context.Context) {
	holder, ok, err := s.store.Get(ctx, state.LeaseKey)
	if err != nil || !ok || holder != s.cfg.InstanceID {
		return
	}
	if err := s.store.Delete(ctx, state.LeaseKey); err != nil {
		s.logger.Warn("failed to release scheduler lease", "error", err)
	}
}

// refreshLease extends our lease, re-acquiring it if it expired. It reports
// false when another instance holds it.
func (s *Service) refreshLease(ctx context.Context) (bool, error) {
	ttl := s.cfg.LeaseTTL
	id := s.cfg.InstanceID

	holder, ok, err := s.store.Get(ctx, state.LeaseKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return s.store.SetIfAbsent(ctx, state.LeaseKey, id, ttl)
	}
	if holder != id {
		return false, nil
	}
	return s.store.CompareAndSwap(ctx, state.LeaseKey, id, id, ttl)
}

// Frequency clamps a user's configured scan frequency into the allowed range.
func (s *Service) Frequency(settings model.Settings) time.Duration {
	f := time.Duration(settings.Monitor.FrequencySeconds) * time.Second
	return lo.Clamp(f, s.cfg.MinFrequency, s.cfg.MaxFrequency)
}

// Tick runs one pass over every eligible user. Failures are isolated per
// user and per account.
func (s *Service) Tick(ctx context.Context) TickStats {
	stats := TickStats{Started: s.now()}
	defer func() {
		stats.Duration = time.Since(stats.Started)
		s.mu.Lock()
		s.ticks++
		s.last = stats
		s.mu.Unlock()
	}()

	held, err := s.refreshLease(ctx)
	s.mu.Lock()
	s.leaseHeld = held
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("lease refresh failed, skipping tick", "error", err)
		stats.Skipped = true
		return stats
	}
	if !held {
		s.logger.Warn("scheduler lease lost, skipping tick", "instance", s.cfg.InstanceID)
		stats.Skipped = true
		return stats
	}

	users, err := s.dir.ListUserIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		return stats
	}
	stats.Users = len(users)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(s.cfg.Workers)

	for _, userID := range users {
		settings, ok := s.eligible(ctx, userID)
		if !ok {
			continue
		}
		stats.EligibleUsers++

		accounts, err := s.dir.ListAccounts(ctx, userID, true)
		if err != nil {
			s.logger.Error("failed to list accounts", "user_id", userID, "error", err)
			continue
		}

		for _, acct := range accounts {
			if !acct.AuthValid {
				stats.AuthInvalid++
				continue
			}
			stats.Accounts++
			acct := acct
			g.Go(func() error {
				res, err := s.process(ctx, acct, settings)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					stats.Failed++
					return nil
				}
				stats.Succeeded++
				if res.Report.Notified() {
					stats.Notified++
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	s.logger.Info("monitor tick complete",
		"users", stats.Users,
		"eligible", stats.EligibleUsers,
		"accounts", stats.Accounts,
		"failed", stats.Failed,
		"duration", time.Since(stats.Started),
	)
	return stats
}

// RunOnce performs a single tick outside the cron loop and releases the
// lease afterwards, so a daemon can start right away.
func (s *Service) RunOnce(ctx context.Context) TickStats {
	stats := s.Tick(ctx)
	if !stats.Skipped {
		s.releaseLease(ctx)
		s.mu.Lock()
		s.leaseHeld = false
		s.mu.Unlock()
	}
	return stats
}

// eligible loads a user's settings and claims their scan marker for the
// current frequency window.
func (s *Service) eligible(ctx context.Context, userID int64) (model.Settings, bool) {
	settings, err := s.dir.GetSettings(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load settings, using defaults", "user_id", userID, "error", err)
		settings = model.DefaultSettings()
	}

	freq := s.Frequency(settings)
	claimed, err := s.store.SetIfAbsent(ctx, state.ScanKey(userID), strconv.FormatInt(s.now().Unix(), 10), freq)
	if err != nil {
		s.logger.Error("scan eligibility check failed, skipping user", "user_id", userID, "error", err)
		return settings, false
	}
	return settings, claimed
}

func (s *Service) process(ctx context.Context, acct model.MonitoredAccount, settings model.Settings) (res monitor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("account pipeline panicked", "account_id", acct.ID, "panic", r)
		}
	}()

	res, err = s.proc.Process(ctx, acct, settings)
	if err != nil {
		s.logger.Warn("account scan failed",
			"account_id", acct.ID, "user_id", acct.UserID, "outcome", res.Outcome.String(), "error", err)
	}
	return res, err
}
