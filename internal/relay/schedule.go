package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"companion/internal/domain"
	"companion/internal/profile"
)

const defaultScheduleTick = 30 * time.Second

// CheckinRunner runs one check-in. *Checkin implements it.
type CheckinRunner interface {
	Run(ctx context.Context, req CheckinRequest) CheckinResult
}

type SchedulerConfig struct {
	Checkin  CheckinRunner
	Profiles domain.ProfileProvider

	// Expr is a cron expression evaluated in the profile's timezone when it
	// names a valid location, in Location otherwise.
	Expr     string
	Location *time.Location

	Tick   time.Duration // polling period, default 30s
	Now    func() time.Time
	Logger *slog.Logger
}

// Scheduler sends the check-in on a cron schedule while the profile enables it.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	next    time.Time
	lastRun time.Time
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if !gronx.New().IsValid(cfg.Expr) {
		return nil, fmt.Errorf("invalid check-in schedule %q", cfg.Expr)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultScheduleTick
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Profiles == nil {
		cfg.Profiles = profile.DefaultFallback{}
	}
	s := &Scheduler{cfg: cfg, logger: cfg.Logger}
	s.next = s.nextAfter(cfg.Now())
	return s, nil
}

// NextRun returns the next scheduled run.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// LastRun returns the last time a check-in was sent, zero if never.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Start polls until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("check-in scheduler started", "next", s.NextRun().Format(time.RFC3339))
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("check-in scheduler stopping")
			return
		case <-ticker.C:
			s.checkAndRun(ctx, s.cfg.Now())
		}
	}
}

// checkAndRun runs the check-in when now has reached the next run time and
// reports whether it did. The next run is always moved to the following tick,
// so a disabled profile or a failed delivery is not retried until then.
func (s *Scheduler) checkAndRun(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	if now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	s.next = s.nextAfter(now)
	next := s.next
	s.mu.Unlock()

	if !s.cfg.Profiles.Current().Features.Checkin.Enabled {
		s.logger.Info("check-in skipped, disabled by profile", "next", next.Format(time.RFC3339))
		return false
	}

	res := s.cfg.Checkin.Run(ctx, CheckinRequest{})
	s.logger.Info("scheduled check-in",
		"status", res.Delivery.Status,
		"fallback", res.Generation.Fallback(),
		"next", next.Format(time.RFC3339),
	)

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()
	return true
}

// nextAfter returns the first tick strictly after now. An expression with no
// reachable tick parks the scheduler for a day.
func (s *Scheduler) nextAfter(now time.Time) time.Time {
	next, err := gronx.NextTickAfter(s.cfg.Expr, now.In(s.location()), false)
	if err != nil || next.IsZero() {
		s.logger.Warn("check-in schedule has no next tick", "expr", s.cfg.Expr, "error", err)
		return now.Add(24 * time.Hour)
	}
	return next
}

func (s *Scheduler) location() *time.Location {
	if tz := s.cfg.Profiles.Current().Timezone; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return s.cfg.Location
}
