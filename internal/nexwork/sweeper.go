package nexwork

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultSweepInterval     = time.Hour
	DefaultSweepInitialDelay = time.Minute
)

// WorkspaceSource yields the workspace a background task should act on.
// *Session implements it.
type WorkspaceSource interface {
	Current() *Workspace
}

// Sweeper removes expired features on a fixed schedule.
type Sweeper struct {
	Source       WorkspaceSource
	Interval     time.Duration
	InitialDelay time.Duration
	Logger       *log.Logger
	Now          func() time.Time
	// OnSweep, when set, receives the features removed by each cycle.
	OnSweep func(removed []string)
}

// Run sweeps after the initial delay and then on every interval until ctx
// is done.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	delay := s.InitialDelay
	if delay < 0 {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}
	s.SweepOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single cycle against the current workspace. No
// workspace means nothing to do.
func (s *Sweeper) SweepOnce(ctx context.Context) []string {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	var w *Workspace
	if s.Source != nil {
		w = s.Source.Current()
	}
	if w == nil {
		logger.Debug("expiry sweep skipped", "reason", ErrNoWorkspace)
		return nil
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	removed := w.SweepExpired(ctx, now)
	if len(removed) > 0 {
		logger.Info("expired features removed", "workspace", w.Root, "features", removed)
	}
	if s.OnSweep != nil {
		s.OnSweep(removed)
	}
	return removed
}
