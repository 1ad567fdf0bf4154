package nexwork

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"nexwork/internal/config"
)

const DefaultPollInterval = 5 * time.Second

// Poller recomputes a feature's statistics on a timer. A change to the
// config file on disk triggers an immediate refresh.
type Poller struct {
	Source   WorkspaceSource
	Feature  string
	Interval time.Duration
	Logger   *log.Logger
	OnStats  func(*FeatureStats)
	OnError  func(error)
	// WatchOptions are passed to the config watcher.
	WatchOptions []config.WatchOption
}

func (p *Poller) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// Run refreshes immediately, then on every interval and config change
// until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	// the config watcher follows workspace switches
	var wg sync.WaitGroup
	var watched *Workspace
	stopWatch := func() {}
	defer func() {
		stopWatch()
		wg.Wait()
	}()
	startWatch := func(w *Workspace) {
		if w == nil || w == watched {
			return
		}
		stopWatch()
		wg.Wait()
		watchCtx, cancel := context.WithCancel(ctx)
		stopWatch = cancel
		watched = w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Store.Watch(watchCtx, func(config.Config) { kick() }, p.WatchOptions...); err != nil {
				p.logger().Warn("config watch stopped", "err", err)
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.refresh(ctx, startWatch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.refresh(ctx, startWatch)
		case <-trigger:
			p.refresh(ctx, startWatch)
		}
	}
}

func (p *Poller) refresh(ctx context.Context, startWatch func(*Workspace)) {
	var w *Workspace
	if p.Source != nil {
		w = p.Source.Current()
	}
	if w == nil {
		p.logger().Debug("stats poll skipped", "reason", ErrNoWorkspace)
		return
	}
	startWatch(w)
	stats, err := w.FeatureStats(ctx, p.Feature)
	if err != nil {
		p.logger().Warn("stats poll failed", "feature", p.Feature, "err", err)
		if p.OnError != nil {
			p.OnError(err)
		}
		return
	}
	if p.OnStats != nil {
		p.OnStats(stats)
	}
}
