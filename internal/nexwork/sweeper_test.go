package nexwork

import (
	"context"
	"testing"
	"time"

	"nexwork/internal/config"
	"nexwork/internal/history"
	"nexwork/internal/runner"
)

func expiringWorkspace(t *testing.T) *Workspace {
	t.Helper()
	fake := &runner.Fake{}
	fake.On("", "git").Returns("")
	w := newTestWorkspace(t, fake, "web")
	past, future := testNow.Add(-time.Minute), testNow.Add(time.Hour)
	old := testFeature("old", "web")
	old.ExpiresAt = &past
	fresh := testFeature("fresh", "web")
	fresh.ExpiresAt = &future
	storeFeature(t, w, old)
	storeFeature(t, w, fresh)
	storeFeature(t, w, testFeature("forever", "web"))
	return w
}

func TestSweepOnceRemovesExpired(t *testing.T) {
	w := expiringWorkspace(t)
	db := withHistory(t, w)
	s := &Sweeper{Source: NewSession(w), Logger: quietLogger(), Now: func() time.Time { return testNow }}

	removed := s.SweepOnce(context.Background())
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("unexpected removal: %v", removed)
	}
	var names []string
	for _, f := range w.Features() {
		names = append(names, f.Name)
	}
	if len(names) != 2 || names[0] != "fresh" || names[1] != "forever" {
		t.Fatalf("unexpected remaining features: %v", names)
	}
	acts, _ := db.Activity(context.Background(), "old", 10)
	if len(acts) != 1 || acts[0].Type != history.ActivityExpire {
		t.Fatalf("expected one expire activity, got %+v", acts)
	}

	if again := s.SweepOnce(context.Background()); len(again) != 0 {
		t.Fatalf("second sweep removed %v", again)
	}
}

func TestSweepOnceFollowsSession(t *testing.T) {
	first := newTestWorkspace(t, &runner.Fake{}, "web")
	second := expiringWorkspace(t)
	session := NewSession(nil)
	s := &Sweeper{Source: session, Logger: quietLogger(), Now: func() time.Time { return testNow }}

	if removed := s.SweepOnce(context.Background()); removed != nil {
		t.Fatalf("no workspace should sweep nothing, got %v", removed)
	}
	session.Switch(first)
	if removed := s.SweepOnce(context.Background()); len(removed) != 0 {
		t.Fatalf("first workspace has nothing expired, got %v", removed)
	}
	if prev := session.Switch(second); prev != first {
		t.Fatalf("Switch should return the previous workspace")
	}
	if removed := s.SweepOnce(context.Background()); len(removed) != 1 {
		t.Fatalf("expected the switched workspace to be swept, got %v", removed)
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	w := expiringWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	swept := make(chan []string, 4)
	s := &Sweeper{
		Source:   NewSession(w),
		Interval: 10 * time.Millisecond,
		Logger:   quietLogger(),
		Now:      func() time.Time { return testNow },
		OnSweep:  func(removed []string) { swept <- removed },
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case removed := <-swept:
		if len(removed) != 1 {
			t.Fatalf("first cycle removed %v", removed)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("sweeper never ran")
	}
	select {
	case <-swept:
	case <-time.After(5 * time.Second):
		t.Fatalf("sweeper did not tick")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestPollerRefreshesOnConfigChange(t *testing.T) {
	fake := &runner.Fake{}
	fake.On("", "git").Returns("")
	w := newTestWorkspace(t, fake, "web")
	storeFeature(t, w, testFeature("watched", "web"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stats := make(chan *FeatureStats, 16)
	p := &Poller{
		Source:       NewSession(w),
		Feature:      "watched",
		Interval:     time.Hour,
		Logger:       quietLogger(),
		OnStats:      func(s *FeatureStats) { stats <- s },
		WatchOptions: []config.WatchOption{config.WithForcePoll(true), config.WithPollInterval(10 * time.Millisecond)},
	}
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case s := <-stats:
		if s.Feature != "watched" || s.ProjectStatus.Total != 1 {
			t.Fatalf("unexpected stats: %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no initial refresh")
	}

	// another process completes the project
	other := config.Open(w.Root, quietLogger())
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for i := 0; ; i++ {
		select {
		case s := <-stats:
			if s.ProjectStatus.Completed != 1 {
				t.Fatalf("refresh did not see the external change: %+v", s.ProjectStatus)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Run returned %v", err)
			}
			return
		case <-tick.C:
			err := other.Mutate(func(c *config.Config) (bool, error) {
				f, _ := c.Feature("watched")
				f.Projects[0].Status = config.StatusCompleted
				c.ProjectLocations["extra"+string(rune('a'+i%26))] = "x"
				return true, nil
			})
			if err != nil {
				t.Fatalf("external write failed: %v", err)
			}
		case <-deadline:
			t.Fatalf("config change did not trigger a refresh")
		}
	}
}

func TestPollerReportsMissingFeature(t *testing.T) {
	w := newTestWorkspace(t, &runner.Fake{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 4)
	p := &Poller{
		Source:       NewSession(w),
		Feature:      "missing",
		Interval:     time.Hour,
		Logger:       quietLogger(),
		OnError:      func(err error) { errs <- err },
		WatchOptions: []config.WatchOption{config.WithForcePoll(true)},
	}
	go func() { _ = p.Run(ctx) }()
	select {
	case err := <-errs:
		if err == nil {
			t.Fatalf("expected an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("missing feature not reported")
	}
}
