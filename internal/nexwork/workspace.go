// Package nexwork coordinates feature branches and worktrees across the git
// repositories of a workspace.
package nexwork

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"nexwork/internal/config"
	"nexwork/internal/git"
	"nexwork/internal/history"
	"nexwork/internal/runner"
)

// FeaturesDirName is the folder below the workspace root that holds one
// tracking folder per feature.
const FeaturesDirName = "features"

// ActivityRecorder receives feature history. *history.DB implements it.
type ActivityRecorder interface {
	RecordFeature(ctx context.Context, rec history.FeatureRecord) (history.FeatureRecord, error)
	SetFeatureStatus(ctx context.Context, name string, status history.FeatureState, at time.Time) error
	LogActivity(ctx context.Context, a history.Activity) (history.Activity, error)
}

type Options struct {
	Root     string
	Settings config.Settings
	Runner   runner.Runner
	Logger   *log.Logger
	History  ActivityRecorder
	Now      func() time.Time
}

// Workspace is the context every engine operation runs against: one
// workspace root, its document store and the collaborators used to reach
// git. A new Workspace is built on every workspace switch.
type Workspace struct {
	Root     string
	Store    *config.Store
	Settings config.Settings

	runner  runner.Runner
	logger  *log.Logger
	history ActivityRecorder
	now     func() time.Time
}

// Open validates root and builds a Workspace for it.
func Open(opts Options) (*Workspace, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	if err := ValidateWorkspacePath(root); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	r := opts.Runner
	if r == nil {
		r = runner.NewExec(logger, opts.Settings.GitTimeout())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Workspace{
		Root:     root,
		Store:    config.Open(root, logger),
		Settings: opts.Settings,
		runner:   r,
		logger:   logger.With("workspace", filepath.Base(root)),
		history:  opts.History,
		now:      now,
	}, nil
}

func (w *Workspace) Logger() *log.Logger { return w.logger }

func (w *Workspace) repo(dir string) *git.Repo {
	r := git.New(dir, w.runner)
	if t := w.Settings.GitTimeout(); t > 0 {
		r.Timeout = t
	}
	if t := w.Settings.NetworkTimeout(); t > 0 {
		r.NetworkTimeout = t
	}
	return r
}

// projectRepo resolves a project's main repository.
func (w *Workspace) projectRepo(cfg config.Config, project string) (*git.Repo, error) {
	path, ok := cfg.ProjectPath(project)
	if !ok {
		return nil, projectNotFound(project)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &os.PathError{Op: "stat", Path: path, Err: ErrProjectPathAbsent}
	}
	return w.repo(path), nil
}

func (w *Workspace) FeaturesDir() string {
	return filepath.Join(w.Root, FeaturesDirName)
}

// TrackingDir is the folder holding a feature's README and worktrees.
func (w *Workspace) TrackingDir(f config.Feature) string {
	return filepath.Join(w.FeaturesDir(), FolderName(f.Name, f.CreatedAt))
}

func (w *Workspace) parallelism() int {
	if w.Settings.Parallelism > 0 {
		return w.Settings.Parallelism
	}
	return 8
}

// eachProject runs fn for every index in [0,n) with bounded concurrency.
// fn reports its outcome through captured slices; one task failing never
// cancels the others.
func (w *Workspace) eachProject(n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(w.parallelism())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// Feature returns a copy of the named feature.
func (w *Workspace) Feature(name string) (config.Feature, error) {
	f, ok := w.Store.Feature(name)
	if !ok {
		return config.Feature{}, featureNotFound(name)
	}
	return f, nil
}

func (w *Workspace) Features() []config.Feature {
	return w.Store.Features()
}

func (w *Workspace) Projects() []config.Project {
	return w.Store.Load().Projects()
}

func (w *Workspace) record(ctx context.Context, a history.Activity) {
	if w.history == nil {
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = w.now()
	}
	if _, err := w.history.LogActivity(ctx, a); err != nil {
		w.logger.Warn("history write failed", "feature", a.FeatureName, "type", a.Type, "err", err)
	}
}

func (w *Workspace) recordStatus(ctx context.Context, feature string, status history.FeatureState) {
	if w.history == nil {
		return
	}
	if err := w.history.SetFeatureStatus(ctx, feature, status, w.now()); err != nil {
		w.logger.Warn("history write failed", "feature", feature, "status", status, "err", err)
	}
}

// Session holds the active Workspace. Background tasks read it on every
// cycle so a workspace switch takes effect on their next run.
type Session struct {
	mu      sync.RWMutex
	current *Workspace
}

func NewSession(w *Workspace) *Session {
	return &Session{current: w}
}

// Switch installs w and returns the previous workspace.
func (s *Session) Switch(w *Workspace) *Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = w
	return prev
}

// Current returns the active workspace or nil.
func (s *Session) Current() *Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
