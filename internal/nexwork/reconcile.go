package nexwork

import (
	"context"
	"os"
	"path/filepath"

	"nexwork/internal/config"
)

// ReconcileReport lists what a reconcile pass changed and which projects
// could not be resolved.
type ReconcileReport struct {
	Feature string      `json:"feature"`
	Updated []string    `json:"updated,omitempty"`
	Cleared []string    `json:"cleared,omitempty"`
	Errors  []StepError `json:"errors,omitempty"`
}

// Changed reports whether the stored feature was rewritten.
func (r *ReconcileReport) Changed() bool {
	return len(r.Updated) > 0 || len(r.Cleared) > 0
}

// LocateWorktree returns the linked worktree that has branch checked out,
// or "" when there is none. The main working tree is never returned.
func (w *Workspace) LocateWorktree(ctx context.Context, projectPath, branch string) (string, error) {
	wts, err := w.repo(projectPath).Worktrees(ctx)
	if err != nil {
		return "", err
	}
	for i, wt := range wts {
		if i == 0 || wt.Bare {
			continue
		}
		if wt.Branch == branch {
			return wt.Path, nil
		}
	}
	return "", nil
}

// Reconcile brings every stored worktreePath of a feature in line with git.
// A located worktree replaces the stored path. A stored path that git no
// longer knows and that is gone from disk is cleared. The feature is
// written once, and only when something changed.
func (w *Workspace) Reconcile(ctx context.Context, featureName string) (*ReconcileReport, error) {
	cfg := w.Store.Load()
	f, ok := cfg.Feature(featureName)
	if !ok {
		return nil, featureNotFound(featureName)
	}
	report := &ReconcileReport{Feature: featureName}

	type outcome struct {
		path    string
		changed bool
		err     error
	}
	results := make([]outcome, len(f.Projects))
	w.eachProject(len(f.Projects), func(i int) {
		ps := f.Projects[i]
		projectPath, ok := cfg.ProjectPath(ps.Name)
		if !ok {
			results[i].err = projectNotFound(ps.Name)
			return
		}
		if _, err := os.Stat(projectPath); err != nil {
			results[i].err = &os.PathError{Op: "stat", Path: projectPath, Err: ErrProjectPathAbsent}
			return
		}
		located, err := w.LocateWorktree(ctx, projectPath, ps.Branch)
		if err != nil {
			results[i].err = err
			return
		}
		switch {
		case located != "" && !samePath(located, ps.WorktreePath):
			results[i] = outcome{path: located, changed: true}
		case located == "" && ps.WorktreePath != "" && !exists(ps.WorktreePath):
			results[i] = outcome{path: "", changed: true}
		}
	})

	updates := map[string]string{}
	for i, res := range results {
		name := f.Projects[i].Name
		if res.err != nil {
			report.Errors = append(report.Errors, StepError{Project: name, Step: "locate worktree", Err: res.err})
			w.logger.Warn("worktree lookup failed", "feature", featureName, "project", name, "err", res.err)
			continue
		}
		if res.changed {
			updates[name] = res.path
		}
	}
	if len(updates) == 0 {
		return report, nil
	}

	now := w.now()
	err := w.Store.Mutate(func(c *config.Config) (bool, error) {
		stored, ok := c.Feature(featureName)
		if !ok {
			return false, nil
		}
		changed := false
		for i := range stored.Projects {
			ps := &stored.Projects[i]
			path, ok := updates[ps.Name]
			if !ok || ps.WorktreePath == path {
				continue
			}
			ps.WorktreePath = path
			if path != "" {
				ps.BranchError = ""
				report.Updated = append(report.Updated, ps.Name)
			} else {
				report.Cleared = append(report.Cleared, ps.Name)
			}
			changed = true
		}
		if changed {
			stored.UpdatedAt = now
		}
		return changed, nil
	})
	if err != nil {
		return report, err
	}
	if report.Changed() {
		w.logger.Info("worktree paths reconciled", "feature", featureName, "updated", report.Updated, "cleared", report.Cleared)
	}
	return report, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// samePath compares two paths after cleaning and resolving symlinks.
func samePath(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}
