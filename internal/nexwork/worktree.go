package nexwork

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"nexwork/internal/config"
	"nexwork/internal/history"
)

type WorktreeResult struct {
	Path         string `json:"path"`
	SourceBranch string `json:"sourceBranch"`
	Reused       bool   `json:"reused,omitempty"`
}

// CreateWorktree checks the feature branch of one project out in the
// feature's tracking folder. When the main repository itself sits on the
// feature branch it is switched back to the base branch first; a dirty
// main repository makes this fail with ErrBranchCheckedOut.
func (w *Workspace) CreateWorktree(ctx context.Context, featureName, project string) (*WorktreeResult, error) {
	cfg := w.Store.Load()
	f, ok := cfg.Feature(featureName)
	if !ok {
		return nil, featureNotFound(featureName)
	}
	ps, ok := f.Project(project)
	if !ok {
		return nil, projectNotFound(project)
	}
	repo, err := w.projectRepo(cfg, project)
	if err != nil {
		return nil, err
	}
	log := w.logger.With("feature", featureName, "project", project)

	current, err := repo.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current branch: %w", err)
	}
	if current == ps.Branch {
		dirty, err := repo.Dirty(ctx)
		if err != nil {
			return nil, fmt.Errorf("check main repository: %w", err)
		}
		if dirty {
			return nil, fmt.Errorf("%w: %s has uncommitted changes on %s", ErrBranchCheckedOut, project, ps.Branch)
		}
		if err := repo.Checkout(ctx, ps.BaseBranch); err != nil {
			return nil, fmt.Errorf("%w: switching %s to %s: %v", ErrBranchCheckedOut, project, ps.BaseBranch, err)
		}
		log.Info("main repository switched to base branch", "base", ps.BaseBranch)
	}

	located, err := w.LocateWorktree(ctx, repo.Dir, ps.Branch)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	result := &WorktreeResult{SourceBranch: ps.BaseBranch}
	if located != "" {
		result.Path = located
		result.Reused = true
		log.Info("reusing existing worktree", "path", located)
	} else {
		dir := w.TrackingDir(*f)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		target := filepath.Join(dir, project)
		createFrom := ""
		if !repo.BranchExists(ctx, ps.Branch) {
			createFrom = ps.BaseBranch
		}
		if err := repo.AddWorktree(ctx, target, ps.Branch, createFrom); err != nil {
			return nil, err
		}
		result.Path = target
		log.Info("worktree created", "path", target)
	}

	err = w.Store.Mutate(func(c *config.Config) (bool, error) {
		stored, ok := c.Feature(featureName)
		if !ok {
			return false, featureNotFound(featureName)
		}
		sp, ok := stored.Project(project)
		if !ok {
			return false, projectNotFound(project)
		}
		if sp.WorktreePath == result.Path && sp.BranchError == "" {
			return false, nil
		}
		now := w.now()
		sp.WorktreePath = result.Path
		sp.BranchError = ""
		sp.LastUpdated = &now
		stored.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return result, err
	}
	w.record(ctx, history.Activity{
		Type:        history.ActivityWorktree,
		FeatureName: featureName,
		ProjectName: project,
		Details:     "created worktree " + result.Path,
	})
	return result, nil
}

// RemoveWorktree removes a project's worktree and clears its stored path.
// A worktree that is already gone only clears the path.
func (w *Workspace) RemoveWorktree(ctx context.Context, featureName, project string, force bool) error {
	if _, err := w.Reconcile(ctx, featureName); err != nil {
		return err
	}
	cfg := w.Store.Load()
	f, ok := cfg.Feature(featureName)
	if !ok {
		return featureNotFound(featureName)
	}
	ps, ok := f.Project(project)
	if !ok {
		return projectNotFound(project)
	}
	if ps.WorktreePath == "" {
		return fmt.Errorf("%w: %s has no worktree for %s", ErrWorktreeNotFound, project, featureName)
	}
	repo, err := w.projectRepo(cfg, project)
	if err != nil {
		return err
	}
	if exists(ps.WorktreePath) {
		if err := repo.RemoveWorktree(ctx, ps.WorktreePath, force); err != nil {
			return err
		}
	} else if err := repo.PruneWorktrees(ctx); err != nil {
		w.logger.Warn("worktree prune failed", "project", project, "err", err)
	}

	err = w.Store.Mutate(func(c *config.Config) (bool, error) {
		stored, ok := c.Feature(featureName)
		if !ok {
			return false, nil
		}
		sp, ok := stored.Project(project)
		if !ok || sp.WorktreePath == "" {
			return false, nil
		}
		now := w.now()
		sp.WorktreePath = ""
		sp.LastUpdated = &now
		stored.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return err
	}
	w.logger.Info("worktree removed", "feature", featureName, "project", project)
	w.record(ctx, history.Activity{
		Type:        history.ActivityWorktree,
		FeatureName: featureName,
		ProjectName: project,
		Details:     "removed worktree " + ps.WorktreePath,
	})
	return nil
}
