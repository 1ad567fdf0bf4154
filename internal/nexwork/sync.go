package nexwork

import (
	"context"

	"nexwork/internal/runner"
)

const defaultRemote = "origin"

// ProjectSync is the GitSyncStatus of one project worktree. Behind counts
// commits on origin/<base> missing from HEAD. Ahead counts commits on HEAD
// missing from origin/<branch>, or from origin/<base> with NoRemote set
// while the feature branch has not been pushed.
type ProjectSync struct {
	Project  string `json:"project"`
	Branch   string `json:"branch"`
	Ahead    int    `json:"ahead"`
	Behind   int    `json:"behind"`
	NoRemote bool   `json:"noRemote,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SyncStatus compares every project worktree of a feature with its remote.
func (w *Workspace) SyncStatus(ctx context.Context, featureName string) ([]ProjectSync, error) {
	if _, err := w.Reconcile(ctx, featureName); err != nil {
		return nil, err
	}
	f, err := w.Feature(featureName)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectSync, len(f.Projects))
	w.eachProject(len(f.Projects), func(i int) {
		ps := f.Projects[i]
		res := ProjectSync{Project: ps.Name, Branch: ps.Branch}
		defer func() { out[i] = res }()
		if ps.WorktreePath == "" || !exists(ps.WorktreePath) {
			res.Error = ErrWorktreeNotFound.Error()
			return
		}
		wt := w.repo(ps.WorktreePath)
		base := defaultRemote + "/" + ps.BaseBranch
		behind, err := wt.RevListCount(ctx, "HEAD.."+base)
		if err != nil {
			res.Error = err.Error()
			return
		}
		res.Behind = behind
		upstream := defaultRemote + "/" + ps.Branch
		if !wt.RemoteBranchExists(ctx, defaultRemote, ps.Branch) {
			upstream = base
			res.NoRemote = true
		}
		ahead, err := wt.RevListCount(ctx, upstream+"..HEAD")
		if err != nil {
			res.Error = err.Error()
			return
		}
		res.Ahead = ahead
	})
	return out, nil
}

// FetchResult reports one project's fetch. TimedOut is set when the fetch
// hit the network timeout.
type FetchResult struct {
	Project  string `json:"project"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// Fetch runs `git fetch origin` in the main repository of every project of
// a feature.
func (w *Workspace) Fetch(ctx context.Context, featureName string) ([]FetchResult, error) {
	cfg := w.Store.Load()
	f, ok := cfg.Feature(featureName)
	if !ok {
		return nil, featureNotFound(featureName)
	}
	out := make([]FetchResult, len(f.Projects))
	w.eachProject(len(f.Projects), func(i int) {
		name := f.Projects[i].Name
		out[i].Project = name
		repo, err := w.projectRepo(cfg, name)
		if err == nil {
			err = repo.Fetch(ctx, defaultRemote)
		}
		if err != nil {
			out[i].Error = err.Error()
			out[i].TimedOut = runner.TimedOut(err)
			w.logger.Warn("fetch failed", "feature", featureName, "project", name, "timedOut", out[i].TimedOut, "err", err)
		}
	})
	return out, nil
}
