package nexwork

import (
	"context"
	"errors"
	"fmt"

	"nexwork/internal/config"
	"nexwork/internal/git"
	"nexwork/internal/history"
	"nexwork/internal/runner"
)

// GitOpResult reports one project of a pull, push, commit or merge.
// Skipped is set when there was nothing to do.
type GitOpResult struct {
	Project  string `json:"project"`
	Output   string `json:"output,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

func (r GitOpResult) Failed() bool { return r.Error != "" }

type projectOp func(ctx context.Context, cfg config.Config, ps config.ProjectStatus) (string, error)

// selectProjects returns the feature's projects named in only, or all of
// them when only is empty. Unknown names fail before anything runs.
func selectProjects(f config.Feature, only []string) ([]config.ProjectStatus, error) {
	if len(only) == 0 {
		return f.Projects, nil
	}
	out := make([]config.ProjectStatus, 0, len(only))
	for _, name := range only {
		ps, ok := f.Project(name)
		if !ok {
			return nil, projectNotFound(name)
		}
		out = append(out, *ps)
	}
	return out, nil
}

// runOnProjects reconciles the feature, then runs op for each selected
// project concurrently. A failing project never stops the others.
func (w *Workspace) runOnProjects(ctx context.Context, featureName string, only []string, kind history.ActivityType, op projectOp) ([]GitOpResult, error) {
	if _, err := w.Reconcile(ctx, featureName); err != nil {
		return nil, err
	}
	cfg := w.Store.Load()
	f, ok := cfg.Feature(featureName)
	if !ok {
		return nil, featureNotFound(featureName)
	}
	projects, err := selectProjects(*f, only)
	if err != nil {
		return nil, err
	}
	out := make([]GitOpResult, len(projects))
	w.eachProject(len(projects), func(i int) {
		ps := projects[i]
		res := GitOpResult{Project: ps.Name}
		output, err := op(ctx, cfg, ps)
		res.Output = output
		switch {
		case errors.Is(err, git.ErrNothingToCommit):
			res.Skipped = true
		case err != nil:
			res.Error = err.Error()
			res.TimedOut = runner.TimedOut(err)
			w.logger.Warn(string(kind)+" failed", "feature", featureName, "project", ps.Name, "timedOut", res.TimedOut, "err", err)
		default:
			w.record(ctx, history.Activity{Type: kind, FeatureName: featureName, ProjectName: ps.Name, Details: output})
		}
		out[i] = res
	})
	return out, nil
}

func (w *Workspace) worktreeRepo(ps config.ProjectStatus) (*git.Repo, error) {
	if ps.WorktreePath == "" || !exists(ps.WorktreePath) {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeNotFound, ps.Name)
	}
	return w.repo(ps.WorktreePath), nil
}

// Pull updates each feature worktree from origin/<branch> once the branch
// is published, and from origin/<base> before that.
func (w *Workspace) Pull(ctx context.Context, featureName string, only []string) ([]GitOpResult, error) {
	return w.runOnProjects(ctx, featureName, only, history.ActivityPull, func(ctx context.Context, _ config.Config, ps config.ProjectStatus) (string, error) {
		wt, err := w.worktreeRepo(ps)
		if err != nil {
			return "", err
		}
		from := ps.Branch
		if !wt.RemoteBranchExists(ctx, defaultRemote, ps.Branch) {
			from = ps.BaseBranch
		}
		if _, err := wt.Pull(ctx, defaultRemote, from); err != nil {
			return "", err
		}
		return "pulled " + defaultRemote + "/" + from, nil
	})
}

// Push publishes each feature branch to origin and sets it as upstream.
func (w *Workspace) Push(ctx context.Context, featureName string, only []string) ([]GitOpResult, error) {
	return w.runOnProjects(ctx, featureName, only, history.ActivityPush, func(ctx context.Context, _ config.Config, ps config.ProjectStatus) (string, error) {
		wt, err := w.worktreeRepo(ps)
		if err != nil {
			return "", err
		}
		if _, err := wt.Push(ctx, defaultRemote, ps.Branch); err != nil {
			return "", err
		}
		return "pushed " + ps.Branch, nil
	})
}

// Commit stages and commits all changes in each feature worktree. Clean
// worktrees are reported as skipped.
func (w *Workspace) Commit(ctx context.Context, featureName, message string, only []string) ([]GitOpResult, error) {
	if message == "" {
		return nil, errors.New("commit message is required")
	}
	return w.runOnProjects(ctx, featureName, only, history.ActivityCommit, func(ctx context.Context, _ config.Config, ps config.ProjectStatus) (string, error) {
		wt, err := w.worktreeRepo(ps)
		if err != nil {
			return "", err
		}
		if err := wt.Commit(ctx, message); err != nil {
			return "", err
		}
		return "committed on " + ps.Branch, nil
	})
}

// Merge merges each feature branch into its base branch in the project's
// main repository. The main repository must be clean; it is switched to
// the base branch and brought up to date with origin first. A conflicting
// merge is aborted.
func (w *Workspace) Merge(ctx context.Context, featureName string, only []string) ([]GitOpResult, error) {
	return w.runOnProjects(ctx, featureName, only, history.ActivityMerge, func(ctx context.Context, cfg config.Config, ps config.ProjectStatus) (string, error) {
		repo, err := w.projectRepo(cfg, ps.Name)
		if err != nil {
			return "", err
		}
		dirty, err := repo.Dirty(ctx)
		if err != nil {
			return "", err
		}
		if dirty {
			return "", fmt.Errorf("%w: %s", ErrDirtyRepository, ps.Name)
		}
		current, err := repo.CurrentBranch(ctx)
		if err != nil {
			return "", err
		}
		if current != ps.BaseBranch {
			if err := repo.Checkout(ctx, ps.BaseBranch); err != nil {
				return "", err
			}
		}
		if repo.RemoteBranchExists(ctx, defaultRemote, ps.BaseBranch) {
			if _, err := repo.Pull(ctx, defaultRemote, ps.BaseBranch); err != nil {
				return "", err
			}
		}
		if err := repo.Merge(ctx, ps.Branch); err != nil {
			return "", err
		}
		return "merged " + ps.Branch + " into " + ps.BaseBranch, nil
	})
}

// ProjectBranches lists the branches a feature can start from in a project.
func (w *Workspace) ProjectBranches(ctx context.Context, project string) ([]git.Branch, error) {
	repo, err := w.projectRepo(w.Store.Load(), project)
	if err != nil {
		return nil, err
	}
	return repo.Branches(ctx)
}

// BaseStatus tells whether a project's base branch is up to date with
// origin. Ahead and Behind compare <branch> with origin/<branch>.
type BaseStatus struct {
	Project      string `json:"project"`
	Branch       string `json:"branch"`
	Current      string `json:"current"`
	LocalExists  bool   `json:"localExists"`
	RemoteExists bool   `json:"remoteExists"`
	Ahead        int    `json:"ahead"`
	Behind       int    `json:"behind"`
	UpToDate     bool   `json:"upToDate"`
	FetchError   string `json:"fetchError,omitempty"`
}

// CheckBase reports BaseStatus for branch, or for the project's current
// branch when branch is empty. With fetch set origin is fetched first; a
// failed fetch is reported but the comparison still runs.
func (w *Workspace) CheckBase(ctx context.Context, project, branch string, fetch bool) (*BaseStatus, error) {
	repo, err := w.projectRepo(w.Store.Load(), project)
	if err != nil {
		return nil, err
	}
	current, err := repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = current
	}
	if branch == "" {
		branch = w.Settings.DefaultBaseBranch
	}
	if err := ValidateBranchName(branch); err != nil {
		return nil, err
	}
	st := &BaseStatus{Project: project, Branch: branch, Current: current}
	if fetch {
		if err := repo.Fetch(ctx, defaultRemote); err != nil {
			st.FetchError = err.Error()
			w.logger.Warn("fetch failed", "project", project, "err", err)
		}
	}
	st.LocalExists = repo.BranchExists(ctx, branch)
	st.RemoteExists = repo.RemoteBranchExists(ctx, defaultRemote, branch)
	switch {
	case !st.LocalExists && !st.RemoteExists:
		return nil, fmt.Errorf("%w: %s in %s", ErrBranchNotFound, branch, project)
	case !st.RemoteExists:
		st.UpToDate = true
	case !st.LocalExists:
		st.UpToDate = false
	default:
		ahead, behind, err := repo.AheadBehind(ctx, "refs/heads/"+branch, "refs/remotes/"+defaultRemote+"/"+branch)
		if err != nil {
			return nil, err
		}
		st.Ahead, st.Behind, st.UpToDate = ahead, behind, behind == 0
	}
	return st, nil
}

// UpdateBase checks out branch in the project's main repository when
// needed and pulls it from origin.
func (w *Workspace) UpdateBase(ctx context.Context, project, branch string) (*BaseStatus, error) {
	if err := ValidateBranchName(branch); err != nil {
		return nil, err
	}
	repo, err := w.projectRepo(w.Store.Load(), project)
	if err != nil {
		return nil, err
	}
	current, err := repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if current != branch {
		if err := repo.Checkout(ctx, branch); err != nil {
			return nil, err
		}
	}
	if _, err := repo.Pull(ctx, defaultRemote, branch); err != nil {
		return nil, err
	}
	return w.CheckBase(ctx, project, branch, false)
}
