package nexwork

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"nexwork/internal/config"
	"nexwork/internal/history"
)

const fallbackBaseBranch = "main"

type CreateFeatureRequest struct {
	Name     string
	Projects []string
	// BaseBranches maps a project to the branch its feature branch forks
	// from. Projects missing here use their current branch.
	BaseBranches map[string]string
	Template     string
	ExpiresAt    *time.Time
}

// CreateFeature persists a new feature, writes its tracking folder and
// creates the feature branch in every selected project. A branch that
// cannot be created is recorded on the project's BranchError and does not
// fail the call.
func (w *Workspace) CreateFeature(ctx context.Context, req CreateFeatureRequest) (*config.Feature, error) {
	if err := ValidateFeatureName(req.Name); err != nil {
		return nil, err
	}
	if len(req.Projects) == 0 {
		return nil, ErrNoProjects
	}
	branch := BranchName(req.Name)

	cfg := w.Store.Load()
	if _, exists := cfg.Feature(req.Name); exists {
		return nil, fmt.Errorf("%w: %s", ErrFeatureExists, req.Name)
	}
	seen := map[string]bool{}
	for _, p := range req.Projects {
		if seen[p] {
			return nil, fmt.Errorf("%w: project %s selected twice", ErrInvalidName, p)
		}
		seen[p] = true
		if _, ok := cfg.ProjectPath(p); !ok {
			return nil, projectNotFound(p)
		}
		if base, ok := req.BaseBranches[p]; ok && base != "" {
			if err := ValidateBranchName(base); err != nil {
				return nil, err
			}
		}
	}

	template := req.Template
	if template == "" {
		template = cfg.UserConfig.DefaultTemplate
	}
	if template == "" {
		template = w.Settings.DefaultTemplate
	}
	if template == "" {
		template = DefaultTemplateName
	}

	bases := w.resolveBaseBranches(ctx, cfg, req)
	now := w.now()
	feature := config.Feature{
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: req.ExpiresAt,
		Template:  template,
	}
	for i, p := range req.Projects {
		ts := now
		feature.Projects = append(feature.Projects, config.ProjectStatus{
			Name:        p,
			Status:      config.StatusPending,
			Branch:      branch,
			BaseBranch:  bases[i],
			LastUpdated: &ts,
		})
	}

	err := w.Store.Mutate(func(c *config.Config) (bool, error) {
		if _, exists := c.Feature(req.Name); exists {
			return false, fmt.Errorf("%w: %s", ErrFeatureExists, req.Name)
		}
		c.Features = append(c.Features, feature.Clone())
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info("feature created", "feature", req.Name, "projects", len(req.Projects))

	if err := w.writeTrackingFolder(feature); err != nil {
		w.logger.Warn("tracking folder not written", "feature", req.Name, "err", err)
	}

	branchErrs := w.createBranches(ctx, cfg, feature)
	if len(branchErrs) > 0 {
		err := w.Store.Mutate(func(c *config.Config) (bool, error) {
			stored, ok := c.Feature(req.Name)
			if !ok {
				return false, nil
			}
			for name, msg := range branchErrs {
				if ps, ok := stored.Project(name); ok {
					ps.BranchError = msg
				}
			}
			return true, nil
		})
		if err != nil {
			w.logger.Warn("branch errors not persisted", "feature", req.Name, "err", err)
		}
		for i := range feature.Projects {
			feature.Projects[i].BranchError = branchErrs[feature.Projects[i].Name]
		}
	}

	if w.history != nil {
		meta := map[string]string{}
		for _, ps := range feature.Projects {
			meta["base."+ps.Name] = ps.BaseBranch
		}
		_, err := w.history.RecordFeature(ctx, history.FeatureRecord{
			Name:         feature.Name,
			CreatedAt:    now,
			ProjectCount: len(feature.Projects),
			Template:     template,
			Metadata:     meta,
		})
		if err != nil {
			w.logger.Warn("history write failed", "feature", feature.Name, "err", err)
		}
	}
	w.record(ctx, history.Activity{
		Type:        history.ActivityCreate,
		FeatureName: feature.Name,
		Details:     "created with " + strconv.Itoa(len(feature.Projects)) + " projects",
	})
	return &feature, nil
}

// resolveBaseBranches returns the base branch for every requested project,
// in request order. Projects without an explicit base use their current
// branch; a detached or unreadable HEAD falls back to the default.
func (w *Workspace) resolveBaseBranches(ctx context.Context, cfg config.Config, req CreateFeatureRequest) []string {
	fallback := w.Settings.DefaultBaseBranch
	if fallback == "" {
		fallback = fallbackBaseBranch
	}
	bases := make([]string, len(req.Projects))
	w.eachProject(len(req.Projects), func(i int) {
		name := req.Projects[i]
		if base := req.BaseBranches[name]; base != "" {
			bases[i] = base
			return
		}
		bases[i] = fallback
		repo, err := w.projectRepo(cfg, name)
		if err != nil {
			return
		}
		current, err := repo.CurrentBranch(ctx)
		if err != nil {
			w.logger.Debug("current branch unavailable", "project", name, "err", err)
			return
		}
		if current != "" {
			bases[i] = current
		}
	})
	return bases
}

func (w *Workspace) writeTrackingFolder(f config.Feature) error {
	dir := w.TrackingDir(f)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	readme, err := w.RenderTemplate(f.Template, f)
	if err != nil {
		if !errors.Is(err, ErrTemplateNotFound) {
			return err
		}
		w.logger.Warn("template missing, using default", "template", f.Template)
		if readme, err = w.RenderTemplate(DefaultTemplateName, f); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644)
}

// createBranches creates the feature branch in every project where it does
// not exist yet and returns the failures keyed by project.
func (w *Workspace) createBranches(ctx context.Context, cfg config.Config, f config.Feature) map[string]string {
	errs := make([]error, len(f.Projects))
	w.eachProject(len(f.Projects), func(i int) {
		ps := f.Projects[i]
		repo, err := w.projectRepo(cfg, ps.Name)
		if err != nil {
			errs[i] = err
			return
		}
		if repo.BranchExists(ctx, ps.Branch) {
			w.logger.Debug("branch exists, reusing", "project", ps.Name, "branch", ps.Branch)
			return
		}
		errs[i] = repo.CreateBranch(ctx, ps.Branch, ps.BaseBranch)
	})
	out := map[string]string{}
	for i, err := range errs {
		if err == nil {
			continue
		}
		name := f.Projects[i].Name
		w.logger.Error("branch creation failed", "feature", f.Name, "project", name, "err", err)
		out[name] = err.Error()
	}
	return out
}

// UpdateStatus sets one project's status. Any transition is accepted.
func (w *Workspace) UpdateStatus(ctx context.Context, featureName, project string, status config.Status) error {
	if _, err := config.ParseStatus(string(status)); err != nil {
		return err
	}
	var changed, completed bool
	err := w.Store.Mutate(func(c *config.Config) (bool, error) {
		f, ok := c.Feature(featureName)
		if !ok {
			return false, featureNotFound(featureName)
		}
		ps, ok := f.Project(project)
		if !ok {
			return false, projectNotFound(project)
		}
		if ps.Status == status {
			return false, nil
		}
		now := w.now()
		ps.Status = status
		ps.LastUpdated = &now
		f.Touch(now)
		changed, completed = true, f.Completed()
		return true, nil
	})
	if err != nil || !changed {
		return err
	}
	w.record(ctx, history.Activity{
		Type:        history.ActivityUpdate,
		FeatureName: featureName,
		ProjectName: project,
		Details:     "status " + string(status),
	})
	if completed {
		w.recordStatus(ctx, featureName, history.FeatureCompleted)
	} else {
		w.recordStatus(ctx, featureName, history.FeatureActive)
	}
	return nil
}

// CompleteFeature marks every project completed. Worktrees and branches are
// left in place.
func (w *Workspace) CompleteFeature(ctx context.Context, featureName string) error {
	changed := false
	err := w.Store.Mutate(func(c *config.Config) (bool, error) {
		f, ok := c.Feature(featureName)
		if !ok {
			return false, featureNotFound(featureName)
		}
		now := w.now()
		for i := range f.Projects {
			ps := &f.Projects[i]
			if ps.Status == config.StatusCompleted {
				continue
			}
			ps.Status = config.StatusCompleted
			ps.LastUpdated = &now
			changed = true
		}
		if changed {
			f.Touch(now)
		}
		return changed, nil
	})
	if err != nil || !changed {
		return err
	}
	w.logger.Info("feature completed", "feature", featureName)
	w.recordStatus(ctx, featureName, history.FeatureCompleted)
	w.record(ctx, history.Activity{Type: history.ActivityComplete, FeatureName: featureName})
	return nil
}

// UpdateExpiration replaces the expiry of a feature; nil clears it.
func (w *Workspace) UpdateExpiration(ctx context.Context, featureName string, expiresAt *time.Time) error {
	err := w.Store.Mutate(func(c *config.Config) (bool, error) {
		f, ok := c.Feature(featureName)
		if !ok {
			return false, featureNotFound(featureName)
		}
		if sameTime(f.ExpiresAt, expiresAt) {
			return false, nil
		}
		if expiresAt == nil {
			f.ExpiresAt = nil
		} else {
			t := *expiresAt
			f.ExpiresAt = &t
		}
		f.UpdatedAt = w.now()
		return true, nil
	})
	if err != nil {
		return err
	}
	details := "expiration cleared"
	if expiresAt != nil {
		details = "expires " + expiresAt.UTC().Format(time.RFC3339)
	}
	w.record(ctx, history.Activity{Type: history.ActivityUpdate, FeatureName: featureName, Details: details})
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// TeardownReport describes a delete or expiry cleanup. Errors holds every
// step that failed; they never stop later steps.
type TeardownReport struct {
	Feature          string      `json:"feature"`
	NotFound         bool        `json:"notFound,omitempty"`
	RemovedWorktrees []string    `json:"removedWorktrees,omitempty"`
	DeletedBranches  []string    `json:"deletedBranches,omitempty"`
	FolderRemoved    bool        `json:"folderRemoved"`
	Errors           []StepError `json:"errors,omitempty"`
}

// DeleteFeature tears a feature down and removes it from the config.
func (w *Workspace) DeleteFeature(ctx context.Context, name string) (*TeardownReport, error) {
	return w.teardown(ctx, name, history.ActivityDelete)
}

// CleanupExpired runs the DeleteFeature teardown on behalf of the sweeper.
func (w *Workspace) CleanupExpired(ctx context.Context, name string) (*TeardownReport, error) {
	return w.teardown(ctx, name, history.ActivityExpire)
}

type projectTeardown struct {
	worktreeRemoved bool
	branchDeleted   bool
	errs            []StepError
}

func (w *Workspace) teardown(ctx context.Context, name string, kind history.ActivityType) (*TeardownReport, error) {
	report := &TeardownReport{Feature: name}
	if _, ok := w.Store.Feature(name); !ok {
		report.NotFound = true
		return report, nil
	}

	if rec, err := w.Reconcile(ctx, name); err != nil {
		report.Errors = append(report.Errors, StepError{Step: "reconcile", Err: err})
	} else if len(rec.Errors) > 0 {
		w.logger.Debug("reconcile before teardown incomplete", "feature", name, "errors", len(rec.Errors))
	}

	cfg := w.Store.Load()
	f, ok := cfg.Feature(name)
	if !ok {
		report.NotFound = true
		return report, nil
	}

	results := make([]projectTeardown, len(f.Projects))
	w.eachProject(len(f.Projects), func(i int) {
		results[i] = w.teardownProject(ctx, cfg, f.Projects[i])
	})
	for i, res := range results {
		p := f.Projects[i].Name
		if res.worktreeRemoved {
			report.RemovedWorktrees = append(report.RemovedWorktrees, p)
		}
		if res.branchDeleted {
			report.DeletedBranches = append(report.DeletedBranches, p)
		}
		report.Errors = append(report.Errors, res.errs...)
	}

	dir := w.TrackingDir(*f)
	if withinDir(dir, w.FeaturesDir()) && dir != w.FeaturesDir() {
		if err := os.RemoveAll(dir); err != nil {
			report.Errors = append(report.Errors, StepError{Step: "remove folder", Err: err})
		} else {
			report.FolderRemoved = true
		}
	}

	err := w.Store.Mutate(func(c *config.Config) (bool, error) {
		return c.RemoveFeature(name), nil
	})
	if err != nil {
		return report, fmt.Errorf("remove %s from config: %w", name, err)
	}

	for _, e := range report.Errors {
		w.logger.Warn("teardown step failed", "feature", name, "project", e.Project, "step", e.Step, "err", e.Err)
	}
	w.logger.Info("feature removed", "feature", name, "worktrees", len(report.RemovedWorktrees), "branches", len(report.DeletedBranches), "failures", len(report.Errors))
	w.recordStatus(ctx, name, history.FeatureDeleted)
	w.record(ctx, history.Activity{
		Type:        kind,
		FeatureName: name,
		Details:     strconv.Itoa(len(report.Errors)) + " failed steps",
	})
	return report, nil
}

func (w *Workspace) teardownProject(ctx context.Context, cfg config.Config, ps config.ProjectStatus) projectTeardown {
	var res projectTeardown
	repo, err := w.projectRepo(cfg, ps.Name)
	if err != nil {
		res.errs = append(res.errs, StepError{Project: ps.Name, Step: "resolve project", Err: err})
		return res
	}

	if ps.WorktreePath != "" && exists(ps.WorktreePath) {
		if err := repo.RemoveWorktree(ctx, ps.WorktreePath, true); err != nil {
			res.errs = append(res.errs, StepError{Project: ps.Name, Step: "remove worktree", Err: err})
		} else {
			res.worktreeRemoved = true
		}
	} else if err := repo.PruneWorktrees(ctx); err != nil {
		res.errs = append(res.errs, StepError{Project: ps.Name, Step: "prune worktrees", Err: err})
	}

	if ps.Branch != "" && repo.BranchExists(ctx, ps.Branch) {
		if err := repo.DeleteBranch(ctx, ps.Branch, true); err != nil {
			res.errs = append(res.errs, StepError{Project: ps.Name, Step: "delete branch", Err: err})
		} else {
			res.branchDeleted = true
		}
	}
	return res
}

// SweepExpired cleans up every feature whose expiry is before now and
// returns the names that were removed.
func (w *Workspace) SweepExpired(ctx context.Context, now time.Time) []string {
	var removed []string
	for _, f := range w.Store.Features() {
		if ctx.Err() != nil {
			break
		}
		if !f.Expired(now) {
			continue
		}
		w.logger.Info("feature expired", "feature", f.Name, "expiresAt", f.ExpiresAt)
		report, err := w.CleanupExpired(ctx, f.Name)
		if err != nil {
			w.logger.Error("expiry cleanup failed", "feature", f.Name, "err", err)
			continue
		}
		if !report.NotFound {
			removed = append(removed, f.Name)
		}
	}
	return removed
}
