package nexwork

import (
	"context"
	"fmt"
	"math"
	"time"

	"nexwork/internal/config"
	"nexwork/internal/git"
)

type TimeTracking struct {
	Created   time.Time  `json:"created"`
	Started   *time.Time `json:"started,omitempty"`
	Completed *time.Time `json:"completed,omitempty"`
	Elapsed   string     `json:"elapsed"`
}

type StatusSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	Pending    int `json:"pending"`
	Progress   int `json:"progress"`
}

// GitStats are the change counters of one project or of a whole feature.
// NetChange is always LinesAdded - LinesDeleted.
type GitStats struct {
	Commits      int `json:"commits"`
	FilesChanged int `json:"filesChanged"`
	LinesAdded   int `json:"linesAdded"`
	LinesDeleted int `json:"linesDeleted"`
	NetChange    int `json:"netChange"`
}

func (s GitStats) add(o GitStats) GitStats {
	s.Commits += o.Commits
	s.FilesChanged += o.FilesChanged
	s.LinesAdded += o.LinesAdded
	s.LinesDeleted += o.LinesDeleted
	s.NetChange = s.LinesAdded - s.LinesDeleted
	return s
}

type ProjectStats struct {
	Name                 string        `json:"name"`
	Status               config.Status `json:"status"`
	WorktreePath         string        `json:"worktreePath"`
	LastUpdated          time.Time     `json:"lastUpdated"`
	CurrentBranch        string        `json:"currentBranch"`
	BaseBranch           string        `json:"baseBranch"`
	GitStats             GitStats      `json:"gitStats"`
	MainRepoHasChanges   bool          `json:"mainRepoHasChanges"`
	MainRepoChangedFiles []string      `json:"mainRepoChangedFiles"`
	Errors               []string      `json:"errors,omitempty"`
}

type FeatureStats struct {
	Feature        string         `json:"feature"`
	TimeTracking   TimeTracking   `json:"timeTracking"`
	ProjectStatus  StatusSummary  `json:"projectStatus"`
	GitStats       GitStats       `json:"gitStats"`
	ProjectDetails []ProjectStats `json:"projectDetails"`
}

// FeatureStats reconciles the feature and collects git statistics for
// every project. Failing git commands contribute zeros and an error string
// on the project; they never fail the whole computation.
func (w *Workspace) FeatureStats(ctx context.Context, name string) (*FeatureStats, error) {
	if _, err := w.Reconcile(ctx, name); err != nil {
		return nil, err
	}
	cfg := w.Store.Load()
	f, ok := cfg.Feature(name)
	if !ok {
		return nil, featureNotFound(name)
	}
	now := w.now()

	details := make([]ProjectStats, len(f.Projects))
	w.eachProject(len(f.Projects), func(i int) {
		details[i] = w.projectStats(ctx, cfg, *f, f.Projects[i])
	})

	stats := &FeatureStats{
		Feature: f.Name,
		TimeTracking: TimeTracking{
			Created:   f.CreatedAt,
			Started:   f.StartedAt,
			Completed: f.CompletedAt,
			Elapsed:   FormatElapsed(now.Sub(f.CreatedAt)),
		},
		ProjectStatus:  summarize(*f),
		ProjectDetails: details,
	}
	for _, d := range details {
		stats.GitStats = stats.GitStats.add(d.GitStats)
	}
	return stats, nil
}

func summarize(f config.Feature) StatusSummary {
	counts := f.StatusCounts()
	s := StatusSummary{
		Total:      len(f.Projects),
		Completed:  counts[config.StatusCompleted],
		InProgress: counts[config.StatusInProgress],
		Pending:    counts[config.StatusPending],
	}
	if s.Total > 0 {
		s.Progress = int(math.Round(float64(s.Completed) / float64(s.Total) * 100))
	}
	return s
}

func (w *Workspace) projectStats(ctx context.Context, cfg config.Config, f config.Feature, ps config.ProjectStatus) ProjectStats {
	out := ProjectStats{
		Name:                 ps.Name,
		Status:               ps.Status,
		WorktreePath:         ps.WorktreePath,
		LastUpdated:          f.UpdatedAt,
		BaseBranch:           ps.BaseBranch,
		MainRepoChangedFiles: []string{},
	}
	if ps.LastUpdated != nil {
		out.LastUpdated = *ps.LastUpdated
	}
	fail := func(step string, err error) {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", step, err))
		w.logger.Debug("stats step failed", "feature", f.Name, "project", ps.Name, "step", step, "err", err)
	}

	if main, err := w.projectRepo(cfg, ps.Name); err != nil {
		fail("resolve project", err)
	} else if lines, err := main.StatusShort(ctx); err != nil {
		fail("main repository status", err)
	} else {
		for _, line := range lines {
			if len(line) > 3 {
				out.MainRepoChangedFiles = append(out.MainRepoChangedFiles, line[3:])
			}
		}
		out.MainRepoHasChanges = len(lines) > 0
	}

	if ps.WorktreePath == "" || !exists(ps.WorktreePath) {
		return out
	}
	wt := w.repo(ps.WorktreePath)
	current, err := wt.CurrentBranch(ctx)
	if err != nil {
		fail("current branch", err)
		return out
	}
	if current == "" {
		current = "HEAD"
	}
	out.CurrentBranch = current

	base := "origin/" + ps.BaseBranch
	if n, err := wt.RevListCount(ctx, base+".."+current); err != nil {
		fail("commit count", err)
	} else {
		out.GitStats.Commits = n
	}

	committed, err := wt.ShortStat(ctx, git.DiffOptions{Rev: base + "..." + current})
	if err != nil {
		fail("branch diff", err)
	}
	working, err := wt.ShortStat(ctx, git.DiffOptions{})
	if err != nil {
		fail("working diff", err)
	}
	combined := committed.Max(working)
	out.GitStats.FilesChanged = combined.FilesChanged
	out.GitStats.LinesAdded = combined.Insertions
	out.GitStats.LinesDeleted = combined.Deletions
	out.GitStats.NetChange = combined.Insertions - combined.Deletions
	return out
}

// FormatElapsed renders d as "Nd Nh Nm". Negative durations count as zero.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	return fmt.Sprintf("%dd %dh %dm", days, hours, d/time.Minute)
}
