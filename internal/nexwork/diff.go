package nexwork

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"nexwork/internal/git"
)

// FileChange is one changed file of a project diff.
type FileChange struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Diff   string `json:"diff"`
	Source string `json:"source"`
}

const (
	SourceCommitted = "committed"
	SourceWorking   = "working"
)

type ProjectDiff struct {
	BaseBranch string       `json:"baseBranch"`
	Files      []FileChange `json:"files"`
}

// ProjectDiff lists every file changed on a project's feature worktree,
// merging the committed divergence from origin/<base> with uncommitted
// changes. A path present in both is reported from the working tree.
func (w *Workspace) ProjectDiff(ctx context.Context, featureName, project string, ignoreWhitespace bool) (*ProjectDiff, error) {
	if _, err := w.Reconcile(ctx, featureName); err != nil {
		return nil, err
	}
	f, err := w.Feature(featureName)
	if err != nil {
		return nil, err
	}
	ps, ok := f.Project(project)
	if !ok {
		return nil, projectNotFound(project)
	}
	if ps.WorktreePath == "" || !exists(ps.WorktreePath) {
		return nil, fmt.Errorf("%w: %s has no worktree for %s", ErrWorktreeNotFound, project, featureName)
	}
	wt := w.repo(ps.WorktreePath)

	committedOpts := git.DiffOptions{Rev: "origin/" + ps.BaseBranch + "...HEAD", IgnoreWhitespace: ignoreWhitespace}
	workingOpts := git.DiffOptions{IgnoreWhitespace: ignoreWhitespace}

	committed, err := wt.NameStatus(ctx, committedOpts)
	if err != nil {
		// base without a remote yet: only the working tree can be compared
		w.logger.Debug("committed diff unavailable", "project", project, "err", err)
		committed = nil
	}
	working, err := wt.NameStatus(ctx, workingOpts)
	if err != nil {
		return nil, err
	}

	merged := mergeChanges(committed, working)
	w.eachProject(len(merged), func(i int) {
		opts := committedOpts
		if merged[i].Source == SourceWorking {
			opts = workingOpts
		}
		diff, err := wt.FileDiff(ctx, opts, merged[i].Path)
		if err != nil {
			w.logger.Debug("file diff failed", "project", project, "path", merged[i].Path, "err", err)
			return
		}
		merged[i].Diff = diff
	})
	return &ProjectDiff{BaseBranch: ps.BaseBranch, Files: merged}, nil
}

// mergeChanges unions committed and working entries keyed by path; the
// working entry replaces a committed one. The result is sorted by path.
func mergeChanges(committed, working []git.NameStatusEntry) []FileChange {
	byPath := map[string]FileChange{}
	var order []string
	add := func(e git.NameStatusEntry, source string) {
		if _, seen := byPath[e.Path]; !seen {
			order = append(order, e.Path)
		}
		byPath[e.Path] = FileChange{Path: e.Path, Status: normalizeStatus(e.Status), Source: source}
	}
	for _, e := range committed {
		add(e, SourceCommitted)
	}
	for _, e := range working {
		add(e, SourceWorking)
	}
	out := make([]FileChange, 0, len(order))
	for _, p := range order {
		out = append(out, byPath[p])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// normalizeStatus folds git's status letters into A, M and D.
func normalizeStatus(s string) string {
	switch strings.ToUpper(s) {
	case "A", "C":
		return "A"
	case "D":
		return "D"
	default:
		return "M"
	}
}
