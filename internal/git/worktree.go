package git

import (
	"context"
	"strings"
)

// Worktree is one block of `git worktree list --porcelain`.
type Worktree struct {
	Path     string
	Head     string
	Branch   string // short name, "" when detached
	Detached bool
	Bare     bool
	Locked   bool
	Prunable bool
}

// ParseWorktreeList parses porcelain output. The first entry is the main
// working tree.
func ParseWorktreeList(out string) []Worktree {
	var res []Worktree
	var cur *Worktree

	flush := func() {
		if cur != nil && cur.Path != "" {
			res = append(res, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "worktree ") {
			flush()
			cur = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch refs/heads/"):
			cur.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(line, "branch ")
		case line == "detached":
			cur.Detached = true
		case line == "bare":
			cur.Bare = true
		case line == "locked" || strings.HasPrefix(line, "locked "):
			cur.Locked = true
		case line == "prunable" || strings.HasPrefix(line, "prunable "):
			cur.Prunable = true
		}
	}
	flush()
	return res
}

func (r *Repo) Worktrees(ctx context.Context) ([]Worktree, error) {
	out, err := r.Run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeList(out), nil
}

// AddWorktree checks branch out at path. When createFrom is non-empty the
// branch is created from it first.
func (r *Repo) AddWorktree(ctx context.Context, path, branch, createFrom string) error {
	args := []string{"worktree", "add"}
	if createFrom != "" {
		args = append(args, "-b", branch, path, createFrom)
	} else {
		args = append(args, path, branch)
	}
	_, err := r.Run(ctx, args...)
	if err != nil && shouldRetryWorktreeAdd(err) {
		_ = r.PruneWorktrees(ctx)
		_, err = r.Run(ctx, args...)
	}
	return err
}

func (r *Repo) RemoveWorktree(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.Run(ctx, args...)
	if err != nil && shouldRetryWorktreeRemove(err) {
		_ = r.PruneWorktrees(ctx)
		_, err = r.Run(ctx, args...)
	}
	return err
}

func (r *Repo) PruneWorktrees(ctx context.Context) error {
	_, err := r.Run(ctx, "worktree", "prune")
	return err
}

func shouldRetryWorktreeAdd(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timed out"):
		return true
	case strings.Contains(msg, "already checked out"):
		return true
	case strings.Contains(msg, "already exists"):
		return true
	case strings.Contains(msg, "already registered"):
		return true
	case strings.Contains(msg, "missing but locked"):
		return true
	case strings.Contains(msg, "unable to create"):
		return true
	case strings.Contains(msg, "cannot lock"):
		return true
	default:
		return false
	}
}

func shouldRetryWorktreeRemove(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timed out"):
		return true
	case strings.Contains(msg, "is locked"):
		return true
	case strings.Contains(msg, "cannot remove"):
		return true
	case strings.Contains(msg, "cannot lock"):
		return true
	default:
		return false
	}
}
