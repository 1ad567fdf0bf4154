package git

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Branch is a branch that can be used as a base or checked out.
type Branch struct {
	Name string `json:"name"`
	// Remote is set when the branch only exists as a remote-tracking ref.
	Remote bool `json:"remote,omitempty"`
}

// Branches lists local branches and the remote-tracking branches without a
// local counterpart, sorted by name. Remote names drop the remote prefix.
func (r *Repo) Branches(ctx context.Context) ([]Branch, error) {
	localOut, err := r.Run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	local := map[string]bool{}
	var out []Branch
	for _, name := range splitLines(localOut) {
		local[name] = true
		out = append(out, Branch{Name: name})
	}

	remoteOut, err := r.Run(ctx, "branch", "-r", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, ref := range splitLines(remoteOut) {
		_, name, ok := strings.Cut(ref, "/")
		// "origin" alone is the short form of refs/remotes/origin/HEAD
		if !ok || name == "HEAD" || local[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Branch{Name: name, Remote: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// AheadBehind counts the commits only on left and only on right of
// `left...right`.
func (r *Repo) AheadBehind(ctx context.Context, left, right string) (ahead, behind int, err error) {
	out, err := r.Run(ctx, "rev-list", "--left-right", "--count", left+"..."+right)
	if err != nil {
		return 0, 0, err
	}
	return ParseLeftRight(out)
}

// ParseLeftRight reads the "<left>\t<right>" line of rev-list --left-right
// --count.
func ParseLeftRight(out string) (int, int, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	left, err1 := strconv.Atoi(fields[0])
	right, err2 := strconv.Atoi(fields[1])
	if err := errors.Join(err1, err2); err != nil {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	return left, right, nil
}

// Pull merges remote/branch into the checked out branch. An empty branch
// pulls the configured upstream.
func (r *Repo) Pull(ctx context.Context, remote, branch string) (string, error) {
	args := []string{"pull", "--no-rebase", "--no-edit"}
	if remote != "" {
		args = append(args, remote)
		if branch != "" {
			args = append(args, branch)
		}
	}
	return r.runNetwork(ctx, args...)
}

// Push publishes branch to remote and records it as the upstream.
func (r *Repo) Push(ctx context.Context, remote, branch string) (string, error) {
	return r.runNetwork(ctx, "push", "--set-upstream", remote, branch)
}

// ErrNothingToCommit is returned by Commit when the working tree is clean.
var ErrNothingToCommit = errors.New("nothing to commit")

// Commit stages every change, including untracked files, and commits it.
func (r *Repo) Commit(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("commit message is empty")
	}
	if _, err := r.Run(ctx, "add", "--all"); err != nil {
		return err
	}
	if _, err := r.Run(ctx, "diff", "--cached", "--quiet"); err == nil {
		return ErrNothingToCommit
	}
	_, err := r.Run(ctx, "commit", "-m", message)
	return err
}

// Merge merges branch into the checked out branch with a merge commit. A
// failed merge is aborted so the repository is left as it was.
func (r *Repo) Merge(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "merge", "--no-ff", "--no-edit", branch)
	if err == nil {
		return nil
	}
	if _, abortErr := r.Run(ctx, "merge", "--abort"); abortErr != nil {
		return errors.Join(err, fmt.Errorf("merge --abort: %w", abortErr))
	}
	return err
}
