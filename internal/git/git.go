// Package git wraps the git command line for a single repository.
package git

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"nexwork/internal/runner"
)

const (
	DefaultTimeout        = 45 * time.Second
	DefaultNetworkTimeout = 5 * time.Minute
)

// nonInteractiveEnv keeps git from blocking on credential or host key
// prompts when no terminal is attached.
var nonInteractiveEnv = []string{
	"GIT_TERMINAL_PROMPT=0",
	"GIT_SSH_COMMAND=ssh -o BatchMode=yes",
}

// Repo is a git repository (or worktree) rooted at Dir.
type Repo struct {
	Dir            string
	Runner         runner.Runner
	Timeout        time.Duration
	NetworkTimeout time.Duration
}

func New(dir string, r runner.Runner) *Repo {
	return &Repo{Dir: dir, Runner: r, Timeout: DefaultTimeout, NetworkTimeout: DefaultNetworkTimeout}
}

// At returns a Repo for another directory sharing r's runner and timeouts.
func (r *Repo) At(dir string) *Repo {
	cp := *r
	cp.Dir = dir
	return &cp
}

func (r *Repo) command(timeout time.Duration, args ...string) runner.Command {
	return runner.Command{Dir: r.Dir, Name: "git", Args: args, Timeout: timeout, Env: nonInteractiveEnv}
}

// Run executes git with args and returns stdout without trailing newlines.
func (r *Repo) Run(ctx context.Context, args ...string) (string, error) {
	res, err := r.Runner.Run(ctx, r.command(r.Timeout, args...))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(res.Stdout, "\r\n"), nil
}

func (r *Repo) runNetwork(ctx context.Context, args ...string) (string, error) {
	timeout := r.NetworkTimeout
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	res, err := r.Runner.Run(ctx, r.command(timeout, args...))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(res.Stdout, "\r\n"), nil
}

// CurrentBranch returns the checked out branch, or "" on a detached HEAD.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}

// RefExists reports whether ref resolves to a commit.
func (r *Repo) RefExists(ctx context.Context, ref string) bool {
	_, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

func (r *Repo) BranchExists(ctx context.Context, branch string) bool {
	return r.RefExists(ctx, "refs/heads/"+branch)
}

func (r *Repo) RemoteBranchExists(ctx context.Context, remote, branch string) bool {
	return r.RefExists(ctx, "refs/remotes/"+remote+"/"+branch)
}

func (r *Repo) CreateBranch(ctx context.Context, branch, base string) error {
	_, err := r.Run(ctx, "branch", branch, base)
	return err
}

func (r *Repo) DeleteBranch(ctx context.Context, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := r.Run(ctx, "branch", flag, branch)
	return err
}

func (r *Repo) Checkout(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "checkout", branch)
	return err
}

// StatusShort returns the entries of `git status --short` as "XY path"
// strings with unquoted paths. Renames report the new path.
func (r *Repo) StatusShort(ctx context.Context) ([]string, error) {
	out, err := r.Run(ctx, "status", "--short", "-z")
	if err != nil {
		return nil, err
	}
	return parseStatusShort(out), nil
}

func parseStatusShort(out string) []string {
	var lines []string
	if !strings.Contains(out, "\x00") {
		for _, line := range strings.Split(out, "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, strings.TrimRight(line, "\r"))
			}
		}
		return lines
	}
	tokens := strings.Split(out, "\x00")
	for i := 0; i < len(tokens); i++ {
		entry := strings.TrimLeft(tokens[i], "\n")
		if strings.TrimSpace(entry) == "" {
			continue
		}
		lines = append(lines, entry)
		if len(entry) > 1 && strings.ContainsAny(entry[:2], "RC") {
			i++
		}
	}
	return lines
}

func (r *Repo) Dirty(ctx context.Context) (bool, error) {
	lines, err := r.StatusShort(ctx)
	if err != nil {
		return false, err
	}
	return len(lines) > 0, nil
}

// RevListCount counts the commits in a revision range such as "a..b".
func (r *Repo) RevListCount(ctx context.Context, rangeSpec string) (int, error) {
	out, err := r.Run(ctx, "rev-list", "--count", rangeSpec)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, errors.New("unexpected rev-list output: " + out)
	}
	return n, nil
}

func (r *Repo) Fetch(ctx context.Context, remote string) error {
	_, err := r.runNetwork(ctx, "fetch", remote)
	return err
}
