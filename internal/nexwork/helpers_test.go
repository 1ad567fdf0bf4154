package nexwork

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"nexwork/internal/config"
	"nexwork/internal/history"
	"nexwork/internal/runner"
)

var testNow = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// newTestWorkspace creates a workspace root with one empty directory per
// project and registers them in the config.
func newTestWorkspace(t *testing.T, r runner.Runner, projects ...string) *Workspace {
	t.Helper()
	root := t.TempDir()
	for _, p := range projects {
		if err := os.MkdirAll(filepath.Join(root, p), 0o755); err != nil {
			t.Fatalf("mkdir project failed: %v", err)
		}
	}
	w, err := Open(Options{
		Root:     root,
		Settings: config.Settings{DefaultBaseBranch: "main", Parallelism: 4},
		Runner:   r,
		Logger:   quietLogger(),
		Now:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	err = w.Store.Mutate(func(c *config.Config) (bool, error) {
		for _, p := range projects {
			c.ProjectLocations[p] = p
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("register projects failed: %v", err)
	}
	return w
}

// newGitWorkspace creates a workspace whose projects are real repositories
// with one commit on main.
func newGitWorkspace(t *testing.T, r runner.Runner, projects ...string) *Workspace {
	t.Helper()
	requireGit(t)
	if r == nil {
		r = runner.NewExec(quietLogger(), 30*time.Second)
	}
	w := newTestWorkspace(t, r, projects...)
	for _, p := range projects {
		initRepo(t, filepath.Join(w.Root, p))
	}
	return w
}

// withHistory attaches a fresh history database to w.
func withHistory(t *testing.T, w *Workspace) *history.DB {
	t.Helper()
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	w.history = db
	return db
}

func initRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		gitCmd(t, dir, args...)
	}
	run("init", "-b", "main")
	run("config", "user.email", "nexwork-test@example.com")
	run("config", "user.name", "Nexwork Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write file failed: %v", err)
	}
	run("add", "README.md")
	run("commit", "-m", "init")
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out))
}

func gitOK(dir string, args ...string) bool {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.Run() == nil
}

func resolve(p string) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	return p
}

// storeFeature writes f straight into the config.
func storeFeature(t *testing.T, w *Workspace, f config.Feature) {
	t.Helper()
	err := w.Store.Mutate(func(c *config.Config) (bool, error) {
		c.Features = append(c.Features, f)
		return true, nil
	})
	if err != nil {
		t.Fatalf("store feature failed: %v", err)
	}
}

func testFeature(name string, projects ...string) config.Feature {
	f := config.Feature{Name: name, CreatedAt: testNow, UpdatedAt: testNow}
	for _, p := range projects {
		f.Projects = append(f.Projects, config.ProjectStatus{
			Name:       p,
			Status:     config.StatusPending,
			Branch:     BranchName(name),
			BaseBranch: "main",
		})
	}
	return f
}

func porcelain(blocks ...string) string {
	return strings.Join(blocks, "\n\n") + "\n"
}

func worktreeBlock(path, branch string) string {
	return "worktree " + path + "\nHEAD 1111111111111111111111111111111111111111\nbranch refs/heads/" + branch
}
