package nexwork

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"nexwork/internal/runner"
)

func createGitFeature(t *testing.T, w *Workspace, name string, projects ...string) {
	t.Helper()
	if _, err := w.CreateFeature(context.Background(), CreateFeatureRequest{Name: name, Projects: projects}); err != nil {
		t.Fatalf("CreateFeature failed: %v", err)
	}
}

func TestCreateWorktreeRealGit(t *testing.T) {
	w := newGitWorkspace(t, nil, "web")
	ctx := context.Background()
	createGitFeature(t, w, "checkout-v2", "web")

	res, err := w.CreateWorktree(ctx, "checkout-v2", "web")
	if err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}
	f, _ := w.Feature("checkout-v2")
	want := filepath.Join(w.TrackingDir(f), "web")
	if res.Path != want || res.Reused || res.SourceBranch != "main" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := gitCmd(t, res.Path, "rev-parse", "--abbrev-ref", "HEAD"); got != "feature/checkout-v2" {
		t.Fatalf("worktree on %q", got)
	}
	if f.Projects[0].WorktreePath != want {
		t.Fatalf("path not stored: %q", f.Projects[0].WorktreePath)
	}

	again, err := w.CreateWorktree(ctx, "checkout-v2", "web")
	if err != nil {
		t.Fatalf("second CreateWorktree failed: %v", err)
	}
	if !again.Reused || resolve(again.Path) != resolve(want) {
		t.Fatalf("expected reuse of %s, got %+v", want, again)
	}
}

func TestCreateWorktreeSwitchesMainRepo(t *testing.T) {
	w := newGitWorkspace(t, nil, "web")
	ctx := context.Background()
	createGitFeature(t, w, "switch", "web")
	dir := filepath.Join(w.Root, "web")
	gitCmd(t, dir, "checkout", "feature/switch")

	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("wip\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := w.CreateWorktree(ctx, "switch", "web"); !errors.Is(err, ErrBranchCheckedOut) {
		t.Fatalf("dirty main repository should fail with ErrBranchCheckedOut, got %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "scratch.txt")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if _, err := w.CreateWorktree(ctx, "switch", "web"); err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}
	if got := gitCmd(t, dir, "rev-parse", "--abbrev-ref", "HEAD"); got != "main" {
		t.Fatalf("main repository left on %q", got)
	}
}

func TestCreateWorktreeCreatesMissingBranch(t *testing.T) {
	fake := &runner.Fake{}
	w := newTestWorkspace(t, fake, "web")
	dir := filepath.Join(w.Root, "web")
	fake.On(dir, "git", "rev-parse", "--abbrev-ref", "HEAD").Returns("main")
	fake.On(dir, "git", "worktree", "list").Returns(porcelain(worktreeBlock(dir, "main")))
	fake.On(dir, "git", "rev-parse", "--verify").Fails("")
	fake.On(dir, "git", "worktree", "add").Returns("")
	f := testFeature("fresh", "web")
	f.Projects[0].BranchError = "branch failed earlier"
	storeFeature(t, w, f)

	res, err := w.CreateWorktree(context.Background(), "fresh", "web")
	if err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}
	if fake.Count(dir, "git", "worktree", "add", "-b", "feature/fresh", res.Path, "main") != 1 {
		t.Fatalf("branch should be created from base: %+v", fake.Calls())
	}
	stored, _ := w.Feature("fresh")
	if stored.Projects[0].BranchError != "" || stored.Projects[0].WorktreePath != res.Path {
		t.Fatalf("unexpected stored project: %+v", stored.Projects[0])
	}
}

func TestRemoveWorktree(t *testing.T) {
	w := newGitWorkspace(t, nil, "web")
	ctx := context.Background()
	createGitFeature(t, w, "rm", "web")
	res, err := w.CreateWorktree(ctx, "rm", "web")
	if err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}

	if err := w.RemoveWorktree(ctx, "rm", "web", false); err != nil {
		t.Fatalf("RemoveWorktree failed: %v", err)
	}
	if exists(res.Path) {
		t.Fatalf("worktree directory still present")
	}
	f, _ := w.Feature("rm")
	if f.Projects[0].WorktreePath != "" {
		t.Fatalf("path not cleared")
	}
	if !gitOK(filepath.Join(w.Root, "web"), "rev-parse", "--verify", "refs/heads/feature/rm") {
		t.Fatalf("branch should survive worktree removal")
	}
	if err := w.RemoveWorktree(ctx, "rm", "web", false); !errors.Is(err, ErrWorktreeNotFound) {
		t.Fatalf("expected ErrWorktreeNotFound, got %v", err)
	}
}
