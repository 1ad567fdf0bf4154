package nexwork

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"nexwork/internal/git"
	"nexwork/internal/runner"
)

// diffWorkspace stores a feature whose web project has a worktree at the
// returned path.
func diffWorkspace(t *testing.T, fake *runner.Fake) (*Workspace, string) {
	t.Helper()
	w := newTestWorkspace(t, fake, "web")
	web := filepath.Join(w.Root, "web")
	wt := filepath.Join(w.Root, "features", "diff-web")
	if err := os.MkdirAll(wt, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	fake.On(web, "git", "worktree", "list").Returns(porcelain(worktreeBlock(web, "main"), worktreeBlock(wt, "feature/diff")))
	f := testFeature("diff", "web")
	f.Projects[0].WorktreePath = wt
	storeFeature(t, w, f)
	return w, wt
}

func TestProjectDiffWorkingTakesPrecedence(t *testing.T) {
	fake := &runner.Fake{}
	w, wt := diffWorkspace(t, fake)
	fake.On(wt, "git", "diff", "origin/main...HEAD", "--name-status").Returns("A\tshared.go\nA\tnew.go\nD\told.go\n")
	fake.On(wt, "git", "diff", "HEAD", "--name-status").Returns("M\tshared.go\nA\tscratch.go\n")
	fake.On(wt, "git", "diff", "origin/main...HEAD", "--").Returns("committed diff")
	fake.On(wt, "git", "diff", "HEAD", "--").Returns("working diff")

	d, err := w.ProjectDiff(context.Background(), "diff", "web", false)
	if err != nil {
		t.Fatalf("ProjectDiff failed: %v", err)
	}
	want := []FileChange{
		{Path: "new.go", Status: "A", Diff: "committed diff", Source: SourceCommitted},
		{Path: "old.go", Status: "D", Diff: "committed diff", Source: SourceCommitted},
		{Path: "scratch.go", Status: "A", Diff: "working diff", Source: SourceWorking},
		{Path: "shared.go", Status: "M", Diff: "working diff", Source: SourceWorking},
	}
	if d.BaseBranch != "main" || len(d.Files) != len(want) {
		t.Fatalf("unexpected diff: %+v", d)
	}
	for i := range want {
		if d.Files[i] != want[i] {
			t.Fatalf("file %d = %+v, want %+v", i, d.Files[i], want[i])
		}
	}
	if fake.Count(wt, "git", "diff", "HEAD", "--", "shared.go") != 1 {
		t.Fatalf("shared.go should be diffed against the working tree")
	}
}

func TestProjectDiffIgnoreWhitespace(t *testing.T) {
	fake := &runner.Fake{}
	w, wt := diffWorkspace(t, fake)
	fake.On(wt, "git", "diff").Returns("")
	fake.On(wt, "git", "diff", "HEAD", "--ignore-all-space", "--name-status").Returns("M\tspaces.go")

	d, err := w.ProjectDiff(context.Background(), "diff", "web", true)
	if err != nil {
		t.Fatalf("ProjectDiff failed: %v", err)
	}
	if len(d.Files) != 1 || d.Files[0].Path != "spaces.go" {
		t.Fatalf("unexpected files: %+v", d.Files)
	}
	if fake.Count(wt, "git", "diff", "origin/main...HEAD", "--ignore-all-space", "--name-status", "--no-renames") != 1 {
		t.Fatalf("committed listing should ignore whitespace: %+v", fake.Calls())
	}
}

func TestProjectDiffWithoutRemoteBase(t *testing.T) {
	fake := &runner.Fake{}
	w, wt := diffWorkspace(t, fake)
	fake.On(wt, "git", "diff", "origin/main...HEAD").Fails("fatal: ambiguous argument 'origin/main...HEAD'")
	fake.On(wt, "git", "diff", "HEAD").Returns("")
	fake.On(wt, "git", "diff", "HEAD", "--name-status").Returns("M\tREADME.md")

	d, err := w.ProjectDiff(context.Background(), "diff", "web", false)
	if err != nil {
		t.Fatalf("ProjectDiff failed: %v", err)
	}
	if len(d.Files) != 1 || d.Files[0].Source != SourceWorking {
		t.Fatalf("unexpected files: %+v", d.Files)
	}
}

func TestProjectDiffNeedsWorktree(t *testing.T) {
	fake := &runner.Fake{}
	w := newTestWorkspace(t, fake, "web")
	fake.On("", "git", "worktree", "list").Returns("")
	storeFeature(t, w, testFeature("nowt", "web"))
	if _, err := w.ProjectDiff(context.Background(), "nowt", "web", false); !errors.Is(err, ErrWorktreeNotFound) {
		t.Fatalf("expected ErrWorktreeNotFound, got %v", err)
	}
	if _, err := w.ProjectDiff(context.Background(), "nowt", "api", false); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestNormalizeStatus(t *testing.T) {
	for in, want := range map[string]string{"A": "A", "C": "A", "D": "D", "M": "M", "T": "M", "U": "M", "R": "M", "a": "A"} {
		if got := normalizeStatus(in); got != want {
			t.Fatalf("normalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMergeChangesProperties(t *testing.T) {
	entry := rapid.Custom(func(t *rapid.T) git.NameStatusEntry {
		return git.NameStatusEntry{
			Status: rapid.SampledFrom([]string{"A", "M", "D", "C", "T"}).Draw(t, "status"),
			Path:   rapid.SampledFrom([]string{"a.go", "b.go", "c/d.go", "e.md", "f"}).Draw(t, "path"),
		}
	})
	rapid.Check(t, func(t *rapid.T) {
		committed := rapid.SliceOf(entry).Draw(t, "committed")
		working := rapid.SliceOf(entry).Draw(t, "working")
		merged := mergeChanges(committed, working)

		paths := map[string]bool{}
		lastWorking := map[string]string{}
		for _, e := range committed {
			paths[e.Path] = true
		}
		for _, e := range working {
			paths[e.Path] = true
			lastWorking[e.Path] = normalizeStatus(e.Status)
		}
		if len(merged) != len(paths) {
			t.Fatalf("merged %d files, want %d", len(merged), len(paths))
		}
		if !sort.SliceIsSorted(merged, func(i, j int) bool { return merged[i].Path < merged[j].Path }) {
			t.Fatalf("result not sorted: %+v", merged)
		}
		for _, fc := range merged {
			status, inWorking := lastWorking[fc.Path]
			if inWorking && (fc.Source != SourceWorking || fc.Status != status) {
				t.Fatalf("%s should come from the working tree: %+v", fc.Path, fc)
			}
			if !inWorking && fc.Source != SourceCommitted {
				t.Fatalf("%s should be committed: %+v", fc.Path, fc)
			}
		}
	})
}

func TestProjectDiffNonASCIIPathRealGit(t *testing.T) {
	w := newGitWorkspace(t, nil, "web")
	web := filepath.Join(w.Root, "web")
	name := "café.txt"
	if err := os.WriteFile(filepath.Join(web, name), []byte("bonjour\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	gitCmd(t, web, "add", name)
	gitCmd(t, web, "commit", "-m", "add café")

	ctx := context.Background()
	createGitFeature(t, w, "accents", "web")
	res, err := w.CreateWorktree(ctx, "accents", "web")
	if err != nil {
		t.Fatalf("CreateWorktree failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(res.Path, name), []byte("bonsoir\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	d, err := w.ProjectDiff(ctx, "accents", "web", false)
	if err != nil {
		t.Fatalf("ProjectDiff failed: %v", err)
	}
	if len(d.Files) != 1 {
		t.Fatalf("unexpected files: %+v", d.Files)
	}
	fc := d.Files[0]
	if fc.Path != name || fc.Status != "M" || fc.Source != SourceWorking {
		t.Fatalf("unexpected change: %+v", fc)
	}
	if !strings.Contains(fc.Diff, "+bonsoir") {
		t.Fatalf("diff for %s is missing the edit: %q", name, fc.Diff)
	}
}
