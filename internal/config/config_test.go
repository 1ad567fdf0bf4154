package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsEmptyDefault(t *testing.T) {
	root := t.TempDir()
	s := Open(root, nil)
	cfg := s.Load()
	if cfg.WorkspaceRoot != filepath.Clean(root) {
		t.Fatalf("unexpected workspace root %q", cfg.WorkspaceRoot)
	}
	if len(cfg.Features) != 0 || len(cfg.ProjectLocations) != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatalf("Load must not create the file, stat err=%v", err)
	}
}

func TestLoadCorruptFileReturnsEmptyDefault(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	s := Open(root, nil)
	cfg := s.Load()
	if len(cfg.Features) != 0 {
		t.Fatalf("expected empty features, got %+v", cfg.Features)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "{not json" {
		t.Fatalf("corrupt file must be left untouched, got %q %v", data, err)
	}
}

func TestMutateMovesCorruptFileAside(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	broken := []byte(`{"features": [{"name": "keep-me",}]}`)
	if err := os.WriteFile(path, broken, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	s := Open(root, nil)
	err := s.Mutate(func(cfg *Config) (bool, error) {
		cfg.ProjectLocations["web"] = "web"
		return true, nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	backups, err := filepath.Glob(path + ".corrupt-*")
	if err != nil || len(backups) != 1 {
		t.Fatalf("expected one backup, got %v %v", backups, err)
	}
	data, err := os.ReadFile(backups[0])
	if err != nil || string(data) != string(broken) {
		t.Fatalf("backup does not hold the corrupt document: %q %v", data, err)
	}
	if got := Open(root, nil).Load().ProjectLocations["web"]; got != "web" {
		t.Fatalf("new document not written, web=%q", got)
	}

	if err := s.Mutate(func(cfg *Config) (bool, error) {
		cfg.ProjectLocations["api"] = "api"
		return true, nil
	}); err != nil {
		t.Fatalf("second Mutate failed: %v", err)
	}
	if backups, _ := filepath.Glob(path + ".corrupt-*"); len(backups) != 1 {
		t.Fatalf("healthy document should not be backed up again: %v", backups)
	}
}

func TestLoadParsesDocument(t *testing.T) {
	root := t.TempDir()
	doc := `{
  "projectLocations": {"web": "apps/web", "api": "services/api"},
  "features": [{
    "name": "checkout-v2",
    "projects": [
      {"name": "web", "status": "in_progress", "branch": "feature/checkout-v2", "baseBranch": "main", "worktreePath": ""}
    ],
    "createdAt": "2024-05-01T10:00:00Z",
    "updatedAt": "2024-05-01T10:00:00Z",
    "expiresAt": "2024-06-01T00:00:00Z"
  }],
  "userConfig": {"exclude": ["node_modules"]}
}`
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := Open(root, nil).Load()
	if got := cfg.Projects(); len(got) != 2 || got[0].Name != "api" || got[1].Path != "apps/web" {
		t.Fatalf("unexpected projects: %+v", got)
	}
	f, ok := cfg.Feature("checkout-v2")
	if !ok {
		t.Fatalf("feature not found")
	}
	if f.Projects[0].Status != StatusInProgress || f.ExpiresAt == nil {
		t.Fatalf("unexpected feature: %+v", f)
	}
	if path, ok := cfg.ProjectPath("api"); !ok || path != filepath.Join(cfg.WorkspaceRoot, "services/api") {
		t.Fatalf("unexpected project path %q", path)
	}
}

func TestMutateSkipsWriteWhenUnchanged(t *testing.T) {
	s := Open(t.TempDir(), nil)
	err := s.Mutate(func(cfg *Config) (bool, error) {
		cfg.ProjectLocations["web"] = "web"
		return true, nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if err := s.Mutate(func(cfg *Config) (bool, error) { return false, nil }); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if got := s.Saves(); got != 1 {
		t.Fatalf("expected 1 save, got %d", got)
	}

	reopened := Open(s.Root(), nil).Load()
	if reopened.ProjectLocations["web"] != "web" {
		t.Fatalf("change not persisted: %+v", reopened)
	}
}

func TestMutateErrorDiscardsChanges(t *testing.T) {
	s := Open(t.TempDir(), nil)
	boom := errors.New("boom")
	err := s.Mutate(func(cfg *Config) (bool, error) {
		cfg.ProjectLocations["web"] = "web"
		return true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := s.Load().ProjectLocations["web"]; ok {
		t.Fatalf("failed mutation leaked into the cache")
	}
	if s.Saves() != 0 {
		t.Fatalf("failed mutation must not write")
	}
}

func TestLoadReturnsCopies(t *testing.T) {
	s := Open(t.TempDir(), nil)
	_ = s.Mutate(func(cfg *Config) (bool, error) {
		cfg.Features = append(cfg.Features, Feature{Name: "a", Projects: []ProjectStatus{{Name: "web"}}})
		return true, nil
	})
	cfg := s.Load()
	cfg.Features[0].Projects[0].WorktreePath = "/elsewhere"
	f, _ := s.Feature("a")
	if f.Projects[0].WorktreePath != "" {
		t.Fatalf("caller mutation leaked into store")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s := Open(root, nil)
	if err := s.Save(Config{ProjectLocations: map[string]string{"a": "a"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != FileName {
		names := []string{}
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected files: %v", names)
	}
}

func TestFeatureDerivedStates(t *testing.T) {
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	f := Feature{
		Name: "x",
		Projects: []ProjectStatus{
			{Name: "a", Status: StatusCompleted},
			{Name: "b", Status: StatusPending},
		},
		ExpiresAt: &yesterday,
	}
	if !f.Active() || f.Completed() {
		t.Fatalf("expected active feature")
	}
	if !f.Expired(now) {
		t.Fatalf("expected expired feature")
	}
	f.Projects[1].Status = StatusCompleted
	if f.Active() || !f.Completed() {
		t.Fatalf("expected completed feature")
	}
	f.ExpiresAt = nil
	if f.Expired(now) {
		t.Fatalf("feature without expiry never expires")
	}
}

func TestFeatureTouchTimestamps(t *testing.T) {
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	f := Feature{Projects: []ProjectStatus{{Name: "a", Status: StatusPending}}}
	f.Touch(now)
	if f.StartedAt != nil || f.CompletedAt != nil {
		t.Fatalf("pending feature must not be started: %+v", f)
	}
	f.Projects[0].Status = StatusCompleted
	f.Touch(now.Add(time.Hour))
	if f.StartedAt == nil || f.CompletedAt == nil {
		t.Fatalf("expected started and completed timestamps: %+v", f)
	}
	f.Projects[0].Status = StatusPending
	f.Touch(now.Add(2 * time.Hour))
	if f.CompletedAt != nil {
		t.Fatalf("completedAt must clear when a project reopens")
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "in_progress", "completed"} {
		if _, err := ParseStatus(s); err != nil {
			t.Fatalf("ParseStatus(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestWatchReportsExternalWrites(t *testing.T) {
	root := t.TempDir()
	s := Open(root, nil)
	if err := s.Save(Config{ProjectLocations: map[string]string{"a": "a"}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx, func(cfg Config) { changed <- cfg }, WithDebounce(20*time.Millisecond), WithForcePoll(true), WithPollInterval(20*time.Millisecond))
	}()

	// ensure a distinct mtime on coarse filesystems
	time.Sleep(50 * time.Millisecond)
	other := Open(root, nil)
	if err := other.Save(Config{ProjectLocations: map[string]string{"a": "a", "b": "b"}}); err != nil {
		t.Fatalf("external Save failed: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.ProjectLocations["b"] != "b" {
			t.Fatalf("expected reloaded config, got %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for change notification")
	}
	cancel()
	<-done
}

func TestLoadSettingsLayering(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "global.toml")
	ws := filepath.Join(dir, "ws")
	if err := os.MkdirAll(ws, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	globalContent := strings.Join([]string{
		`default_base_branch = "develop"`,
		`git_timeout_seconds = 2`,
		`sweep_interval = "30m"`,
		`history_db = ""`,
	}, "\n")
	if err := os.WriteFile(global, []byte(globalContent), 0o644); err != nil {
		t.Fatalf("write global: %v", err)
	}
	wsContent := strings.Join([]string{
		`default_base_branch = "staging"`,
		`default_template = "jira"`,
		`sweep_initial_delay = "5s"`,
	}, "\n")
	if err := os.WriteFile(filepath.Join(ws, SettingsFileName), []byte(wsContent), 0o644); err != nil {
		t.Fatalf("write workspace settings: %v", err)
	}

	t.Setenv("NEXWORK_CONFIG", global)
	t.Setenv("NEXWORK_WORKSPACE", "")
	t.Setenv("NEXWORK_POLL_INTERVAL", "1s")
	t.Setenv("NEXWORK_NETWORK_TIMEOUT_SECONDS", "99999")

	s, err := LoadSettings(ws)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Workspace != ws {
		t.Fatalf("unexpected workspace %q", s.Workspace)
	}
	if s.DefaultBaseBranch != "staging" || s.DefaultTemplate != "jira" {
		t.Fatalf("workspace layer not applied: %+v", s)
	}
	if s.GitTimeout() != 5*time.Second {
		t.Fatalf("expected min-clamped git timeout, got %s", s.GitTimeout())
	}
	if s.NetworkTimeout() != 1800*time.Second {
		t.Fatalf("expected max-clamped network timeout, got %s", s.NetworkTimeout())
	}
	if s.SweepInterval.Duration != 30*time.Minute || s.SweepInitialDelay.Duration != 5*time.Second {
		t.Fatalf("unexpected sweep settings: %+v", s)
	}
	if s.PollInterval.Duration != time.Second {
		t.Fatalf("env override not applied: %s", s.PollInterval)
	}
	if s.HistoryDB != "" {
		t.Fatalf("expected history disabled, got %q", s.HistoryDB)
	}
}

func TestLoadSettingsRejectsBadTOML(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "global.toml")
	if err := os.WriteFile(global, []byte(`sweep_interval = "soon"`), 0o644); err != nil {
		t.Fatalf("write global: %v", err)
	}
	t.Setenv("NEXWORK_CONFIG", global)
	t.Setenv("NEXWORK_WORKSPACE", "")
	if _, err := LoadSettings(""); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestSettingsReferenceCoversEveryKey(t *testing.T) {
	keys := map[string]bool{}
	for _, doc := range SettingsReference() {
		if doc.Key == "" || doc.Description == "" {
			t.Fatalf("incomplete entry: %+v", doc)
		}
		keys[doc.Key] = true
	}
	for _, want := range []string{"workspace", "default_base_branch", "git_timeout_seconds", "network_timeout_seconds", "sweep_interval", "poll_interval", "history_db", "log_level", "parallelism"} {
		if !keys[want] {
			t.Fatalf("settings reference misses %s", want)
		}
	}
}
