package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"
)

// Status is the progress of one project within a feature.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted:
		return Status(s), nil
	default:
		return "", fmt.Errorf("invalid status %q (expected: pending|in_progress|completed)", s)
	}
}

// Project is a git repository inside the workspace.
type Project struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type ProjectStatus struct {
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	Branch       string     `json:"branch"`
	BaseBranch   string     `json:"baseBranch"`
	WorktreePath string     `json:"worktreePath"`
	LastUpdated  *time.Time `json:"lastUpdated,omitempty"`
	// BranchError is set when the feature branch could not be created for
	// this project and cleared once a worktree exists.
	BranchError string `json:"branchError,omitempty"`
}

type Feature struct {
	Name        string          `json:"name"`
	Projects    []ProjectStatus `json:"projects"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	Template    string          `json:"template,omitempty"`
}

// Project returns the status entry for the named project.
func (f *Feature) Project(name string) (*ProjectStatus, bool) {
	for i := range f.Projects {
		if f.Projects[i].Name == name {
			return &f.Projects[i], true
		}
	}
	return nil, false
}

// Completed reports whether every project is completed.
func (f Feature) Completed() bool {
	if len(f.Projects) == 0 {
		return false
	}
	for _, p := range f.Projects {
		if p.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (f Feature) Active() bool {
	return !f.Completed()
}

func (f Feature) Expired(now time.Time) bool {
	return f.ExpiresAt != nil && f.ExpiresAt.Before(now)
}

// StatusCounts returns the number of projects per status.
func (f Feature) StatusCounts() map[Status]int {
	counts := map[Status]int{StatusPending: 0, StatusInProgress: 0, StatusCompleted: 0}
	for _, p := range f.Projects {
		counts[p.Status]++
	}
	return counts
}

// Touch records a modification at now and keeps the started/completed
// timestamps consistent with the project statuses.
func (f *Feature) Touch(now time.Time) {
	f.UpdatedAt = now
	if f.StartedAt == nil {
		for _, p := range f.Projects {
			if p.Status != StatusPending {
				t := now
				f.StartedAt = &t
				break
			}
		}
	}
	switch {
	case f.Completed() && f.CompletedAt == nil:
		t := now
		f.CompletedAt = &t
	case !f.Completed():
		f.CompletedAt = nil
	}
}

type UserConfig struct {
	SearchPaths     []string `json:"searchPaths,omitempty"`
	Exclude         []string `json:"exclude,omitempty"`
	DefaultTemplate string   `json:"defaultTemplate,omitempty"`
}

// Config is the document persisted at the workspace root.
type Config struct {
	WorkspaceRoot    string            `json:"workspaceRoot"`
	ProjectLocations map[string]string `json:"projectLocations"`
	Features         []Feature         `json:"features"`
	UserConfig       UserConfig        `json:"userConfig"`
}

// Projects returns the known projects sorted by name.
func (c Config) Projects() []Project {
	res := make([]Project, 0, len(c.ProjectLocations))
	for name, path := range c.ProjectLocations {
		res = append(res, Project{Name: name, Path: path})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// ProjectPath resolves a project's repository directory.
func (c Config) ProjectPath(name string) (string, bool) {
	rel, ok := c.ProjectLocations[name]
	if !ok {
		return "", false
	}
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel), true
	}
	return filepath.Join(c.WorkspaceRoot, rel), true
}

func (c *Config) Feature(name string) (*Feature, bool) {
	for i := range c.Features {
		if c.Features[i].Name == name {
			return &c.Features[i], true
		}
	}
	return nil, false
}

func (c *Config) RemoveFeature(name string) bool {
	for i := range c.Features {
		if c.Features[i].Name == name {
			c.Features = append(c.Features[:i], c.Features[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.ProjectLocations = make(map[string]string, len(c.ProjectLocations))
	for k, v := range c.ProjectLocations {
		out.ProjectLocations[k] = v
	}
	out.Features = make([]Feature, len(c.Features))
	for i, f := range c.Features {
		out.Features[i] = f.Clone()
	}
	out.UserConfig.SearchPaths = append([]string(nil), c.UserConfig.SearchPaths...)
	out.UserConfig.Exclude = append([]string(nil), c.UserConfig.Exclude...)
	return out
}

func (f Feature) Clone() Feature {
	out := f
	out.Projects = make([]ProjectStatus, len(f.Projects))
	for i, p := range f.Projects {
		p.LastUpdated = cloneTime(p.LastUpdated)
		out.Projects[i] = p
	}
	out.StartedAt = cloneTime(f.StartedAt)
	out.CompletedAt = cloneTime(f.CompletedAt)
	out.ExpiresAt = cloneTime(f.ExpiresAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
