package nexwork

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"nexwork/internal/config"
)

const maxDiscoverDepth = 3

var skipDirs = map[string]bool{
	FeaturesDirName: true,
	"node_modules":  true,
	"vendor":        true,
}

// DiscoverProjects finds the git repositories below the workspace root.
// Directories matching one of exclude (by name or by slash-separated path
// relative to the root) are skipped, as are the features folder, hidden
// directories and repositories nested inside another repository.
func (w *Workspace) DiscoverProjects(exclude []string) ([]config.Project, error) {
	var out []config.Project
	err := filepath.WalkDir(w.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.Root {
				return err
			}
			return nil
		}
		if !d.IsDir() || path == w.Root {
			return nil
		}
		rel, err := filepath.Rel(w.Root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()
		if strings.HasPrefix(name, ".") || skipDirs[name] || excluded(exclude, name, rel) {
			return filepath.SkipDir
		}
		if isRepo(path) {
			out = append(out, config.Project{Name: projectKey(rel), Path: rel})
			return filepath.SkipDir
		}
		if strings.Count(rel, "/")+1 >= maxDiscoverDepth {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func isRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func excluded(patterns []string, name, rel string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// projectKey turns a relative path into a project name.
func projectKey(rel string) string {
	return strings.ReplaceAll(rel, "/", "-")
}

type InitResult struct {
	Projects []config.Project `json:"projects"`
	Added    []string         `json:"added,omitempty"`
	Removed  []string         `json:"removed,omitempty"`
}

// Init writes the discovered projects into the config. Existing features
// are kept; projects that disappeared are dropped from projectLocations.
func (w *Workspace) Init(exclude []string) (*InitResult, error) {
	if len(exclude) == 0 {
		exclude = w.Store.Load().UserConfig.Exclude
	}
	projects, err := w.DiscoverProjects(exclude)
	if err != nil {
		return nil, err
	}
	res := &InitResult{Projects: projects}
	err = w.Store.Mutate(func(c *config.Config) (bool, error) {
		next := map[string]string{}
		for _, p := range projects {
			next[p.Name] = p.Path
			if old, ok := c.ProjectLocations[p.Name]; !ok || old != p.Path {
				res.Added = append(res.Added, p.Name)
			}
		}
		for name := range c.ProjectLocations {
			if _, ok := next[name]; !ok {
				res.Removed = append(res.Removed, name)
			}
		}
		sort.Strings(res.Removed)
		changed := len(res.Added) > 0 || len(res.Removed) > 0 || c.WorkspaceRoot != w.Root
		if len(exclude) > 0 && !slices.Equal(c.UserConfig.Exclude, exclude) {
			c.UserConfig.Exclude = append([]string(nil), exclude...)
			changed = true
		}
		c.WorkspaceRoot = w.Root
		c.ProjectLocations = next
		if !exists(w.Store.Path()) {
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info("workspace initialized", "projects", len(projects), "added", len(res.Added), "removed", len(res.Removed))
	return res, nil
}
