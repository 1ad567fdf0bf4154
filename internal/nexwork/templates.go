package nexwork

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"nexwork/internal/config"
)

const (
	DefaultTemplateName = "default"
	templateExt         = ".md"
)

var builtinTemplates = map[string]string{
	DefaultTemplateName: `# {{.Name}}

Created: {{.Date}}
Branch: ` + "`{{.Branch}}`" + `
{{- if .ExpiresAt}}
Expires: {{.ExpiresAt}}
{{- end}}

## Projects
{{range .Projects}}
- **{{.Name}}**: ` + "`{{.Branch}}`" + ` from ` + "`{{.BaseBranch}}`" + `
{{- end}}

## Description

## Notes
`,
	"jira": `# {{.Name}}

Ticket: {{.Name}}
Created: {{.Date}}
Branch: ` + "`{{.Branch}}`" + `

## Acceptance criteria

- [ ]

## Projects
{{range .Projects}}
- [ ] {{.Name}} (` + "`{{.BaseBranch}}`" + `)
{{- end}}

## Testing

## Deployment notes
`,
}

type TemplateInfo struct {
	Name    string `json:"name"`
	Builtin bool   `json:"builtin"`
	Path    string `json:"path,omitempty"`
}

type templateProject struct {
	Name       string
	Branch     string
	BaseBranch string
}

type templateData struct {
	Name      string
	Date      string
	Branch    string
	ExpiresAt string
	Projects  []templateProject
}

func (w *Workspace) templatesDir() string {
	return filepath.Join(w.Root, ".nexwork", "templates")
}

// Templates lists the built-in templates followed by the workspace's custom
// ones. A custom template named like a built-in one overrides it.
func (w *Workspace) Templates() ([]TemplateInfo, error) {
	custom, err := w.CustomTemplates()
	if err != nil {
		return nil, err
	}
	overridden := map[string]bool{}
	for _, t := range custom {
		overridden[t.Name] = true
	}
	var out []TemplateInfo
	for _, name := range builtinTemplateNames() {
		if !overridden[name] {
			out = append(out, TemplateInfo{Name: name, Builtin: true})
		}
	}
	return append(out, custom...), nil
}

func builtinTemplateNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w *Workspace) CustomTemplates() ([]TemplateInfo, error) {
	entries, err := os.ReadDir(w.templatesDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []TemplateInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != templateExt {
			continue
		}
		out = append(out, TemplateInfo{
			Name: strings.TrimSuffix(e.Name(), templateExt),
			Path: filepath.Join(w.templatesDir(), e.Name()),
		})
	}
	return out, nil
}

// CreateTemplate stores a custom template after checking that it parses.
func (w *Workspace) CreateTemplate(name, content string) error {
	if err := ValidateProjectName(name); err != nil {
		return fmt.Errorf("%w: template name %q", ErrInvalidName, name)
	}
	if _, err := template.New(name).Parse(content); err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	if err := os.MkdirAll(w.templatesDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.templatesDir(), name+templateExt), []byte(content), 0o644)
}

func (w *Workspace) DeleteTemplate(name string) error {
	if err := ValidateProjectName(name); err != nil {
		return fmt.Errorf("%w: template name %q", ErrInvalidName, name)
	}
	err := os.Remove(filepath.Join(w.templatesDir(), name+templateExt))
	if errors.Is(err, fs.ErrNotExist) {
		if _, ok := builtinTemplates[name]; ok {
			return fmt.Errorf("%w: %s is built in", ErrInvalidName, name)
		}
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return err
}

func (w *Workspace) templateSource(name string) (string, error) {
	if ValidateProjectName(name) == nil {
		data, err := os.ReadFile(filepath.Join(w.templatesDir(), name+templateExt))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	if src, ok := builtinTemplates[name]; ok {
		return src, nil
	}
	return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// RenderTemplate renders the README of f with the named template.
func (w *Workspace) RenderTemplate(name string, f config.Feature) (string, error) {
	if name == "" {
		name = DefaultTemplateName
	}
	src, err := w.templateSource(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	data := templateData{
		Name:   f.Name,
		Date:   f.CreatedAt.UTC().Format("2006-01-02"),
		Branch: BranchName(f.Name),
	}
	if f.ExpiresAt != nil {
		data.ExpiresAt = f.ExpiresAt.UTC().Format(time.RFC3339)
	}
	for _, p := range f.Projects {
		data.Projects = append(data.Projects, templateProject{Name: p.Name, Branch: p.Branch, BaseBranch: p.BaseBranch})
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}
