package nexwork

import (
	"errors"
	"strings"
	"testing"
	"time"

	"nexwork/internal/runner"
)

func TestTemplatesListAndOverride(t *testing.T) {
	w := newTestWorkspace(t, &runner.Fake{})
	list, err := w.Templates()
	if err != nil {
		t.Fatalf("Templates failed: %v", err)
	}
	if len(list) != 2 || list[0].Name != "default" || list[1].Name != "jira" || !list[0].Builtin {
		t.Fatalf("unexpected built-ins: %+v", list)
	}

	if err := w.CreateTemplate("default", "override {{.Name}}\n"); err != nil {
		t.Fatalf("CreateTemplate failed: %v", err)
	}
	if err := w.CreateTemplate("rfc", "# RFC {{.Name}}\n"); err != nil {
		t.Fatalf("CreateTemplate failed: %v", err)
	}
	list, _ = w.Templates()
	var names []string
	for _, ti := range list {
		names = append(names, ti.Name)
		if ti.Name == "default" && ti.Builtin {
			t.Fatalf("custom default should replace the built-in one")
		}
	}
	if strings.Join(names, ",") != "jira,default,rfc" {
		t.Fatalf("unexpected templates: %v", names)
	}

	out, err := w.RenderTemplate("default", testFeature("x", "web"))
	if err != nil || out != "override x\n" {
		t.Fatalf("override not rendered: %q, %v", out, err)
	}
	if err := w.DeleteTemplate("default"); err != nil {
		t.Fatalf("deleting the override failed: %v", err)
	}
	out, _ = w.RenderTemplate("default", testFeature("x", "web"))
	if !strings.HasPrefix(out, "# x\n") {
		t.Fatalf("built-in default not restored: %q", out)
	}
}

func TestRenderBuiltinTemplates(t *testing.T) {
	w := newTestWorkspace(t, &runner.Fake{})
	f := testFeature("JIRA-42", "web", "api")
	f.Projects[1].BaseBranch = "develop"
	exp := time.Date(2024, 7, 1, 12, 0, 0, 0, time.FixedZone("x", 2*3600))
	f.ExpiresAt = &exp

	out, err := w.RenderTemplate("", f)
	if err != nil {
		t.Fatalf("RenderTemplate failed: %v", err)
	}
	for _, want := range []string{
		"# JIRA-42",
		"Created: 2024-06-03",
		"Branch: `feature/JIRA-42`",
		"Expires: 2024-07-01T10:00:00Z",
		"- **api**: `feature/JIRA-42` from `develop`",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("default template missing %q:\n%s", want, out)
		}
	}

	out, err = w.RenderTemplate("jira", f)
	if err != nil {
		t.Fatalf("RenderTemplate failed: %v", err)
	}
	if !strings.Contains(out, "Ticket: JIRA-42") || !strings.Contains(out, "- [ ] web (`main`)") {
		t.Fatalf("unexpected jira output:\n%s", out)
	}
}

func TestTemplateErrors(t *testing.T) {
	w := newTestWorkspace(t, &runner.Fake{})
	if _, err := w.RenderTemplate("missing", testFeature("x")); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if err := w.CreateTemplate("../escape", "x"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if err := w.CreateTemplate("broken", "{{ .Name "); err == nil {
		t.Fatalf("unparsable template accepted")
	}
	if err := w.DeleteTemplate("jira"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("deleting a built-in should fail with ErrInvalidName, got %v", err)
	}
	if err := w.DeleteTemplate("nope"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	custom, err := w.CustomTemplates()
	if err != nil || len(custom) != 0 {
		t.Fatalf("expected no custom templates, got %v, %v", custom, err)
	}
}
