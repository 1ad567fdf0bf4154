package nexwork

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestShellHookRendersFunction(t *testing.T) {
	tests := []struct {
		shell, fn string
		want      []string
	}{
		{"bash", "", []string{"nw() {", `if [ "$1" != "cd" ]`, "NEXWORK_EMIT_CD_MARKER=1 command nexwork", "${out#__NEXWORK_CD__=}"}},
		{"zsh", "wk", []string{"wk() {", "cd -- \"$dir\""}},
		{"fish", "", []string{"function nw", "test \"$argv[1]\" != cd", "string replace -- '__NEXWORK_CD__='"}},
	}
	for _, tt := range tests {
		out, err := ShellHook(tt.shell, tt.fn)
		if err != nil {
			t.Fatalf("ShellHook(%s, %q) failed: %v", tt.shell, tt.fn, err)
		}
		for _, want := range tt.want {
			if !strings.Contains(out, want) {
				t.Fatalf("%s hook missing %q:\n%s", tt.shell, want, out)
			}
		}
	}
	if _, err := ShellHook("bash", "bad name;rm"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := ShellHook("tcsh", ""); err == nil {
		t.Fatalf("tcsh should be rejected")
	}
}

// The hook is sourced into a real bash with a stub nexwork on PATH.
func TestShellHookChangesDirectoryInBash(t *testing.T) {
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash is required for this test")
	}
	bin := t.TempDir()
	target := t.TempDir()
	stub := "#!/bin/sh\n" +
		"if [ \"$1\" = cd ] && [ \"$" + cdMarkerEnv + "\" = 1 ]; then echo '" + cdMarker + target + "'; exit 0; fi\n" +
		"echo \"passthrough $*\"\n"
	if err := os.WriteFile(filepath.Join(bin, "nexwork"), []byte(stub), 0o755); err != nil {
		t.Fatalf("write stub failed: %v", err)
	}
	hook, err := ShellHook("bash", "")
	if err != nil {
		t.Fatalf("ShellHook failed: %v", err)
	}

	script := hook + "\nnw feature list\nnw cd hop web\npwd\n"
	cmd := exec.Command(bash, "--noprofile", "--norc", "-c", script)
	cmd.Env = append(os.Environ(), "PATH="+bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("bash failed: %v\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 || lines[0] != "passthrough feature list" || resolve(lines[1]) != resolve(target) {
		t.Fatalf("unexpected shell output: %q", lines)
	}
}
