package nexwork

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
)

const (
	cdMarker    = "__NEXWORK_CD__="
	cdMarkerEnv = "NEXWORK_EMIT_CD_MARKER"
)

// Only `cd` output is captured; every other subcommand keeps its terminal
// so colors and streaming output survive.
var posixHook = template.Must(template.New("posix").Parse(`{{.Func}}() {
  if [ "$1" != "cd" ]; then
    command {{.Bin}} "$@"
    return
  fi
  local out rc dir
  out="$({{.Env}}=1 command {{.Bin}} "$@")"
  rc=$?
  dir="${out#{{.Marker}}}"
  if [ $rc -eq 0 ] && [ "$dir" != "$out" ] && [ -d "$dir" ]; then
    cd -- "$dir"
  elif [ -n "$out" ]; then
    printf '%s\n' "$out"
  fi
  return $rc
}
`))

var fishHook = template.Must(template.New("fish").Parse(`function {{.Func}}
  if test "$argv[1]" != cd
    command {{.Bin}} $argv
    return $status
  end
  set -l out (env {{.Env}}=1 command {{.Bin}} $argv)
  set -l rc $status
  if test $rc -eq 0; and string match -q -- '{{.Marker}}*' "$out"
    cd (string replace -- '{{.Marker}}' '' "$out")
  else if test -n "$out"
    printf '%s\n' $out
  end
  return $rc
end
`))

var hookFuncRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ShellHook renders a shell function named fn (default "nw") that wraps
// nexwork and changes into the directory printed by `nexwork cd`.
func ShellHook(shell, fn string) (string, error) {
	if fn == "" {
		fn = "nw"
	}
	if !hookFuncRe.MatchString(fn) {
		return "", fmt.Errorf("%w: shell function name %q", ErrInvalidName, fn)
	}
	var tmpl *template.Template
	switch shell {
	case "bash", "zsh":
		tmpl = posixHook
	case "fish":
		tmpl = fishHook
	default:
		return "", fmt.Errorf("unsupported shell: %s (expected bash, zsh or fish)", shell)
	}
	var b strings.Builder
	err := tmpl.Execute(&b, struct{ Func, Bin, Env, Marker string }{fn, "nexwork", cdMarkerEnv, cdMarker})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// cdLine is what `nexwork cd` prints: the marker line when running under
// the shell hook, the bare path otherwise.
func cdLine(path string) string {
	if os.Getenv(cdMarkerEnv) == "1" {
		return cdMarker + path
	}
	return path
}
