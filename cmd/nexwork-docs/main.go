// Command nexwork-docs writes the CLI and settings reference as markdown.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"nexwork/internal/config"
	"nexwork/internal/nexwork"
)

type Command struct {
	Name        string
	Usage       string
	Description string
	Flags       string
	Aliases     string
}

const cliDocTemplate = `# CLI Commands Reference

Complete reference for all nexwork commands. Every command accepts the global
flags {{ backtick }}--workspace{{ backtick }}, {{ backtick }}--json{{ backtick }} and {{ backtick }}--debug{{ backtick }}.
{{ range .Commands }}
## {{ .Name }}

**Usage:** {{ backtick }}{{ .Usage }}{{ backtick }}
{{ if .Aliases }}
**Aliases:** {{ .Aliases }}
{{ end }}
{{ .Description }}
{{ if .Flags }}
{{ fence }}
{{ .Flags }}{{ fence }}
{{ end }}{{ end }}`

const settingsDocTemplate = `# Settings Reference

nexwork reads {{ backtick }}{{ .GlobalPath }}{{ backtick }} (override with {{ backtick }}NEXWORK_CONFIG{{ backtick }}),
then {{ backtick }}{{ .WorkspaceFile }}{{ backtick }} in the workspace root, then environment variables.

| Option | Type | Default | Environment Variable | Description |
|--------|------|---------|---------------------|-------------|
{{ range .Options }}| {{ backtick }}{{ .Key }}{{ backtick }} | {{ .Type }} | {{ if .Default }}{{ backtick }}{{ .Default }}{{ backtick }}{{ end }} | {{ if .EnvVar }}{{ backtick }}{{ .EnvVar }}{{ backtick }}{{ end }} | {{ .Description }} |
{{ end }}`

var funcs = template.FuncMap{
	"backtick": func() string { return "`" },
	"fence":    func() string { return "```" },
}

func main() {
	out := flag.String("out", "docs", "output directory")
	flag.Parse()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating docs directory: %v\n", err)
		os.Exit(1)
	}

	root := nexwork.NewRootCommand(io.Discard, io.Discard)
	cli, err := render(cliDocTemplate, map[string]any{"Commands": collect(root)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating docs: %v\n", err)
		os.Exit(1)
	}
	settings, err := render(settingsDocTemplate, map[string]any{
		"GlobalPath":    "~/.config/nexwork/config.toml",
		"WorkspaceFile": config.SettingsFileName,
		"Options":       config.SettingsReference(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating docs: %v\n", err)
		os.Exit(1)
	}

	for name, data := range map[string][]byte{"commands.md": cli, "settings.md": settings} {
		path := filepath.Join(*out, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "error writing docs: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s\n", path)
	}
}

func render(text string, data any) ([]byte, error) {
	tmpl, err := template.New("doc").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// collect walks the command tree depth first and returns every runnable
// command.
func collect(cmd *cobra.Command) []Command {
	var res []Command
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		if sub.Runnable() {
			desc := sub.Long
			if desc == "" {
				desc = sub.Short
			}
			res = append(res, Command{
				Name:        strings.TrimPrefix(sub.CommandPath(), cmd.Root().Name()+" "),
				Usage:       sub.UseLine(),
				Description: desc,
				Flags:       sub.LocalNonPersistentFlags().FlagUsages(),
				Aliases:     strings.Join(sub.Aliases, ", "),
			})
		}
		res = append(res, collect(sub)...)
	}
	return res
}
