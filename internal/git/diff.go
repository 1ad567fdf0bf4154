package git

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	filesChangedRe = regexp.MustCompile(`(\d+) files? changed`)
	insertionsRe   = regexp.MustCompile(`(\d+) insertions?\(\+\)`)
	deletionsRe    = regexp.MustCompile(`(\d+) deletions?\(-\)`)
)

// ShortStat is the summary line printed by `git diff --shortstat`.
type ShortStat struct {
	FilesChanged int `json:"filesChanged"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// ParseShortStat reads a shortstat summary. Missing groups count as zero.
func ParseShortStat(out string) ShortStat {
	return ShortStat{
		FilesChanged: firstInt(filesChangedRe, out),
		Insertions:   firstInt(insertionsRe, out),
		Deletions:    firstInt(deletionsRe, out),
	}
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Max combines two stats field by field.
func (s ShortStat) Max(o ShortStat) ShortStat {
	return ShortStat{
		FilesChanged: max(s.FilesChanged, o.FilesChanged),
		Insertions:   max(s.Insertions, o.Insertions),
		Deletions:    max(s.Deletions, o.Deletions),
	}
}

func (s ShortStat) Add(o ShortStat) ShortStat {
	return ShortStat{
		FilesChanged: s.FilesChanged + o.FilesChanged,
		Insertions:   s.Insertions + o.Insertions,
		Deletions:    s.Deletions + o.Deletions,
	}
}

// DiffOptions select what a diff compares. An empty Rev compares the
// working tree against HEAD.
type DiffOptions struct {
	Rev              string
	IgnoreWhitespace bool
}

func (o DiffOptions) args(extra ...string) []string {
	args := []string{"diff"}
	if o.Rev != "" {
		args = append(args, o.Rev)
	} else {
		args = append(args, "HEAD")
	}
	if o.IgnoreWhitespace {
		args = append(args, "--ignore-all-space")
	}
	return append(args, extra...)
}

func (r *Repo) ShortStat(ctx context.Context, opts DiffOptions) (ShortStat, error) {
	out, err := r.Run(ctx, opts.args("--shortstat")...)
	if err != nil {
		return ShortStat{}, err
	}
	return ParseShortStat(out), nil
}

// NameStatusEntry is one line of `git diff --name-status`.
type NameStatusEntry struct {
	Status string
	Path   string
}

// ParseNameStatus reads --name-status output, either newline and tab
// separated or NUL separated (-z). Rename and copy entries report the
// destination path.
func ParseNameStatus(out string) []NameStatusEntry {
	var res []NameStatusEntry
	if strings.Contains(out, "\x00") {
		res = parseNameStatusZ(out)
	} else {
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			fields := strings.Split(line, "\t")
			if len(fields) < 2 {
				continue
			}
			status := strings.TrimSpace(fields[0])
			if status == "" {
				continue
			}
			res = append(res, NameStatusEntry{Status: status[:1], Path: fields[len(fields)-1]})
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res
}

// parseNameStatusZ reads "<status>\0<path>\0" records; R and C records
// carry a source and a destination path.
func parseNameStatusZ(out string) []NameStatusEntry {
	var res []NameStatusEntry
	tokens := strings.Split(strings.TrimLeft(out, "\n"), "\x00")
	for i := 0; i < len(tokens); {
		status := strings.TrimSpace(tokens[i])
		if status == "" {
			i++
			continue
		}
		paths := 1
		if status[0] == 'R' || status[0] == 'C' {
			paths = 2
		}
		if i+paths >= len(tokens) {
			break
		}
		res = append(res, NameStatusEntry{Status: status[:1], Path: tokens[i+paths]})
		i += paths + 1
	}
	return res
}

// NameStatus lists changed paths. Paths come back unquoted so they can be
// passed to FileDiff as they are.
func (r *Repo) NameStatus(ctx context.Context, opts DiffOptions) ([]NameStatusEntry, error) {
	out, err := r.Run(ctx, opts.args("--name-status", "--no-renames", "-z")...)
	if err != nil {
		return nil, err
	}
	return ParseNameStatus(out), nil
}

// FileDiff returns the unified diff of a single path.
func (r *Repo) FileDiff(ctx context.Context, opts DiffOptions, path string) (string, error) {
	return r.Run(ctx, opts.args("--", path)...)
}
