package runner

import (
	"context"
	"errors"
	"sync"
)

// Fake is a scripted Runner for tests. Rules are matched against the
// command's directory and argv prefix. A rule bound to a directory beats
// one that is not, then the longer argv prefix wins, then the later rule.
// Unmatched commands go to Next when set and fail otherwise.
type Fake struct {
	Next Runner

	mu    sync.Mutex
	rules []*Reply
	calls []Command
}

// Reply is the scripted outcome of a rule.
type Reply struct {
	dir    string
	argv   []string
	stdout string
	output string
	exit   int
	err    error
	times  int
}

// On registers a rule. An empty dir matches every directory and an empty
// argv matches every command.
func (f *Fake) On(dir string, argv ...string) *Reply {
	r := &Reply{dir: dir, argv: argv}
	f.mu.Lock()
	f.rules = append(f.rules, r)
	f.mu.Unlock()
	return r
}

// Returns makes the rule succeed with stdout.
func (r *Reply) Returns(stdout string) *Reply {
	r.stdout = stdout
	r.err = nil
	r.exit = 0
	return r
}

// Fails makes the rule exit with status 1 and the given stderr.
func (r *Reply) Fails(stderr string) *Reply {
	r.output = stderr
	r.exit = 1
	r.err = errors.New("exit status 1")
	return r
}

// TimesOut makes the rule report a timeout.
func (r *Reply) TimesOut() *Reply {
	r.exit = -1
	r.err = ErrTimedOut
	return r
}

// Once limits the rule to n matches, after which it no longer applies.
func (r *Reply) Once(n int) *Reply {
	r.times = n
	return r
}

func (f *Fake) Run(ctx context.Context, c Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	rule := f.match(c)
	if rule != nil && rule.times > 0 {
		rule.times--
		if rule.times == 0 {
			rule.times = -1
		}
	}
	next := f.Next
	f.mu.Unlock()

	if rule == nil {
		if next != nil {
			return next.Run(ctx, c)
		}
		res := Result{Stderr: "fake: no rule", ExitCode: 1}
		return res, &CommandError{Cmd: c, ExitCode: 1, Output: "fake: no rule", Err: errors.New("exit status 1")}
	}
	res := Result{Stdout: rule.stdout, Stderr: rule.output, ExitCode: rule.exit}
	if rule.err != nil {
		return res, &CommandError{Cmd: c, ExitCode: rule.exit, Output: rule.output, Err: rule.err}
	}
	return res, nil
}

func (f *Fake) match(c Command) *Reply {
	argv := append([]string{c.Name}, c.Args...)
	var best *Reply
	bestScore := -1
	for _, r := range f.rules {
		if r.times < 0 {
			continue
		}
		if r.dir != "" && r.dir != c.Dir {
			continue
		}
		if !hasPrefix(argv, r.argv) {
			continue
		}
		score := len(r.argv)
		if r.dir != "" {
			score += 1000
		}
		if score >= bestScore {
			best, bestScore = r, score
		}
	}
	return best
}

func hasPrefix(argv, prefix []string) bool {
	if len(prefix) > len(argv) {
		return false
	}
	for i := range prefix {
		if argv[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Calls returns every command seen so far.
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many recorded commands in dir start with argv.
func (f *Fake) Count(dir string, argv ...string) int {
	n := 0
	for _, c := range f.Calls() {
		if dir != "" && c.Dir != dir {
			continue
		}
		if hasPrefix(append([]string{c.Name}, c.Args...), argv) {
			n++
		}
	}
	return n
}
