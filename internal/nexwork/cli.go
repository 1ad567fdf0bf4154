package nexwork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"nexwork/internal/config"
	"nexwork/internal/history"
)

var Version = "dev"

// annotation marking commands that run without an opened workspace
const noWorkspaceAnnotation = "nexwork/no-workspace"

type cli struct {
	stdout io.Writer
	stderr io.Writer

	workspaceFlag string
	jsonOut       bool
	debug         bool

	settings config.Settings
	logger   *log.Logger
	history  *history.DB
	session  *Session
	closers  []func() error
}

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, args, os.Stdout, os.Stderr)
}

func RunContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr, session: NewSession(nil)}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	c.close()
	if err != nil {
		c.fail(err)
		return 1
	}
	return 0
}

// NewRootCommand returns the command tree without executing it.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr, session: NewSession(nil)}
	return c.rootCmd()
}

func (c *cli) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}

func (c *cli) fail(err error) {
	if c.jsonOut {
		_ = c.writeJSON(map[string]any{"success": false, "error": err.Error()})
		return
	}
	fmt.Fprintln(c.stderr, ErrorMsg("error: "+err.Error()))
}

func (c *cli) writeJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, string(data))
	return err
}

// emit prints v as a success envelope in JSON mode and runs human
// otherwise.
func (c *cli) emit(v any, human func()) error {
	if c.jsonOut {
		return c.writeJSON(map[string]any{"success": true, "data": v})
	}
	human()
	return nil
}

func (c *cli) println(a ...any) {
	fmt.Fprintln(c.stdout, a...)
}

func (c *cli) printf(format string, a ...any) {
	fmt.Fprintf(c.stdout, format, a...)
}

func (c *cli) workspace() (*Workspace, error) {
	if w := c.session.Current(); w != nil {
		return w, nil
	}
	return nil, ErrNoWorkspace
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nexwork",
		Short:         "Coordinate feature branches and worktrees across the repositories of a workspace",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&c.workspaceFlag, "workspace", "w", "", "workspace root (default: settings, then the current directory)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print machine readable JSON")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "log every git command")

	root.AddCommand(
		c.initCmd(),
		c.featureCmd(),
		c.projectCmd(),
		c.worktreeCmd(),
		c.statsCmd(),
		c.diffCmd(),
		c.syncStatusCmd(),
		c.fetchCmd(),
		c.gitOpCmd("pull", "Pull every feature worktree from origin"),
		c.gitOpCmd("push", "Push every feature branch to origin"),
		c.gitOpCmd("commit", "Stage and commit all changes in every feature worktree"),
		c.gitOpCmd("merge", "Merge the feature branch into its base in every main repository"),
		c.sweepCmd(),
		c.watchCmd(),
		c.daemonCmd(),
		c.historyCmd(),
		c.templatesCmd(),
		c.settingsCmd(),
		c.cdCmd(),
		c.shellHookCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	s, err := config.LoadSettings(c.workspaceFlag)
	if err != nil {
		return err
	}
	if s.Workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		if s, err = config.LoadSettings(cwd); err != nil {
			return err
		}
	}
	c.settings = s

	level := s.LogLevel
	if c.debug {
		level = "debug"
	}
	logger, closeLog, err := NewLogger(c.stderr, level, s.DebugLog)
	if err != nil {
		return err
	}
	c.logger = logger
	c.closers = append(c.closers, closeLog)

	if !needsWorkspace(cmd) {
		return nil
	}

	if s.HistoryDB != "" {
		db, err := history.Open(s.HistoryDB)
		if err != nil {
			logger.Warn("history unavailable", "path", s.HistoryDB, "err", err)
		} else {
			c.history = db
			c.closers = append(c.closers, db.Close)
		}
	}
	opts := Options{Root: s.Workspace, Settings: s, Logger: logger}
	if c.history != nil {
		opts.History = c.history
	}
	w, err := Open(opts)
	if err != nil {
		return err
	}
	c.session.Switch(w)
	return nil
}

func needsWorkspace(cmd *cobra.Command) bool {
	for p := cmd; p != nil; p = p.Parent() {
		if p.Annotations[noWorkspaceAnnotation] == "true" {
			return false
		}
		if p.Name() == "help" || p.Name() == "completion" || strings.HasPrefix(p.Name(), "__") {
			return false
		}
	}
	return true
}

func noWorkspace(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[noWorkspaceAnnotation] = "true"
	return cmd
}

func (c *cli) initCmd() *cobra.Command {
	var exclude []string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Discover the git repositories of the workspace and record them as projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			res, err := w.Init(exclude)
			if err != nil {
				return err
			}
			return c.emit(res, func() {
				c.println(SuccessMsg(fmt.Sprintf("%d projects in %s", len(res.Projects), StylePath.Render(w.Root))))
				for _, p := range res.Projects {
					c.printf("  %s %s\n", pad(p.Name, 24), StyleDim.Render(p.Path))
				}
				for _, name := range res.Removed {
					c.println(WarnMsg("dropped " + name))
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob of directories to skip (repeatable)")
	return cmd
}

// parseExpiry accepts "none", an RFC 3339 time, a YYYY-MM-DD date, a Go
// duration or a day count such as "7d", relative to now.
func parseExpiry(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "none"):
		return nil, nil
	case strings.HasSuffix(s, "d"):
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			t := now.Add(time.Duration(days) * 24 * time.Hour)
			return &t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := now.Add(d)
		return &t, nil
	}
	return nil, fmt.Errorf("invalid expiry %q (use none, 7d, 36h, 2006-01-02 or RFC 3339)", s)
}

// ParseFilter maps a feature list filter name to its predicate.
func ParseFilter(name string) (func(config.Feature, time.Time) bool, error) {
	switch name {
	case "", "all":
		return func(config.Feature, time.Time) bool { return true }, nil
	case "active":
		return func(f config.Feature, _ time.Time) bool { return f.Active() }, nil
	case "completed":
		return func(f config.Feature, _ time.Time) bool { return f.Completed() }, nil
	case "expired":
		return func(f config.Feature, now time.Time) bool { return f.Expired(now) }, nil
	default:
		return nil, fmt.Errorf("unknown filter %q (expected: all|active|completed|expired)", name)
	}
}

func parseBases(pairs map[string]string) map[string]string {
	out := make(map[string]string, len(pairs))
	for k, v := range pairs {
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func (c *cli) featureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "feature",
		Aliases: []string{"f"},
		Short:   "Create, inspect and remove features",
	}

	var (
		projects []string
		bases    map[string]string
		tmpl     string
		expires  string
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a feature and its branch in every selected project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			exp, err := parseExpiry(expires, time.Now())
			if err != nil {
				return err
			}
			f, err := w.CreateFeature(cmd.Context(), CreateFeatureRequest{
				Name:         strings.Join(args, " "),
				Projects:     projects,
				BaseBranches: parseBases(bases),
				Template:     tmpl,
				ExpiresAt:    exp,
			})
			if err != nil {
				return err
			}
			return c.emit(f, func() {
				c.println(SuccessMsg("created " + StyleBold.Render(f.Name)))
				for _, ps := range f.Projects {
					line := fmt.Sprintf("  %s %s from %s", pad(ps.Name, 20), StyleBranch.Render(ps.Branch), ps.BaseBranch)
					c.println(line)
					if ps.BranchError != "" {
						c.println("    " + WarnMsg("branch not created: "+ps.BranchError))
					}
				}
			})
		},
	}
	create.Flags().StringSliceVarP(&projects, "project", "p", nil, "project to include (repeatable)")
	create.Flags().StringToStringVarP(&bases, "base", "b", nil, "base branch per project, project=branch")
	create.Flags().StringVarP(&tmpl, "template", "t", "", "README template")
	create.Flags().StringVar(&expires, "expires", "", "expiry: 7d, 36h, 2006-01-02 or RFC 3339")

	var filter string
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List features",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			keep, err := ParseFilter(filter)
			if err != nil {
				return err
			}
			now := time.Now()
			var out []config.Feature
			for _, f := range w.Features() {
				if keep(f, now) {
					out = append(out, f)
				}
			}
			return c.emit(out, func() { c.renderFeatureList(out, now) })
		},
	}
	list.Flags().StringVar(&filter, "filter", "all", "all|active|completed|expired")

	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a feature and its projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			f, err := w.Feature(args[0])
			if err != nil {
				return err
			}
			return c.emit(f, func() { c.renderFeature(f, time.Now()) })
		},
	}

	teardown := func(use, short string, run func(*Workspace, context.Context, string) (*TeardownReport, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <name>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				w, err := c.workspace()
				if err != nil {
					return err
				}
				report, err := run(w, cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.emit(report, func() { c.renderTeardown(report) })
			},
		}
	}
	del := teardown("delete", "Remove worktrees, branches, tracking folder and the feature record", (*Workspace).DeleteFeature)
	del.Aliases = []string{"rm"}
	cleanup := teardown("cleanup", "Run the expiry cleanup for one feature now", (*Workspace).CleanupExpired)

	complete := &cobra.Command{
		Use:   "complete <name>",
		Short: "Mark every project of a feature completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			if err := w.CompleteFeature(cmd.Context(), args[0]); err != nil {
				return err
			}
			f, err := w.Feature(args[0])
			if err != nil {
				return err
			}
			return c.emit(f, func() { c.println(SuccessMsg(f.Name + " completed")) })
		},
	}

	expire := &cobra.Command{
		Use:   "expire <name> <when|none>",
		Short: "Set or clear the expiry of a feature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			exp, err := parseExpiry(args[1], time.Now())
			if err != nil {
				return err
			}
			if err := w.UpdateExpiration(cmd.Context(), args[0], exp); err != nil {
				return err
			}
			f, err := w.Feature(args[0])
			if err != nil {
				return err
			}
			return c.emit(f, func() {
				if exp == nil {
					c.println(SuccessMsg(f.Name + " no longer expires"))
					return
				}
				c.println(SuccessMsg(f.Name + " expires " + relTime(*exp, time.Now())))
			})
		},
	}

	cmd.AddCommand(create, list, show, del, complete, cleanup, expire)
	return cmd
}

func (c *cli) projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect projects and set their status within a feature",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the projects of the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			projects := w.Projects()
			return c.emit(projects, func() {
				if len(projects) == 0 {
					c.println(InfoMsg("no projects, run nexwork init"))
				}
				for _, p := range projects {
					c.printf("%s %s\n", pad(p.Name, 24), StyleDim.Render(p.Path))
				}
			})
		},
	}
	status := &cobra.Command{
		Use:   "status <feature> <project> <pending|in_progress|completed>",
		Short: "Set a project's status within a feature",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			st, err := config.ParseStatus(args[2])
			if err != nil {
				return err
			}
			if err := w.UpdateStatus(cmd.Context(), args[0], args[1], st); err != nil {
				return err
			}
			f, err := w.Feature(args[0])
			if err != nil {
				return err
			}
			return c.emit(f, func() {
				c.println(SuccessMsg(fmt.Sprintf("%s/%s is %s", f.Name, args[1], StatusStyle(st).Render(string(st)))))
			})
		},
	}
	branches := &cobra.Command{
		Use:   "branches <project>",
		Short: "List local and remote branches of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			list, err := w.ProjectBranches(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.emit(list, func() {
				for _, b := range list {
					if b.Remote {
						c.printf("%s %s\n", pad(b.Name, 40), StyleDim.Render("(remote)"))
					} else {
						c.println(b.Name)
					}
				}
			})
		},
	}
	var fetch bool
	base := &cobra.Command{
		Use:   "base <project> [branch]",
		Short: "Check whether a base branch is up to date with origin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			branch := ""
			if len(args) == 2 {
				branch = args[1]
			}
			st, err := w.CheckBase(cmd.Context(), args[0], branch, fetch)
			if err != nil {
				return err
			}
			return c.emit(st, func() { c.renderBaseStatus(st) })
		},
	}
	base.Flags().BoolVar(&fetch, "fetch", false, "fetch origin before comparing")
	update := &cobra.Command{
		Use:   "update-base <project> <branch>",
		Short: "Check out a base branch in the main repository and pull it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			st, err := w.UpdateBase(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.emit(st, func() { c.renderBaseStatus(st) })
		},
	}
	cmd.AddCommand(list, status, branches, base, update)
	return cmd
}

func (c *cli) worktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "worktree",
		Aliases: []string{"wt"},
		Short:   "Manage the worktrees of a feature",
	}
	create := &cobra.Command{
		Use:   "create <feature> <project>",
		Short: "Check the feature branch out in the feature's tracking folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			res, err := w.CreateWorktree(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.emit(res, func() {
				verb := "created"
				if res.Reused {
					verb = "reused"
				}
				c.println(SuccessMsg(verb + " " + StylePath.Render(res.Path)))
			})
		},
	}
	var force bool
	remove := &cobra.Command{
		Use:     "remove <feature> <project>",
		Aliases: []string{"rm"},
		Short:   "Remove a project's worktree",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			if err := w.RemoveWorktree(cmd.Context(), args[0], args[1], force); err != nil {
				return err
			}
			return c.emit(map[string]string{"feature": args[0], "project": args[1]}, func() {
				c.println(SuccessMsg("worktree removed"))
			})
		},
	}
	remove.Flags().BoolVarP(&force, "force", "f", false, "remove even with local changes")
	sync := &cobra.Command{
		Use:   "sync <feature>",
		Short: "Reconcile stored worktree paths with git",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			report, err := w.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.emit(report, func() {
				if !report.Changed() {
					c.println(InfoMsg("worktree paths up to date"))
				}
				for _, p := range report.Updated {
					c.println(SuccessMsg("updated " + p))
				}
				for _, p := range report.Cleared {
					c.println(WarnMsg("cleared stale path of " + p))
				}
				for _, e := range report.Errors {
					c.println(ErrorMsg(e.Error()))
				}
			})
		},
	}
	cmd.AddCommand(create, remove, sync)
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <feature>",
		Short: "Show progress and git statistics of a feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			stats, err := w.FeatureStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.emit(stats, func() { c.renderStats(stats) })
		},
	}
}

func (c *cli) diffCmd() *cobra.Command {
	var ignoreWS, namesOnly bool
	cmd := &cobra.Command{
		Use:   "diff <feature> <project>",
		Short: "Show committed and uncommitted changes of a project worktree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			d, err := w.ProjectDiff(cmd.Context(), args[0], args[1], ignoreWS)
			if err != nil {
				return err
			}
			return c.emit(d, func() {
				c.println(StyleHeader.Render(fmt.Sprintf("%d files against origin/%s", len(d.Files), d.BaseBranch)))
				for _, f := range d.Files {
					c.printf("%s %s %s\n", diffStatusStyle(f.Status).Render(f.Status), f.Path, StyleDim.Render("("+f.Source+")"))
					if !namesOnly && f.Diff != "" {
						c.println(f.Diff)
					}
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&ignoreWS, "ignore-whitespace", "W", false, "ignore whitespace changes")
	cmd.Flags().BoolVar(&namesOnly, "name-only", false, "list files without their diff")
	return cmd
}

func (c *cli) syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-status <feature>",
		Short: "Show how far every project worktree is ahead of or behind its remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			res, err := w.SyncStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.emit(res, func() {
				for _, s := range res {
					if s.Error != "" {
						c.printf("%s %s\n", pad(s.Project, 20), StyleDim.Render(s.Error))
						continue
					}
					remote := ""
					if s.NoRemote {
						remote = StyleDim.Render(" (not pushed)")
					}
					c.printf("%s ↑%d ↓%d%s\n", pad(s.Project, 20), s.Ahead, s.Behind, remote)
				}
			})
		},
	}
}

func (c *cli) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <feature>",
		Short: "Fetch origin in every project of a feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			res, err := w.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.emit(res, func() {
				for _, r := range res {
					switch {
					case r.TimedOut:
						c.println(WarnMsg(r.Project + ": timed out"))
					case r.Error != "":
						c.println(ErrorMsg(r.Project + ": " + r.Error))
					default:
						c.println(SuccessMsg(r.Project))
					}
				}
			})
		},
	}
}

func (c *cli) gitOpCmd(name, short string) *cobra.Command {
	var projects []string
	var message string
	cmd := &cobra.Command{
		Use:   name + " <feature>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var res []GitOpResult
			switch name {
			case "pull":
				res, err = w.Pull(ctx, args[0], projects)
			case "push":
				res, err = w.Push(ctx, args[0], projects)
			case "commit":
				res, err = w.Commit(ctx, args[0], message, projects)
			case "merge":
				res, err = w.Merge(ctx, args[0], projects)
			}
			if err != nil {
				return err
			}
			return c.emit(res, func() { c.renderGitOps(res) })
		},
	}
	cmd.Flags().StringSliceVarP(&projects, "project", "p", nil, "limit to these projects (repeatable)")
	if name == "commit" {
		cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
		_ = cmd.MarkFlagRequired("message")
	}
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove every expired feature once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := &Sweeper{Source: c.session, Logger: c.logger}
			removed := s.SweepOnce(cmd.Context())
			if removed == nil {
				removed = []string{}
			}
			return c.emit(removed, func() {
				if len(removed) == 0 {
					c.println(InfoMsg("no expired features"))
				}
				for _, name := range removed {
					c.println(SuccessMsg("removed " + name))
				}
			})
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <feature>",
		Short: "Print a feature's statistics whenever they may have changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = c.settings.PollInterval.Duration
			}
			p := &Poller{
				Source:   c.session,
				Feature:  args[0],
				Interval: interval,
				Logger:   c.logger,
				OnStats: func(s *FeatureStats) {
					if c.jsonOut {
						_ = c.writeJSON(s)
						return
					}
					c.println(StyleDim.Render(time.Now().Format(time.TimeOnly)))
					c.renderStats(s)
				},
			}
			return p.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default: poll_interval setting)")
	return cmd
}

func (c *cli) daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the expiry sweeper until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := &Sweeper{
				Source:       c.session,
				Interval:     c.settings.SweepInterval.Duration,
				InitialDelay: c.settings.SweepInitialDelay.Duration,
				Logger:       c.logger,
			}
			c.logger.Info("sweeper started", "interval", s.Interval, "initialDelay", s.InitialDelay)
			return s.Run(cmd.Context())
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [feature]",
		Short: "Show recorded feature activity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.history == nil {
				return errors.New("history is disabled (history_db is empty)")
			}
			feature := ""
			if len(args) == 1 {
				feature = args[0]
			}
			entries, err := c.history.Activity(cmd.Context(), feature, limit)
			if err != nil {
				return err
			}
			now := time.Now()
			return c.emit(entries, func() {
				for _, e := range entries {
					target := e.FeatureName
					if e.ProjectName != "" {
						target += "/" + e.ProjectName
					}
					c.printf("%s %s %s %s\n", StyleDim.Render(pad(relTime(e.Timestamp, now), 16)), pad(string(e.Type), 9), StyleBold.Render(target), e.Details)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Show totals across recorded features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.history == nil {
				return errors.New("history is disabled (history_db is empty)")
			}
			s, err := c.history.Stats(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			return c.emit(s, func() {
				c.println(StyleBox.Render(fmt.Sprintf("features %d  active %d  completed %d\nprojects %d  activity (24h) %d",
					s.TotalFeatures, s.ActiveFeatures, s.CompletedFeatures, s.TotalProjects, s.RecentActivity)))
			})
		},
	}
	cmd.AddCommand(summary)
	return cmd
}

func (c *cli) templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage README templates",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in and custom templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			ts, err := w.Templates()
			if err != nil {
				return err
			}
			return c.emit(ts, func() {
				for _, t := range ts {
					kind := "custom"
					if t.Builtin {
						kind = "built-in"
					}
					c.printf("%s %s\n", pad(t.Name, 20), StyleDim.Render(kind))
				}
			})
		},
	}
	create := &cobra.Command{
		Use:   "create <name> <file|->",
		Short: "Store a custom template read from a file or stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			var content []byte
			if args[1] == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			if err := w.CreateTemplate(args[0], string(content)); err != nil {
				return err
			}
			return c.emit(map[string]string{"name": args[0]}, func() { c.println(SuccessMsg("template " + args[0] + " saved")) })
		},
	}
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a custom template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			if err := w.DeleteTemplate(args[0]); err != nil {
				return err
			}
			return c.emit(map[string]string{"name": args[0]}, func() { c.println(SuccessMsg("template " + args[0] + " deleted")) })
		},
	}
	preview := &cobra.Command{
		Use:   "preview <name> [feature]",
		Short: "Render a template for an existing or sample feature",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			f := sampleFeature(w, time.Now())
			if len(args) == 2 {
				if f, err = w.Feature(args[1]); err != nil {
					return err
				}
			}
			out, err := w.RenderTemplate(args[0], f)
			if err != nil {
				return err
			}
			return c.emit(map[string]string{"name": args[0], "content": out}, func() { c.printf("%s", out) })
		},
	}
	cmd.AddCommand(list, create, del, preview)
	return cmd
}

func sampleFeature(w *Workspace, now time.Time) config.Feature {
	f := config.Feature{Name: "example-feature", CreatedAt: now}
	base := w.Settings.DefaultBaseBranch
	if base == "" {
		base = fallbackBaseBranch
	}
	for _, p := range w.Projects() {
		f.Projects = append(f.Projects, config.ProjectStatus{Name: p.Name, Branch: BranchName(f.Name), BaseBranch: base, Status: config.StatusPending})
	}
	return f
}

func (c *cli) settingsCmd() *cobra.Command {
	return noWorkspace(&cobra.Command{
		Use:   "settings",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.emit(c.settings, func() {
				c.printf("global file     %s\n", StylePath.Render(config.GlobalSettingsPath()))
				c.printf("workspace       %s\n", StylePath.Render(c.settings.Workspace))
				c.printf("base branch     %s\n", c.settings.DefaultBaseBranch)
				c.printf("template        %s\n", c.settings.DefaultTemplate)
				c.printf("git timeout     %s\n", c.settings.GitTimeout())
				c.printf("network timeout %s\n", c.settings.NetworkTimeout())
				c.printf("sweep interval  %s (first after %s)\n", c.settings.SweepInterval.Duration, c.settings.SweepInitialDelay.Duration)
				c.printf("poll interval   %s\n", c.settings.PollInterval.Duration)
				c.printf("history db      %s\n", StylePath.Render(c.settings.HistoryDB))
				c.printf("log level       %s\n", c.settings.LogLevel)
			})
		},
	})
}

func (c *cli) cdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cd <feature> <project>",
		Short: "Print a project's worktree path; the nw shell function changes into it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			if _, err := w.Reconcile(cmd.Context(), args[0]); err != nil {
				return err
			}
			f, err := w.Feature(args[0])
			if err != nil {
				return err
			}
			ps, ok := f.Project(args[1])
			if !ok {
				return projectNotFound(args[1])
			}
			if ps.WorktreePath == "" {
				return fmt.Errorf("%w: %s has no worktree for %s", ErrWorktreeNotFound, ps.Name, f.Name)
			}
			return c.emit(map[string]string{"path": ps.WorktreePath}, func() { c.println(cdLine(ps.WorktreePath)) })
		},
	}
}

func (c *cli) shellHookCmd() *cobra.Command {
	var fn string
	cmd := noWorkspace(&cobra.Command{
		Use:       "shell-hook <bash|zsh|fish>",
		Short:     "Print a shell function that follows `nexwork cd`; add it to your shell rc file",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			hook, err := ShellHook(args[0], fn)
			if err != nil {
				return err
			}
			c.printf("%s", hook)
			return nil
		},
	})
	cmd.Flags().StringVar(&fn, "name", "nw", "name of the shell function")
	return cmd
}
