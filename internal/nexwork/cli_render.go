package nexwork

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"nexwork/internal/config"
)

const pathWidth = 48

func relTime(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func (c *cli) renderFeatureList(features []config.Feature, now time.Time) {
	if len(features) == 0 {
		c.println(InfoMsg("no features"))
		return
	}
	c.printf("%s %s %s %s\n",
		StyleHeader.Render(pad("FEATURE", 30)),
		StyleHeader.Render(pad("PROGRESS", 9)),
		StyleHeader.Render(pad("UPDATED", 16)),
		StyleHeader.Render("EXPIRES"))
	for _, f := range features {
		s := summarize(f)
		progress := fmt.Sprintf("%d/%d", s.Completed, s.Total)
		expires := "-"
		if f.ExpiresAt != nil {
			expires = relTime(*f.ExpiresAt, now)
			if f.Expired(now) {
				expires = StyleError.Render("expired " + expires)
			}
		}
		name := pad(f.Name, 30)
		if f.Completed() {
			name = StyleSuccess.Render(name)
		}
		c.printf("%s %s %s %s\n", name, pad(progress, 9), StyleDim.Render(pad(relTime(f.UpdatedAt, now), 16)), expires)
	}
}

func (c *cli) renderFeature(f config.Feature, now time.Time) {
	header := fmt.Sprintf("%s\nbranch %s\ncreated %s", StyleBold.Render(f.Name), StyleBranch.Render(BranchName(f.Name)), relTime(f.CreatedAt, now))
	if f.ExpiresAt != nil {
		header += "\nexpires " + relTime(*f.ExpiresAt, now)
	}
	if f.Template != "" {
		header += "\ntemplate " + f.Template
	}
	c.println(StyleBox.Render(header))
	for _, ps := range f.Projects {
		path := StyleDim.Render("no worktree")
		if ps.WorktreePath != "" {
			path = StylePath.Render(truncateLeft(ps.WorktreePath, pathWidth))
		}
		c.printf("%s %s %s %s\n",
			pad(ps.Name, 20),
			StatusStyle(ps.Status).Render(pad(string(ps.Status), 12)),
			pad("from "+ps.BaseBranch, 20),
			path)
		if ps.BranchError != "" {
			c.println("  " + WarnMsg("branch not created: "+ps.BranchError))
		}
	}
}

func (c *cli) renderTeardown(r *TeardownReport) {
	if r.NotFound {
		c.println(InfoMsg(r.Feature + " not found, nothing to remove"))
		return
	}
	c.println(SuccessMsg("removed " + StyleBold.Render(r.Feature)))
	if len(r.RemovedWorktrees) > 0 {
		c.println("  worktrees: " + strings.Join(r.RemovedWorktrees, ", "))
	}
	if len(r.DeletedBranches) > 0 {
		c.println("  branches:  " + strings.Join(r.DeletedBranches, ", "))
	}
	for _, e := range r.Errors {
		c.println("  " + WarnMsg(e.Error()))
	}
}

func (c *cli) renderStats(s *FeatureStats) {
	ps := s.ProjectStatus
	summary := fmt.Sprintf("%s  %d%% (%d/%d completed, %d in progress)\nelapsed %s\n%d commits  %d files  %s %s  net %+d",
		StyleBold.Render(s.Feature),
		ps.Progress, ps.Completed, ps.Total, ps.InProgress,
		s.TimeTracking.Elapsed,
		s.GitStats.Commits, s.GitStats.FilesChanged,
		StyleAdded.Render(fmt.Sprintf("+%d", s.GitStats.LinesAdded)),
		StyleDeleted.Render(fmt.Sprintf("-%d", s.GitStats.LinesDeleted)),
		s.GitStats.NetChange)
	c.println(StyleBox.Render(summary))
	for _, d := range s.ProjectDetails {
		g := d.GitStats
		c.printf("%s %s %3d commits %3d files %s %s\n",
			pad(d.Name, 20),
			StatusStyle(d.Status).Render(pad(string(d.Status), 12)),
			g.Commits, g.FilesChanged,
			StyleAdded.Render(fmt.Sprintf("+%d", g.LinesAdded)),
			StyleDeleted.Render(fmt.Sprintf("-%d", g.LinesDeleted)))
		if d.MainRepoHasChanges {
			c.println("  " + WarnMsg(fmt.Sprintf("main repository has %d uncommitted files", len(d.MainRepoChangedFiles))))
		}
		for _, e := range d.Errors {
			c.println("  " + StyleDim.Render(e))
		}
	}
}

func (c *cli) renderGitOps(res []GitOpResult) {
	for _, r := range res {
		switch {
		case r.TimedOut:
			c.println(WarnMsg(r.Project + ": timed out"))
		case r.Failed():
			c.println(ErrorMsg(r.Project + ": " + r.Error))
		case r.Skipped:
			c.println(InfoMsg(r.Project + ": nothing to do"))
		default:
			c.println(SuccessMsg(r.Project + ": " + r.Output))
		}
	}
}

func (c *cli) renderBaseStatus(st *BaseStatus) {
	label := fmt.Sprintf("%s %s", st.Project, st.Branch)
	switch {
	case !st.RemoteExists:
		c.println(InfoMsg(label + ": no remote branch"))
	case !st.LocalExists:
		c.println(WarnMsg(label + ": only on origin"))
	case st.UpToDate:
		c.println(SuccessMsg(fmt.Sprintf("%s: up to date (%d ahead)", label, st.Ahead)))
	default:
		c.println(WarnMsg(fmt.Sprintf("%s: %d behind, %d ahead", label, st.Behind, st.Ahead)))
	}
	if st.FetchError != "" {
		c.println(WarnMsg("fetch failed: " + st.FetchError))
	}
}
