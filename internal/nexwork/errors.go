package nexwork

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrNoWorkspace       = errors.New("no workspace configured")
	ErrFeatureNotFound   = errors.New("feature not found")
	ErrFeatureExists     = errors.New("feature already exists")
	ErrProjectNotFound   = errors.New("project not found")
	ErrNoProjects        = errors.New("at least one project must be selected")
	ErrInvalidName       = errors.New("invalid name")
	ErrBranchCheckedOut  = errors.New("feature branch is checked out in the main repository")
	ErrWorktreeNotFound  = errors.New("worktree not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrInvalidWorkspace  = errors.New("invalid workspace path")
	ErrProjectPathAbsent = errors.New("project path does not exist")
	ErrDirtyRepository   = errors.New("repository has uncommitted changes")
	ErrBranchNotFound    = errors.New("branch not found")
)

// StepError records one failed step of a multi-project operation. Project
// is empty for steps that are not tied to a project.
type StepError struct {
	Project string `json:"project,omitempty"`
	Step    string `json:"step"`
	Err     error  `json:"-"`
}

func (e StepError) Error() string {
	if e.Project == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Project, e.Step, e.Err)
}

func (e StepError) Unwrap() error { return e.Err }

// MarshalJSON renders Err as its message.
func (e StepError) MarshalJSON() ([]byte, error) {
	type wire struct {
		Project string `json:"project,omitempty"`
		Step    string `json:"step"`
		Error   string `json:"error"`
	}
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(wire{Project: e.Project, Step: e.Step, Error: msg})
}

func featureNotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrFeatureNotFound, name)
}

func projectNotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrProjectNotFound, name)
}
