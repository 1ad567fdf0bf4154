package nexwork

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// BranchPrefix is prepended to a feature name to form its branch.
	BranchPrefix  = "feature/"
	maxNameLength = 255
)

var (
	featureNameRe = regexp.MustCompile(`^[\p{L}\p{N} ._+#-]+$`)
	branchNameRe  = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)
	projectNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	folderBadRe   = regexp.MustCompile(`[^a-zA-Z0-9]`)

	forbiddenBranchPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\.`),
		regexp.MustCompile(`\.lock$`),
		regexp.MustCompile(`@\{`),
		regexp.MustCompile(`\.\.`),
		regexp.MustCompile(`//`),
		regexp.MustCompile(`^/|/$`),
	}

	systemDirs = []string{
		"/system",
		"/windows",
		"/program files",
		"/bin",
		"/sbin",
		"/usr/bin",
		"/usr/sbin",
	}
)

// ValidateFeatureName rejects names that could not safely become part of
// a branch, a folder or a command argument.
func ValidateFeatureName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return fmt.Errorf("%w: feature name is required", ErrInvalidName)
	case trimmed != name:
		return fmt.Errorf("%w: feature name %q has leading or trailing spaces", ErrInvalidName, name)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: feature name too long (max %d characters)", ErrInvalidName, maxNameLength)
	case !featureNameRe.MatchString(name):
		return fmt.Errorf("%w: feature name %q may only contain letters, digits, spaces and . _ + # -", ErrInvalidName, name)
	case strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-"):
		return fmt.Errorf("%w: feature name %q must not start with '.' or '-'", ErrInvalidName, name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: feature name %q must not contain '..'", ErrInvalidName, name)
	case strings.HasSuffix(name, ".lock"):
		return fmt.Errorf("%w: feature name %q must not end with .lock", ErrInvalidName, name)
	}
	return nil
}

func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("%w: branch name is required", ErrInvalidName)
	}
	if !branchNameRe.MatchString(branch) {
		return fmt.Errorf("%w: invalid characters in branch name %q", ErrInvalidName, branch)
	}
	for _, re := range forbiddenBranchPatterns {
		if re.MatchString(branch) {
			return fmt.Errorf("%w: branch name %q contains a forbidden pattern", ErrInvalidName, branch)
		}
	}
	return nil
}

func ValidateProjectName(name string) error {
	if !projectNameRe.MatchString(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: invalid project name %q", ErrInvalidName, name)
	}
	return nil
}

// ValidateWorkspacePath requires an existing absolute directory outside
// the system directories.
func ValidateWorkspacePath(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s is not absolute", ErrInvalidWorkspace, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidWorkspace, path)
	}
	normalized := strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
	for _, dir := range systemDirs {
		if normalized == dir || strings.HasPrefix(normalized, dir+"/") {
			return fmt.Errorf("%w: %s is a system directory", ErrInvalidWorkspace, path)
		}
	}
	return nil
}

// BranchName returns the branch shared by every project of a feature.
func BranchName(feature string) string {
	return BranchPrefix + feature
}

// FolderName is the tracking folder of a feature created at created:
// the UTC date followed by the name with every non-alphanumeric
// character replaced by '-'.
func FolderName(feature string, created time.Time) string {
	return created.UTC().Format("2006-01-02") + "-" + folderBadRe.ReplaceAllString(feature, "-")
}

// withinDir reports whether path is dir or below it.
func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
