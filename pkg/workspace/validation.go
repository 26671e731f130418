package workspace

import (
	"fmt"
	"strings"
)

// Severity of a validation issue. Only errors block preparation.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// IssueType categorizes a validation issue.
type IssueType string

const (
	IssueMissingField      IssueType = "missing_field"
	IssueInvalidID         IssueType = "invalid_id"
	IssueDirectoryNotFound IssueType = "directory_not_found"
	IssueInvalidManifest   IssueType = "invalid_manifest"
	IssueDuplicateManifest IssueType = "duplicate_manifest"
	IssueInvalidPath       IssueType = "invalid_path"
	IssueEmptyWorkspace    IssueType = "empty_workspace"
	IssueUnknownStrategy   IssueType = "unknown_strategy"
	IssueMissingExecutable IssueType = "missing_executable"
	IssueCrossVolume       IssueType = "cross_volume"
	IssueInsufficientSpace IssueType = "insufficient_space"
	IssuePermission        IssueType = "permission"
	IssueUnsupported       IssueType = "unsupported"
)

// Issue is a single validation finding.
type Issue struct {
	Severity Severity
	Type     IssueType
	Path     string
	Message  string
}

func (i Issue) String() string {
	if i.Path != "" {
		return fmt.Sprintf("%s [%s] %s: %s", i.Severity, i.Type, i.Path, i.Message)
	}
	return fmt.Sprintf("%s [%s] %s", i.Severity, i.Type, i.Message)
}

// ValidationResult collects the issues of one validation pass.
type ValidationResult struct {
	Issues []Issue
}

// Add appends an issue.
func (r *ValidationResult) Add(sev Severity, typ IssueType, path, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Severity: sev,
		Type:     typ,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// IsValid reports whether the result holds no errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors()) == 0
}

// Errors returns the error-level issues.
func (r *ValidationResult) Errors() []Issue {
	return r.filter(SeverityError)
}

// Warnings returns the warning-level issues.
func (r *ValidationResult) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

// HasIssue reports whether an issue of the given type and severity exists.
func (r *ValidationResult) HasIssue(sev Severity, typ IssueType) bool {
	for _, i := range r.Issues {
		if i.Severity == sev && i.Type == typ {
			return true
		}
	}
	return false
}

func (r *ValidationResult) filter(sev Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}

// Summary joins the error messages for use in an error string.
func (r *ValidationResult) Summary() string {
	errs := r.Errors()
	msgs := make([]string, 0, len(errs))
	for _, i := range errs {
		msgs = append(msgs, i.String())
	}
	return strings.Join(msgs, "; ")
}
