package dashboard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/superset"
)

const (
	placeholderCourseID     = "{course_id}"
	placeholderCourseOrg    = "{course_id.org}"
	placeholderUserUsername = "{user.username}"

	courseKeyPrefix = "course-v1:"
)

var (
	// ErrInvalidCourseKey indicates a course id that is neither course-v1 nor slash separated.
	ErrInvalidCourseKey = errors.New("dashboard: invalid course key")

	// DefaultFilterFormats restrict every dashboard to the requested course.
	DefaultFilterFormats = []string{
		"org = '" + placeholderCourseOrg + "'",
		"course_key = '" + placeholderCourseID + "'",
	}

	// KnownPlaceholders lists the substitutions FormatFilters understands.
	KnownPlaceholders = []string{placeholderCourseID, placeholderCourseOrg, placeholderUserUsername}

	courseKeyPartPattern = regexp.MustCompile(`^[A-Za-z0-9_.~\-:%]+$`)
	placeholderPattern   = regexp.MustCompile(`\{[^{}]*\}`)
)

// CourseKey identifies a course run.
type CourseKey struct {
	Org    string
	Course string
	Run    string
	legacy bool
}

// ParseCourseKey accepts "course-v1:ORG+COURSE+RUN" and the legacy "ORG/COURSE/RUN".
func ParseCourseKey(raw string) (CourseKey, error) {
	trimmed := strings.TrimSpace(raw)
	var parts []string
	legacy := false
	switch {
	case strings.HasPrefix(trimmed, courseKeyPrefix):
		parts = strings.Split(strings.TrimPrefix(trimmed, courseKeyPrefix), "+")
	case strings.Count(trimmed, "/") == 2:
		parts = strings.Split(trimmed, "/")
		legacy = true
	default:
		return CourseKey{}, fmt.Errorf("%w: %q", ErrInvalidCourseKey, raw)
	}
	if len(parts) != 3 {
		return CourseKey{}, fmt.Errorf("%w: %q", ErrInvalidCourseKey, raw)
	}
	for _, part := range parts {
		if !courseKeyPartPattern.MatchString(part) {
			return CourseKey{}, fmt.Errorf("%w: %q", ErrInvalidCourseKey, raw)
		}
	}
	return CourseKey{Org: parts[0], Course: parts[1], Run: parts[2], legacy: legacy}, nil
}

func (key CourseKey) String() string {
	if key.legacy {
		return key.Org + "/" + key.Course + "/" + key.Run
	}
	return courseKeyPrefix + key.Org + "+" + key.Course + "+" + key.Run
}

// FormatFilters substitutes course and viewer placeholders into filter formats.
// Single quotes in the username are doubled so it stays inside a SQL string
// literal.
func FormatFilters(formats []string, course CourseKey, username string) []string {
	replacer := strings.NewReplacer(
		placeholderCourseOrg, course.Org,
		placeholderCourseID, course.String(),
		placeholderUserUsername, strings.ReplaceAll(username, "'", "''"),
	)
	formatted := make([]string, 0, len(formats))
	for _, format := range formats {
		trimmed := strings.TrimSpace(format)
		if trimmed == "" {
			continue
		}
		formatted = append(formatted, replacer.Replace(trimmed))
	}
	return formatted
}

// UnknownPlaceholders returns the placeholders in format FormatFilters would leave untouched.
func UnknownPlaceholders(format string) []string {
	var unknown []string
	for _, match := range placeholderPattern.FindAllString(format, -1) {
		known := false
		for _, placeholder := range KnownPlaceholders {
			if match == placeholder {
				known = true
				break
			}
		}
		if !known {
			unknown = append(unknown, match)
		}
	}
	return unknown
}

// RLSRules turns clauses into row level security rules.
func RLSRules(clauses []string) []superset.RLSRule {
	rules := make([]superset.RLSRule, 0, len(clauses))
	for _, clause := range clauses {
		rules = append(rules, superset.RLSRule{Clause: clause})
	}
	return rules
}
