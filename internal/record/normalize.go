package record

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxSummaryRunes caps one-line summaries. Anything longer is content,
// not a summary, and belongs in the payload or an evidence file.
const MaxSummaryRunes = 500

// NormalizeSummary canonicalizes a one-line summary: Unicode NFC, interior
// whitespace runs collapsed to single spaces, trimmed, capped at
// MaxSummaryRunes. Equality of normalized summaries is what the reducer's
// decision-key collision check compares.
func NormalizeSummary(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > MaxSummaryRunes {
		s = string(runes[:MaxSummaryRunes])
	}
	return s
}

// ScopeSlug derives the shard directory name for a scope. The namespace
// separator maps to '-' so "project:demo" shards under "project-demo".
func ScopeSlug(scope string) string {
	return Slugify(strings.ReplaceAll(scope, ":", "-"))
}

// ProjectScopePrefix marks scopes bound to a single project.
const ProjectScopePrefix = "project:"

// InferProject resolves the project slug for an event: an explicit
// project wins, otherwise a "project:<name>" scope implies one, otherwise
// empty (scope-only record).
func InferProject(scope, project string) string {
	if project != "" {
		return Slugify(project)
	}
	if name, ok := strings.CutPrefix(scope, ProjectScopePrefix); ok {
		return Slugify(name)
	}
	return ""
}

// Slugify derives a filesystem-safe name from free text: NFC, lowercase,
// every non-alphanumeric run collapsed to a single '-', edge dashes
// trimmed. Empty input slugs to "default". Used for project directories
// and attach capsule names.
func Slugify(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "default"
	}
	return out
}
