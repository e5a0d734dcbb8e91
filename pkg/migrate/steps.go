// Package migrate applies a list of declarative migration steps to the Go
// source files in a repository, using a full AST parse/transform/generate
// pipeline with stash-backed atomic rollback.
package migrate

import (
	"regexp"
	"strings"
)

// StepKind discriminates the tagged union of parsed migration steps.
type StepKind string

const (
	KindUpdateImport       StepKind = "update-import"
	KindAddImport          StepKind = "add-import"
	KindReplaceCall        StepKind = "replace-call"
	KindRemoveDeclaration  StepKind = "remove-declaration"
)

// Step is a parsed migration instruction. Only the fields relevant to Kind
// are populated.
type Step struct {
	Kind StepKind

	// update-import
	OldPath string
	NewPath string

	// add-import
	Imported string // bare name, "{ a, b }", or "*"
	Source   string

	// replace-call
	OldName string
	NewName string // may be dotted, e.g. "pkg.Func"

	// remove-declaration
	Name string

	// Raw is the free-text description this step was parsed from, used for
	// the inline-comment file-targeting pass.
	Raw string
}

var (
	updateImportRe      = regexp.MustCompile(`(?i)^update[\s-]?import\s*\(\s*["']?([^"',]+)["']?\s*,\s*["']?([^"',)]+)["']?\s*\)$`)
	addImportRe         = regexp.MustCompile(`(?i)^add[\s-]?import\s*\(\s*(.+?)\s*,\s*["']?([^"',)]+)["']?\s*\)$`)
	replaceCallRe       = regexp.MustCompile(`(?i)^replace[\s-]?call\s*\(\s*["']?([^"',]+)["']?\s*,\s*["']?([^"',)]+)["']?\s*\)$`)
	removeDeclarationRe = regexp.MustCompile(`(?i)^remove[\s-]?declaration\s*\(\s*["']?([^"',)]+)["']?\s*\)$`)
)

// ParseStep parses one free-text step description into a tagged Step.
// Returns false if the text does not match any known step shape; the
// caller should log and drop it.
func ParseStep(text string) (Step, bool) {
	text = strings.TrimSpace(text)

	if m := updateImportRe.FindStringSubmatch(text); m != nil {
		return Step{Kind: KindUpdateImport, OldPath: m[1], NewPath: m[2], Raw: text}, true
	}
	if m := addImportRe.FindStringSubmatch(text); m != nil {
		return Step{Kind: KindAddImport, Imported: strings.TrimSpace(m[1]), Source: m[2], Raw: text}, true
	}
	if m := replaceCallRe.FindStringSubmatch(text); m != nil {
		return Step{Kind: KindReplaceCall, OldName: m[1], NewName: m[2], Raw: text}, true
	}
	if m := removeDeclarationRe.FindStringSubmatch(text); m != nil {
		return Step{Kind: KindRemoveDeclaration, Name: m[1], Raw: text}, true
	}
	return Step{}, false
}

// ParseSteps parses a slice of free-text descriptions, dropping (and
// reporting via onDropped, if non-nil) any that fail to parse.
func ParseSteps(texts []string, onDropped func(text string)) []Step {
	var steps []Step
	for _, t := range texts {
		step, ok := ParseStep(t)
		if !ok {
			if onDropped != nil {
				onDropped(t)
			}
			continue
		}
		steps = append(steps, step)
	}
	return steps
}
