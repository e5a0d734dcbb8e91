package migrate

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

// inlineRefRe extracts a leading "// path/to/file.go" comment from a step's
// code example, the first file-targeting pass.
var inlineRefRe = regexp.MustCompile(`^//\s*([\w./-]+\.go)\s*$`)

// InlineFileRef extracts the file path named by a step's leading comment,
// if the raw text has one as its first line.
func InlineFileRef(raw string) (string, bool) {
	lines := strings.SplitN(raw, "\n", 2)
	if len(lines) == 0 {
		return "", false
	}
	if m := inlineRefRe.FindStringSubmatch(strings.TrimSpace(lines[0])); m != nil {
		return m[1], true
	}
	return "", false
}

// ResolveTargets returns the relative file paths a step should be applied
// to, combining the two-pass strategy from §4.E:
//  1. the step's inline leading comment, if present.
//  2. a content-regex scan of the repository, respecting excludeDirs.
//
// add-import steps never match on their own; they inherit the union of
// files resolved for the other non-add-import steps in the same call.
func ResolveTargets(root string, steps []Step, excludeDirs []string) (map[int][]string, error) {
	targets := make(map[int][]string)
	var sharedFromSiblings []string

	excluded := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		excluded[d] = true
	}

	for i, step := range steps {
		if step.Kind == KindAddImport {
			continue // resolved after the loop, from siblings
		}

		if ref, ok := InlineFileRef(step.Raw); ok {
			targets[i] = []string{ref}
			sharedFromSiblings = appendUnique(sharedFromSiblings, ref)
			continue
		}

		pattern, err := contentPattern(step)
		if err != nil {
			return nil, err
		}

		found, err := scanForPattern(root, pattern, excluded)
		if err != nil {
			return nil, err
		}
		targets[i] = found
		sharedFromSiblings = appendUnique(sharedFromSiblings, found...)
	}

	for i, step := range steps {
		if step.Kind == KindAddImport {
			targets[i] = sharedFromSiblings
		}
	}

	return targets, nil
}

func contentPattern(step Step) (*regexp.Regexp, error) {
	switch step.Kind {
	case KindUpdateImport:
		return regexp.Compile(`["']` + regexp.QuoteMeta(step.OldPath) + `["']`)
	case KindReplaceCall:
		return regexp.Compile(`\b` + regexp.QuoteMeta(step.OldName) + `\s*\(`)
	case KindRemoveDeclaration:
		return regexp.Compile(`(func|const|var|type)\s+` + regexp.QuoteMeta(step.Name) + `\b`)
	default:
		return regexp.Compile(regexp.QuoteMeta(step.Raw))
	}
}

func scanForPattern(root string, pattern *regexp.Regexp, excluded map[string]bool) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}

		data, readErr := readFileLimited(path)
		if readErr != nil {
			return nil // unreadable files are skipped, not fatal
		}
		if pattern.Match(data) {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			matches = append(matches, rel)
		}
		return nil
	})
	return matches, err
}

func appendUnique(list []string, items ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		seen[v] = true
	}
	for _, item := range items {
		if !seen[item] {
			list = append(list, item)
			seen[item] = true
		}
	}
	return list
}
