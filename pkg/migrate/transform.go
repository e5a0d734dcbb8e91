package migrate

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"strings"

	"golang.org/x/tools/go/ast/astutil"
)

// FileResult is the outcome of applying a file's steps.
type FileResult struct {
	Path     string
	Modified bool
	Err      error // parse-error is reported here, file is skipped
}

// ApplyToFile parses src, applies each step in input order, and re-emits
// only if at least one step modified the AST. If parsing fails the file is
// skipped and the error is returned as a parse-error.
func ApplyToFile(path string, src []byte, steps []Step) ([]byte, FileResult) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, FileResult{Path: path, Err: fmt.Errorf("parse-error: %w", err)}
	}

	modified := false
	for _, step := range steps {
		if applyStep(fset, file, step) {
			modified = true
		}
	}

	if !modified {
		return src, FileResult{Path: path, Modified: false}
	}

	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, file); err != nil {
		return nil, FileResult{Path: path, Err: fmt.Errorf("re-emit failed: %w", err)}
	}
	return buf.Bytes(), FileResult{Path: path, Modified: true}
}

func applyStep(fset *token.FileSet, file *ast.File, step Step) bool {
	switch step.Kind {
	case KindUpdateImport:
		return astutil.RewriteImport(fset, file, step.OldPath, step.NewPath)
	case KindAddImport:
		return applyAddImport(fset, file, step)
	case KindReplaceCall:
		return applyReplaceCall(file, step)
	case KindRemoveDeclaration:
		return applyRemoveDeclaration(file, step)
	default:
		return false
	}
}

// applyAddImport supports a bare name (default import alias), "{ a, b }"
// (named imports — each added individually, unaliased), and "*" (namespace
// import aliased by the basename of source).
func applyAddImport(fset *token.FileSet, file *ast.File, step Step) bool {
	imported := strings.TrimSpace(step.Imported)

	switch {
	case imported == "*":
		alias := namespaceAlias(step.Source)
		return astutil.AddNamedImport(fset, file, alias, step.Source)
	case strings.HasPrefix(imported, "{") && strings.HasSuffix(imported, "}"):
		inner := strings.TrimSuffix(strings.TrimPrefix(imported, "{"), "}")
		names := strings.Split(inner, ",")
		changed := false
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if astutil.AddImport(fset, file, step.Source) {
				changed = true
			}
		}
		return changed
	default:
		return astutil.AddNamedImport(fset, file, imported, step.Source)
	}
}

func namespaceAlias(source string) string {
	parts := strings.Split(strings.Trim(source, "/"), "/")
	base := parts[len(parts)-1]
	return sanitizeIdent(base)
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// applyReplaceCall rewrites every call to oldName into newName. newName
// may be dotted (pkg.Func), in which case the call becomes a selector
// expression on the dotted prefix.
func applyReplaceCall(file *ast.File, step Step) bool {
	changed := false
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		ident, ok := call.Fun.(*ast.Ident)
		if !ok || ident.Name != step.OldName {
			return true
		}

		if dot := strings.Index(step.NewName, "."); dot >= 0 {
			pkg := step.NewName[:dot]
			fn := step.NewName[dot+1:]
			call.Fun = &ast.SelectorExpr{
				X:   ast.NewIdent(pkg),
				Sel: ast.NewIdent(fn),
			}
		} else {
			ident.Name = step.NewName
		}
		changed = true
		return true
	})
	return changed
}

// applyRemoveDeclaration removes a top-level function, type, or variable
// declarator named Name. If the declarator is the lone one in its
// GenDecl, the whole declaration statement is removed instead of leaving
// an empty var/const/type block.
func applyRemoveDeclaration(file *ast.File, step Step) bool {
	var kept []ast.Decl
	changed := false

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Name.Name == step.Name {
				changed = true
				continue
			}
			kept = append(kept, decl)
		case *ast.GenDecl:
			newDecl, removedAny := removeFromGenDecl(d, step.Name)
			if removedAny {
				changed = true
			}
			if newDecl != nil {
				kept = append(kept, newDecl)
			}
		default:
			kept = append(kept, decl)
		}
	}

	if changed {
		file.Decls = kept
	}
	return changed
}

// removeFromGenDecl drops the named spec from a var/const/type GenDecl.
// Returns (nil, true) if the whole declaration should be dropped because
// it held only that one spec.
func removeFromGenDecl(d *ast.GenDecl, name string) (*ast.GenDecl, bool) {
	var kept []ast.Spec
	removed := false

	for _, spec := range d.Specs {
		switch s := spec.(type) {
		case *ast.ValueSpec:
			names := filterIdents(s.Names, name)
			if len(names) != len(s.Names) {
				removed = true
			}
			if len(names) == 0 {
				continue
			}
			s.Names = names
			kept = append(kept, s)
		case *ast.TypeSpec:
			if s.Name.Name == name {
				removed = true
				continue
			}
			kept = append(kept, spec)
		default:
			kept = append(kept, spec)
		}
	}

	if !removed {
		return d, false
	}
	if len(kept) == 0 {
		return nil, true
	}
	d.Specs = kept
	return d, true
}

func filterIdents(idents []*ast.Ident, name string) []*ast.Ident {
	var out []*ast.Ident
	for _, id := range idents {
		if id.Name != name {
			out = append(out, id)
		}
	}
	return out
}
