package migrate

import "testing"

func TestParseStep_UpdateImport(t *testing.T) {
	step, ok := ParseStep(`update-import("old/pkg", "new/pkg")`)
	if !ok {
		t.Fatalf("expected step to parse")
	}
	if step.Kind != KindUpdateImport || step.OldPath != "old/pkg" || step.NewPath != "new/pkg" {
		t.Errorf("unexpected step: %+v", step)
	}
}

func TestParseStep_AddImportNamespace(t *testing.T) {
	step, ok := ParseStep(`add-import(*, "some/lib")`)
	if !ok {
		t.Fatalf("expected step to parse")
	}
	if step.Kind != KindAddImport || step.Imported != "*" || step.Source != "some/lib" {
		t.Errorf("unexpected step: %+v", step)
	}
}

func TestParseStep_ReplaceCall(t *testing.T) {
	step, ok := ParseStep(`replace-call(oldFunc, pkg.newFunc)`)
	if !ok {
		t.Fatalf("expected step to parse")
	}
	if step.Kind != KindReplaceCall || step.OldName != "oldFunc" || step.NewName != "pkg.newFunc" {
		t.Errorf("unexpected step: %+v", step)
	}
}

func TestParseStep_RemoveDeclaration(t *testing.T) {
	step, ok := ParseStep(`remove-declaration(deadFunc)`)
	if !ok {
		t.Fatalf("expected step to parse")
	}
	if step.Kind != KindRemoveDeclaration || step.Name != "deadFunc" {
		t.Errorf("unexpected step: %+v", step)
	}
}

func TestParseStep_UnrecognizedDropped(t *testing.T) {
	var dropped []string
	steps := ParseSteps([]string{
		`update-import("a", "b")`,
		"this is not a valid step",
	}, func(text string) { dropped = append(dropped, text) })

	if len(steps) != 1 {
		t.Errorf("expected 1 parsed step, got %d", len(steps))
	}
	if len(dropped) != 1 {
		t.Errorf("expected 1 dropped step, got %d", len(dropped))
	}
}
