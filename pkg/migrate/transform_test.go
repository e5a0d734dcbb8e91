package migrate

import (
	"strings"
	"testing"
)

func TestApplyToFile_ReplaceCall(t *testing.T) {
	src := []byte(`package a

func run() {
	oldFunc()
}
`)
	steps := []Step{{Kind: KindReplaceCall, OldName: "oldFunc", NewName: "newFunc"}}

	out, res := ApplyToFile("a.go", src, steps)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Modified {
		t.Fatalf("expected file to be modified")
	}
	if !strings.Contains(string(out), "newFunc()") {
		t.Errorf("expected newFunc() call in output, got:\n%s", out)
	}
}

func TestApplyToFile_ReplaceCallDotted(t *testing.T) {
	src := []byte(`package a

func run() {
	oldFunc()
}
`)
	steps := []Step{{Kind: KindReplaceCall, OldName: "oldFunc", NewName: "pkg.NewFunc"}}

	out, res := ApplyToFile("a.go", src, steps)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !strings.Contains(string(out), "pkg.NewFunc()") {
		t.Errorf("expected pkg.NewFunc() call in output, got:\n%s", out)
	}
}

func TestApplyToFile_RemoveDeclaration_Function(t *testing.T) {
	src := []byte(`package a

func keep() {}

func deadFunc() {}
`)
	steps := []Step{{Kind: KindRemoveDeclaration, Name: "deadFunc"}}

	out, res := ApplyToFile("a.go", src, steps)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Modified {
		t.Fatalf("expected file to be modified")
	}
	if strings.Contains(string(out), "deadFunc") {
		t.Errorf("expected deadFunc to be removed, got:\n%s", out)
	}
	if !strings.Contains(string(out), "func keep()") {
		t.Errorf("expected keep() to survive, got:\n%s", out)
	}
}

func TestApplyToFile_RemoveDeclaration_LoneVarDropsWholeDecl(t *testing.T) {
	src := []byte(`package a

var deadVar = 1
`)
	steps := []Step{{Kind: KindRemoveDeclaration, Name: "deadVar"}}

	out, res := ApplyToFile("a.go", src, steps)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if strings.Contains(string(out), "deadVar") {
		t.Errorf("expected deadVar declaration removed entirely, got:\n%s", out)
	}
}

func TestApplyToFile_NoModificationReturnsSameBytes(t *testing.T) {
	src := []byte(`package a

func untouched() {}
`)
	steps := []Step{{Kind: KindReplaceCall, OldName: "nonexistent", NewName: "whatever"}}

	out, res := ApplyToFile("a.go", src, steps)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Modified {
		t.Errorf("expected no modification")
	}
	if string(out) != string(src) {
		t.Errorf("expected unchanged bytes returned as-is")
	}
}

func TestApplyToFile_ParseErrorReported(t *testing.T) {
	src := []byte(`package a

func broken( {
`)
	_, res := ApplyToFile("a.go", src, nil)
	if res.Err == nil {
		t.Fatalf("expected a parse error")
	}
}
