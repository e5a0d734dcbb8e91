package gitflow

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v: %s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "initial commit")

	return dir
}

func TestRepo_IsRepo(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRepo(dir, "main", "automated", false, nil)
	if !r.IsRepo() {
		t.Errorf("expected IsRepo to be true")
	}

	notRepo := NewRepo(t.TempDir(), "main", "automated", false, nil)
	if notRepo.IsRepo() {
		t.Errorf("expected IsRepo to be false for a non-repo dir")
	}
}

func TestRepo_HasChangesAndChangedFiles(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRepo(dir, "main", "automated", false, nil)

	if r.HasChanges() {
		t.Errorf("expected no changes on a clean checkout")
	}

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if !r.HasChanges() {
		t.Errorf("expected changes after adding a file")
	}

	files, err := r.ChangedFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0] != "new.txt" {
		t.Errorf("expected [new.txt], got %v", files)
	}
}

func TestRepo_CreateJobBranchAndCommit(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRepo(dir, "main", "automated", false, nil)

	info, err := r.CreateJobBranch(JobBranchOptions{JobID: "job-1", JobType: "Repomix", Description: "Update deps"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.OriginalBranch != "main" {
		t.Errorf("expected original branch main, got %s", info.OriginalBranch)
	}
	if info.BranchName == "" {
		t.Errorf("expected a non-empty branch name")
	}

	branch, err := r.CurrentBranch()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != info.BranchName {
		t.Errorf("expected checked out branch %s, got %s", info.BranchName, branch)
	}

	if err := os.WriteFile(filepath.Join(dir, "change.txt"), []byte("y"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	sha, err := r.CommitChanges(CommitOptions{Message: "apply migration", JobID: "job-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sha == "" {
		t.Errorf("expected a non-empty commit sha")
	}
}

func TestRepo_CommitChanges_NoChangesReturnsEmpty(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRepo(dir, "main", "automated", false, nil)

	sha, err := r.CommitChanges(CommitOptions{Message: "nothing to do", JobID: "job-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sha != "" {
		t.Errorf("expected empty sha when there are no changes, got %s", sha)
	}
}

func TestRepo_CreatePullRequest_DryRun(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRepo(dir, "main", "automated", true, nil)

	url, err := r.CreatePullRequest(PullRequestOptions{BranchName: "automated/foo-123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "dry-run-automated/foo-123" {
		t.Errorf("expected synthetic dry-run url, got %s", url)
	}
}

func TestRepo_PushBranch_DryRunNoOp(t *testing.T) {
	dir := initTestRepo(t)
	r := NewRepo(dir, "main", "automated", true, nil)

	if !r.PushBranch("automated/whatever") {
		t.Errorf("expected dry-run push to report success without touching origin")
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Repomix Duplicate Detection": "repomix-duplicate-detection",
		"Update Deps!!!":              "update-deps",
		"  leading/trailing  ":        "leading-trailing",
	}
	for in, want := range cases {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
