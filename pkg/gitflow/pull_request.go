package gitflow

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// PullRequestOptions parameterizes CreatePullRequest.
type PullRequestOptions struct {
	BranchName string
	Title      string
	Body       string
	Labels     []string
}

// PullRequestCreator opens a pull request for a pushed branch. Push and PR
// failures are reported but never abort the overall job result.
type PullRequestCreator interface {
	// CreatePullRequest returns the PR url, or "" if creation failed.
	CreatePullRequest(dir string, opts PullRequestOptions) (string, error)
}

// GHCLIPullRequestCreator shells out to the GitHub CLI.
type GHCLIPullRequestCreator struct {
	Base string
}

func (g GHCLIPullRequestCreator) CreatePullRequest(dir string, opts PullRequestOptions) (string, error) {
	args := []string{"pr", "create",
		"--head", opts.BranchName,
		"--title", opts.Title,
		"--body", opts.Body,
	}
	if g.Base != "" {
		args = append(args, "--base", g.Base)
	}
	if len(opts.Labels) > 0 {
		args = append(args, "--label", strings.Join(opts.Labels, ","))
	}

	cmd := exec.Command("gh", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gh pr create: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// NoopPullRequestCreator is used in dry-run mode: it returns a synthetic
// url without touching any external system.
type NoopPullRequestCreator struct{}

func (NoopPullRequestCreator) CreatePullRequest(_ string, opts PullRequestOptions) (string, error) {
	return fmt.Sprintf("dry-run-%s", opts.BranchName), nil
}

// CreatePullRequest delegates to the Repo's configured PRCreator. In
// dry-run mode the noop creator's synthetic url is always used regardless
// of what was configured, matching §4.D's dry-run contract.
func (r *Repo) CreatePullRequest(opts PullRequestOptions) (string, error) {
	if r.DryRun {
		return NoopPullRequestCreator{}.CreatePullRequest(r.Dir, opts)
	}
	return r.PRCreator.CreatePullRequest(r.Dir, opts)
}
