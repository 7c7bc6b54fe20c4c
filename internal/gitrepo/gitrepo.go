// Package gitrepo stages and commits regenerated artifacts back to the
// repository, attributed to the automation identity.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// ErrCommitFailed marks a commit or push failure after successful
// generation: the artifacts exist in the working tree but were not
// persisted. Distinct from a stage failure.
var ErrCommitFailed = errors.New("commit failed")

type Config struct {
	Dir string // checked-out working tree

	AuthorName  string
	AuthorEmail string
	Message     string

	// Push pushes the commit to Remote/Ref after committing.
	Push   bool
	Remote string
	Ref    string
}

type Repo struct {
	config Config
	runGit func(ctx context.Context, dir string, args ...string) (string, error)
}

func New(config Config) *Repo {
	if config.Remote == "" {
		config.Remote = "origin"
	}
	if config.Message == "" {
		config.Message = "chore: regenerate autogen artifacts"
	}
	return &Repo{config: config, runGit: runGitCommand}
}

// WithGitRunner overrides git command execution. Used in tests.
func (r *Repo) WithGitRunner(run func(ctx context.Context, dir string, args ...string) (string, error)) *Repo {
	r.runGit = run
	return r
}

// CommitChanges detects working-tree changes, stages them and commits.
// A clean tree is a successful no-op (no empty commit); the bool result
// reports whether a commit was created.
func (r *Repo) CommitChanges(ctx context.Context) (bool, error) {
	status, err := r.runGit(ctx, r.config.Dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("%w: status: %v", ErrCommitFailed, err)
	}
	if strings.TrimSpace(status) == "" {
		log.Printf("gitrepo: working tree clean, nothing to commit")
		return false, nil
	}

	if _, err := r.runGit(ctx, r.config.Dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("%w: add: %v", ErrCommitFailed, err)
	}

	_, err = r.runGit(ctx, r.config.Dir,
		"-c", "user.name="+r.config.AuthorName,
		"-c", "user.email="+r.config.AuthorEmail,
		"commit", "-m", r.config.Message,
	)
	if err != nil {
		return false, fmt.Errorf("%w: commit: %v", ErrCommitFailed, err)
	}
	log.Printf("gitrepo: committed regenerated artifacts (%d changed paths)", countLines(status))

	if r.config.Push {
		if _, err := r.runGit(ctx, r.config.Dir, "push", r.config.Remote, "HEAD:"+r.config.Ref); err != nil {
			return true, fmt.Errorf("%w: push: %v", ErrCommitFailed, err)
		}
		log.Printf("gitrepo: pushed to %s %s", r.config.Remote, r.config.Ref)
	}

	return true, nil
}

func runGitCommand(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func countLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
