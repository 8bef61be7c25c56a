package configstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// GitopsStore persists injected configuration as files in a gitops
// repository: each Put writes config/<path> and commits it, so the running
// components (and their operators) pick configuration up from git.
type GitopsStore struct {
	repoURL     string
	branch      string
	localPath   string
	username    string
	token       string
	authorName  string
	authorEmail string
	repo        *git.Repository
}

// NewGitopsStore clones (or opens) the gitops repository.
func NewGitopsStore(repoURL, branch, localPath, username, token, authorName, authorEmail string) (*GitopsStore, error) {
	s := &GitopsStore{
		repoURL:     repoURL,
		branch:      branch,
		localPath:   localPath,
		username:    username,
		token:       token,
		authorName:  authorName,
		authorEmail: authorEmail,
	}

	if err := s.ensureRepo(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *GitopsStore) ensureRepo() error {
	if _, err := os.Stat(filepath.Join(s.localPath, ".git")); err == nil {
		repo, err := git.PlainOpen(s.localPath)
		if err != nil {
			return fmt.Errorf("failed to open repository: %w", err)
		}
		s.repo = repo
		return s.pull()
	}

	repo, err := git.PlainClone(s.localPath, false, &git.CloneOptions{
		URL:           s.repoURL,
		Auth:          s.auth(),
		ReferenceName: plumbing.NewBranchReferenceName(s.branch),
		SingleBranch:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	s.repo = repo
	return nil
}

func (s *GitopsStore) auth() *http.BasicAuth {
	return &http.BasicAuth{
		Username: s.username,
		Password: s.token,
	}
}

func (s *GitopsStore) pull() error {
	w, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	err = w.Pull(&git.PullOptions{
		Auth:          s.auth(),
		ReferenceName: plumbing.NewBranchReferenceName(s.branch),
		SingleBranch:  true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to pull: %w", err)
	}

	return nil
}

// Put writes the value to config/<path> in the repository and commits the
// change. The path separator maps directly to directories, so
// "orders/DATABASE_ORDERS_DB_URL" lands in config/orders/.
func (s *GitopsStore) Put(ctx context.Context, path, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.pull(); err != nil {
		return err
	}

	relPath := filepath.Join("config", filepath.FromSlash(strings.TrimLeft(path, "/")))
	fullPath := filepath.Join(s.localPath, relPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(fullPath, []byte(value+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return s.commitAndPush(relPath)
}

func (s *GitopsStore) commitAndPush(relPath string) (err error) {
	w, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	if _, err := w.Add(relPath); err != nil {
		return fmt.Errorf("failed to stage file: %w", err)
	}

	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if status.IsClean() {
		// Value unchanged; nothing to commit.
		return nil
	}

	message := fmt.Sprintf("Update configuration %s\n\nWritten at: %s",
		relPath, time.Now().Format(time.RFC3339))

	_, err = w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.authorName,
			Email: s.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if err := s.repo.Push(&git.PushOptions{Auth: s.auth()}); err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}

	return nil
}
