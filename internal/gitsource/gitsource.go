// Package gitsource keeps a local checkout of a content repository.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Options selects what to check out.
type Options struct {
	// Branch is checked out instead of the remote's default branch.
	Branch string
}

// Sync clones the repository at url into localPath if nothing is there
// yet, or pulls the latest changes if it is already cloned. It reports
// whether the checkout changed.
func Sync(ctx context.Context, url, localPath string, opts Options) (bool, error) {
	_, err := os.Stat(localPath)
	switch {
	case os.IsNotExist(err):
		slog.Info("cloning content repository", "url", url, "path", localPath)
		clone := &git.CloneOptions{URL: url}
		if opts.Branch != "" {
			clone.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
			clone.SingleBranch = true
		}
		if _, err := git.PlainCloneContext(ctx, localPath, false, clone); err != nil {
			return false, fmt.Errorf("failed to clone repo %s: %w", url, err)
		}
		slog.Info("clone successful", "path", localPath)
		return true, nil

	case err == nil:
		slog.Info("pulling content repository", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return false, fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return false, fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}

		pull := &git.PullOptions{RemoteName: "origin"}
		if opts.Branch != "" {
			pull.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
		}
		err = worktree.PullContext(ctx, pull)
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			slog.Info("content repository already up to date", "path", localPath)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
		slog.Info("pull successful", "path", localPath)
		return true, nil

	default:
		return false, fmt.Errorf("error checking path %s: %w", localPath, err)
	}
}

// LocalPath maps a repository URL to a directory under baseDir:
// https://host/org/repo.git and git@host:org/repo.git both become
// baseDir/host/org/repo. Local paths and file URLs map to their base name.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsed, err := url.Parse(repoURL)
	if err == nil {
		switch parsed.Scheme {
		case "http", "https", "ssh", "git":
			if parsed.Host == "" {
				break
			}
			return filepath.Join(baseDir, parsed.Hostname(), strings.TrimSuffix(parsed.Path, ".git")), nil
		case "file":
			return filepath.Join(baseDir, strings.TrimSuffix(filepath.Base(parsed.Path), ".git")), nil
		}
	}

	// scp-like syntax: user@host:path
	if at := strings.Index(repoURL, "@"); at >= 0 {
		if host, p, ok := strings.Cut(repoURL[at+1:], ":"); ok && host != "" && p != "" {
			return filepath.Join(baseDir, host, strings.TrimSuffix(p, ".git")), nil
		}
	}
	if filepath.IsAbs(repoURL) {
		return filepath.Join(baseDir, strings.TrimSuffix(filepath.Base(repoURL), ".git")), nil
	}
	return "", fmt.Errorf("could not parse git URL: %s", repoURL)
}
