// Package gitmeta resolves git metadata for evidence provenance.
//
// Artifacts are stamped with the project's HEAD commit at attachment time
// so a reviewer can tie a screenshot or log back to the exact tree it was
// produced against. A project that is not a git repository simply yields
// no stamp; that is never an error.
package gitmeta

import (
	"github.com/go-git/go-git/v5"
)

// HeadCommit returns the HEAD commit hash of the repository at projectPath,
// or empty when the path is not a git repository or HEAD cannot be
// resolved (unborn branch, bare repo).
func HeadCommit(projectPath string) string {
	repo, err := git.PlainOpenWithOptions(projectPath, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return ""
	}

	head, err := repo.Head()
	if err != nil {
		return ""
	}

	return head.Hash().String()
}

// Branch returns the short branch name at projectPath, or empty when the
// path is not a repository or HEAD is detached.
func Branch(projectPath string) string {
	repo, err := git.PlainOpenWithOptions(projectPath, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return ""
	}

	head, err := repo.Head()
	if err != nil {
		return ""
	}

	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return ""
}
