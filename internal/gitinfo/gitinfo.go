// Package gitinfo detects git provenance for a crawled tree, so
// published metadata can say which branch and commit it was extracted
// from.
package gitinfo

import (
	"github.com/go-git/go-git/v5"
)

// Provenance identifies the repository state at crawl time.
type Provenance struct {
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// Detect looks for a repository at or above root. A tree outside any
// repository is not an error; Detect returns (nil, nil).
func Detect(root string) (*Provenance, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err == git.ErrRepositoryNotExists {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		// Fresh repository with no commits yet.
		return nil, nil
	}

	p := &Provenance{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		p.Branch = head.Name().Short()
	}
	return p, nil
}
