package conf

import (
	"os"
	"os/user"

	"github.com/go-git/go-git/v5"
)

// DetectBranch returns the current git branch of dir as the development
// branch name. Outside a repository, or on a detached HEAD, it falls back
// to a user@host name so the branch is still identifiable in the backend.
func DetectBranch(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err == nil {
		if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
			return head.Name().Short()
		}
	}
	return fallbackBranchName()
}

func fallbackBranchName() string {
	name := "dev"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	} else if envUser := os.Getenv("USER"); envUser != "" {
		name = envUser
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return name + "@" + host
}
