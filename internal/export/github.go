package export

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Uploader pushes an export bundle to a remote repository branch.
// Implementations must never modify the repository's default branch.
type Uploader interface {
	// Upload commits files (paths relative to exportPath) to branch in
	// repo ("owner/name"), creating the branch from the default branch
	// when absent. Returns the commit SHA.
	Upload(ctx context.Context, repo, branch, exportPath string, files []File) (string, error)
}

// GitHubUploader implements Uploader on the GitHub Git Data API:
// tree -> commit -> ref, one commit for the whole bundle.
type GitHubUploader struct {
	client *github.Client
}

// NewGitHubUploader builds an uploader authenticated by token. When
// token is empty, GITHUB_TOKEN is used.
func NewGitHubUploader(token string) (*GitHubUploader, error) {
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubUploader{client: github.NewClient(oauth2.NewClient(context.Background(), ts))}, nil
}

// Verify interface implementation at compile time.
var _ Uploader = (*GitHubUploader)(nil)

// Upload implements Uploader.
func (u *GitHubUploader) Upload(ctx context.Context, repo, branch, exportPath string, files []File) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	repository, _, err := u.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository %s: %w", repo, err)
	}
	defaultBranch := repository.GetDefaultBranch()
	if branch == defaultBranch {
		return "", fmt.Errorf("refusing to export to default branch %q", defaultBranch)
	}

	baseRef, _, err := u.client.Git.GetRef(ctx, owner, name, "refs/heads/"+defaultBranch)
	if err != nil {
		return "", fmt.Errorf("failed to read default branch ref: %w", err)
	}
	baseSHA := baseRef.GetObject().GetSHA()

	// Create the export branch from the default branch tip when it
	// does not exist yet.
	branchRef, _, err := u.client.Git.GetRef(ctx, owner, name, "refs/heads/"+branch)
	if err != nil {
		branchRef, _, err = u.client.Git.CreateRef(ctx, owner, name, &github.Reference{
			Ref:    github.Ptr("refs/heads/" + branch),
			Object: &github.GitObject{SHA: github.Ptr(baseSHA)},
		})
		if err != nil {
			return "", fmt.Errorf("failed to create branch %s: %w", branch, err)
		}
	}
	parentSHA := branchRef.GetObject().GetSHA()

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, file := range files {
		entries = append(entries, &github.TreeEntry{
			Path:    github.Ptr(strings.TrimPrefix(exportPath+"/"+file.Path, "/")),
			Mode:    github.Ptr("100644"),
			Type:    github.Ptr("blob"),
			Content: github.Ptr(file.Content),
		})
	}

	tree, _, err := u.client.Git.CreateTree(ctx, owner, name, parentSHA, entries)
	if err != nil {
		return "", fmt.Errorf("failed to create tree: %w", err)
	}

	parentCommit, _, err := u.client.Git.GetCommit(ctx, owner, name, parentSHA)
	if err != nil {
		return "", fmt.Errorf("failed to read parent commit: %w", err)
	}

	commit, _, err := u.client.Git.CreateCommit(ctx, owner, name, &github.Commit{
		Message: github.Ptr(fmt.Sprintf("Export session to %s", exportPath)),
		Tree:    tree,
		Parents: []*github.Commit{parentCommit},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}

	_, _, err = u.client.Git.UpdateRef(ctx, owner, name, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return "", fmt.Errorf("failed to update branch ref: %w", err)
	}

	return commit.GetSHA(), nil
}

func splitRepo(repo string) (owner, name string, err error) {
	repo = strings.TrimPrefix(repo, "https://github.com/")
	repo = strings.TrimSuffix(repo, ".git")
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}
