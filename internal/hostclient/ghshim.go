// Package hostclient narrows the go-github surface to the capabilities
// the sync engine consumes, so handlers can be exercised with fakes.
package hostclient

import (
	"context"
	"errors"
	"net/http"

	github "github.com/google/go-github/v75/github"
)

// Narrow interfaces for the subset of go-github we use.

type PullRequestsAPI interface {
	Get(ctx context.Context, owner, repo string, number int) (*github.PullRequest, *github.Response, error)
	List(ctx context.Context, owner, repo string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error)
	ListPullRequestsWithCommit(ctx context.Context, owner, repo, sha string, opts *github.ListOptions) ([]*github.PullRequest, *github.Response, error)
	Create(ctx context.Context, owner, repo string, pr *github.NewPullRequest) (*github.PullRequest, *github.Response, error)
	Edit(ctx context.Context, owner, repo string, number int, pr *github.PullRequest) (*github.PullRequest, *github.Response, error)
	Merge(ctx context.Context, owner, repo string, number int, commitMessage string, options *github.PullRequestOptions) (*github.PullRequestMergeResult, *github.Response, error)
}

type IssuesAPI interface {
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error)
}

type RepositoriesAPI interface {
	ListByOrg(ctx context.Context, org string, opts *github.RepositoryListByOrgOptions) ([]*github.Repository, *github.Response, error)
	ListByUser(ctx context.Context, user string, opts *github.RepositoryListByUserOptions) ([]*github.Repository, *github.Response, error)
	ListStatuses(ctx context.Context, owner, repo, ref string, opts *github.ListOptions) ([]*github.RepoStatus, *github.Response, error)
	ListRequiredStatusChecksContexts(ctx context.Context, owner, repo, branch string) ([]string, *github.Response, error)
}

type ChecksAPI interface {
	ListCheckRunsForRef(ctx context.Context, owner, repo, ref string, opts *github.ListCheckRunsOptions) (*github.ListCheckRunsResults, *github.Response, error)
}

type AppsAPI interface {
	ListInstallations(ctx context.Context, opts *github.ListOptions) ([]*github.Installation, *github.Response, error)
	ListRepos(ctx context.Context, opts *github.ListOptions) (*github.ListRepositories, *github.Response, error)
}

type GH interface {
	PR() PullRequestsAPI
	Issues() IssuesAPI
	Repos() RepositoriesAPI
	Checks() ChecksAPI
	Apps() AppsAPI
}

// Real wraps a *github.Client for production use.
type Real struct{ C *github.Client }

func (r Real) PR() PullRequestsAPI    { return r.C.PullRequests }
func (r Real) Issues() IssuesAPI      { return r.C.Issues }
func (r Real) Repos() RepositoriesAPI { return r.C.Repositories }
func (r Real) Checks() ChecksAPI      { return r.C.Checks }
func (r Real) Apps() AppsAPI          { return r.C.Apps }

// IsNotFound reports whether err is a GitHub 404.
func IsNotFound(err error) bool {
	var e *github.ErrorResponse
	return errors.As(err, &e) && e.Response != nil && e.Response.StatusCode == http.StatusNotFound
}

// Compile-time assertions that the real services satisfy our interfaces.
var (
	_ PullRequestsAPI = (*github.PullRequestsService)(nil)
	_ IssuesAPI       = (*github.IssuesService)(nil)
	_ RepositoriesAPI = (*github.RepositoriesService)(nil)
	_ ChecksAPI       = (*github.ChecksService)(nil)
	_ AppsAPI         = (*github.AppsService)(nil)
	_ GH              = Real{}
)
