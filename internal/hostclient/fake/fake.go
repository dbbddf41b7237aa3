// Package fake is a configurable in-memory hostclient.GH for tests.
// Each service method dispatches to an optional function field; an unset
// field returns empty results.
package fake

import (
	"context"
	"net/http"

	github "github.com/google/go-github/v75/github"

	"github.com/stolostron/magic-mirror/internal/hostclient"
)

// NotFoundErr builds the 404 error go-github would surface.
func NotFoundErr() error {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  "Not Found",
	}
}

// GH aggregates the fake services.
type GH struct {
	PRSvc     PullRequests
	IssuesSvc Issues
	ReposSvc  Repositories
	ChecksSvc Checks
	AppsSvc   Apps
}

var _ hostclient.GH = (*GH)(nil)

func (g *GH) PR() hostclient.PullRequestsAPI    { return &g.PRSvc }
func (g *GH) Issues() hostclient.IssuesAPI      { return &g.IssuesSvc }
func (g *GH) Repos() hostclient.RepositoriesAPI { return &g.ReposSvc }
func (g *GH) Checks() hostclient.ChecksAPI      { return &g.ChecksSvc }
func (g *GH) Apps() hostclient.AppsAPI          { return &g.AppsSvc }

type PullRequests struct {
	GetFunc                        func(ctx context.Context, owner, repo string, number int) (*github.PullRequest, *github.Response, error)
	ListFunc                       func(ctx context.Context, owner, repo string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error)
	ListPullRequestsWithCommitFunc func(ctx context.Context, owner, repo, sha string, opts *github.ListOptions) ([]*github.PullRequest, *github.Response, error)
	CreateFunc                     func(ctx context.Context, owner, repo string, pr *github.NewPullRequest) (*github.PullRequest, *github.Response, error)
	EditFunc                       func(ctx context.Context, owner, repo string, number int, pr *github.PullRequest) (*github.PullRequest, *github.Response, error)
	MergeFunc                      func(ctx context.Context, owner, repo string, number int, commitMessage string, options *github.PullRequestOptions) (*github.PullRequestMergeResult, *github.Response, error)
}

func (f *PullRequests) Get(ctx context.Context, owner, repo string, number int) (*github.PullRequest, *github.Response, error) {
	if f.GetFunc == nil {
		return &github.PullRequest{Number: github.Ptr(number)}, nil, nil
	}
	return f.GetFunc(ctx, owner, repo, number)
}

func (f *PullRequests) List(ctx context.Context, owner, repo string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error) {
	if f.ListFunc == nil {
		return nil, nil, nil
	}
	return f.ListFunc(ctx, owner, repo, opts)
}

func (f *PullRequests) ListPullRequestsWithCommit(ctx context.Context, owner, repo, sha string, opts *github.ListOptions) ([]*github.PullRequest, *github.Response, error) {
	if f.ListPullRequestsWithCommitFunc == nil {
		return nil, nil, nil
	}
	return f.ListPullRequestsWithCommitFunc(ctx, owner, repo, sha, opts)
}

func (f *PullRequests) Create(ctx context.Context, owner, repo string, pr *github.NewPullRequest) (*github.PullRequest, *github.Response, error) {
	if f.CreateFunc == nil {
		return &github.PullRequest{Number: github.Ptr(1)}, nil, nil
	}
	return f.CreateFunc(ctx, owner, repo, pr)
}

func (f *PullRequests) Edit(ctx context.Context, owner, repo string, number int, pr *github.PullRequest) (*github.PullRequest, *github.Response, error) {
	if f.EditFunc == nil {
		return pr, nil, nil
	}
	return f.EditFunc(ctx, owner, repo, number, pr)
}

func (f *PullRequests) Merge(ctx context.Context, owner, repo string, number int, commitMessage string, options *github.PullRequestOptions) (*github.PullRequestMergeResult, *github.Response, error) {
	if f.MergeFunc == nil {
		return &github.PullRequestMergeResult{Merged: github.Ptr(true)}, nil, nil
	}
	return f.MergeFunc(ctx, owner, repo, number, commitMessage, options)
}

type Issues struct {
	CreateFunc           func(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
	CreateCommentFunc    func(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	AddLabelsToIssueFunc func(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error)
}

func (f *Issues) Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error) {
	if f.CreateFunc == nil {
		return &github.Issue{Number: github.Ptr(1)}, nil, nil
	}
	return f.CreateFunc(ctx, owner, repo, issue)
}

func (f *Issues) CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	if f.CreateCommentFunc == nil {
		return comment, nil, nil
	}
	return f.CreateCommentFunc(ctx, owner, repo, number, comment)
}

func (f *Issues) AddLabelsToIssue(ctx context.Context, owner, repo string, number int, labels []string) ([]*github.Label, *github.Response, error) {
	if f.AddLabelsToIssueFunc == nil {
		return nil, nil, nil
	}
	return f.AddLabelsToIssueFunc(ctx, owner, repo, number, labels)
}

type Repositories struct {
	ListByOrgFunc                        func(ctx context.Context, org string, opts *github.RepositoryListByOrgOptions) ([]*github.Repository, *github.Response, error)
	ListByUserFunc                       func(ctx context.Context, user string, opts *github.RepositoryListByUserOptions) ([]*github.Repository, *github.Response, error)
	ListStatusesFunc                     func(ctx context.Context, owner, repo, ref string, opts *github.ListOptions) ([]*github.RepoStatus, *github.Response, error)
	ListRequiredStatusChecksContextsFunc func(ctx context.Context, owner, repo, branch string) ([]string, *github.Response, error)
}

func (f *Repositories) ListByOrg(ctx context.Context, org string, opts *github.RepositoryListByOrgOptions) ([]*github.Repository, *github.Response, error) {
	if f.ListByOrgFunc == nil {
		return nil, nil, nil
	}
	return f.ListByOrgFunc(ctx, org, opts)
}

func (f *Repositories) ListByUser(ctx context.Context, user string, opts *github.RepositoryListByUserOptions) ([]*github.Repository, *github.Response, error) {
	if f.ListByUserFunc == nil {
		return nil, nil, nil
	}
	return f.ListByUserFunc(ctx, user, opts)
}

func (f *Repositories) ListStatuses(ctx context.Context, owner, repo, ref string, opts *github.ListOptions) ([]*github.RepoStatus, *github.Response, error) {
	if f.ListStatusesFunc == nil {
		return nil, nil, nil
	}
	return f.ListStatusesFunc(ctx, owner, repo, ref, opts)
}

func (f *Repositories) ListRequiredStatusChecksContexts(ctx context.Context, owner, repo, branch string) ([]string, *github.Response, error) {
	if f.ListRequiredStatusChecksContextsFunc == nil {
		return nil, nil, NotFoundErr()
	}
	return f.ListRequiredStatusChecksContextsFunc(ctx, owner, repo, branch)
}

type Checks struct {
	ListCheckRunsForRefFunc func(ctx context.Context, owner, repo, ref string, opts *github.ListCheckRunsOptions) (*github.ListCheckRunsResults, *github.Response, error)
}

func (f *Checks) ListCheckRunsForRef(ctx context.Context, owner, repo, ref string, opts *github.ListCheckRunsOptions) (*github.ListCheckRunsResults, *github.Response, error) {
	if f.ListCheckRunsForRefFunc == nil {
		return &github.ListCheckRunsResults{}, nil, nil
	}
	return f.ListCheckRunsForRefFunc(ctx, owner, repo, ref, opts)
}

type Apps struct {
	ListInstallationsFunc func(ctx context.Context, opts *github.ListOptions) ([]*github.Installation, *github.Response, error)
	ListReposFunc         func(ctx context.Context, opts *github.ListOptions) (*github.ListRepositories, *github.Response, error)
}

func (f *Apps) ListInstallations(ctx context.Context, opts *github.ListOptions) ([]*github.Installation, *github.Response, error) {
	if f.ListInstallationsFunc == nil {
		return nil, nil, nil
	}
	return f.ListInstallationsFunc(ctx, opts)
}

func (f *Apps) ListRepos(ctx context.Context, opts *github.ListOptions) (*github.ListRepositories, *github.Response, error) {
	if f.ListReposFunc == nil {
		return &github.ListRepositories{}, nil, nil
	}
	return f.ListReposFunc(ctx, opts)
}
