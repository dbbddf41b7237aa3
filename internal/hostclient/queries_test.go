package hostclient_test

import (
	"context"
	"testing"
	"time"

	github "github.com/google/go-github/v75/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stolostron/magic-mirror/internal/hostclient"
	"github.com/stolostron/magic-mirror/internal/hostclient/fake"
)

func mergedPR(num int) *github.PullRequest {
	return &github.PullRequest{
		Number:   github.Ptr(num),
		MergedAt: &github.Timestamp{Time: time.Now()},
	}
}

func closedPR(num int) *github.PullRequest {
	return &github.PullRequest{Number: github.Ptr(num)}
}

func TestCheckSuccess(t *testing.T) {
	for _, conclusion := range []string{"success", "neutral", "skipped"} {
		assert.True(t, hostclient.CheckSuccess(conclusion), conclusion)
	}
	for _, conclusion := range []string{"failure", "cancelled", "timed_out", "action_required", ""} {
		assert.False(t, hostclient.CheckSuccess(conclusion), conclusion)
	}
}

func TestLatestMergedPRNumber(t *testing.T) {
	gh := &fake.GH{}
	gh.PRSvc.ListFunc = func(_ context.Context, _, _ string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error) {
		require.Equal(t, "closed", opts.State)
		require.Equal(t, "desc", opts.Direction)
		return []*github.PullRequest{closedPR(44), mergedPR(42), mergedPR(41)}, nil, nil
	}

	latest, err := hostclient.LatestMergedPRNumber(context.Background(), gh, "upstream", "repo")
	require.NoError(t, err)
	assert.Equal(t, 42, latest)
}

func TestLatestMergedPRNumberEmptyRepo(t *testing.T) {
	gh := &fake.GH{}
	latest, err := hostclient.LatestMergedPRNumber(context.Background(), gh, "upstream", "repo")
	require.NoError(t, err)
	assert.Equal(t, 0, latest)
}

func TestMergedPRNumbersAfter(t *testing.T) {
	gh := &fake.GH{}
	gh.PRSvc.ListFunc = func(_ context.Context, _, _ string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error) {
		// Newest first; #44 closed without merging, #40 is at the cursor.
		return []*github.PullRequest{mergedPR(45), closedPR(44), mergedPR(42), mergedPR(40), mergedPR(38)}, nil, nil
	}

	nums, err := hostclient.MergedPRNumbersAfter(context.Background(), gh, "upstream", "repo", 40)
	require.NoError(t, err)
	assert.Equal(t, []int{42, 45}, nums)
}

func TestMergedPRNumbersAfterStopsAtCursor(t *testing.T) {
	gh := &fake.GH{}
	pages := 0
	gh.PRSvc.ListFunc = func(_ context.Context, _, _ string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error) {
		pages++
		// Page one already reaches the cursor; a second page would be a bug.
		require.Equal(t, 1, pages)
		return []*github.PullRequest{mergedPR(42), mergedPR(40)},
			&github.Response{NextPage: 2}, nil
	}

	nums, err := hostclient.MergedPRNumbersAfter(context.Background(), gh, "upstream", "repo", 40)
	require.NoError(t, err)
	assert.Equal(t, []int{42}, nums)
}

func TestRequiredChecksNoProtection(t *testing.T) {
	gh := &fake.GH{}
	// The fake's default ListRequiredStatusChecksContexts reports 404.
	checks, err := hostclient.RequiredChecks(context.Background(), gh, "stolostron", "repo", "main")
	require.NoError(t, err)
	assert.Empty(t, checks)
}

func TestRequiredChecks(t *testing.T) {
	gh := &fake.GH{}
	gh.ReposSvc.ListRequiredStatusChecksContextsFunc = func(_ context.Context, _, _, _ string) ([]string, *github.Response, error) {
		return []string{"unit", "lint"}, nil, nil
	}

	checks, err := hostclient.RequiredChecks(context.Background(), gh, "stolostron", "repo", "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"unit", "lint"}, checks)
}

func TestHeadCheckStates(t *testing.T) {
	gh := &fake.GH{}
	gh.ChecksSvc.ListCheckRunsForRefFunc = func(_ context.Context, _, _, _ string, _ *github.ListCheckRunsOptions) (*github.ListCheckRunsResults, *github.Response, error) {
		return &github.ListCheckRunsResults{
			CheckRuns: []*github.CheckRun{
				{Name: github.Ptr("unit"), Status: github.Ptr("completed"), Conclusion: github.Ptr("success")},
				{Name: github.Ptr("lint"), Status: github.Ptr("completed"), Conclusion: github.Ptr("failure")},
				{Name: github.Ptr("optional"), Status: github.Ptr("completed"), Conclusion: github.Ptr("skipped")},
				{Name: github.Ptr("e2e"), Status: github.Ptr("in_progress")},
			},
		}, nil, nil
	}
	gh.ReposSvc.ListStatusesFunc = func(_ context.Context, _, _, _ string, _ *github.ListOptions) ([]*github.RepoStatus, *github.Response, error) {
		// Newest first; the stale failure for ci/prow must lose.
		return []*github.RepoStatus{
			{Context: github.Ptr("ci/prow"), State: github.Ptr("success")},
			{Context: github.Ptr("ci/prow"), State: github.Ptr("failure")},
			{Context: github.Ptr("ci/slow"), State: github.Ptr("pending")},
			{Context: github.Ptr("unit"), State: github.Ptr("failure")},
		}, nil, nil
	}

	states, err := hostclient.HeadCheckStates(context.Background(), gh, "stolostron", "repo", "abc123")
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{
		"unit":     true, // check run wins over the stale status
		"lint":     false,
		"optional": true,
		"ci/prow":  true,
	}, states)
	assert.NotContains(t, states, "e2e")
	assert.NotContains(t, states, "ci/slow")
}

func TestOrgRepoNamesFallsBackToUser(t *testing.T) {
	gh := &fake.GH{}
	gh.ReposSvc.ListByOrgFunc = func(_ context.Context, _ string, _ *github.RepositoryListByOrgOptions) ([]*github.Repository, *github.Response, error) {
		return nil, nil, fake.NotFoundErr()
	}
	gh.ReposSvc.ListByUserFunc = func(_ context.Context, user string, _ *github.RepositoryListByUserOptions) ([]*github.Repository, *github.Response, error) {
		require.Equal(t, "mprahl", user)
		return []*github.Repository{{Name: github.Ptr("demo")}}, nil, nil
	}

	names, err := hostclient.OrgRepoNames(context.Background(), gh, "mprahl")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"demo": true}, names)
}

func TestInstallationRepoNames(t *testing.T) {
	gh := &fake.GH{}
	page := 0
	gh.AppsSvc.ListReposFunc = func(_ context.Context, opts *github.ListOptions) (*github.ListRepositories, *github.Response, error) {
		page++
		if page == 1 {
			return &github.ListRepositories{
				Repositories: []*github.Repository{{Name: github.Ptr("a")}},
			}, &github.Response{NextPage: 2}, nil
		}
		return &github.ListRepositories{
			Repositories: []*github.Repository{{Name: github.Ptr("b")}},
		}, nil, nil
	}

	names, err := hostclient.InstallationRepoNames(context.Background(), gh)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, names)
}
