package hostclient

import (
	"context"
	"fmt"

	github "github.com/google/go-github/v75/github"
)

const pageSize = 100

// CheckSuccess reports whether a check-run conclusion counts as passing.
// Neutral and skipped conclusions do not block a merge.
func CheckSuccess(conclusion string) bool {
	switch conclusion {
	case "success", "neutral", "skipped":
		return true
	}
	return false
}

// LatestMergedPRNumber returns the most recent merged PR number for the
// repository on any branch, or 0 when it has no merged PRs.
func LatestMergedPRNumber(ctx context.Context, gh GH, org, repo string) (int, error) {
	opts := &github.PullRequestListOptions{
		State:       "closed",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	for {
		prs, resp, err := gh.PR().List(ctx, org, repo, opts)
		if err != nil {
			return 0, fmt.Errorf("list closed PRs for %s/%s: %w", org, repo, err)
		}
		for _, pr := range prs {
			if pr.MergedAt != nil {
				return pr.GetNumber(), nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return 0, nil
		}
		opts.Page = resp.NextPage
	}
}

// MergedPRNumbersAfter returns the numbers of merged PRs greater than
// after, in ascending order. The host returns newest first; we page until
// we pass the cursor and reverse.
func MergedPRNumbersAfter(ctx context.Context, gh GH, org, repo string, after int) ([]int, error) {
	opts := &github.PullRequestListOptions{
		State:       "closed",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	var descending []int
	for {
		prs, resp, err := gh.PR().List(ctx, org, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list closed PRs for %s/%s: %w", org, repo, err)
		}
		passedCursor := false
		for _, pr := range prs {
			if pr.GetNumber() <= after {
				passedCursor = true
				continue
			}
			if pr.MergedAt != nil {
				descending = append(descending, pr.GetNumber())
			}
		}
		if passedCursor || resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	ascending := make([]int, 0, len(descending))
	for i := len(descending) - 1; i >= 0; i-- {
		ascending = append(ascending, descending[i])
	}
	return ascending, nil
}

// RequiredChecks returns the branch protection's required check names.
// A branch without protection has no required checks.
func RequiredChecks(ctx context.Context, gh GH, org, repo, branch string) ([]string, error) {
	contexts, _, err := gh.Repos().ListRequiredStatusChecksContexts(ctx, org, repo, branch)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get branch protection for %s/%s@%s: %w", org, repo, branch, err)
	}
	return contexts, nil
}

// HeadCheckStates gathers the latest outcome of every check run and
// commit status on ref. The map value is true only for passing outcomes;
// checks still in progress and statuses still pending are absent.
func HeadCheckStates(ctx context.Context, gh GH, org, repo, ref string) (map[string]bool, error) {
	states := map[string]bool{}

	checkOpts := &github.ListCheckRunsOptions{
		Filter:      github.Ptr("latest"),
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	for {
		results, resp, err := gh.Checks().ListCheckRunsForRef(ctx, org, repo, ref, checkOpts)
		if err != nil {
			return nil, fmt.Errorf("list check runs for %s/%s@%s: %w", org, repo, ref, err)
		}
		for _, run := range results.CheckRuns {
			if run.GetStatus() != "completed" {
				continue
			}
			states[run.GetName()] = CheckSuccess(run.GetConclusion())
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		checkOpts.Page = resp.NextPage
	}

	// Statuses are newest first; the first occurrence per context wins.
	statusOpts := &github.ListOptions{PerPage: pageSize}
	for {
		statuses, resp, err := gh.Repos().ListStatuses(ctx, org, repo, ref, statusOpts)
		if err != nil {
			return nil, fmt.Errorf("list commit statuses for %s/%s@%s: %w", org, repo, ref, err)
		}
		for _, st := range statuses {
			name := st.GetContext()
			if _, seen := states[name]; seen {
				continue
			}
			if st.GetState() == "pending" {
				continue
			}
			states[name] = st.GetState() == "success"
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		statusOpts.Page = resp.NextPage
	}

	return states, nil
}

// InstallationRepoNames lists the repositories accessible to the
// installation behind gh, as a name set.
func InstallationRepoNames(ctx context.Context, gh GH) (map[string]bool, error) {
	names := map[string]bool{}
	opts := &github.ListOptions{PerPage: pageSize}
	for {
		repos, resp, err := gh.Apps().ListRepos(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list installation repos: %w", err)
		}
		for _, r := range repos.Repositories {
			names[r.GetName()] = true
		}
		if resp == nil || resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}

// OrgRepoNames lists the public repositories of org as a name set,
// falling back to the user listing when org lookup reports 404.
func OrgRepoNames(ctx context.Context, gh GH, org string) (map[string]bool, error) {
	names := map[string]bool{}
	orgOpts := &github.RepositoryListByOrgOptions{
		Type:        "public",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	for {
		repos, resp, err := gh.Repos().ListByOrg(ctx, org, orgOpts)
		if IsNotFound(err) {
			return userRepoNames(ctx, gh, org)
		}
		if err != nil {
			return nil, fmt.Errorf("list repos for org %s: %w", org, err)
		}
		for _, r := range repos {
			names[r.GetName()] = true
		}
		if resp == nil || resp.NextPage == 0 {
			return names, nil
		}
		orgOpts.Page = resp.NextPage
	}
}

func userRepoNames(ctx context.Context, gh GH, user string) (map[string]bool, error) {
	names := map[string]bool{}
	opts := &github.RepositoryListByUserOptions{
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	for {
		repos, resp, err := gh.Repos().ListByUser(ctx, user, opts)
		if err != nil {
			return nil, fmt.Errorf("list repos for user %s: %w", user, err)
		}
		for _, r := range repos {
			names[r.GetName()] = true
		}
		if resp == nil || resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}
