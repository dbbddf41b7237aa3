// Package reactor advances the per-branch sync state machine on webhook
// events: tracking-issue closes, CI signals, and pull-request closes.
package reactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	github "github.com/google/go-github/v75/github"

	"github.com/stolostron/magic-mirror/internal/config"
	"github.com/stolostron/magic-mirror/internal/githubapp"
	"github.com/stolostron/magic-mirror/internal/hostclient"
	"github.com/stolostron/magic-mirror/internal/notify"
	"github.com/stolostron/magic-mirror/internal/store"
)

// Reactor handles GitHub events against the shared store.
type Reactor struct {
	Cfg   *config.Config
	Store *store.Store

	// NewGH is a test seam; the default builds an installation client.
	NewGH func(installationID int64) (hostclient.GH, error)
}

func (r *Reactor) gh(installationID int64) (hostclient.GH, error) {
	if r.NewGH != nil {
		return r.NewGH(installationID)
	}
	clients, err := githubapp.NewClients(r.Cfg.AppID, installationID, r.Cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	return hostclient.Real{C: clients.REST}, nil
}

// HandleEvent dispatches one raw webhook payload by event name. It is
// shared by the HTTP receiver and the SQS ingest worker, and returns an
// HTTP-like status code.
func (r *Reactor) HandleEvent(ctx context.Context, event, delivery string, payload []byte) (int, error) {
	slog.Debug("event.received", "delivery", delivery, "event", event)

	switch event {
	case "issues":
		var e github.IssuesEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return http.StatusBadRequest, fmt.Errorf("bad payload: %w", err)
		}
		if err := r.HandleIssuesEvent(ctx, &e); err != nil {
			slog.Error("event.issues_error", "delivery", delivery, "err", err)
			return http.StatusInternalServerError, err
		}
	case "pull_request":
		var e github.PullRequestEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return http.StatusBadRequest, fmt.Errorf("bad payload: %w", err)
		}
		if err := r.HandlePullRequestEvent(ctx, &e); err != nil {
			slog.Error("event.pull_request_error", "delivery", delivery, "err", err)
			return http.StatusInternalServerError, err
		}
	case "check_run":
		var e github.CheckRunEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return http.StatusBadRequest, fmt.Errorf("bad payload: %w", err)
		}
		if err := r.HandleCheckRunEvent(ctx, &e); err != nil {
			slog.Error("event.check_run_error", "delivery", delivery, "err", err)
			return http.StatusInternalServerError, err
		}
	case "check_suite":
		var e github.CheckSuiteEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return http.StatusBadRequest, fmt.Errorf("bad payload: %w", err)
		}
		if err := r.HandleCheckSuiteEvent(ctx, &e); err != nil {
			slog.Error("event.check_suite_error", "delivery", delivery, "err", err)
			return http.StatusInternalServerError, err
		}
	case "status":
		var e github.StatusEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return http.StatusBadRequest, fmt.Errorf("bad payload: %w", err)
		}
		if err := r.HandleStatusEvent(ctx, &e); err != nil {
			slog.Error("event.status_error", "delivery", delivery, "err", err)
			return http.StatusInternalServerError, err
		}
	default:
		slog.Debug("event.ignored", "delivery", delivery, "event", event)
		return http.StatusNoContent, nil
	}
	return http.StatusOK, nil
}

// HandleIssuesEvent resumes a paused branch when its tracking issue is
// closed: the fork PR (if any) is closed, the cursor advances past the
// failed batch, and the pending record is removed.
func (r *Reactor) HandleIssuesEvent(ctx context.Context, e *github.IssuesEvent) error {
	if e.GetAction() != "closed" || e.GetRepo() == nil || e.GetIssue() == nil {
		return nil
	}
	org := e.GetRepo().GetOwner().GetLogin()
	name := e.GetRepo().GetName()
	issueNum := e.GetIssue().GetNumber()

	forkRepo, err := r.Store.GetOrCreateRepo(org, name)
	if err != nil {
		return err
	}
	p, err := r.Store.GetPendingPRByIssue(forkRepo.ID, issueNum)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}

	if p.PRID != nil {
		gh, err := r.gh(e.GetInstallation().GetID())
		if err != nil {
			return err
		}
		if _, _, err := gh.PR().Edit(ctx, org, name, *p.PRID, &github.PullRequest{
			State: github.Ptr("closed"),
		}); err != nil && !hostclient.IsNotFound(err) {
			slog.Warn("reactor.close_pr_error", "repo", org+"/"+name, "pr", *p.PRID, "err", err)
		}
	}

	last := p.UpstreamPRIDs[len(p.UpstreamPRIDs)-1]
	if err := r.Store.SetLastHandledPR(p.BranchTuple, last); err != nil {
		return err
	}
	slog.Info("reactor.issue_closed",
		"repo", org+"/"+name, "issue", issueNum, "branch", p.ForkBranch, "cursor", last)
	return r.Store.DeletePendingPR(p.BranchTuple)
}

// HandlePullRequestEvent advances the cursor when a sync PR reaches its
// terminal close without a tracking issue in play.
func (r *Reactor) HandlePullRequestEvent(ctx context.Context, e *github.PullRequestEvent) error {
	if e.GetAction() != "closed" || e.GetRepo() == nil {
		return nil
	}
	org := e.GetRepo().GetOwner().GetLogin()
	name := e.GetRepo().GetName()
	prNum := e.GetPullRequest().GetNumber()

	forkRepo, err := r.Store.GetOrCreateRepo(org, name)
	if err != nil {
		return err
	}
	p, err := r.Store.GetPendingPRByPRID(forkRepo.ID, prNum)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	if p.GithubIssue != nil {
		// The issue-closed path owns terminal advancement.
		return nil
	}

	last := p.UpstreamPRIDs[len(p.UpstreamPRIDs)-1]
	if err := r.Store.SetLastHandledPR(p.BranchTuple, last); err != nil {
		return err
	}
	slog.Info("reactor.pr_closed",
		"repo", org+"/"+name, "pr", prNum, "branch", p.ForkBranch, "cursor", last)
	return r.Store.DeletePendingPR(p.BranchTuple)
}

// HandleCheckRunEvent funnels a completed check run into the shared CI
// handler for every PR the run reports.
func (r *Reactor) HandleCheckRunEvent(ctx context.Context, e *github.CheckRunEvent) error {
	if e.GetAction() != "completed" || e.GetRepo() == nil || e.GetCheckRun() == nil {
		return nil
	}
	run := e.GetCheckRun()
	name := run.GetName()
	success := hostclient.CheckSuccess(run.GetConclusion())

	gh, err := r.gh(e.GetInstallation().GetID())
	if err != nil {
		return err
	}
	org := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()

	var errs []error
	for _, pr := range run.PullRequests {
		if err := r.handleCISignal(ctx, gh, org, repo, pr.GetNumber(), &name, success); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleCheckSuiteEvent handles deployments that only subscribe to
// check_suite: the suite has no single check name, so the membership gate
// is skipped and the aggregate conclusion drives the transition.
func (r *Reactor) HandleCheckSuiteEvent(ctx context.Context, e *github.CheckSuiteEvent) error {
	if e.GetAction() != "completed" || e.GetRepo() == nil || e.GetCheckSuite() == nil {
		return nil
	}
	suite := e.GetCheckSuite()
	success := hostclient.CheckSuccess(suite.GetConclusion())

	gh, err := r.gh(e.GetInstallation().GetID())
	if err != nil {
		return err
	}
	org := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()

	var errs []error
	for _, pr := range suite.PullRequests {
		if err := r.handleCISignal(ctx, gh, org, repo, pr.GetNumber(), nil, success); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleStatusEvent funnels a commit status into the shared CI handler.
// Pending states are ignored; the PRs containing the commit are resolved
// through the host.
func (r *Reactor) HandleStatusEvent(ctx context.Context, e *github.StatusEvent) error {
	if e.GetRepo() == nil || e.GetState() == "pending" {
		return nil
	}
	name := e.GetContext()
	success := e.GetState() == "success"

	gh, err := r.gh(e.GetInstallation().GetID())
	if err != nil {
		return err
	}
	org := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()

	prs, _, err := gh.PR().ListPullRequestsWithCommit(ctx, org, repo, e.GetSHA(), &github.ListOptions{PerPage: 100})
	if err != nil {
		return fmt.Errorf("list PRs for commit %s: %w", e.GetSHA(), err)
	}

	var errs []error
	for _, pr := range prs {
		if err := r.handleCISignal(ctx, gh, org, repo, pr.GetNumber(), &name, success); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleCISignal is the single CI handler both event shapes funnel into.
// checkName is nil for check-suite signals, which carry no single name.
func (r *Reactor) handleCISignal(ctx context.Context, gh hostclient.GH, org, repo string, prNum int, checkName *string, success bool) error {
	forkRepo, err := r.Store.GetOrCreateRepo(org, repo)
	if err != nil {
		return err
	}
	p, err := r.Store.GetPendingPRByPRID(forkRepo.ID, prNum)
	if err != nil {
		return err
	}
	if p == nil {
		// Not a sync PR of ours.
		return nil
	}
	if p.Action == store.ActionBlocked {
		// Manual resolution owns it.
		return nil
	}

	required, err := hostclient.RequiredChecks(ctx, gh, org, repo, p.ForkBranch)
	if err != nil {
		return err
	}
	if checkName != nil && !slices.Contains(required, *checkName) {
		return nil
	}

	upstreamRepo, err := r.Store.GetRepoByID(p.UpstreamRepoID)
	if err != nil {
		return err
	}

	if !success {
		if checkName == nil {
			// A suite conclusion aggregates optional runs too; only a
			// failing required check blocks the branch.
			failedRequired, err := r.requiredCheckFailed(ctx, gh, org, repo, prNum, required)
			if err != nil {
				return err
			}
			if !failedRequired {
				return nil
			}
		}
		issue, err := r.BlockWithIssue(ctx, gh, org, upstreamRepo.Organization, repo, "the PR CI failed", p,
			notify.TrackingIssueOptions{PRID: p.PRID})
		if err != nil {
			return err
		}
		// Link the PR to the issue so closing one tracks the other.
		// Failing to append is logged, not fatal.
		if p.PRID != nil {
			if err := r.appendClosesFooter(ctx, gh, org, repo, *p.PRID, issue); err != nil {
				slog.Warn("reactor.append_closes_error", "repo", org+"/"+repo, "pr", *p.PRID, "err", err)
			}
		}
		return nil
	}

	// Verify every other required check is green on the PR head before
	// merging; otherwise another signal will retrigger us.
	pr, _, err := gh.PR().Get(ctx, org, repo, prNum)
	if err != nil {
		return fmt.Errorf("get PR %s/%s#%d: %w", org, repo, prNum, err)
	}
	headSHA := pr.GetHead().GetSHA()

	states, err := hostclient.HeadCheckStates(ctx, gh, org, repo, headSHA)
	if err != nil {
		return err
	}
	for _, name := range required {
		green, reported := states[name]
		if !reported || !green {
			slog.Debug("reactor.awaiting_checks",
				"repo", org+"/"+repo, "pr", prNum, "check", name, "reported", reported)
			return nil
		}
	}

	_, err = r.MergeSyncPR(ctx, gh, org, upstreamRepo.Organization, repo, p, headSHA)
	return err
}

// requiredCheckFailed reports whether any required check has a failing
// outcome on the PR head.
func (r *Reactor) requiredCheckFailed(ctx context.Context, gh hostclient.GH, org, repo string, prNum int, required []string) (bool, error) {
	if len(required) == 0 {
		return false, nil
	}
	pr, _, err := gh.PR().Get(ctx, org, repo, prNum)
	if err != nil {
		return false, fmt.Errorf("get PR %s/%s#%d: %w", org, repo, prNum, err)
	}
	states, err := hostclient.HeadCheckStates(ctx, gh, org, repo, pr.GetHead().GetSHA())
	if err != nil {
		return false, err
	}
	for _, name := range required {
		if green, reported := states[name]; reported && !green {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reactor) appendClosesFooter(ctx context.Context, gh hostclient.GH, org, repo string, prNum, issue int) error {
	pr, _, err := gh.PR().Get(ctx, org, repo, prNum)
	if err != nil {
		return err
	}
	body := pr.GetBody() + fmt.Sprintf("\n\nCloses #%d", issue)
	_, _, err = gh.PR().Edit(ctx, org, repo, prNum, &github.PullRequest{Body: github.Ptr(body)})
	return err
}

// BlockWithIssue opens a tracking issue on the fork and transitions the
// pending record to Blocked. It returns the new issue number.
func (r *Reactor) BlockWithIssue(ctx context.Context, gh hostclient.GH, forkOrg, upstreamOrg, repo, reason string, p *store.PendingPR, opts notify.TrackingIssueOptions) (int, error) {
	title := notify.TrackingIssueTitle(p.UpstreamPRIDs)
	body := notify.TrackingIssueBody(reason, upstreamOrg, repo, forkOrg, p.ForkBranch, p.UpstreamPRIDs, opts)
	issue, _, err := gh.Issues().Create(ctx, forkOrg, repo, &github.IssueRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return 0, fmt.Errorf("create tracking issue on %s/%s: %w", forkOrg, repo, err)
	}
	num := issue.GetNumber()
	p.Action = store.ActionBlocked
	p.GithubIssue = &num
	if err := r.Store.SetPendingPR(p); err != nil {
		return 0, err
	}
	slog.Info("reactor.blocked",
		"repo", forkOrg+"/"+repo, "branch", p.ForkBranch, "issue", num, "reason", reason)
	return num, nil
}

// MergeSyncPR rebase-merges the pending sync PR at the expected head SHA
// and reports whether the merge happened. A host rejection (head moved,
// merge forbidden) opens a tracking issue and blocks the branch;
// transient errors propagate for retry.
func (r *Reactor) MergeSyncPR(ctx context.Context, gh hostclient.GH, forkOrg, upstreamOrg, repo string, p *store.PendingPR, headSHA string) (bool, error) {
	if p.PRID == nil {
		return false, errors.New("pending PR has no fork PR to merge")
	}
	result, _, err := gh.PR().Merge(ctx, forkOrg, repo, *p.PRID, "", &github.PullRequestOptions{
		SHA:         headSHA,
		MergeMethod: "rebase",
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && isMergeRejection(ghErr.Response.StatusCode) {
			slog.Warn("reactor.merge_rejected",
				"repo", forkOrg+"/"+repo, "pr", *p.PRID, "err", err)
			_, berr := r.BlockWithIssue(ctx, gh, forkOrg, upstreamOrg, repo,
				"the pull-request couldn't be merged", p,
				notify.TrackingIssueOptions{PRID: p.PRID})
			return false, berr
		}
		// Server-side trouble; retry on a later signal or tick without
		// touching the store.
		return false, fmt.Errorf("merge %s/%s#%d: %w", forkOrg, repo, *p.PRID, err)
	}
	if !result.GetMerged() {
		_, berr := r.BlockWithIssue(ctx, gh, forkOrg, upstreamOrg, repo,
			"the pull-request couldn't be merged", p,
			notify.TrackingIssueOptions{PRID: p.PRID})
		return false, berr
	}
	slog.Info("reactor.merged", "repo", forkOrg+"/"+repo, "pr", *p.PRID, "sha", headSHA)
	return true, nil
}

// isMergeRejection reports whether the host refused the merge outright:
// not mergeable (405), head moved (409), or validation failed (422).
// Anything else, 5xx included, is transient.
func isMergeRejection(code int) bool {
	switch code {
	case http.StatusMethodNotAllowed, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
