// Package syncer is the polling half of the engine: each tick it
// enumerates every (fork org, upstream org, repo, branch mapping) tuple
// and drives its state machine one step: discovering newly merged
// upstream PRs, cherry-picking them onto the fork, and opening sync PRs.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	github "github.com/google/go-github/v75/github"

	"github.com/stolostron/magic-mirror/internal/config"
	"github.com/stolostron/magic-mirror/internal/githubapp"
	"github.com/stolostron/magic-mirror/internal/hostclient"
	"github.com/stolostron/magic-mirror/internal/notify"
	"github.com/stolostron/magic-mirror/internal/reactor"
	"github.com/stolostron/magic-mirror/internal/store"
	"github.com/stolostron/magic-mirror/internal/workspace"
)

// ApplyFunc is the workspace seam.
type ApplyFunc func(ctx context.Context, forkRemote, upstreamRemote, sourceBranch, targetBranch string, patches []workspace.Patch, actor workspace.GitActor) error

// Syncer drives the per-tuple state machines from the polling side.
type Syncer struct {
	Cfg   *config.Config
	Store *store.Store
	// AppGH is the app-scoped client used to enumerate installations.
	AppGH hostclient.GH

	// Test seams; nil fields fall back to production implementations.
	NewInstallationGH func(installationID int64) (hostclient.GH, error)
	Token             func(ctx context.Context, installationID int64) (string, error)
	Apply             ApplyFunc
	NowMillis         func() int64
}

func (s *Syncer) installationGH(installationID int64) (hostclient.GH, error) {
	if s.NewInstallationGH != nil {
		return s.NewInstallationGH(installationID)
	}
	clients, err := githubapp.NewClients(s.Cfg.AppID, installationID, s.Cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	return hostclient.Real{C: clients.REST}, nil
}

func (s *Syncer) token(ctx context.Context, installationID int64) (string, error) {
	if s.Token != nil {
		return s.Token(ctx, installationID)
	}
	return githubapp.InstallationToken(ctx, s.Cfg.AppID, installationID, s.Cfg.PrivateKey)
}

func (s *Syncer) apply(ctx context.Context, forkRemote, upstreamRemote, sourceBranch, targetBranch string, patches []workspace.Patch) error {
	fn := s.Apply
	if fn == nil {
		fn = workspace.ApplyPatches
	}
	return fn(ctx, forkRemote, upstreamRemote, sourceBranch, targetBranch, patches, workspace.GitActor{
		Name:  s.Cfg.GitUserName,
		Email: s.Cfg.GitUserEmail,
	})
}

func (s *Syncer) nowMillis() int64 {
	if s.NowMillis != nil {
		return s.NowMillis()
	}
	return time.Now().UnixMilli()
}

func (s *Syncer) reactor() *reactor.Reactor {
	return &reactor.Reactor{Cfg: s.Cfg, Store: s.Store}
}

// Run ticks RunOnce every syncInterval until ctx is canceled. A slow
// tick shortens the following sleep so the cadence stays steady.
func (s *Syncer) Run(ctx context.Context) error {
	interval := time.Duration(s.Cfg.SyncInterval) * time.Second
	for {
		start := time.Now()
		if err := s.RunOnce(ctx); err != nil {
			slog.Error("sync.tick_error", "err", err)
		}
		sleep := interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// RunOnce drives every eligible tuple one step. A tuple's failure is
// accumulated, never fatal to the rest of the tick.
func (s *Syncer) RunOnce(ctx context.Context) error {
	installations, err := s.listInstallations(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, forkOrg := range sortedKeys(s.Cfg.UpstreamMappings) {
		installationID, ok := installations[forkOrg]
		if !ok {
			slog.Warn("sync.no_installation", "forkOrg", forkOrg)
			continue
		}
		gh, err := s.installationGH(installationID)
		if err != nil {
			errs = append(errs, fmt.Errorf("client for %s: %w", forkOrg, err))
			continue
		}
		forkRepos, err := hostclient.InstallationRepoNames(ctx, gh)
		if err != nil {
			errs = append(errs, fmt.Errorf("repos for %s: %w", forkOrg, err))
			continue
		}

		upstreams := s.Cfg.UpstreamMappings[forkOrg]
		for _, upstreamOrg := range sortedKeys(upstreams) {
			mapping := upstreams[upstreamOrg]
			upstreamRepos, err := hostclient.OrgRepoNames(ctx, gh, upstreamOrg)
			if err != nil {
				errs = append(errs, fmt.Errorf("repos for %s: %w", upstreamOrg, err))
				continue
			}

			for _, repo := range sortedSet(forkRepos) {
				if !upstreamRepos[repo] {
					continue
				}
				for _, upstreamBranch := range sortedKeys(mapping.BranchMappings) {
					if ctx.Err() != nil {
						errs = append(errs, ctx.Err())
						return errors.Join(errs...)
					}
					t := tuple{
						installationID: installationID,
						forkOrg:        forkOrg,
						upstreamOrg:    upstreamOrg,
						repo:           repo,
						upstreamBranch: upstreamBranch,
						forkBranch:     mapping.BranchMappings[upstreamBranch],
						prLabels:       mapping.PRLabels,
					}
					if err := s.handleBranch(ctx, gh, t); err != nil {
						slog.Error("sync.branch_error",
							"repo", forkOrg+"/"+repo, "branch", t.forkBranch, "err", err)
						errs = append(errs, fmt.Errorf("%s/%s %s: %w", forkOrg, repo, t.forkBranch, err))
					}
				}
			}
		}
	}
	return errors.Join(errs...)
}

// tuple is one (fork org, upstream org, repo, branch mapping) unit.
type tuple struct {
	installationID int64
	forkOrg        string
	upstreamOrg    string
	repo           string
	upstreamBranch string
	forkBranch     string
	prLabels       []string
}

// upstreamPR carries the fields of a merged upstream PR the engine uses.
type upstreamPR struct {
	num      int
	author   string
	base     string
	mergeSHA string
	commits  int
}

// handleBranch drives one tuple's state machine a single step.
func (s *Syncer) handleBranch(ctx context.Context, gh hostclient.GH, t tuple) error {
	forkRepo, err := s.Store.GetOrCreateRepo(t.forkOrg, t.repo)
	if err != nil {
		return err
	}
	upstreamRepo, err := s.Store.GetOrCreateRepo(t.upstreamOrg, t.repo)
	if err != nil {
		return err
	}
	bt := store.BranchTuple{
		ForkRepoID:     forkRepo.ID,
		UpstreamRepoID: upstreamRepo.ID,
		ForkBranch:     t.forkBranch,
	}

	pending, err := s.Store.GetPendingPR(bt)
	if err != nil {
		return err
	}
	if pending != nil && pending.Action == store.ActionBlocked {
		// Paused until a human closes the tracking issue.
		return nil
	}

	cursor, err := s.Store.GetLastHandledPR(bt)
	if err != nil {
		return err
	}
	if cursor == nil {
		// First observation: start from the latest merged PR so we never
		// replay history.
		latest, err := hostclient.LatestMergedPRNumber(ctx, gh, t.upstreamOrg, t.repo)
		if err != nil {
			return err
		}
		slog.Info("sync.bootstrap",
			"repo", t.upstreamOrg+"/"+t.repo, "branch", t.forkBranch, "cursor", latest)
		return s.Store.SetLastHandledPR(bt, latest)
	}

	candidates, err := hostclient.MergedPRNumbersAfter(ctx, gh, t.upstreamOrg, t.repo, *cursor)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	// Group candidates by base branch; only the configured upstream
	// branch's PRs are ours to carry.
	var prs []upstreamPR
	for _, num := range candidates {
		pr, _, err := gh.PR().Get(ctx, t.upstreamOrg, t.repo, num)
		if err != nil {
			return fmt.Errorf("get upstream PR %s/%s#%d: %w", t.upstreamOrg, t.repo, num, err)
		}
		if pr.GetBase().GetRef() != t.upstreamBranch {
			continue
		}
		prs = append(prs, upstreamPR{
			num:      num,
			author:   pr.GetUser().GetLogin(),
			base:     pr.GetBase().GetRef(),
			mergeSHA: pr.GetMergeCommitSHA(),
			commits:  pr.GetCommits(),
		})
	}
	if len(prs) == 0 {
		return nil
	}

	prIDs := make([]int, len(prs))
	authors := make([]string, len(prs))
	for i, pr := range prs {
		prIDs[i] = pr.num
		authors[i] = pr.author
	}

	var replacesPR *int
	if pending != nil {
		if pending.Action == store.ActionCreated && slices.Equal(pending.UpstreamPRIDs, prIDs) {
			// The in-flight PR already covers exactly this set.
			return nil
		}
		closed, err := s.closePR(ctx, gh, t.forkOrg, t.repo, *pending.PRID)
		if err != nil {
			return err
		}
		if !closed {
			// Already closed on the host: the close event owns the
			// terminal transition. Not our turn.
			slog.Info("sync.yield_to_reactor",
				"repo", t.forkOrg+"/"+t.repo, "pr", *pending.PRID)
			return nil
		}
		replacesPR = pending.PRID
		if err := s.Store.DeletePendingPR(bt); err != nil {
			return err
		}
	}

	patches := make([]workspace.Patch, len(prs))
	for i, pr := range prs {
		patches[i] = workspace.Patch{HeadSHA: pr.mergeSHA, NumCommits: pr.commits}
	}

	token, err := s.token(ctx, t.installationID)
	if err != nil {
		return err
	}
	forkRemote := fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, t.forkOrg, t.repo)
	upstreamRemote := fmt.Sprintf("https://github.com/%s/%s.git", t.upstreamOrg, t.repo)
	workBranch := fmt.Sprintf("%s-%d", t.upstreamBranch, s.nowMillis())

	if err := s.apply(ctx, forkRemote, upstreamRemote, t.forkBranch, workBranch, patches); err != nil {
		var failure *workspace.ApplyFailure
		if !errors.As(err, &failure) {
			// Transient workspace trouble; retry next tick.
			return err
		}
		p := &store.PendingPR{
			BranchTuple:     bt,
			UpstreamPRIDs:   prIDs,
			UpstreamAuthors: authors,
		}
		_, berr := s.reactor().BlockWithIssue(ctx, gh, t.forkOrg, t.upstreamOrg, t.repo,
			"one or more patches couldn't cleanly apply", p,
			notify.TrackingIssueOptions{
				Transcript: failure.Err.Error(),
				Commands:   failure.Commands,
			})
		return berr
	}

	newPR, _, err := gh.PR().Create(ctx, t.forkOrg, t.repo, &github.NewPullRequest{
		Title: github.Ptr(notify.SyncPRTitle(t.upstreamOrg, t.repo, prIDs)),
		Head:  github.Ptr(workBranch),
		Base:  github.Ptr(t.forkBranch),
		Body:  github.Ptr(notify.SyncPRBody(t.upstreamOrg, t.repo, prIDs, authors, replacesPR)),
	})
	if err != nil {
		return fmt.Errorf("create sync PR on %s/%s: %w", t.forkOrg, t.repo, err)
	}
	prNum := newPR.GetNumber()
	slog.Info("sync.pr_opened",
		"repo", t.forkOrg+"/"+t.repo, "pr", prNum, "upstreamPRs", prIDs)

	if len(t.prLabels) > 0 {
		if _, _, err := gh.Issues().AddLabelsToIssue(ctx, t.forkOrg, t.repo, prNum, t.prLabels); err != nil {
			slog.Warn("sync.add_labels_error", "repo", t.forkOrg+"/"+t.repo, "pr", prNum, "err", err)
		}
	}

	p := &store.PendingPR{
		BranchTuple:     bt,
		UpstreamPRIDs:   prIDs,
		UpstreamAuthors: authors,
		Action:          store.ActionCreated,
		PRID:            &prNum,
	}
	if err := s.Store.SetPendingPR(p); err != nil {
		return err
	}

	required, err := hostclient.RequiredChecks(ctx, gh, t.forkOrg, t.repo, t.forkBranch)
	if err != nil {
		return err
	}
	if len(required) > 0 {
		// The reactor takes over from the CI webhooks.
		return nil
	}

	// No required checks: merge right away instead of waiting for
	// signals that will never come.
	merged, err := s.reactor().MergeSyncPR(ctx, gh, t.forkOrg, t.upstreamOrg, t.repo, p, newPR.GetHead().GetSHA())
	if err != nil || !merged {
		return err
	}
	if err := s.Store.SetLastHandledPR(bt, prIDs[len(prIDs)-1]); err != nil {
		return err
	}
	return s.Store.DeletePendingPR(bt)
}

// closePR closes a fork-side sync PR after leaving a superseded comment.
// It reports false, without touching anything, when the host already
// has it closed.
func (s *Syncer) closePR(ctx context.Context, gh hostclient.GH, org, repo string, prID int) (bool, error) {
	pr, _, err := gh.PR().Get(ctx, org, repo, prID)
	if err != nil {
		return false, fmt.Errorf("get PR %s/%s#%d: %w", org, repo, prID, err)
	}
	if pr.GetState() == "closed" {
		return false, nil
	}
	if _, _, err := gh.Issues().CreateComment(ctx, org, repo, prID, &github.IssueComment{
		Body: github.Ptr(notify.SupersededComment()),
	}); err != nil {
		slog.Warn("sync.superseded_comment_error", "repo", org+"/"+repo, "pr", prID, "err", err)
	}
	if _, _, err := gh.PR().Edit(ctx, org, repo, prID, &github.PullRequest{
		State: github.Ptr("closed"),
	}); err != nil {
		return false, fmt.Errorf("close PR %s/%s#%d: %w", org, repo, prID, err)
	}
	return true, nil
}

func (s *Syncer) listInstallations(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	opts := &github.ListOptions{PerPage: 100}
	for {
		installations, resp, err := s.AppGH.Apps().ListInstallations(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list installations: %w", err)
		}
		for _, inst := range installations {
			out[inst.GetAccount().GetLogin()] = inst.GetID()
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sortedSet(m map[string]bool) []string {
	return sortedKeys(m)
}
