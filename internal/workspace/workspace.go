// Package workspace applies ordered upstream cherry-picks onto a fork
// branch in a scoped checkout and pushes the result.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stolostron/magic-mirror/internal/gitexec"
)

type GitActor struct {
	Name  string
	Email string
}

// Patch locates the commits of one upstream PR: the merge commit SHA and
// how many commits it carries.
type Patch struct {
	HeadSHA    string
	NumCommits int
}

// ErrNoPatches is returned when ApplyPatches is called with nothing to apply.
var ErrNoPatches = errors.New("at least one patch is required")

// runner is the subset of gitexec.Runner we use; a seam for tests.
type runner interface {
	Clean()
	Clone(ctx context.Context, remoteURL string) error
	ConfigUser(ctx context.Context, name, email string) error
	AddRemote(ctx context.Context, name, url string) error
	FetchRemote(ctx context.Context, remote string) error
	CheckoutBranchFrom(ctx context.Context, newBranch, fromRef string) error
	CherryPickRange(ctx context.Context, headSHA string, numCommits int) error
	AbortCherryPick(ctx context.Context)
	PushHead(ctx context.Context, branch string) error
}

var newRunner = func() (runner, error) {
	return gitexec.NewRunner("", "GIT_ASKPASS=true")
}

// ApplyFailure is a cherry-pick (or surrounding git operation) failure.
// Commands holds the steps a human can run locally to reproduce it.
type ApplyFailure struct {
	Commands []string
	Err      error
}

func (e *ApplyFailure) Error() string { return e.Err.Error() }
func (e *ApplyFailure) Unwrap() error { return e.Err }

// ApplyPatches clones forkRemote, creates targetBranch from
// origin/sourceBranch, fetches upstreamRemote, cherry-picks each patch
// range in order, and pushes the result. The checkout is scoped to this
// call and removed on every exit path.
func ApplyPatches(ctx context.Context, forkRemote, upstreamRemote, sourceBranch, targetBranch string, patches []Patch, actor GitActor) error {
	if len(patches) == 0 {
		return ErrNoPatches
	}

	r, err := newRunner()
	if err != nil {
		return err
	}
	defer r.Clean()

	if err := r.Clone(ctx, forkRemote); err != nil {
		return err
	}
	if err := r.ConfigUser(ctx, actor.Name, actor.Email); err != nil {
		return err
	}
	if err := r.CheckoutBranchFrom(ctx, targetBranch, "origin/"+sourceBranch); err != nil {
		return err
	}
	if err := r.AddRemote(ctx, "upstream", upstreamRemote); err != nil {
		return err
	}
	if err := r.FetchRemote(ctx, "upstream"); err != nil {
		return err
	}

	for _, p := range patches {
		if err := r.CherryPickRange(ctx, p.HeadSHA, p.NumCommits); err != nil {
			r.AbortCherryPick(ctx)
			slog.Warn("workspace.cherry_pick_failed",
				"sha", p.HeadSHA, "commits", p.NumCommits, "target", targetBranch)
			return &ApplyFailure{
				Commands: reproCommands(upstreamRemote, sourceBranch, patches),
				Err:      fmt.Errorf("cherry-pick %s~%d..%s onto %s: %w", p.HeadSHA, p.NumCommits, p.HeadSHA, targetBranch, err),
			}
		}
	}

	return r.PushHead(ctx, targetBranch)
}

func reproCommands(upstreamRemote, sourceBranch string, patches []Patch) []string {
	cmds := []string{
		fmt.Sprintf("git checkout %s", sourceBranch),
		fmt.Sprintf("git remote add upstream %s", gitexec.Redact(upstreamRemote)),
		"git fetch --prune upstream",
	}
	for _, p := range patches {
		cmds = append(cmds, fmt.Sprintf(
			"git cherry-pick -x --allow-empty --keep-redundant-commits %s~%d..%s",
			p.HeadSHA, p.NumCommits, p.HeadSHA,
		))
	}
	return cmds
}
