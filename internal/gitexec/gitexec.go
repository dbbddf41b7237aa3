package gitexec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

type Runner struct {
	WorkDir string
	Env     []string
}

func NewRunner(baseDir string, extraEnv ...string) (*Runner, error) {
	dir := baseDir
	if dir == "" {
		dir = os.TempDir()
	}
	td, err := os.MkdirTemp(dir, "magic-mirror-*")
	if err != nil {
		return nil, err
	}
	return &Runner{WorkDir: td, Env: append(os.Environ(), extraEnv...)}, nil
}

var reToken = regexp.MustCompile(`x-access-token:[^@]+@`)

// Redact masks installation tokens embedded in remote URLs.
func Redact(s string) string {
	return reToken.ReplaceAllString(s, "x-access-token:***@")
}

func (r *Runner) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.WorkDir
	cmd.Env = r.Env

	var out bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &out

	// redact token in logged args
	safeArgs := make([]string, len(args))
	for i, a := range args {
		safeArgs[i] = Redact(a)
	}

	slog.Debug("git.exec", "cwd", r.WorkDir, "cmd", name, "args", safeArgs)
	err := cmd.Run()
	if err != nil {
		s := Redact(out.String())
		slog.Error("git.fail", "cmd", name, "args", safeArgs, "err", err, "out", s)
		return fmt.Errorf("%s %s failed: %v\n%s", name, strings.Join(safeArgs, " "), err, s)
	}
	if s := strings.TrimSpace(out.String()); s != "" {
		slog.Debug("git.out", "cmd", name, "out", Redact(s))
	}
	return nil
}

func (r *Runner) Clean() { _ = os.RemoveAll(r.WorkDir) }

// Clone clones the remote into the work dir as "origin". The URL may
// carry an x-access-token user; it is redacted from logs and errors.
func (r *Runner) Clone(ctx context.Context, remoteURL string) error {
	return r.run(ctx, "git", "clone", remoteURL, ".")
}

func (r *Runner) ConfigUser(ctx context.Context, name, email string) error {
	if err := r.run(ctx, "git", "config", "user.name", name); err != nil {
		return err
	}
	return r.run(ctx, "git", "config", "user.email", email)
}

// AddRemote registers an additional remote (the upstream repository).
func (r *Runner) AddRemote(ctx context.Context, name, url string) error {
	return r.run(ctx, "git", "remote", "add", name, url)
}

// FetchRemote fetches a remote with pruning.
func (r *Runner) FetchRemote(ctx context.Context, remote string) error {
	return r.run(ctx, "git", "fetch", "--prune", remote)
}

func (r *Runner) CheckoutBranchFrom(ctx context.Context, newBranch, fromRef string) error {
	return r.run(ctx, "git", "checkout", "-B", newBranch, fromRef)
}

// CherryPickRange applies the commits head~numCommits..head, recording
// the original commit references and keeping empty/redundant commits so
// the fork history mirrors upstream one-to-one.
func (r *Runner) CherryPickRange(ctx context.Context, headSHA string, numCommits int) error {
	rangeSpec := fmt.Sprintf("%s~%d..%s", headSHA, numCommits, headSHA)
	return r.run(ctx, "git", "cherry-pick", "-x", "--allow-empty", "--keep-redundant-commits", rangeSpec)
}

func (r *Runner) AbortCherryPick(ctx context.Context) {
	_ = r.run(ctx, "git", "cherry-pick", "--abort")
}

// PushHead pushes the current HEAD to origin under the given branch name.
func (r *Runner) PushHead(ctx context.Context, branch string) error {
	return r.run(ctx, "git", "push", "origin", "HEAD:refs/heads/"+branch)
}
