// Package notify builds the human-visible artifacts: sync PR titles and
// bodies, tracking issue content, and the superseded-PR comment.
package notify

import (
	"fmt"
	"strings"

	"github.com/stolostron/magic-mirror/internal/store"
)

const (
	sadYodaGIF     = "https://media.giphy.com/media/3o7qDSOvfaCO9b3MlO/giphy.gif"
	mirrorImageURL = "https://upload.wikimedia.org/wikipedia/commons/3/33/Magic_Mirror%2C_Snow_White_and_the_Seven_Dwarfs.jpg"
)

func prList(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, ", ")
}

// SyncPRTitle returns the title for a sync PR covering the upstream PRs.
func SyncPRTitle(upstreamOrg, repo string, ids []int) string {
	return fmt.Sprintf("🤖 Sync from %s/%s: %s", upstreamOrg, repo, prList(ids))
}

// SyncPRBody lists each upstream PR, crediting the author when known.
// When the PR supersedes an earlier one, replacesPR points at it.
func SyncPRBody(upstreamOrg, repo string, ids []int, authors []string, replacesPR *int) string {
	var b strings.Builder
	b.WriteString("Syncing the following pull-requests:\n")
	for i, id := range ids {
		author := ""
		if i < len(authors) && authors[i] != "" && authors[i] != store.NotApplicableAuthor {
			author = " (by @" + authors[i] + ")"
		}
		fmt.Fprintf(&b, "* %s/%s#%d%s\n", upstreamOrg, repo, id, author)
	}
	if replacesPR != nil {
		fmt.Fprintf(&b, "\nThis replaces #%d\n", *replacesPR)
	}
	return b.String()
}

// TrackingIssueTitle returns the title for a sync failure issue.
func TrackingIssueTitle(ids []int) string {
	return fmt.Sprintf("😿 Failed to sync the upstream PRs: %s", prList(ids))
}

// TrackingIssueOptions carries the optional sections of the issue body.
type TrackingIssueOptions struct {
	// PRID is the fork-side sync PR, when one was opened.
	PRID *int
	// Transcript is the failing command output, when the failure came
	// from the workspace.
	Transcript string
	// Commands reproduce the failure locally.
	Commands []string
}

// TrackingIssueBody renders the failure issue. Closing the issue resumes
// syncing for the branch, so the body spells that out.
func TrackingIssueBody(reason, upstreamOrg, repo, forkOrg, forkBranch string, ids []int, opts TrackingIssueOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🪞 Magic Mirror 🪞 failed to sync the following upstream pull-requests because %s:\n", reason)
	for _, id := range ids {
		fmt.Fprintf(&b, "* %s/%s#%d\n", upstreamOrg, repo, id)
	}
	fmt.Fprintf(
		&b,
		"\nSyncing is paused for the branch %s on %s/%s until this issue is closed.\n",
		forkBranch, forkOrg, repo,
	)
	if opts.PRID != nil {
		fmt.Fprintf(&b, "\nThe pull-request (#%d) can be reviewed for more information.\n", *opts.PRID)
	}
	if opts.Transcript != "" {
		fmt.Fprintf(&b, "\nError output:\n```\n%s\n```\n", strings.TrimSpace(opts.Transcript))
	}
	if len(opts.Commands) > 0 {
		b.WriteString("\nTo reproduce locally:\n```\n")
		for _, c := range opts.Commands {
			b.WriteString(c)
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}
	fmt.Fprintf(&b, "\n![sad Yoda](%s)\n", sadYodaGIF)
	return b.String()
}

// SupersededComment is posted on a sync PR before it is closed in favor
// of a newer one.
func SupersededComment() string {
	return fmt.Sprintf(
		"This pull-request is superseded by a newer sync attempt.\n\n![magic mirror](%s)",
		mirrorImageURL,
	)
}
