package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stolostron/magic-mirror/internal/store"
)

func TestSyncPRTitle(t *testing.T) {
	got := SyncPRTitle("open-cluster-management-io", "config-policy-controller", []int{41, 42})
	assert.Equal(t, "🤖 Sync from open-cluster-management-io/config-policy-controller: #41, #42", got)
}

func TestSyncPRBody(t *testing.T) {
	body := SyncPRBody("upstream", "repo", []int{41, 42, 43},
		[]string{"mprahl", store.NotApplicableAuthor, ""}, nil)

	assert.Contains(t, body, "* upstream/repo#41 (by @mprahl)")
	assert.Contains(t, body, "* upstream/repo#42\n")
	assert.Contains(t, body, "* upstream/repo#43\n")
	assert.NotContains(t, body, "not-applicable")
	assert.NotContains(t, body, "This replaces")
}

func TestSyncPRBodyReplaces(t *testing.T) {
	prev := 17
	body := SyncPRBody("upstream", "repo", []int{42}, []string{"mprahl"}, &prev)
	assert.Contains(t, body, "This replaces #17")
}

func TestTrackingIssueTitle(t *testing.T) {
	got := TrackingIssueTitle([]int{7, 9})
	assert.Equal(t, "😿 Failed to sync the upstream PRs: #7, #9", got)
}

func TestTrackingIssueBody(t *testing.T) {
	prID := 31
	body := TrackingIssueBody(
		"the PR CI failed", "upstream", "repo", "stolostron", "release-2.8",
		[]int{7, 9},
		TrackingIssueOptions{PRID: &prID},
	)

	assert.True(t, strings.HasPrefix(body,
		"🪞 Magic Mirror 🪞 failed to sync the following upstream pull-requests because the PR CI failed:\n"))
	assert.Contains(t, body, "* upstream/repo#7\n")
	assert.Contains(t, body, "* upstream/repo#9\n")
	assert.Contains(t, body, "Syncing is paused for the branch release-2.8 on stolostron/repo until this issue is closed.")
	assert.Contains(t, body, "The pull-request (#31) can be reviewed for more information.")
	assert.Contains(t, body, "giphy.gif")
	assert.NotContains(t, body, "Error output:")
	assert.NotContains(t, body, "To reproduce locally:")
}

func TestTrackingIssueBodyWithTranscript(t *testing.T) {
	body := TrackingIssueBody(
		"one or more patches couldn't cleanly apply", "upstream", "repo", "stolostron", "main",
		[]int{12},
		TrackingIssueOptions{
			Transcript: "error: could not apply deadbeef\n",
			Commands: []string{
				"git fetch upstream",
				"git cherry-pick -x deadbeef~1..deadbeef",
			},
		},
	)

	assert.Contains(t, body, "Error output:\n```\nerror: could not apply deadbeef\n```")
	assert.Contains(t, body, "To reproduce locally:\n```\ngit fetch upstream\ngit cherry-pick -x deadbeef~1..deadbeef\n```")
}

func TestSupersededComment(t *testing.T) {
	got := SupersededComment()
	assert.Contains(t, got, "superseded by a newer sync attempt")
	assert.Contains(t, got, "Magic_Mirror")
}
