package e2e

// GitHub integration round trip: a PR webhook creates a session, review
// comments accumulate addressable contexts, and the responder posts
// back through the (stubbed) GitHub API.

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/github"
)

func prOpenedPayload(repo string, number int, title, author, sha string) string {
	return fmt.Sprintf(`{
		"action": "opened",
		"number": %d,
		"pull_request": {
			"number": %d,
			"title": %q,
			"user": {"login": %q},
			"head": {"ref": "feature/login", "sha": %q},
			"html_url": "https://github.test/%s/pull/%d"
		},
		"repository": {"full_name": %q},
		"sender": {"login": %q}
	}`, number, number, title, author, sha, repo, number, repo, author)
}

func reviewCommentCreatedPayload(repo string, number int, commentID int64, author, path string, line int, body string) string {
	return fmt.Sprintf(`{
		"action": "created",
		"comment": {
			"id": %d,
			"body": %q,
			"path": %q,
			"line": %d,
			"user": {"login": %q}
		},
		"pull_request": {"number": %d},
		"repository": {"full_name": %q},
		"sender": {"login": %q}
	}`, commentID, body, path, line, author, number, repo, author)
}

func issueCommentCreatedPayload(repo string, number int, commentID int64, author, body string) string {
	return fmt.Sprintf(`{
		"action": "created",
		"issue": {"pull_request": {"url": "https://api.github.test/pr"}, "number": %d},
		"comment": {"id": %d, "body": %q, "user": {"login": %q}},
		"repository": {"full_name": %q},
		"sender": {"login": %q}
	}`, number, commentID, body, author, repo, author)
}

func TestE2E_PullRequestRoundTrip(t *testing.T) {
	app := NewTestApp(t)
	rec := recordEvents(t, app.Bus)
	ctx := context.Background()

	// ═══ Phase 1: an opened PR maps to a fresh session ═══
	status := app.deliverGitHub(t, "pull_request",
		prOpenedPayload("owner/repo", 1, "Fix login flow", "reviewer", "abc123"))
	require.Equal(t, http.StatusOK, status)

	m, ok := app.GitHub.Mappings().Get("owner/repo#1")
	require.True(t, ok, "PR should be mapped")
	require.Equal(t, "owner/repo", m.Extra.Repo)
	require.Equal(t, "abc123", m.Extra.HeadSHA)

	sess, err := app.Store.Get(m.SessionID)
	require.NoError(t, err)
	require.Equal(t, "github:owner/repo#1", sess.ExternalSessionID)
	require.Len(t, rec.ByKind(events.KindPROpened), 1)

	// ═══ Phase 2: the bot's own comments do not echo back ═══
	status = app.deliverGitHub(t, "issue_comment",
		issueCommentCreatedPayload("owner/repo", 1, 7001, botUsername, "on it"))
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, rec.ByKind(events.KindCommentCreated))

	// ═══ Phase 3: a review comment records where to reply ═══
	status = app.deliverGitHub(t, "pull_request_review_comment",
		reviewCommentCreatedPayload("owner/repo", 1, 7002, "reviewer", "src/x.ts", 42, "nit: early return"))
	require.Equal(t, http.StatusOK, status)

	cctx, ok := app.GitHub.Contexts().Get(7002)
	require.True(t, ok, "comment context should be recorded")
	require.Equal(t, "owner/repo#1", cctx.Key)
	require.Equal(t, "src/x.ts", cctx.Path)
	require.Equal(t, 42, cctx.Line)
	require.Equal(t, "reviewer", cctx.Author)
	require.Len(t, rec.ByKind(events.KindCommentCreated), 1)

	// ═══ Phase 4: the responder replies in thread, then summarizes ═══
	commentID := int64(7002)
	posted, err := app.Responder.Respond(ctx, github.RespondInput{
		Repo:      "owner/repo",
		PRNumber:  1,
		CommentID: &commentID,
		Summary:   "Switched to an early return and pushed.",
		CommitSHA: "abc123",
		AsReply:   true,
	})
	require.NoError(t, err)
	require.NotZero(t, posted.ID)

	_, err = app.Responder.Respond(ctx, github.RespondInput{
		Repo:      "owner/repo",
		PRNumber:  1,
		Summary:   "All review comments addressed.",
		CommitSHA: "abc123",
	})
	require.NoError(t, err)

	comments := app.GitHubAPI.Comments()
	require.Len(t, comments, 2)
	require.Equal(t, "/repos/owner/repo/pulls/1/comments/7002/replies", comments[0].Path)
	require.Contains(t, comments[0].Body, "Switched to an early return and pushed.")
	require.Contains(t, comments[0].Body, "abc123")
	require.Equal(t, "/repos/owner/repo/issues/1/comments", comments[1].Path)
	require.Len(t, rec.ByKind(events.KindResponsePosted), 2)
}
