package e2e

// Slack thread lifecycle: a mention opens a mapped session, threaded
// replies queue prompts, the outbound service posts back through the
// (stubbed) chat API, and the complete button closes the thread.

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/slack"
)

func mentionPayload(channel, ts, user, text string) string {
	return fmt.Sprintf(`{
		"type": "event_callback",
		"team_id": "T1",
		"event": {
			"type": "app_mention",
			"user": %q,
			"text": %q,
			"channel": %q,
			"ts": %q
		}
	}`, user, text, channel, ts)
}

func threadReplyPayload(channel, threadTS, ts, user, text string) string {
	return fmt.Sprintf(`{
		"type": "event_callback",
		"team_id": "T1",
		"event": {
			"type": "message",
			"user": %q,
			"text": %q,
			"channel": %q,
			"ts": %q,
			"thread_ts": %q
		}
	}`, user, text, channel, ts, threadTS)
}

func TestE2E_SlackThreadLifecycle(t *testing.T) {
	app := NewTestApp(t)
	rec := recordEvents(t, app.Bus)
	ctx := context.Background()

	const (
		channel = "C42"
		rootTS  = "1700000001.000100"
	)
	key := slack.ThreadKey(channel, rootTS)

	// ═══ Phase 1: a mention opens the thread and queues the ask ═══
	status := app.deliverSlackEvent(t,
		mentionPayload(channel, rootTS, "U123", "<@"+botUserID+"> fix the login flow"))
	require.Equal(t, http.StatusOK, status)

	m, ok := app.Slack.Threads().Get(key)
	require.True(t, ok, "thread should be mapped")
	require.Equal(t, slack.ThreadProcessing, m.Extra.Status)
	require.Len(t, rec.ByKind(events.KindThreadCreated), 1)

	sess, err := app.Store.Get(m.SessionID)
	require.NoError(t, err)
	require.Equal(t, "slack:"+key, sess.ExternalSessionID)
	require.True(t, sess.HasUser("slack:U123"))
	require.Len(t, sess.PromptQueue, 1)
	require.Equal(t, "fix the login flow", sess.PromptQueue[0].Content)
	require.Equal(t, "slack:U123", sess.PromptQueue[0].UserID)

	// The mention arrives a second time as a plain message copy; it must
	// not double-enqueue.
	status = app.deliverSlackEvent(t,
		threadReplyPayload(channel, "", rootTS, "U123", "<@"+botUserID+"> fix the login flow"))
	require.Equal(t, http.StatusOK, status)
	sess, err = app.Store.Get(m.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.PromptQueue, 1)

	// ═══ Phase 2: threaded replies feed the same session ═══
	status = app.deliverSlackEvent(t,
		threadReplyPayload(channel, rootTS, "1700000002.000200", "U456", "also check the signup form"))
	require.Equal(t, http.StatusOK, status)

	sess, err = app.Store.Get(m.SessionID)
	require.NoError(t, err)
	require.True(t, sess.HasUser("slack:U456"))
	require.Len(t, sess.PromptQueue, 2)
	require.Equal(t, "also check the signup form", sess.PromptQueue[1].Content)
	require.NotEmpty(t, rec.ByKind(events.KindThreadUpdated))

	// ═══ Phase 3: the agent's answer goes back into the thread ═══
	ts, err := app.Chat.PostResponse(ctx, slack.ResponseInput{
		SessionID: m.SessionID,
		ChannelID: channel,
		ThreadTS:  rootTS,
		Status:    slack.ThreadWaiting,
		Summary:   "Login and signup fixes are ready for review.",
	})
	require.NoError(t, err)
	require.NotEmpty(t, ts)

	msgs := app.SlackAPI.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, channel, msgs[0].Channel)
	require.Equal(t, rootTS, msgs[0].ThreadTS)
	require.Contains(t, msgs[0].Blocks, "Login and signup fixes are ready for review.")

	m, ok = app.Slack.Threads().Get(key)
	require.True(t, ok)
	require.Equal(t, slack.ThreadWaiting, m.Extra.Status)
	require.Len(t, rec.ByKind(events.KindResponsePosted), 1)

	// ═══ Phase 4: the complete button closes the thread ═══
	callback := fmt.Sprintf(`{
		"type": "block_actions",
		"user": {"id": "U123"},
		"channel": {"id": %q},
		"message": {"ts": %q},
		"actions": [{"action_id": "session_complete", "value": %q}]
	}`, channel, rootTS, key)
	form := url.Values{"payload": {callback}}.Encode()
	require.Equal(t, http.StatusOK, app.deliverSlackInteraction(t, form))

	m, ok = app.Slack.Threads().Get(key)
	require.True(t, ok)
	require.Equal(t, slack.ThreadCompleted, m.Extra.Status)
	require.Len(t, rec.ByKind(events.KindThreadCompleted), 1)
}

func TestE2E_SlackSignatureRejection(t *testing.T) {
	app := NewTestApp(t)

	payload := mentionPayload("C42", "1700000001.000100", "U123", "<@"+botUserID+"> hello")
	status, _ := app.postRaw(t, "/webhook/slack/events", payload, map[string]string{
		"Content-Type":              "application/json",
		"X-Slack-Request-Timestamp": "1700000000",
		"X-Slack-Signature":         "v0=deadbeef",
	})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Zero(t, app.Slack.Threads().Count())
	require.Zero(t, app.Store.Count())
}
