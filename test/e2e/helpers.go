package e2e

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/huddle/pkg/api"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/models"
)

// waitTimeout bounds every polling wait in the suite. Everything runs
// in process, so arrivals are near-instant; the slack absorbs scheduler
// noise on loaded CI machines.
const waitTimeout = 5 * time.Second

// ─────────────────────────────────────────────────────────────────────
// HTTP helpers
// ─────────────────────────────────────────────────────────────────────

// do fires one request at the app and returns status and body. A
// non-nil body is marshalled as JSON.
func (app *TestApp) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// postRaw posts a prebuilt body with explicit headers, for webhook
// deliveries whose bytes must match their signature exactly.
func (app *TestApp) postRaw(t *testing.T, path, body string, headers map[string]string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, app.BaseURL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// postJSON posts body and requires wantStatus.
func (app *TestApp) postJSON(t *testing.T, path string, body any, wantStatus int) []byte {
	t.Helper()
	status, raw := app.do(t, http.MethodPost, path, body, nil)
	require.Equal(t, wantStatus, status, "POST %s: %s", path, raw)
	return raw
}

// getJSON fetches path and requires wantStatus.
func (app *TestApp) getJSON(t *testing.T, path string, wantStatus int) []byte {
	t.Helper()
	status, raw := app.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, wantStatus, status, "GET %s: %s", path, raw)
	return raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), "decode %s", raw)
	return out
}

// ─────────────────────────────────────────────────────────────────────
// Session helpers
// ─────────────────────────────────────────────────────────────────────

// createSession makes a fresh session through the HTTP surface. An
// empty strategy leaves the store default in place.
func (app *TestApp) createSession(t *testing.T, strategy string) models.Session {
	t.Helper()
	raw := app.postJSON(t, "/api/v1/multiplayer", api.CreateSessionRequest{
		ExternalSessionID: fmt.Sprintf("e2e-%d", time.Now().UnixNano()),
		ConflictStrategy:  strategy,
	}, http.StatusCreated)
	return decode[models.Session](t, raw)
}

// joinSession adds userID as a member.
func (app *TestApp) joinSession(t *testing.T, sessionID, userID string) {
	t.Helper()
	app.postJSON(t, "/api/v1/multiplayer/"+sessionID+"/join",
		api.JoinSessionRequest{UserID: userID, Name: userID}, http.StatusOK)
}

// leaveSession removes userID from the session.
func (app *TestApp) leaveSession(t *testing.T, sessionID, userID string) {
	t.Helper()
	status, raw := app.do(t, http.MethodPost, "/api/v1/multiplayer/"+sessionID+"/leave",
		api.LeaveSessionRequest{UserID: userID}, nil)
	require.Equal(t, http.StatusNoContent, status, "leave: %s", raw)
}

// getSession reads the current session snapshot.
func (app *TestApp) getSession(t *testing.T, sessionID string) models.Session {
	t.Helper()
	raw := app.getJSON(t, "/api/v1/multiplayer/"+sessionID, http.StatusOK)
	return decode[models.Session](t, raw)
}

// acquireLock attempts the edit lock and returns the verdict.
func (app *TestApp) acquireLock(t *testing.T, sessionID, userID string) api.LockResponse {
	t.Helper()
	raw := app.postJSON(t, "/api/v1/multiplayer/"+sessionID+"/lock",
		api.LockRequest{UserID: userID}, http.StatusOK)
	return decode[api.LockResponse](t, raw)
}

// enqueuePrompt queues content for userID and returns the stored prompt.
func (app *TestApp) enqueuePrompt(t *testing.T, sessionID, userID, content, priority string) models.Prompt {
	t.Helper()
	raw := app.postJSON(t, "/api/v1/multiplayer/"+sessionID+"/prompt",
		api.EnqueuePromptRequest{UserID: userID, Content: content, Priority: priority}, http.StatusCreated)
	return decode[models.Prompt](t, raw)
}

// cancelPrompt tries to cancel promptID as userID and returns the status.
func (app *TestApp) cancelPrompt(t *testing.T, sessionID, promptID, userID string) int {
	t.Helper()
	status, _ := app.do(t, http.MethodDelete,
		fmt.Sprintf("/api/v1/multiplayer/%s/prompt/%s?userID=%s", sessionID, promptID, userID), nil, nil)
	return status
}

// getQueue reads the execution-ordered queue.
func (app *TestApp) getQueue(t *testing.T, sessionID string) api.QueueResponse {
	t.Helper()
	raw := app.getJSON(t, "/api/v1/multiplayer/"+sessionID+"/prompt", http.StatusOK)
	return decode[api.QueueResponse](t, raw)
}

// updateState submits a versioned partial update, requiring wantStatus.
// The decoded response is only meaningful on 200.
func (app *TestApp) updateState(t *testing.T, sessionID, userID string, baseVersion int64, updates map[string]any, wantStatus int) api.UpdateStateResponse {
	t.Helper()
	status, raw := app.do(t, http.MethodPost, "/api/v1/multiplayer/"+sessionID+"/state",
		api.UpdateStateRequest{UserID: userID, BaseVersion: baseVersion, Updates: updates}, nil)
	require.Equal(t, wantStatus, status, "update state: %s", raw)
	if status != http.StatusOK {
		return api.UpdateStateResponse{}
	}
	return decode[api.UpdateStateResponse](t, raw)
}

func promptIDs(prompts []models.Prompt) []string {
	out := make([]string, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, p.PromptID)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────
// Webhook delivery
// ─────────────────────────────────────────────────────────────────────

// githubSignature computes the X-Hub-Signature-256 value GitHub would
// send for body.
func githubSignature(body []byte) string {
	mac := hmac.New(sha256.New, []byte(githubWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// deliverGitHub posts a correctly signed GitHub webhook and returns the
// response status.
func (app *TestApp) deliverGitHub(t *testing.T, event, payload string) int {
	t.Helper()
	status, _ := app.postRaw(t, "/webhook/github", payload, map[string]string{
		"Content-Type":        "application/json",
		"X-GitHub-Event":      event,
		"X-Hub-Signature-256": githubSignature([]byte(payload)),
	})
	return status
}

// slackHeaders produces the signature headers the SDK verifier expects:
// v0=HMAC(v0:timestamp:body).
func slackHeaders(body []byte) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(slackSigningSecret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	return map[string]string{
		"X-Slack-Request-Timestamp": ts,
		"X-Slack-Signature":         "v0=" + hex.EncodeToString(mac.Sum(nil)),
	}
}

// deliverSlackEvent posts a correctly signed Events API delivery and
// returns the response status.
func (app *TestApp) deliverSlackEvent(t *testing.T, payload string) int {
	t.Helper()
	headers := slackHeaders([]byte(payload))
	headers["Content-Type"] = "application/json"
	status, _ := app.postRaw(t, "/webhook/slack/events", payload, headers)
	return status
}

// deliverSlackInteraction posts a correctly signed form-encoded
// interactivity delivery and returns the response status.
func (app *TestApp) deliverSlackInteraction(t *testing.T, formBody string) int {
	t.Helper()
	headers := slackHeaders([]byte(formBody))
	headers["Content-Type"] = "application/x-www-form-urlencoded"
	status, _ := app.postRaw(t, "/webhook/slack/interactions", formBody, headers)
	return status
}

// ─────────────────────────────────────────────────────────────────────
// Bus recording
// ─────────────────────────────────────────────────────────────────────

// eventRecorder collects every bus event, for assertions on emissions
// that have no WebSocket subscriber (webhook and responder flows).
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// recordEvents subscribes a recorder to the app's bus for the rest of
// the test.
func recordEvents(t *testing.T, bus *events.Bus) *eventRecorder {
	t.Helper()
	r := &eventRecorder{}
	unsubscribe := bus.Subscribe(func(evt events.Event) {
		r.mu.Lock()
		r.events = append(r.events, evt)
		r.mu.Unlock()
	})
	t.Cleanup(unsubscribe)
	return r
}

// ByKind returns the recorded events of one kind, oldest first.
func (r *eventRecorder) ByKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, evt := range r.events {
		if evt.Kind() == kind {
			out = append(out, evt)
		}
	}
	return out
}
