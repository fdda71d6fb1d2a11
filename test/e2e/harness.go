// Package e2e exercises the full huddle server in process: a real HTTP
// listener, real WebSocket connections, webhook deliveries signed the
// way GitHub and Slack sign them, and httptest doubles standing in for
// the external APIs the server posts back to.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/huddle/pkg/api"
	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/dispatch"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/gateway"
	"github.com/codeready-toolchain/huddle/pkg/github"
	"github.com/codeready-toolchain/huddle/pkg/metrics"
	"github.com/codeready-toolchain/huddle/pkg/session"
	"github.com/codeready-toolchain/huddle/pkg/slack"
)

// Shared secrets and identities used across the suite. Webhook
// deliveries are signed with these; the adapters are configured to
// verify against them.
const (
	githubWebhookSecret = "e2e-github-secret"
	slackSigningSecret  = "e2e-slack-secret"
	botUsername         = "huddle-bot"
	botUserID           = "UHUDDLE"
)

// ─────────────────────────────────────────────────────────────────────
// Test application
// ─────────────────────────────────────────────────────────────────────

// TestApp is the fully wired server plus handles into every component,
// so tests can assert on internal state (mappings, queue, pool health)
// alongside the HTTP and WebSocket surface.
type TestApp struct {
	Config  *config.Config
	Bus     *events.Bus
	Store   *session.Store
	Gateway *gateway.Gateway

	GitHub    *github.Adapter
	Slack     *slack.Adapter
	Responder *github.Responder
	Chat      *slack.Service

	Pool    *dispatch.Pool
	Invoker *ScriptedInvoker

	GitHubAPI *GitHubAPIDouble
	SlackAPI  *SlackAPIDouble

	BaseURL string
	WSURL   string

	t  *testing.T
	ts *httptest.Server
}

type testAppConfig struct {
	cfg     *config.Config
	workers int
	invoker *ScriptedInvoker
}

// TestAppOption customizes a test application before wiring.
type TestAppOption func(*testAppConfig)

// WithConfig replaces the default test configuration wholesale.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(tc *testAppConfig) { tc.cfg = cfg }
}

// WithDispatchWorkers starts a real dispatcher pool with n workers.
// Without this option no pool runs and prompts stay queued until the
// test drives the queue itself.
func WithDispatchWorkers(n int) TestAppOption {
	return func(tc *testAppConfig) { tc.workers = n }
}

// WithInvoker substitutes the scripted agent the dispatcher calls.
func WithInvoker(inv *ScriptedInvoker) TestAppOption {
	return func(tc *testAppConfig) { tc.invoker = inv }
}

// defaultTestConfig mirrors the production defaults with fast dispatch
// timings and both integrations enabled against local doubles.
func defaultTestConfig() *config.Config {
	return &config.Config{
		Server:       &config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Coordination: &config.CoordinationConfig{MaxUsersPerSession: 10, MaxClientsPerUser: 5, MaxQueueSize: 100},
		Conflict:     &config.ConflictConfig{Strategy: "last-write-wins", NonMergeableFields: []string{"editLock"}, MaxVersionDrift: 10},
		Dispatch: &config.DispatchConfig{
			Workers:                 0,
			PollInterval:            20 * time.Millisecond,
			PollIntervalJitter:      5 * time.Millisecond,
			InvokeTimeout:           5 * time.Second,
			GracefulShutdownTimeout: 2 * time.Second,
		},
		GitHub: &config.GitHubConfig{
			WebhookSecret:      githubWebhookSecret,
			BotUsername:        botUsername,
			AutoCreateSessions: true,
			TokenEnv:           "HUDDLE_E2E_GITHUB_TOKEN",
			Mapping: &config.MappingConfig{
				IdleTimeout:     time.Hour,
				MaxMappings:     100,
				CleanupInterval: time.Hour,
			},
			Response: &config.ResponseConfig{
				HeaderTemplate:     "🤖 Agent response",
				IncludeCommitSHA:   true,
				MaxLength:          65536,
				PostTimeout:        5 * time.Second,
				MaxConcurrentPosts: 3,
			},
		},
		Slack: &config.SlackConfig{
			Enabled:            true,
			SigningSecret:      slackSigningSecret,
			BotUserID:          botUserID,
			TokenEnv:           "HUDDLE_E2E_SLACK_TOKEN",
			AutoCreateSessions: true,
			Mapping: &config.MappingConfig{
				IdleTimeout:     time.Hour,
				MaxMappings:     100,
				CleanupInterval: time.Hour,
				MaxProcessing:   50,
			},
		},
		Metrics: &config.MetricsConfig{Enabled: true},
	}
}

// NewTestApp wires the full server the way cmd/huddle does and serves
// it from an httptest listener. Cleanup tears the stack down in reverse
// wiring order.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{cfg: defaultTestConfig(), invoker: NewScriptedInvoker()}
	for _, opt := range opts {
		opt(tc)
	}
	cfg := tc.cfg

	ctx, cancel := context.WithCancel(context.Background())

	// 1. Doubles for the external APIs the server posts to
	githubAPI := NewGitHubAPIDouble()
	slackAPI := NewSlackAPIDouble()
	cfg.GitHub.APIBaseURL = githubAPI.URL()

	// 2. Metrics and the event bus
	m := metrics.New()
	bus := events.NewBus()
	m.ObserveBus(bus)

	// 3. Session store
	store := session.NewStore(*cfg.Coordination, *cfg.Conflict, bus)
	m.RegisterSessionsGauge(store.Count)

	// 4. Integration adapters with their mapping janitors
	gh := github.NewAdapter(cfg.GitHub, store, bus)
	gh.Mappings().Start(ctx)
	sl := slack.NewAdapter(cfg.Slack, store, bus)
	sl.Threads().Start(ctx)

	// 5. Outbound posting, pointed at the doubles
	responder := github.NewResponder(cfg.GitHub.Response,
		github.NewClient(githubAPI.URL(), "e2e-token"), gh.Contexts(), gh.Mappings(), bus)
	chat := slack.NewServiceWithClient(
		slack.NewClientWithAPIURL("xoxb-e2e", slackAPI.URL()), sl.Threads(), bus)

	// 6. Dispatcher pool, only when the test asked for workers
	var pool *dispatch.Pool
	if tc.workers > 0 {
		cfg.Dispatch.Workers = tc.workers
		pool = dispatch.NewPool(cfg.Dispatch, store, tc.invoker, bus, m)
		require.NoError(t, pool.Start(ctx))
	}

	// 7. Gateway and the HTTP server on a real listener
	gw := gateway.New(store, bus)
	m.RegisterConnectionsGauge(gw.ActiveConnections)
	srv := api.NewServer(cfg, store, gw, gh, sl, pool, m)
	ts := httptest.NewServer(srv.Handler())

	app := &TestApp{
		Config:    cfg,
		Bus:       bus,
		Store:     store,
		Gateway:   gw,
		GitHub:    gh,
		Slack:     sl,
		Responder: responder,
		Chat:      chat,
		Pool:      pool,
		Invoker:   tc.invoker,
		GitHubAPI: githubAPI,
		SlackAPI:  slackAPI,
		BaseURL:   ts.URL,
		WSURL:     "ws" + strings.TrimPrefix(ts.URL, "http"),
		t:         t,
		ts:        ts,
	}

	t.Cleanup(func() {
		ts.Close()
		if pool != nil {
			pool.Stop()
		}
		sl.Threads().Stop()
		gh.Mappings().Stop()
		cancel()
		m.Close()
		slackAPI.Close()
		githubAPI.Close()
	})

	return app
}

// ─────────────────────────────────────────────────────────────────────
// External service doubles
// ─────────────────────────────────────────────────────────────────────

// RecordedComment is one comment-creation call the GitHub double saw.
type RecordedComment struct {
	Path string // request path, e.g. /repos/owner/repo/issues/1/comments
	Body string // posted comment markdown
}

// GitHubAPIDouble fakes the REST endpoints the responder posts to. Every
// POST succeeds with 201 and a fresh comment id.
type GitHubAPIDouble struct {
	mu     sync.Mutex
	ts     *httptest.Server
	nextID int64
	calls  []RecordedComment
}

// NewGitHubAPIDouble starts the double on a local listener.
func NewGitHubAPIDouble() *GitHubAPIDouble {
	d := &GitHubAPIDouble{nextID: 9000}
	d.ts = httptest.NewServer(http.HandlerFunc(d.handle))
	return d
}

func (d *GitHubAPIDouble) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.calls = append(d.calls, RecordedComment{Path: r.URL.Path, Body: payload.Body})
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"id": %d, "html_url": "https://github.test%s/%d"}`, id, r.URL.Path, id)
}

// URL returns the double's base URL, used as the GitHub API base.
func (d *GitHubAPIDouble) URL() string { return d.ts.URL }

// Comments returns every recorded comment-creation call, oldest first.
func (d *GitHubAPIDouble) Comments() []RecordedComment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RecordedComment(nil), d.calls...)
}

// Close shuts the double down.
func (d *GitHubAPIDouble) Close() { d.ts.Close() }

// RecordedMessage is one chat.postMessage call the Slack double saw.
type RecordedMessage struct {
	Channel  string
	ThreadTS string
	Blocks   string // raw Block Kit JSON
}

// SlackAPIDouble fakes the part of the Slack Web API the outbound
// service uses. Every post succeeds with a fresh message timestamp.
type SlackAPIDouble struct {
	mu    sync.Mutex
	ts    *httptest.Server
	seq   int
	calls []RecordedMessage
}

// NewSlackAPIDouble starts the double on a local listener.
func NewSlackAPIDouble() *SlackAPIDouble {
	d := &SlackAPIDouble{}
	d.ts = httptest.NewServer(http.HandlerFunc(d.handle))
	return d
}

func (d *SlackAPIDouble) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !strings.HasSuffix(r.URL.Path, "chat.postMessage") {
		fmt.Fprint(w, `{"ok": false, "error": "unknown_method"}`)
		return
	}
	if err := r.ParseForm(); err != nil {
		fmt.Fprint(w, `{"ok": false, "error": "invalid_form_data"}`)
		return
	}

	d.mu.Lock()
	d.seq++
	ts := fmt.Sprintf("1700000%03d.%06d", d.seq, d.seq)
	d.calls = append(d.calls, RecordedMessage{
		Channel:  r.FormValue("channel"),
		ThreadTS: r.FormValue("thread_ts"),
		Blocks:   r.FormValue("blocks"),
	})
	d.mu.Unlock()

	fmt.Fprintf(w, `{"ok": true, "channel": %q, "ts": %q}`, r.FormValue("channel"), ts)
}

// URL returns the double's base URL with the trailing slash the SDK's
// APIURL option requires.
func (d *SlackAPIDouble) URL() string { return d.ts.URL + "/" }

// Messages returns every recorded chat.postMessage call, oldest first.
func (d *SlackAPIDouble) Messages() []RecordedMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RecordedMessage(nil), d.calls...)
}

// Close shuts the double down.
func (d *SlackAPIDouble) Close() { d.ts.Close() }

// ─────────────────────────────────────────────────────────────────────
// Scripted invoker
// ─────────────────────────────────────────────────────────────────────

// ScriptedInvoker is the dispatcher's agent for tests: it records every
// invocation and completes immediately unless told to hold or fail.
type ScriptedInvoker struct {
	mu          sync.Mutex
	invocations []dispatch.Invocation
	hold        chan struct{}
	err         error
}

// NewScriptedInvoker builds an invoker that completes every call.
func NewScriptedInvoker() *ScriptedInvoker {
	return &ScriptedInvoker{}
}

// Invoke implements dispatch.Invoker.
func (si *ScriptedInvoker) Invoke(ctx context.Context, inv dispatch.Invocation) (dispatch.Result, error) {
	si.mu.Lock()
	si.invocations = append(si.invocations, inv)
	hold := si.hold
	err := si.err
	si.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return dispatch.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{Status: "completed"}, nil
}

// Invocations returns every call the dispatcher has made so far.
func (si *ScriptedInvoker) Invocations() []dispatch.Invocation {
	si.mu.Lock()
	defer si.mu.Unlock()
	return append([]dispatch.Invocation(nil), si.invocations...)
}

// Hold makes subsequent invocations block until the returned release is
// called or their context ends.
func (si *ScriptedInvoker) Hold() (release func()) {
	ch := make(chan struct{})
	si.mu.Lock()
	si.hold = ch
	si.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			si.mu.Lock()
			si.hold = nil
			si.mu.Unlock()
			close(ch)
		})
	}
}

// FailWith makes subsequent invocations return err.
func (si *ScriptedInvoker) FailWith(err error) {
	si.mu.Lock()
	si.err = err
	si.mu.Unlock()
}
