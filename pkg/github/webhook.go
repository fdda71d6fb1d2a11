// Package github ingests pull-request webhooks, keeps the PR-to-session
// mapping alive, and posts agent responses back as PR comments.
//
// The webhook adapter is a pure translator: it parses a delivery, makes
// the matching mapping/session store calls, publishes the resulting
// event, and reports the outcome. It never panics; malformed input
// surfaces in Result.Err.
package github

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/mapping"
	"github.com/codeready-toolchain/huddle/pkg/session"
)

// Result is the outcome of translating one webhook delivery. Handled is
// false only for unsupported event types and unparseable bodies; Err
// carries the explanation.
type Result struct {
	Handled bool
	Event   events.Event
	Err     error
}

// Adapter translates GitHub webhook deliveries into session events. It
// owns the PR mapping store and the comment-context table.
type Adapter struct {
	cfg      *config.GitHubConfig
	sessions *session.Store
	bus      *events.Bus
	mappings *mapping.Store[PRInfo]
	contexts *ContextStore
}

// NewAdapter wires a webhook adapter. Comment contexts are dropped
// automatically when their PR mapping is deleted or evicted.
func NewAdapter(cfg *config.GitHubConfig, sessions *session.Store, bus *events.Bus) *Adapter {
	a := &Adapter{
		cfg:      cfg,
		sessions: sessions,
		bus:      bus,
		mappings: mapping.NewStore[PRInfo]("github-pr", cfg.Mapping, RepoScope),
		contexts: NewContextStore(),
	}
	a.mappings.OnEvict(func(m mapping.Mapping[PRInfo]) {
		if n := a.contexts.DeleteForKey(m.ExternalKey); n > 0 {
			slog.Debug("Dropped comment contexts with PR mapping",
				"key", m.ExternalKey, "count", n)
		}
	})
	return a
}

// Mappings exposes the PR mapping store for the responder, the health
// endpoint and the janitor lifecycle.
func (a *Adapter) Mappings() *mapping.Store[PRInfo] { return a.mappings }

// Contexts exposes the comment-context table for the responder.
func (a *Adapter) Contexts() *ContextStore { return a.contexts }

// Handle translates one delivery. eventType is the X-GitHub-Event
// header value; body is the raw JSON payload. Deliveries authored by
// the configured bot user are swallowed so the service never reacts to
// its own comments.
func (a *Adapter) Handle(eventType string, body []byte) Result {
	switch eventType {
	case "ping":
		return Result{Handled: true}
	case "pull_request":
		return a.handlePullRequest(body)
	case "pull_request_review_comment":
		return a.handleReviewComment(body)
	case "issue_comment":
		return a.handleIssueComment(body)
	case "pull_request_review":
		return a.handleReview(body)
	default:
		return Result{Err: fmt.Errorf("unsupported event type %q", eventType)}
	}
}

func (a *Adapter) handlePullRequest(body []byte) Result {
	var p pullRequestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{Err: fmt.Errorf("parse pull_request payload: %w", err)}
	}
	if a.isBot(p.Sender.Login) {
		return Result{Handled: true}
	}

	repo := p.Repository.FullName
	number := p.PullRequest.Number
	key := PRKey(repo, number)

	var ev events.PREvent
	switch p.Action {
	case "opened", "reopened":
		ev = events.NewPREvent(events.KindPROpened, a.ensureSession(key, p.PullRequest, repo), repo, number)
	case "edited", "synchronize", "ready_for_review", "labeled", "unlabeled":
		ev = events.NewPREvent(events.KindPRUpdated, a.mappedSession(key, true), repo, number)
	case "closed":
		kind := events.KindPRClosed
		if p.PullRequest.Merged {
			kind = events.KindPRMerged
		}
		ev = events.NewPREvent(kind, a.mappedSession(key, false), repo, number)
	default:
		// Assignment, review-request and similar actions carry nothing
		// the session cares about.
		return Result{Handled: true}
	}

	ev.Action = p.Action
	ev.Author = p.PullRequest.User.Login
	ev.Title = p.PullRequest.Title
	ev.URL = p.PullRequest.HTMLURL
	a.bus.Publish(ev)
	return Result{Handled: true, Event: ev}
}

func (a *Adapter) handleReviewComment(body []byte) Result {
	var p reviewCommentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{Err: fmt.Errorf("parse pull_request_review_comment payload: %w", err)}
	}
	if a.isBot(p.Sender.Login) {
		return Result{Handled: true}
	}

	repo := p.Repository.FullName
	number := p.PullRequest.Number
	key := PRKey(repo, number)

	var ev events.CommentEvent
	switch p.Action {
	case "created":
		a.contexts.Put(CommentContext{
			CommentID: p.Comment.ID,
			Key:       key,
			Path:      p.Comment.Path,
			Line:      p.Comment.Line,
			Author:    p.Comment.User.Login,
			CreatedAt: time.Now().UTC(),
		})
		ev = events.NewCommentEvent(events.KindCommentCreated, a.mappedSession(key, true), repo, number, p.Comment.ID, p.Comment.User.Login)
	case "edited":
		ev = events.NewCommentEvent(events.KindCommentUpdated, a.mappedSession(key, false), repo, number, p.Comment.ID, p.Comment.User.Login)
	default:
		return Result{Handled: true}
	}

	ev.Body = p.Comment.Body
	ev.Path = p.Comment.Path
	ev.Line = p.Comment.Line
	a.bus.Publish(ev)
	return Result{Handled: true, Event: ev}
}

func (a *Adapter) handleIssueComment(body []byte) Result {
	var p issueCommentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{Err: fmt.Errorf("parse issue_comment payload: %w", err)}
	}
	if a.isBot(p.Sender.Login) {
		return Result{Handled: true}
	}
	// Plain issues are out of scope; only comments on PRs matter.
	if !p.Issue.isPullRequest() || p.Action != "created" {
		return Result{Handled: true}
	}

	repo := p.Repository.FullName
	number := p.Issue.Number
	key := PRKey(repo, number)

	a.contexts.Put(CommentContext{
		CommentID: p.Comment.ID,
		Key:       key,
		Author:    p.Comment.User.Login,
		CreatedAt: time.Now().UTC(),
	})

	ev := events.NewCommentEvent(events.KindCommentCreated, a.mappedSession(key, true), repo, number, p.Comment.ID, p.Comment.User.Login)
	ev.Body = p.Comment.Body
	a.bus.Publish(ev)
	return Result{Handled: true, Event: ev}
}

func (a *Adapter) handleReview(body []byte) Result {
	var p reviewPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{Err: fmt.Errorf("parse pull_request_review payload: %w", err)}
	}
	if a.isBot(p.Sender.Login) {
		return Result{Handled: true}
	}
	if p.Action != "submitted" {
		return Result{Handled: true}
	}

	repo := p.Repository.FullName
	number := p.PullRequest.Number
	key := PRKey(repo, number)

	ev := events.NewReviewSubmitted(a.mappedSession(key, true), repo, number, p.Review.User.Login, p.Review.State)
	a.bus.Publish(ev)
	return Result{Handled: true, Event: ev}
}

func (a *Adapter) isBot(login string) bool {
	return a.cfg.BotUsername != "" && login == a.cfg.BotUsername
}

// ensureSession returns the session id mapped to key, auto-creating a
// session and mapping for newly opened PRs when configured to.
func (a *Adapter) ensureSession(key string, pr pullRequest, repo string) string {
	if m, ok := a.mappings.Get(key); ok {
		a.mappings.Touch(key)
		return m.SessionID
	}
	if !a.cfg.AutoCreateSessions {
		return ""
	}

	sess, err := a.sessions.Create(session.CreateInput{ExternalSessionID: "github:" + key})
	if err != nil {
		slog.Error("Auto-creating session for PR failed", "key", key, "error", err)
		return ""
	}

	info := PRInfo{
		Repo:    repo,
		Number:  pr.Number,
		Title:   pr.Title,
		Author:  pr.User.Login,
		HeadSHA: pr.Head.SHA,
		URL:     pr.HTMLURL,
	}
	m, created := a.mappings.CreateOrGet(key, sess.ID, info)
	if created {
		slog.Info("Mapped PR to new session", "key", key, "session_id", sess.ID)
	}
	return m.SessionID
}

// mappedSession returns the session id for key, or empty when the PR is
// not tracked. refresh touches the mapping's activity clock.
func (a *Adapter) mappedSession(key string, refresh bool) string {
	m, ok := a.mappings.Get(key)
	if !ok {
		return ""
	}
	if refresh {
		a.mappings.Touch(key)
	}
	return m.SessionID
}
