package github

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/mapping"
)

const truncationMarker = "\n\n*(truncated)*"

// RespondInput describes one agent response destined for a pull request.
type RespondInput struct {
	Repo     string
	PRNumber int

	// CommentID is the inbound comment being answered; nil posts a
	// top-level comment and disables duplicate suppression.
	CommentID *int64

	// Summary is the response body before templating.
	Summary string

	// CommitSHA is referenced under the summary when the responder is
	// configured to include it.
	CommitSHA string

	// AsReply requests an inline reply when the answered comment has a
	// file context; otherwise the response lands top-level.
	AsReply bool
}

// Responder formats agent responses and posts them back to GitHub with
// bounded retries. Responses answering the same inbound comment twice
// are suppressed.
type Responder struct {
	cfg      *config.ResponseConfig
	client   *Client
	contexts *ContextStore
	mappings *mapping.Store[PRInfo]
	bus      *events.Bus

	sem *semaphore.Weighted

	// Retry knobs, shrunk in tests.
	maxRetries      uint64
	initialInterval time.Duration

	mu      sync.Mutex
	replied map[string]PostedComment
}

// NewResponder wires a responder over the adapter's context table and
// mapping store.
func NewResponder(cfg *config.ResponseConfig, client *Client, contexts *ContextStore, mappings *mapping.Store[PRInfo], bus *events.Bus) *Responder {
	slots := cfg.MaxConcurrentPosts
	if slots < 1 {
		slots = 1
	}
	return &Responder{
		cfg:             cfg,
		client:          client,
		contexts:        contexts,
		mappings:        mappings,
		bus:             bus,
		sem:             semaphore.NewWeighted(slots),
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		replied:         make(map[string]PostedComment),
	}
}

// Respond formats and posts one response, retrying transient failures.
// It returns the posted comment and emits response.posted on success;
// a duplicate of an already-answered comment returns the previous post
// without calling GitHub again.
func (r *Responder) Respond(ctx context.Context, in RespondInput) (PostedComment, error) {
	if strings.TrimSpace(in.Summary) == "" {
		return PostedComment{}, errors.New("empty response summary")
	}
	if in.CommentID != nil {
		if prev, ok := r.priorReply(in); ok {
			slog.Debug("Suppressing duplicate response",
				"repo", in.Repo, "pr", in.PRNumber, "comment_id", *in.CommentID)
			return prev, nil
		}
	}

	body := r.buildBody(in)
	post := r.pickTarget(in, body)

	operation := func() (PostedComment, error) {
		callCtx := ctx
		if r.cfg.PostTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.PostTimeout)
			defer cancel()
		}
		posted, err := post(callCtx)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Transient() {
				return PostedComment{}, backoff.Permanent(err)
			}
			return PostedComment{}, err
		}
		return posted, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	posted, err := backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx))
	if err != nil {
		return PostedComment{}, errors.Wrapf(err, "post response to %s", PRKey(in.Repo, in.PRNumber))
	}

	if in.CommentID != nil {
		r.recordReply(in, posted)
	}

	key := PRKey(in.Repo, in.PRNumber)
	sessionID := ""
	if m, ok := r.mappings.Get(key); ok {
		sessionID = m.SessionID
		r.mappings.Touch(key)
	}
	ev := events.NewResponsePosted(sessionID, "github", key, strconv.FormatInt(posted.ID, 10))
	ev.URL = posted.HTMLURL
	r.bus.Publish(ev)

	slog.Info("Posted PR response", "repo", in.Repo, "pr", in.PRNumber, "comment_id", posted.ID)
	return posted, nil
}

// RespondAsync posts from a background goroutine, bounded by the
// configured concurrency cap. ctx must outlive the request that
// triggered the response.
func (r *Responder) RespondAsync(ctx context.Context, in RespondInput) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("Response slot unavailable", "repo", in.Repo, "pr", in.PRNumber, "error", err)
		return
	}
	go func() {
		defer r.sem.Release(1)
		if _, err := r.Respond(ctx, in); err != nil {
			slog.Error("Posting PR response failed", "repo", in.Repo, "pr", in.PRNumber, "error", err)
		}
	}()
}

// pickTarget decides between an inline reply and a top-level comment.
// Inline needs the answered comment to carry a file context.
func (r *Responder) pickTarget(in RespondInput, body string) func(context.Context) (PostedComment, error) {
	if in.AsReply && in.CommentID != nil {
		if c, ok := r.contexts.Get(*in.CommentID); ok && c.Path != "" {
			id := *in.CommentID
			return func(ctx context.Context) (PostedComment, error) {
				return r.client.CreateReviewCommentReply(ctx, in.Repo, in.PRNumber, id, body)
			}
		}
	}
	return func(ctx context.Context) (PostedComment, error) {
		return r.client.CreateIssueComment(ctx, in.Repo, in.PRNumber, body)
	}
}

func (r *Responder) buildBody(in RespondInput) string {
	var b strings.Builder
	if r.cfg.HeaderTemplate != "" {
		b.WriteString(r.cfg.HeaderTemplate)
		b.WriteString("\n\n")
	}
	b.WriteString(in.Summary)
	if r.cfg.IncludeCommitSHA && in.CommitSHA != "" {
		fmt.Fprintf(&b, "\n\nCommit: `%s`", in.CommitSHA)
	}
	if r.cfg.FooterTemplate != "" {
		b.WriteString("\n\n")
		b.WriteString(r.cfg.FooterTemplate)
	}
	return truncate(b.String(), r.cfg.MaxLength)
}

// truncate cuts s to max bytes, replacing the tail with a marker and
// never splitting a rune. max <= 0 disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

func (r *Responder) priorReply(in RespondInput) (PostedComment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.replied[replyKey(in)]
	return prev, ok
}

func (r *Responder) recordReply(in RespondInput, posted PostedComment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replied[replyKey(in)] = posted
}

func replyKey(in RespondInput) string {
	return fmt.Sprintf("%s#%d:%d", in.Repo, in.PRNumber, *in.CommentID)
}
