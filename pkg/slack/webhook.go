// Package slack ingests chat webhooks (Events API plus interactivity),
// keeps the thread-to-session mapping alive, and posts agent responses
// back as threaded replies.
//
// The webhook adapter is a pure translator: it parses a delivery, makes
// the matching mapping/session store calls, publishes the resulting
// event, and reports the outcome. It never panics; malformed input
// surfaces in EventResult.Err.
package slack

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/mapping"
	"github.com/codeready-toolchain/huddle/pkg/session"
)

// EventResult is the outcome of translating one webhook delivery.
// Challenge is non-empty for url_verification; the HTTP layer echoes it
// back verbatim. Handled is false only for unsupported payload types
// and unparseable bodies; Err carries the explanation.
type EventResult struct {
	Handled   bool
	Challenge string
	Event     events.Event
	Err       error
}

// VerifySignature checks an inbound request against the signing secret
// using the X-Slack-Signature and X-Slack-Request-Timestamp headers.
// An empty secret disables verification.
func VerifySignature(header http.Header, body []byte, secret string) bool {
	if secret == "" {
		return true
	}
	verifier, err := goslack.NewSecretsVerifier(header, secret)
	if err != nil {
		return false
	}
	if _, err := verifier.Write(body); err != nil {
		return false
	}
	return verifier.Ensure() == nil
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// stripMentions removes <@U…> tags so only the instruction text is
// queued as a prompt.
func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// Adapter translates chat webhook deliveries into session events. It
// owns the thread mapping store and the per-thread message table.
type Adapter struct {
	cfg      *config.SlackConfig
	sessions *session.Store
	bus      *events.Bus
	threads  *mapping.Store[ThreadInfo]
	messages *MessageStore
}

// NewAdapter wires a webhook adapter. Threads in processing survive
// idle eviction; recorded messages are dropped with their mapping.
func NewAdapter(cfg *config.SlackConfig, sessions *session.Store, bus *events.Bus) *Adapter {
	a := &Adapter{
		cfg:      cfg,
		sessions: sessions,
		bus:      bus,
		threads:  mapping.NewStore[ThreadInfo]("slack-thread", cfg.Mapping, ChannelScope),
		messages: NewMessageStore(),
	}
	a.threads.RetainWhen(func(m mapping.Mapping[ThreadInfo]) bool {
		return m.Extra.Status == ThreadProcessing
	})
	a.threads.OnEvict(func(m mapping.Mapping[ThreadInfo]) {
		if n := a.messages.DeleteForKey(m.ExternalKey); n > 0 {
			slog.Debug("Dropped thread messages with mapping",
				"key", m.ExternalKey, "count", n)
		}
	})
	return a
}

// Threads exposes the thread mapping store for the outbound service,
// the health endpoint and the janitor lifecycle.
func (a *Adapter) Threads() *mapping.Store[ThreadInfo] { return a.threads }

// Messages exposes the per-thread message table.
func (a *Adapter) Messages() *MessageStore { return a.messages }

// HandleEvent translates one Events API delivery. body is the raw JSON
// request body, already signature-verified by the HTTP layer.
func (a *Adapter) HandleEvent(body []byte) EventResult {
	outer, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return EventResult{Err: fmt.Errorf("parse events payload: %w", err)}
	}

	switch outer.Type {
	case slackevents.URLVerification:
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &ch); err != nil {
			return EventResult{Err: fmt.Errorf("parse url_verification challenge: %w", err)}
		}
		return EventResult{Handled: true, Challenge: ch.Challenge}
	case slackevents.CallbackEvent:
		switch ev := outer.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			return a.handleMention(ev)
		case *slackevents.MessageEvent:
			return a.handleMessage(ev)
		default:
			// Reactions, channel joins and similar carry nothing the
			// session cares about.
			return EventResult{Handled: true}
		}
	default:
		return EventResult{Err: fmt.Errorf("unsupported payload type %q", outer.Type)}
	}
}

// handleMention starts or refreshes a thread conversation. The mention
// text minus the bot tag becomes the author's queued prompt.
func (a *Adapter) handleMention(ev *slackevents.AppMentionEvent) EventResult {
	if ev.BotID != "" || a.isBot(ev.User) {
		return EventResult{Handled: true}
	}

	rootTS := ev.ThreadTimeStamp
	if rootTS == "" {
		rootTS = ev.TimeStamp
	}
	key := ThreadKey(ev.Channel, rootTS)

	sessionID, created := a.ensureThread(key, ev.Channel, rootTS, ev.User)
	a.recordAndEnqueue(key, sessionID, ev.User, ev.TimeStamp, stripMentions(ev.Text))

	kind := events.KindThreadUpdated
	if created {
		kind = events.KindThreadCreated
	}
	tev := events.NewThreadEvent(kind, sessionID, ev.Channel, rootTS)
	tev.UserID = ev.User
	a.bus.Publish(tev)
	return EventResult{Handled: true, Event: tev}
}

// handleMessage feeds threaded replies into the mapped session's prompt
// queue. Top-level channel chatter, unmapped threads and bot echoes are
// ignored.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) EventResult {
	// Edits, joins and other subtypes, plus anything bot-authored, are
	// echoes rather than new user input.
	if ev.SubType != "" || ev.BotID != "" || a.isBot(ev.User) {
		return EventResult{Handled: true}
	}
	// A mention arrives twice: as app_mention and as this message copy.
	// Reacting to both would double-enqueue the prompt.
	if a.cfg.BotUserID != "" && strings.Contains(ev.Text, "<@"+a.cfg.BotUserID+">") {
		return EventResult{Handled: true}
	}
	// Only threaded replies participate; the root message carries no
	// thread timestamp of its own.
	if ev.ThreadTimeStamp == "" || ev.ThreadTimeStamp == ev.TimeStamp {
		return EventResult{Handled: true}
	}

	key := ThreadKey(ev.Channel, ev.ThreadTimeStamp)
	m, ok := a.threads.Get(key)
	if !ok {
		return EventResult{Handled: true}
	}
	a.threads.Touch(key)

	a.recordAndEnqueue(key, m.SessionID, ev.User, ev.TimeStamp, strings.TrimSpace(ev.Text))

	tev := events.NewThreadEvent(events.KindThreadUpdated, m.SessionID, ev.Channel, ev.ThreadTimeStamp)
	tev.UserID = ev.User
	a.bus.Publish(tev)
	return EventResult{Handled: true, Event: tev}
}

// HandleInteraction translates one interactivity delivery. Slack sends
// these form-encoded with the JSON in a payload field; raw JSON is
// accepted too.
func (a *Adapter) HandleInteraction(contentType string, body []byte) EventResult {
	raw := body
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return EventResult{Err: fmt.Errorf("parse interaction form: %w", err)}
		}
		raw = []byte(form.Get("payload"))
	}

	var cb goslack.InteractionCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return EventResult{Err: fmt.Errorf("parse interaction payload: %w", err)}
	}
	if cb.Type != goslack.InteractionTypeBlockActions {
		return EventResult{Handled: true}
	}

	for _, action := range cb.ActionCallback.BlockActions {
		if action.ActionID != actionSessionComplete {
			continue
		}
		key := action.Value
		if key == "" {
			rootTS := cb.Message.ThreadTimestamp
			if rootTS == "" {
				rootTS = cb.Message.Timestamp
			}
			key = ThreadKey(cb.Channel.ID, rootTS)
		}
		return a.completeThread(key, cb.User.ID)
	}
	return EventResult{Handled: true}
}

// completeThread marks the thread completed and announces it. Unknown
// keys are ignored; a button can outlive its mapping.
func (a *Adapter) completeThread(key, userID string) EventResult {
	m, ok := a.threads.Get(key)
	if !ok {
		return EventResult{Handled: true}
	}

	a.threads.Update(key, func(t *ThreadInfo) { t.Status = ThreadCompleted })
	a.threads.Touch(key)

	tev := events.NewThreadEvent(events.KindThreadCompleted, m.SessionID, m.Extra.ChannelID, m.Extra.ThreadTS)
	tev.UserID = userID
	tev.Status = string(ThreadCompleted)
	a.bus.Publish(tev)
	return EventResult{Handled: true, Event: tev}
}

func (a *Adapter) isBot(userID string) bool {
	return a.cfg.BotUserID != "" && userID == a.cfg.BotUserID
}

// ensureThread returns the session id mapped to key, auto-creating a
// session and mapping on first mention when configured to. The second
// return reports whether a new mapping was made.
func (a *Adapter) ensureThread(key, channelID, threadTS, userID string) (string, bool) {
	if m, ok := a.threads.Get(key); ok {
		a.threads.Touch(key)
		return m.SessionID, false
	}
	if !a.cfg.AutoCreateSessions {
		return "", false
	}

	sess, err := a.sessions.Create(session.CreateInput{ExternalSessionID: "slack:" + key})
	if err != nil {
		slog.Error("Auto-creating session for thread failed", "key", key, "error", err)
		return "", false
	}

	info := ThreadInfo{ChannelID: channelID, ThreadTS: threadTS, UserID: userID, Status: ThreadActive}
	m, created := a.threads.CreateOrGet(key, sess.ID, info)
	if created {
		slog.Info("Mapped thread to new session", "key", key, "session_id", sess.ID)
	}
	return m.SessionID, created
}

// recordAndEnqueue stores the raw message, joins the author into the
// mapped session and queues their text as a prompt. A successful
// enqueue flips the thread to processing.
func (a *Adapter) recordAndEnqueue(key, sessionID, userID, ts, text string) {
	a.messages.Put(ThreadMessage{
		TS:         ts,
		Key:        key,
		UserID:     userID,
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	})
	if sessionID == "" || text == "" {
		return
	}

	chatUser := "slack:" + userID
	if _, err := a.sessions.Join(sessionID, session.JoinInput{UserID: chatUser, Name: userID}); err != nil {
		slog.Error("Joining chat user to session failed",
			"session_id", sessionID, "user_id", chatUser, "error", err)
		return
	}
	if _, err := a.sessions.Enqueue(sessionID, session.EnqueueInput{UserID: chatUser, Content: text}); err != nil {
		slog.Error("Queueing chat prompt failed",
			"session_id", sessionID, "user_id", chatUser, "error", err)
		return
	}

	a.threads.Update(key, func(t *ThreadInfo) { t.Status = ThreadProcessing })
	a.enforceProcessingCap()
}

// enforceProcessingCap bounds how many threads may sit in processing at
// once. The oldest-by-activity beyond the cap are marked error, which
// makes them evictable again.
func (a *Adapter) enforceProcessingCap() {
	limit := a.cfg.Mapping.MaxProcessing
	if limit <= 0 {
		return
	}

	var processing []mapping.Mapping[ThreadInfo]
	for _, m := range a.threads.All() {
		if m.Extra.Status == ThreadProcessing {
			processing = append(processing, m)
		}
	}
	if len(processing) <= limit {
		return
	}

	sort.Slice(processing, func(i, j int) bool {
		if processing[i].LastActivityAt.Equal(processing[j].LastActivityAt) {
			return processing[i].ExternalKey < processing[j].ExternalKey
		}
		return processing[i].LastActivityAt.Before(processing[j].LastActivityAt)
	})
	for _, m := range processing[:len(processing)-limit] {
		a.threads.Update(m.ExternalKey, func(t *ThreadInfo) { t.Status = ThreadError })
		slog.Warn("Demoted stuck processing thread", "key", m.ExternalKey)
	}
}
