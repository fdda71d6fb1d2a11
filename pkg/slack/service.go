package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/mapping"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token  string
	APIURL string // overrides the API endpoint, for tests
}

// ResponseInput describes one agent response destined for a thread.
type ResponseInput struct {
	SessionID    string
	ChannelID    string
	ThreadTS     string
	Status       ThreadStatus
	Summary      string
	ErrorMessage string
}

// Service posts agent responses back into chat threads.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client      *Client
	threads     *mapping.Store[ThreadInfo]
	bus         *events.Bus
	logger      *slog.Logger
	postTimeout time.Duration
}

// NewService creates the outbound chat service. Returns nil if the
// token is empty, which disables the integration.
func NewService(cfg ServiceConfig, threads *mapping.Store[ThreadInfo], bus *events.Bus) *Service {
	if cfg.Token == "" {
		return nil
	}
	client := NewClient(cfg.Token)
	if cfg.APIURL != "" {
		client = NewClientWithAPIURL(cfg.Token, cfg.APIURL)
	}
	return NewServiceWithClient(client, threads, bus)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, threads *mapping.Store[ThreadInfo], bus *events.Bus) *Service {
	return &Service{
		client:      client,
		threads:     threads,
		bus:         bus,
		logger:      slog.Default().With("component", "slack-service"),
		postTimeout: 10 * time.Second,
	}
}

// PostResponse posts an agent response as a threaded reply and returns
// the reply's timestamp. On success it emits response.posted and moves
// the thread to waiting, or to the terminal status the response itself
// carries.
func (s *Service) PostResponse(ctx context.Context, input ResponseInput) (string, error) {
	if s == nil {
		return "", nil
	}

	blocks := BuildResponseMessage(input)
	ts, err := s.client.PostThreadReply(ctx, input.ChannelID, input.ThreadTS, blocks, s.postTimeout)
	if err != nil {
		s.logger.Error("Failed to post thread reply",
			"session_id", input.SessionID,
			"channel_id", input.ChannelID,
			"error", err)
		return "", err
	}

	key := ThreadKey(input.ChannelID, input.ThreadTS)
	if s.threads != nil {
		next := ThreadWaiting
		if input.Status == ThreadCompleted || input.Status == ThreadError {
			next = input.Status
		}
		s.threads.Update(key, func(t *ThreadInfo) { t.Status = next })
		s.threads.Touch(key)
	}

	ev := events.NewResponsePosted(input.SessionID, "slack", key, ts)
	s.bus.Publish(ev)
	s.logger.Info("Posted thread response",
		"session_id", input.SessionID,
		"channel_id", input.ChannelID,
		"ts", ts)
	return ts, nil
}
