package api

import (
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/huddle/pkg/github"
	"github.com/codeready-toolchain/huddle/pkg/slack"
)

// githubWebhookHandler handles POST /webhook/github.
// Payloads are verified against the shared webhook secret before any
// parsing; unmapped or filtered deliveries still get a 200 so GitHub
// does not retry them.
func (s *Server) githubWebhookHandler(c *echo.Context) error {
	if s.github == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "github integration is not configured")
	}

	eventType := c.Request().Header.Get("X-GitHub-Event")
	if eventType == "" {
		s.metrics.ObserveWebhook("github", "invalid")
		return echo.NewHTTPError(http.StatusBadRequest, "missing X-GitHub-Event header")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		s.metrics.ObserveWebhook("github", "invalid")
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	signature := c.Request().Header.Get("X-Hub-Signature-256")
	if !github.VerifySignature(body, signature, s.cfg.GitHub.WebhookSecret) {
		s.metrics.ObserveWebhook("github", "unauthorized")
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	result := s.github.Handle(eventType, body)
	if !result.Handled {
		s.metrics.ObserveWebhook("github", "invalid")
		msg := "unsupported webhook payload"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	}

	if result.Event != nil {
		s.metrics.ObserveWebhook("github", "ok")
	} else {
		s.metrics.ObserveWebhook("github", "ignored")
	}
	return c.JSON(http.StatusOK, &WebhookResponse{OK: true})
}

// slackEventsHandler handles POST /webhook/slack/events.
// URL verification challenges are echoed back before anything else so
// Slack can confirm the endpoint during app setup.
func (s *Server) slackEventsHandler(c *echo.Context) error {
	if s.slack == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "slack integration is not configured")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		s.metrics.ObserveWebhook("slack", "invalid")
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	if !slack.VerifySignature(c.Request().Header, body, s.cfg.Slack.SigningSecret) {
		s.metrics.ObserveWebhook("slack", "unauthorized")
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	result := s.slack.HandleEvent(body)
	if result.Challenge != "" {
		return c.JSON(http.StatusOK, &SlackChallengeResponse{Challenge: result.Challenge})
	}
	if !result.Handled {
		s.metrics.ObserveWebhook("slack", "invalid")
		msg := "unsupported event payload"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	}

	if result.Event != nil {
		s.metrics.ObserveWebhook("slack", "ok")
	} else {
		s.metrics.ObserveWebhook("slack", "ignored")
	}
	return c.JSON(http.StatusOK, &WebhookResponse{OK: true})
}

// slackInteractionsHandler handles POST /webhook/slack/interactions.
// Interaction payloads arrive form-encoded with a JSON payload field;
// the adapter also accepts raw JSON for ease of testing.
func (s *Server) slackInteractionsHandler(c *echo.Context) error {
	if s.slack == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "slack integration is not configured")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		s.metrics.ObserveWebhook("slack", "invalid")
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	if !slack.VerifySignature(c.Request().Header, body, s.cfg.Slack.SigningSecret) {
		s.metrics.ObserveWebhook("slack", "unauthorized")
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	result := s.slack.HandleInteraction(c.Request().Header.Get("Content-Type"), body)
	if !result.Handled {
		s.metrics.ObserveWebhook("slack", "invalid")
		msg := "unsupported interaction payload"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	}

	if result.Event != nil {
		s.metrics.ObserveWebhook("slack", "ok")
	} else {
		s.metrics.ObserveWebhook("slack", "ignored")
	}
	return c.JSON(http.StatusOK, &WebhookResponse{OK: true})
}
