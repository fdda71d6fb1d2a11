package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/models"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserveBus(t *testing.T) {
	m := New()
	bus := events.NewBus()
	m.ObserveBus(bus)

	bus.Publish(events.NewUserJoined("s1", models.User{UserID: "alice"}))
	bus.Publish(events.NewUserJoined("s1", models.User{UserID: "bob"}))
	bus.Publish(events.NewConflictResolved("s1", "", "last-write-wins", 1, nil))
	bus.Publish(events.NewPromptQueued("s1", models.Prompt{PromptID: "p1"}, 0))

	body := scrape(t, m)
	assert.Contains(t, body, `huddle_events_published_total{kind="user.joined"} 2`)
	assert.Contains(t, body, `huddle_events_published_total{kind="conflict.resolved"} 1`)
	assert.Contains(t, body, `huddle_conflict_outcomes_total{outcome="resolved"} 1`)
	assert.Contains(t, body, `huddle_prompt_transitions_total{transition="queued"} 1`)

	// Close detaches the subscription; later events are not counted.
	m.Close()
	bus.Publish(events.NewUserJoined("s1", models.User{UserID: "carol"}))
	body = scrape(t, m)
	assert.Contains(t, body, `huddle_events_published_total{kind="user.joined"} 2`)
}

func TestGauges(t *testing.T) {
	m := New()
	m.RegisterSessionsGauge(func() int { return 3 })
	m.RegisterConnectionsGauge(func() int { return 7 })
	m.RegisterQueueDepthGauge(func() int { return 12 })
	m.RegisterMappingsGauge("github", func() int { return 2 })

	body := scrape(t, m)
	assert.Contains(t, body, "huddle_sessions_active 3")
	assert.Contains(t, body, "huddle_gateway_connections_active 7")
	assert.Contains(t, body, "huddle_prompt_queue_depth 12")
	assert.Contains(t, body, "huddle_github_mappings_active 2")
}

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveWebhook("github", "ok")
	m.ObserveWebhook("github", "ok")
	m.ObserveWebhook("slack", "unauthorized")
	m.ObserveInvocation("failed")
	m.ObserveResponsePost("github", 100*time.Millisecond, nil)
	m.ObserveResponsePost("slack", 50*time.Millisecond, errors.New("channel_not_found"))

	body := scrape(t, m)
	assert.Contains(t, body, `huddle_webhook_deliveries_total{outcome="ok",source="github"} 2`)
	assert.Contains(t, body, `huddle_webhook_deliveries_total{outcome="unauthorized",source="slack"} 1`)
	assert.Contains(t, body, `huddle_agent_invocations_total{outcome="failed"} 1`)
	assert.Contains(t, body, `huddle_response_post_duration_seconds_count{integration="github"} 1`)
	assert.Contains(t, body, `huddle_response_post_failures_total{integration="slack"} 1`)
	assert.NotContains(t, body, `huddle_response_post_failures_total{integration="github"}`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	// Every method must be callable on a nil receiver.
	m.ObserveBus(events.NewBus())
	m.RegisterSessionsGauge(func() int { return 1 })
	m.ObserveWebhook("github", "ok")
	m.ObserveInvocation("ok")
	m.ObserveResponsePost("slack", time.Second, nil)
	m.Close()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
