package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/mapping"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	// Should not panic and not post anything.
	ts, err := s.PostResponse(context.Background(), ResponseInput{
		SessionID: "sess-1",
		ChannelID: "C123",
		ThreadTS:  "1700000000.000100",
		Status:    ThreadWaiting,
	})
	assert.Empty(t, ts)
	assert.NoError(t, err)
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		assert.Nil(t, NewService(ServiceConfig{}, nil, events.NewBus()))
	})

	t.Run("returns service when configured", func(t *testing.T) {
		assert.NotNil(t, NewService(ServiceConfig{Token: "xoxb-test"}, nil, events.NewBus()))
	})
}

// fakeSlackAPI records chat.postMessage calls and answers like the real
// endpoint does.
type fakeSlackAPI struct {
	mu    sync.Mutex
	calls []postedMessage
	fail  string // non-empty makes every call fail with this error code
}

type postedMessage struct {
	Channel  string
	ThreadTS string
	Blocks   string
}

func (f *fakeSlackAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		f.mu.Lock()
		f.calls = append(f.calls, postedMessage{
			Channel:  r.FormValue("channel"),
			ThreadTS: r.FormValue("thread_ts"),
			Blocks:   r.FormValue("blocks"),
		})
		n := len(f.calls)
		fail := f.fail
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": fail})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"channel": r.FormValue("channel"),
			"ts":      fmt.Sprintf("1700000001.%06d", n),
		})
	}
}

func (f *fakeSlackAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSlackAPI) last() postedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type serviceFixture struct {
	svc     *Service
	api     *fakeSlackAPI
	threads *mapping.Store[ThreadInfo]

	mu   sync.Mutex
	seen []events.Event
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	api := &fakeSlackAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	threads := mapping.NewStore[ThreadInfo]("slack-thread", &config.MappingConfig{
		IdleTimeout:     time.Hour,
		MaxMappings:     100,
		CleanupInterval: time.Minute,
	}, ChannelScope)

	bus := events.NewBus()
	f := &serviceFixture{
		svc:     NewServiceWithClient(NewClientWithAPIURL("xoxb-test", srv.URL+"/"), threads, bus),
		api:     api,
		threads: threads,
	}
	bus.Subscribe(func(e events.Event) {
		f.mu.Lock()
		f.seen = append(f.seen, e)
		f.mu.Unlock()
	})
	return f
}

func (f *serviceFixture) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func TestPostResponse(t *testing.T) {
	const key = "C123:1700000000.000100"

	t.Run("posts a threaded reply and flips the thread to waiting", func(t *testing.T) {
		f := newServiceFixture(t)
		f.threads.CreateOrGet(key, "sess-1", ThreadInfo{
			ChannelID: "C123", ThreadTS: "1700000000.000100", Status: ThreadProcessing,
		})

		ts, err := f.svc.PostResponse(context.Background(), ResponseInput{
			SessionID: "sess-1",
			ChannelID: "C123",
			ThreadTS:  "1700000000.000100",
			Status:    ThreadWaiting,
			Summary:   "Pushed a fix, please review.",
		})

		require.NoError(t, err)
		assert.NotEmpty(t, ts)
		require.Equal(t, 1, f.api.count())
		assert.Equal(t, "C123", f.api.last().Channel)
		assert.Equal(t, "1700000000.000100", f.api.last().ThreadTS)
		assert.Contains(t, f.api.last().Blocks, "Pushed a fix, please review.")

		m, ok := f.threads.Get(key)
		require.True(t, ok)
		assert.Equal(t, ThreadWaiting, m.Extra.Status)

		f.mu.Lock()
		defer f.mu.Unlock()
		require.Len(t, f.seen, 1)
		posted, ok := f.seen[0].(events.ResponsePosted)
		require.True(t, ok)
		assert.Equal(t, events.KindResponsePosted, posted.Kind())
		assert.Equal(t, "sess-1", posted.SessionID)
		assert.Equal(t, "slack", posted.Integration)
		assert.Equal(t, key, posted.Target)
		assert.Equal(t, ts, posted.ResponseID)
	})

	t.Run("terminal response carries its status onto the thread", func(t *testing.T) {
		f := newServiceFixture(t)
		f.threads.CreateOrGet(key, "sess-1", ThreadInfo{
			ChannelID: "C123", ThreadTS: "1700000000.000100", Status: ThreadProcessing,
		})

		_, err := f.svc.PostResponse(context.Background(), ResponseInput{
			SessionID: "sess-1",
			ChannelID: "C123",
			ThreadTS:  "1700000000.000100",
			Status:    ThreadCompleted,
			Summary:   "Done.",
		})

		require.NoError(t, err)
		m, ok := f.threads.Get(key)
		require.True(t, ok)
		assert.Equal(t, ThreadCompleted, m.Extra.Status)
	})

	t.Run("API failure returns the error and emits nothing", func(t *testing.T) {
		f := newServiceFixture(t)
		f.api.fail = "channel_not_found"
		f.threads.CreateOrGet(key, "sess-1", ThreadInfo{
			ChannelID: "C123", ThreadTS: "1700000000.000100", Status: ThreadProcessing,
		})

		_, err := f.svc.PostResponse(context.Background(), ResponseInput{
			SessionID: "sess-1",
			ChannelID: "C123",
			ThreadTS:  "1700000000.000100",
			Status:    ThreadWaiting,
			Summary:   "hello",
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "channel_not_found")
		assert.Equal(t, 0, f.eventCount())

		m, ok := f.threads.Get(key)
		require.True(t, ok)
		assert.Equal(t, ThreadProcessing, m.Extra.Status, "failed posts leave the thread untouched")
	})
}
