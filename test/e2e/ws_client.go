package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

// WSEvent is one frame received on a test WebSocket connection,
// pre-parsed for assertions.
type WSEvent struct {
	Type     string
	Raw      []byte
	Parsed   map[string]any
	Received time.Time
}

// WSClient is a recording WebSocket client. It reads frames on a
// background goroutine and keeps every frame in arrival order so tests
// can assert on exact sequences, not just eventual presence.
type WSClient struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	events []WSEvent
}

// wsConnect opens a gateway connection for userID on sessionID and
// starts recording frames. The connection is torn down with the test.
func (app *TestApp) wsConnect(t *testing.T, sessionID, userID string) *WSClient {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	wsURL := fmt.Sprintf("%s/api/v1/multiplayer/%s/ws?userID=%s&clientType=web",
		app.WSURL, sessionID, url.QueryEscape(userID))
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		cancel()
		require.NoError(t, err, "dial %s", wsURL)
	}

	c := &WSClient{conn: conn, cancel: cancel, done: make(chan struct{})}
	go c.readLoop(ctx)
	t.Cleanup(c.Close)
	return c
}

func (c *WSClient) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var parsed map[string]any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			continue
		}
		tp, _ := parsed["type"].(string)
		c.mu.Lock()
		c.events = append(c.events, WSEvent{Type: tp, Raw: raw, Parsed: parsed, Received: time.Now()})
		c.mu.Unlock()
	}
}

// Send writes one JSON frame to the gateway.
func (c *WSClient) Send(t *testing.T, frame any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, c.conn.Write(context.Background(), websocket.MessageText, raw))
}

// Events returns a copy of every frame received so far.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsByType filters received frames by their type field.
func (c *WSClient) EventsByType(tp string) []WSEvent {
	var out []WSEvent
	for _, ev := range c.Events() {
		if ev.Type == tp {
			out = append(out, ev)
		}
	}
	return out
}

// WaitForEvent blocks until a frame matching match arrives, scanning
// from the first frame so events that raced ahead of the wait still
// count. desc names the expectation in the failure message.
func (c *WSClient) WaitForEvent(t *testing.T, match func(WSEvent) bool, desc string) WSEvent {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for {
		for _, ev := range c.Events() {
			if match(ev) {
				return ev
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; received: %v", desc, typeNames(c.Events()))
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// WaitForEventType waits for the next frame of the given type.
func (c *WSClient) WaitForEventType(t *testing.T, tp string) WSEvent {
	t.Helper()
	return c.WaitForEvent(t, func(ev WSEvent) bool { return ev.Type == tp }, tp)
}

// Close tears the connection down and waits for the read loop to exit.
func (c *WSClient) Close() {
	c.cancel()
	c.conn.CloseNow()
	<-c.done
}

func typeNames(evs []WSEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

// field walks a dotted path ("state.editLock") through a parsed frame
// and fails the test if any segment is missing.
func field(t *testing.T, ev WSEvent, path string) any {
	t.Helper()
	var cur any = ev.Parsed
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		require.True(t, ok, "frame %s: %q is not an object in %s", ev.Type, seg, ev.Raw)
		cur, ok = m[seg]
		require.True(t, ok, "frame %s: missing %q in %s", ev.Type, seg, ev.Raw)
	}
	return cur
}

// numField reads a numeric field from a frame.
func numField(t *testing.T, ev WSEvent, path string) int64 {
	t.Helper()
	f, ok := field(t, ev, path).(float64)
	require.True(t, ok, "frame %s: %s is not a number in %s", ev.Type, path, ev.Raw)
	return int64(f)
}

// strField reads a string field from a frame.
func strField(t *testing.T, ev WSEvent, path string) string {
	t.Helper()
	s, ok := field(t, ev, path).(string)
	require.True(t, ok, "frame %s: %s is not a string in %s", ev.Type, path, ev.Raw)
	return s
}
