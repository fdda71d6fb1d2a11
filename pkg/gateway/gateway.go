// Package gateway fans session events out to WebSocket clients and feeds
// their presence, lock and keepalive frames back into the session store.
// The transport handshake (websocket.Accept) belongs to the HTTP layer;
// the gateway takes over an accepted connection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codeready-toolchain/huddle/pkg/events"
	"github.com/codeready-toolchain/huddle/pkg/models"
	"github.com/codeready-toolchain/huddle/pkg/session"
)

const (
	// sendBuffer bounds the per-connection outbound queue. A client that
	// cannot drain it in time is disconnected; nobody else stalls.
	sendBuffer = 64

	defaultWriteTimeout = 10 * time.Second
)

// Gateway owns every registered WebSocket connection. One writer
// goroutine per connection serializes all outbound frames.
type Gateway struct {
	sessions *session.Store
	bus      *events.Bus
	logger   *slog.Logger

	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*connection
}

// New creates a gateway on top of the session store and event bus.
func New(sessions *session.Store, bus *events.Bus) *Gateway {
	return &Gateway{
		sessions:     sessions,
		bus:          bus,
		logger:       slog.Default().With("component", "ws-gateway"),
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[string]*connection),
	}
}

// connection is one registered client. The writer goroutine is the only
// place that touches conn for writes; everything else enqueues onto out.
type connection struct {
	sessionID string
	clientID  string
	userID    string

	conn *websocket.Conn
	out  chan []byte

	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
}

// ActiveConnections returns the number of registered connections.
func (g *Gateway) ActiveConnections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// HandleConnection owns one accepted WebSocket connection from validation
// to teardown and blocks until the peer disconnects, the session is
// deleted, or parentCtx ends. userID must already be a member of the
// session; clientType may be empty (defaults to web in the store).
func (g *Gateway) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sessionID, userID string, clientType models.ClientType) {
	sess, err := g.sessions.Get(sessionID)
	if err != nil {
		g.reject(parentCtx, conn, CodeSessionNotFound, err.Error())
		return
	}
	if !sess.HasUser(userID) {
		g.reject(parentCtx, conn, CodeUserNotInSession, fmt.Sprintf("user %s has not joined session %s", userID, sessionID))
		return
	}
	if clientType != "" && !clientType.IsValid() {
		g.reject(parentCtx, conn, CodeInvalidMessage, fmt.Sprintf("unknown client type %q", clientType))
		return
	}

	client, err := g.sessions.Connect(sessionID, session.ConnectInput{UserID: userID, Type: clientType})
	if err != nil {
		g.reject(parentCtx, conn, connectErrorCode(err), err.Error())
		return
	}

	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		sessionID:  sessionID,
		clientID:   client.ClientID,
		userID:     userID,
		conn:       conn,
		out:        make(chan []byte, sendBuffer),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}
	g.register(c)
	go g.writeLoop(c)
	defer g.teardown(c)

	g.logger.Info("WebSocket client connected",
		"session_id", sessionID, "user_id", userID, "client_id", c.clientID)

	// The snapshot goes out first so the client can render before live
	// events apply on top of it. It already contains this client.
	if snap, err := g.sessions.Get(sessionID); err == nil {
		g.enqueueJSON(c, snapshotFrame{Type: "session.snapshot", Session: snap})
	}

	scope := events.SessionScope(sessionID)
	unsubscribe := g.bus.Subscribe(func(evt events.Event) {
		if evt.Scope() != scope {
			return
		}
		g.enqueueEvent(c, evt)
	})
	defer unsubscribe()

	g.readLoop(c)
}

func (g *Gateway) register(c *connection) {
	g.mu.Lock()
	g.conns[c.clientID] = c
	g.mu.Unlock()
}

// teardown releases the client slot and closes the socket. It runs after
// the subscription is gone, so the connection never sees its own
// client.disconnected event.
func (g *Gateway) teardown(c *connection) {
	if err := g.sessions.Disconnect(c.sessionID, c.clientID); err != nil &&
		!errors.Is(err, session.ErrSessionNotFound) && !errors.Is(err, session.ErrClientNotFound) {
		g.logger.Warn("WebSocket disconnect cleanup failed", "client_id", c.clientID, "error", err)
	}

	g.mu.Lock()
	delete(g.conns, c.clientID)
	g.mu.Unlock()

	c.cancel()
	<-c.writerDone
	_ = c.conn.Close(websocket.StatusNormalClosure, "")

	g.logger.Info("WebSocket client disconnected",
		"session_id", c.sessionID, "user_id", c.userID, "client_id", c.clientID)
}

// readLoop consumes inbound frames until the peer goes away or the
// connection context ends. Every inbound frame refreshes the client's
// lastActivity.
func (g *Gateway) readLoop(c *connection) {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		_ = g.sessions.TouchClient(c.sessionID, c.clientID)

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.enqueueJSON(c, newErrorFrame(CodeParseError, "malformed JSON frame"))
			continue
		}
		g.dispatch(c, msg)
	}
}

// dispatch routes one inbound message. Failures answer with an error
// frame on this connection only; the connection stays open.
func (g *Gateway) dispatch(c *connection, msg clientMessage) {
	switch msg.Type {
	case "cursor.update":
		if msg.Cursor == nil {
			g.enqueueJSON(c, newErrorFrame(CodeInvalidMessage, "cursor.update requires a cursor"))
			return
		}
		if err := g.sessions.UpdateCursor(c.sessionID, c.userID, *msg.Cursor); err != nil {
			g.enqueueJSON(c, newErrorFrame(CodeInvalidMessage, err.Error()))
		}

	case "lock.acquire":
		result, state, err := g.sessions.AcquireLock(c.sessionID, c.userID)
		if err != nil {
			g.enqueueJSON(c, newErrorFrame(CodeSessionNotFound, err.Error()))
			return
		}
		switch result {
		case session.LockAlreadyHeld:
			frame := newErrorFrame(CodeLockHeld, fmt.Sprintf("edit lock held by %s", state.EditLock))
			frame.Holder = state.EditLock
			g.enqueueJSON(c, frame)
		case session.LockNotMember:
			g.enqueueJSON(c, newErrorFrame(CodeUserNotInSession, fmt.Sprintf("user %s has not joined session %s", c.userID, c.sessionID)))
		}
		// LockAcquired needs no direct reply: the lock.acquired event
		// arrives through the subscription like for everyone else.

	case "lock.release":
		if err := g.sessions.ReleaseLock(c.sessionID, c.userID); err != nil {
			code := CodeLockHeld
			if errors.Is(err, session.ErrSessionNotFound) {
				code = CodeSessionNotFound
			}
			g.enqueueJSON(c, newErrorFrame(code, err.Error()))
		}

	case "ping":
		g.enqueueJSON(c, pongFrame{Type: "pong"})

	default:
		g.enqueueJSON(c, newErrorFrame(CodeInvalidMessage, fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

// writeLoop is the sole writer for one connection. On context end it
// flushes whatever is already queued so close notifications such as
// session.deleted still reach the peer.
func (g *Gateway) writeLoop(c *connection) {
	defer close(c.writerDone)
	for {
		select {
		case data := <-c.out:
			if err := g.write(c.ctx, c, data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			g.flush(c)
			return
		}
	}
}

func (g *Gateway) flush(c *connection) {
	for {
		select {
		case data := <-c.out:
			if err := g.write(context.Background(), c, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (g *Gateway) write(ctx context.Context, c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// enqueueEvent forwards one bus event. A session.deleted event also winds
// the connection down once the frame is queued.
func (g *Gateway) enqueueEvent(c *connection, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		g.logger.Debug("Dropping unserializable event", "kind", evt.Kind(), "error", err)
		return
	}
	g.enqueueRaw(c, data)
	if evt.Kind() == events.KindSessionDeleted {
		c.cancel()
	}
}

func (g *Gateway) enqueueJSON(c *connection, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		g.logger.Debug("Dropping unserializable frame", "error", err)
		return
	}
	g.enqueueRaw(c, data)
}

// enqueueRaw never blocks. A full queue means the client stopped reading;
// that one connection is closed.
func (g *Gateway) enqueueRaw(c *connection, data []byte) {
	select {
	case c.out <- data:
	default:
		g.logger.Warn("Dropping slow WebSocket client",
			"session_id", c.sessionID, "client_id", c.clientID)
		c.cancel()
	}
}

// reject answers a connection that never made it past validation: one
// error frame, then a policy-violation close.
func (g *Gateway) reject(ctx context.Context, conn *websocket.Conn, code, message string) {
	if data, err := json.Marshal(newErrorFrame(code, message)); err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout)
		_ = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
	}
	_ = conn.Close(websocket.StatusPolicyViolation, code)
}

func connectErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrClientLimitReached):
		return CodeClientLimitReached
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeSessionNotFound
	default:
		return CodeUserNotInSession
	}
}
