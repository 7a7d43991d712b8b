// Package realtime is the party-chat channel: best-effort fan-out of
// messages, presence and typing state over a websocket, with a local-only
// fallback log when no connection exists. Messages are appended in receipt
// order; there is no reordering and no dedup across reconnects.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
)

// State is the channel connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const writeTimeout = 3 * time.Second

// DefaultTypingTimeout is how long after the last keystroke the "stopped
// typing" signal auto-fires.
const DefaultTypingTimeout = 2 * time.Second

// Handlers receive inbound channel events. Nil handlers are skipped. They
// run on the read-loop goroutine; keep them quick.
type Handlers struct {
	OnMessage     func(roomID string, msg model.ChatMessage)
	OnUserJoined  func(roomID, playerName, playerID string, ts time.Time)
	OnUserLeft    func(roomID, playerName string, ts time.Time)
	OnTyping      func(roomID, playerName string, isTyping bool)
	OnStateChange func(s State)
}

// Channel is one client's connection to the realtime endpoint.
type Channel struct {
	url           string
	store         *localstore.Store
	log           *zap.Logger
	handlers      Handlers
	typingTimeout time.Duration
	now           func() time.Time

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	readCancel   context.CancelFunc
	pendingJoins []ClientEvent
	logs         map[string][]model.ChatMessage
	typingTimers map[string]*time.Timer

	// sendFrame is the wire write; swapped out in tests.
	sendFrame func(ctx context.Context, ev ClientEvent) error
}

// Option tweaks a Channel at construction.
type Option func(*Channel)

func WithTypingTimeout(d time.Duration) Option {
	return func(c *Channel) { c.typingTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// NewChannel builds a channel against url. It starts disconnected; chat
// works immediately in fallback mode.
func NewChannel(url string, store *localstore.Store, log *zap.Logger, h Handlers, opts ...Option) *Channel {
	c := &Channel{
		url:           url,
		store:         store,
		log:           log,
		handlers:      h,
		typingTimeout: DefaultTypingTimeout,
		now:           time.Now,
		logs:          make(map[string][]model.ChatMessage),
		typingTimers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sendFrame == nil {
		c.sendFrame = c.writeFrame
	}
	return c
}

// State reports the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.state = s
	if c.handlers.OnStateChange != nil {
		go c.handlers.OnStateChange(s)
	}
}

// Connect dials the endpoint. Idempotent: connecting or connected calls are
// no-ops. Queued room joins are flushed only once the connection is actually
// up, never on an unopened socket.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.setState(StateConnecting)
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.setState(StateDisconnected)
		c.mu.Unlock()
		return fmt.Errorf("dial realtime endpoint: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.readCancel = cancel
	c.setState(StateConnected)
	joins := c.pendingJoins
	c.pendingJoins = nil
	c.mu.Unlock()

	for _, ev := range joins {
		if err := c.sendFrame(readCtx, ev); err != nil {
			c.log.Warn("deferred room join failed", zap.String("room", ev.PartyID), zap.Error(err))
		}
	}

	go c.readLoop(readCtx, conn)
	return nil
}

// Disconnect tears the connection down and returns to fallback mode.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.readCancel
	c.conn = nil
	c.readCancel = nil
	for room, timer := range c.typingTimers {
		timer.Stop()
		delete(c.typingTimers, room)
	}
	c.setState(StateDisconnected)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func (c *Channel) writeFrame(ctx context.Context, ev ClientEvent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

// JoinRoom announces presence in a party room. When not connected yet the
// join is queued and replayed once the channel reaches connected.
func (c *Channel) JoinRoom(ctx context.Context, roomID, playerName, playerID string) error {
	ev := ClientEvent{Type: evJoinRoom, PartyID: roomID, PlayerName: playerName, PlayerID: playerID}

	c.mu.Lock()
	if c.state != StateConnected {
		c.pendingJoins = append(c.pendingJoins, ev)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.sendFrame(ctx, ev)
}

// LeaveRoom leaves a party room and drops any queued join for it.
func (c *Channel) LeaveRoom(ctx context.Context, roomID, playerName string) error {
	c.mu.Lock()
	kept := c.pendingJoins[:0]
	for _, ev := range c.pendingJoins {
		if ev.PartyID != roomID {
			kept = append(kept, ev)
		}
	}
	c.pendingJoins = kept
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.sendFrame(ctx, ClientEvent{Type: evLeaveRoom, PartyID: roomID, PlayerName: playerName})
}

// Send publishes a chat message. Connected, the frame goes to the backend
// and comes back through the room fan-out like everyone else's. Not
// connected, the message is authored locally (generated id, local timestamp,
// appended to the persisted room log, never delivered to other participants)
// and returned to the caller.
func (c *Channel) Send(ctx context.Context, roomID, text, playerName, playerID string, isHost bool) (*model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	// Sending always stops the typing indicator immediately.
	c.stopTyping(ctx, roomID, playerName)

	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		err := c.sendFrame(ctx, ClientEvent{
			Type:       evSend,
			PartyID:    roomID,
			Message:    text,
			PlayerName: playerName,
			PlayerID:   playerID,
			IsHost:     isHost,
		})
		return nil, err
	}

	msg := model.ChatMessage{
		ID:         uuid.NewString(),
		PlayerID:   playerID,
		PlayerName: playerName,
		Message:    text,
		Timestamp:  c.now(),
		IsHost:     isHost,
	}
	c.appendToLog(ctx, roomID, msg)
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(roomID, msg)
	}
	return &msg, nil
}

// Typing signals that the player is typing. The stop signal fires
// automatically after the typing timeout, or immediately on Send.
func (c *Channel) Typing(ctx context.Context, roomID, playerName string) {
	c.mu.Lock()
	connected := c.state == StateConnected
	if !connected {
		c.mu.Unlock()
		return
	}

	timer, active := c.typingTimers[roomID]
	if active {
		timer.Reset(c.typingTimeout)
		c.mu.Unlock()
		return
	}
	c.typingTimers[roomID] = time.AfterFunc(c.typingTimeout, func() {
		c.stopTyping(context.Background(), roomID, playerName)
	})
	c.mu.Unlock()

	if err := c.sendFrame(ctx, ClientEvent{Type: evTyping, PartyID: roomID, PlayerName: playerName, IsTyping: true}); err != nil {
		c.log.Debug("typing signal failed", zap.Error(err))
	}
}

func (c *Channel) stopTyping(ctx context.Context, roomID, playerName string) {
	c.mu.Lock()
	timer, active := c.typingTimers[roomID]
	if active {
		timer.Stop()
		delete(c.typingTimers, roomID)
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !active || !connected {
		return
	}
	if err := c.sendFrame(ctx, ClientEvent{Type: evTyping, PartyID: roomID, PlayerName: playerName, IsTyping: false}); err != nil {
		c.log.Debug("typing stop signal failed", zap.Error(err))
	}
}

// RoomLog returns the ordered message log for a room, loading the persisted
// history on first access so it survives restarts.
func (c *Channel) RoomLog(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	c.mu.Lock()
	log, ok := c.logs[roomID]
	c.mu.Unlock()
	if ok {
		return append([]model.ChatMessage(nil), log...), nil
	}

	var stored []model.ChatMessage
	if _, err := c.store.Get(ctx, localstore.ChatLogKey(roomID), &stored); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if _, ok := c.logs[roomID]; !ok {
		c.logs[roomID] = stored
	}
	log = c.logs[roomID]
	c.mu.Unlock()
	return append([]model.ChatMessage(nil), log...), nil
}

func (c *Channel) appendToLog(ctx context.Context, roomID string, msg model.ChatMessage) {
	c.mu.Lock()
	c.logs[roomID] = append(c.logs[roomID], msg)
	log := append([]model.ChatMessage(nil), c.logs[roomID]...)
	c.mu.Unlock()

	if err := c.store.Put(ctx, localstore.ChatLogKey(roomID), log); err != nil {
		c.log.Warn("persist chat log failed", zap.String("room", roomID), zap.Error(err))
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.readCancel = nil
			c.setState(StateDisconnected)
		}
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.log.Warn("realtime read failed", zap.Error(err))
				}
			}
			return
		}

		var ev ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("bad realtime frame", zap.Error(err))
			continue
		}
		c.dispatch(ctx, ev)
	}
}

func (c *Channel) dispatch(ctx context.Context, ev ServerEvent) {
	switch ev.Type {
	case evMessage:
		if ev.Message == nil {
			return
		}
		c.appendToLog(ctx, ev.PartyID, *ev.Message)
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(ev.PartyID, *ev.Message)
		}
	case evUserJoined:
		if c.handlers.OnUserJoined != nil {
			c.handlers.OnUserJoined(ev.PartyID, ev.PlayerName, ev.PlayerID, ev.Timestamp)
		}
	case evUserLeft:
		if c.handlers.OnUserLeft != nil {
			c.handlers.OnUserLeft(ev.PartyID, ev.PlayerName, ev.Timestamp)
		}
	case evUserTyping:
		if c.handlers.OnTyping != nil {
			c.handlers.OnTyping(ev.PartyID, ev.PlayerName, ev.IsTyping)
		}
	default:
		c.log.Debug("unknown realtime event", zap.String("type", ev.Type))
	}
}
