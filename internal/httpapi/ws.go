package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/model"
)

// ChatEvent is one realtime happening fanned out to connected UI clients.
type ChatEvent struct {
	Type       string             `json:"type"`
	RoomID     string             `json:"roomId"`
	Message    *model.ChatMessage `json:"message,omitempty"`
	PlayerID   string             `json:"playerId,omitempty"`
	PlayerName string             `json:"playerName,omitempty"`
	IsTyping   bool               `json:"isTyping,omitempty"`
	Timestamp  time.Time          `json:"timestamp,omitempty"`
}

// ChatFeed fans chat events out to every websocket bridge client. Slow
// clients lose events rather than stalling the publisher.
type ChatFeed struct {
	mu   sync.Mutex
	subs map[string]chan ChatEvent
}

func NewChatFeed() *ChatFeed {
	return &ChatFeed{subs: make(map[string]chan ChatEvent)}
}

func (f *ChatFeed) Publish(ev ChatEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *ChatFeed) Subscribe(id string) <-chan ChatEvent {
	ch := make(chan ChatEvent, 16)
	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()
	return ch
}

func (f *ChatFeed) Unsubscribe(id string) {
	f.mu.Lock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
	f.mu.Unlock()
}

// uiCommand is what the UI sends up the bridge.
type uiCommand struct {
	Type       string `json:"type"`
	PartyID    string `json:"partyId"`
	Text       string `json:"text"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	IsHost     bool   `json:"isHost"`
}

// uiFrame is what goes down: either a state snapshot or a chat event.
type uiFrame struct {
	Type      string               `json:"type"`
	Version   int                  `json:"version,omitempty"`
	Profile   *model.PlayerProfile `json:"profile,omitempty"`
	Parties   []model.PartyListing `json:"parties,omitempty"`
	MyParties []string             `json:"myParties,omitempty"`
	Event     *ChatEvent           `json:"event,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// wsBridge streams session snapshots and chat events to the UI and relays
// chat commands back into the realtime channel.
func (s *Server) wsBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	clientID := randID(6)
	snapshots := s.Session.Subscribe("ws-" + clientID)
	defer s.Session.Unsubscribe("ws-" + clientID)

	events := s.Feed.Subscribe(clientID)
	defer s.Feed.Unsubscribe(clientID)

	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for {
			var frame uiFrame
			select {
			case <-writeCtx.Done():
				return
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				frame = uiFrame{
					Type:      "snapshot",
					Version:   snap.Version,
					Profile:   snap.Profile,
					Parties:   snap.Parties,
					MyParties: snap.MyParties,
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				frame = uiFrame{Type: "chatEvent", Event: &ev}
			}
			s.writeFrame(writeCtx, conn, frame)
		}
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if r.Context().Err() == nil {
					s.Log.Debug("ui websocket read failed", zap.Error(err))
				}
			}
			return
		}

		var cmd uiCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.writeFrame(r.Context(), conn, uiFrame{Type: "error", Error: "bad json"})
			continue
		}
		if err := s.applyCommand(r.Context(), cmd); err != nil {
			s.writeFrame(r.Context(), conn, uiFrame{Type: "error", Error: err.Error()})
		}
	}
}

func (s *Server) applyCommand(ctx context.Context, cmd uiCommand) error {
	switch cmd.Type {
	case "joinRoom":
		return s.Chat.JoinRoom(ctx, cmd.PartyID, cmd.PlayerName, cmd.PlayerID)
	case "leaveRoom":
		return s.Chat.LeaveRoom(ctx, cmd.PartyID, cmd.PlayerName)
	case "sendMessage":
		// Fallback-authored messages come back through the chat feed via the
		// channel's OnMessage hook, same as backend echoes.
		_, err := s.Chat.Send(ctx, cmd.PartyID, cmd.Text, cmd.PlayerName, cmd.PlayerID, cmd.IsHost)
		return err
	case "typing":
		s.Chat.Typing(ctx, cmd.PartyID, cmd.PlayerName)
		return nil
	default:
		return errUnknownCommand
	}
}

var errUnknownCommand = errors.New("unknown command type")

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, frame uiFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, payload); err != nil {
		s.Log.Debug("ui websocket write failed", zap.Error(err))
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
