package realtime

import (
	"time"

	"github.com/CristianFreitas/maple-story-party/internal/model"
)

// Client -> server event names.
const (
	evJoinRoom  = "joinPartyChat"
	evLeaveRoom = "leavePartyChat"
	evSend      = "sendChatMessage"
	evTyping    = "typing"
)

// Server -> client event names.
const (
	evMessage    = "chatMessage"
	evUserJoined = "userJoinedChat"
	evUserLeft   = "userLeftChat"
	evUserTyping = "userTyping"
)

// ClientEvent is the outbound wire frame.
type ClientEvent struct {
	Type       string `json:"type"`
	PartyID    string `json:"partyId,omitempty"`
	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	Message    string `json:"message,omitempty"`
	IsHost     bool   `json:"isHost,omitempty"`
	IsTyping   bool   `json:"isTyping,omitempty"`
}

// ServerEvent is the inbound wire frame.
type ServerEvent struct {
	Type       string             `json:"type"`
	PartyID    string             `json:"partyId,omitempty"`
	Message    *model.ChatMessage `json:"message,omitempty"`
	PlayerID   string             `json:"playerId,omitempty"`
	PlayerName string             `json:"playerName,omitempty"`
	IsTyping   bool               `json:"isTyping,omitempty"`
	Timestamp  time.Time          `json:"timestamp,omitempty"`
}
