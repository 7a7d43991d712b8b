// Package model holds the canonical records the rest of the app operates on.
// Backend and local-storage payloads are mapped into these types at the
// boundary; nothing downstream touches raw JSON.
package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidProfile = errors.New("invalid profile")
var ErrInvalidParty = errors.New("invalid party")
var ErrInvalidBuff = errors.New("invalid buff schedule")

type Difficulty string

const (
	DifficultyNormal  Difficulty = "normal"
	DifficultyChaos   Difficulty = "chaos"
	DifficultyHard    Difficulty = "hard"
	DifficultyExtreme Difficulty = "extreme"
)

func ParseDifficulty(s string) (Difficulty, bool) {
	switch Difficulty(s) {
	case DifficultyNormal, DifficultyChaos, DifficultyHard, DifficultyExtreme:
		return Difficulty(s), true
	default:
		return "", false
	}
}

type BuffType string

const (
	BuffExp     BuffType = "exp"
	BuffDrop    BuffType = "drop"
	BuffBurning BuffType = "burning"
	BuffOther   BuffType = "other"
)

func ParseBuffType(s string) (BuffType, bool) {
	switch BuffType(s) {
	case BuffExp, BuffDrop, BuffBurning, BuffOther:
		return BuffType(s), true
	default:
		return "", false
	}
}

type VoteType string

const (
	VoteUp     VoteType = "upvote"
	VoteDown   VoteType = "downvote"
	VoteReport VoteType = "report"
)

func ParseVoteType(s string) (VoteType, bool) {
	switch VoteType(s) {
	case VoteUp, VoteDown, VoteReport:
		return VoteType(s), true
	default:
		return "", false
	}
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
	InviteExpired  InviteStatus = "expired"
)

// Reputation bounds. Every profile starts at ReputationStart and stays
// clamped to [ReputationMin, ReputationMax] no matter what changes land.
const (
	ReputationMin   = 0
	ReputationMax   = 200
	ReputationStart = 100
)

// ClampReputation clamps v to the valid reputation range.
func ClampReputation(v int) int {
	if v < ReputationMin {
		return ReputationMin
	}
	if v > ReputationMax {
		return ReputationMax
	}
	return v
}

type ReputationChange struct {
	Change     int       `json:"change"`
	Reason     string    `json:"reason"`
	FromPlayer string    `json:"fromPlayer,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type PlayerProfile struct {
	ID                  string             `json:"id"`
	UniqueID            string             `json:"uniqueId"`
	Name                string             `json:"name"`
	Level               int                `json:"level"`
	Job                 string             `json:"job"`
	Server              string             `json:"server"`
	FavoriteClasses     []string           `json:"favoriteClasses"`
	PreferredDifficulty Difficulty         `json:"preferredDifficulty"`
	Reputation          int                `json:"reputation"`
	ReputationHistory   []ReputationChange `json:"reputationHistory"`
	CreatedAt           time.Time          `json:"createdAt"`
	LastActive          time.Time          `json:"lastActive"`
}

func (p *PlayerProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if p.Level < 1 || p.Level > 300 {
		return fmt.Errorf("%w: level %d out of range 1-300", ErrInvalidProfile, p.Level)
	}
	if p.Job == "" {
		return fmt.Errorf("%w: job is required", ErrInvalidProfile)
	}
	if p.Server == "" {
		return fmt.Errorf("%w: server is required", ErrInvalidProfile)
	}
	if _, ok := ParseDifficulty(string(p.PreferredDifficulty)); !ok {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidProfile, p.PreferredDifficulty)
	}
	return nil
}

type PartyMember struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Level    int       `json:"level"`
	Job      string    `json:"job"`
	JoinedAt time.Time `json:"joinedAt"`
	IsHost   bool      `json:"isHost,omitempty"`
}

type PartyInvite struct {
	ID                string       `json:"id"`
	PartyID           string       `json:"partyId,omitempty"`
	InvitedPlayerName string       `json:"invitedPlayerName"`
	Status            InviteStatus `json:"status"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// MaxPartySize is the largest party any boss allows.
const MaxPartySize = 6

type PartyListing struct {
	ID             string        `json:"id"`
	HostID         string        `json:"hostId"`
	HostName       string        `json:"hostName"`
	BossName       string        `json:"bossName"`
	Difficulty     Difficulty    `json:"difficulty"`
	CurrentMembers int           `json:"currentMembers"`
	MaxMembers     int           `json:"maxMembers"`
	ScheduledTime  *time.Time    `json:"scheduledTime,omitempty"` // nil means "flexible"
	Server         string        `json:"server"`
	Requirements   string        `json:"requirements"`
	Description    string        `json:"description"`
	IsPrivate      bool          `json:"isPrivate"`
	AllowedPlayers []string      `json:"allowedPlayers,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	Members        []PartyMember `json:"members"`
	Invites        []PartyInvite `json:"invites,omitempty"`
}

func (p *PartyListing) Validate() error {
	if p.BossName == "" {
		return fmt.Errorf("%w: boss name is required", ErrInvalidParty)
	}
	if p.Server == "" {
		return fmt.Errorf("%w: server is required", ErrInvalidParty)
	}
	if _, ok := ParseDifficulty(string(p.Difficulty)); !ok {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidParty, p.Difficulty)
	}
	if p.MaxMembers < 2 || p.MaxMembers > MaxPartySize {
		return fmt.Errorf("%w: max members %d out of range 2-%d", ErrInvalidParty, p.MaxMembers, MaxPartySize)
	}
	return nil
}

// Host returns the member flagged as host, or nil if the listing is corrupt.
func (p *PartyListing) Host() *PartyMember {
	for i := range p.Members {
		if p.Members[i].IsHost {
			return &p.Members[i]
		}
	}
	return nil
}

func (p *PartyListing) HasMember(playerID string) bool {
	for _, m := range p.Members {
		if m.ID == playerID {
			return true
		}
	}
	return false
}

func (p *PartyListing) IsFull() bool {
	return p.CurrentMembers >= p.MaxMembers
}

type BuffVote struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"playerId"`
	VoteType  VoteType  `json:"voteType"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type BuffSchedule struct {
	ID            string     `json:"id"`
	PlayerID      string     `json:"playerId"`
	PlayerName    string     `json:"playerName"`
	Server        string     `json:"server"`
	BuffType      BuffType   `json:"buffType"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Location      string     `json:"location"`
	Description   string     `json:"description"`
	IsConfirmed   bool       `json:"isConfirmed"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
	Week          string     `json:"week"`
	CreatedAt     time.Time  `json:"createdAt"`
	Reputation    int        `json:"reputation"`
	Upvotes       int        `json:"upvotes"`
	Downvotes     int        `json:"downvotes"`
	Reports       int        `json:"reports"`
	Votes         []BuffVote `json:"votes"`
}

func (b *BuffSchedule) Validate() error {
	if b.PlayerID == "" || b.PlayerName == "" {
		return fmt.Errorf("%w: player is required", ErrInvalidBuff)
	}
	if b.Server == "" {
		return fmt.Errorf("%w: server is required", ErrInvalidBuff)
	}
	if _, ok := ParseBuffType(string(b.BuffType)); !ok {
		return fmt.Errorf("%w: unknown buff type %q", ErrInvalidBuff, b.BuffType)
	}
	if b.Location == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidBuff)
	}
	if b.ScheduledTime.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidBuff)
	}
	return nil
}

// HasVote reports whether playerID already cast a vote of the given type.
func (b *BuffSchedule) HasVote(playerID string, vt VoteType) bool {
	for _, v := range b.Votes {
		if v.PlayerID == playerID && v.VoteType == vt {
			return true
		}
	}
	return false
}

type ChatMessage struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	IsHost     bool      `json:"isHost,omitempty"`
}

// SyncSnapshot is the blob a sync code points at: the full profile as it was
// at upload time, plus where it came from.
type SyncSnapshot struct {
	Profile  PlayerProfile `json:"profile"`
	LastSync time.Time     `json:"lastSync"`
	DeviceID string        `json:"deviceId"`
}

type SyncCodeRecord struct {
	Code      string    `json:"code"`
	ProfileID string    `json:"profileId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SyncHistoryEntry struct {
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"deviceId"`
}

// PendingOp marks a mutation that only landed on the local replica because
// the remote was unreachable. A later reconciliation pass can replay or at
// least surface these instead of pretending the replicas agree.
type PendingOp struct {
	Op        string    `json:"op"`
	EntityID  string    `json:"entityId"`
	Timestamp time.Time `json:"timestamp"`
}
