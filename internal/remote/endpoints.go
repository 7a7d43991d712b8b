package remote

import (
	"context"
	"fmt"

	"github.com/CristianFreitas/maple-story-party/internal/model"
)

// Player endpoints.

// UpsertPlayer mirrors the local profile to the backend. The backend keys on
// uniqueId, so repeated calls update rather than duplicate.
func (c *Client) UpsertPlayer(ctx context.Context, p model.PlayerProfile) error {
	return c.post(ctx, "/api/players", p, nil)
}

func (c *Client) PlayerByUniqueID(ctx context.Context, uniqueID string) (model.PlayerProfile, error) {
	var p model.PlayerProfile
	err := c.get(ctx, "/api/players/by-unique-id/"+uniqueID, &p)
	return p, err
}

func (c *Client) TouchPlayerActivity(ctx context.Context, playerID string) error {
	return c.post(ctx, fmt.Sprintf("/api/players/%s/activity", playerID), nil, nil)
}

// Party endpoints.

type PartyFilter struct {
	Server     string
	Difficulty string
	BossName   string
	Limit      int
}

func (c *Client) ListParties(ctx context.Context, f PartyFilter) ([]model.PartyListing, error) {
	params := map[string]string{
		"server":     f.Server,
		"difficulty": f.Difficulty,
		"bossName":   f.BossName,
	}
	if f.Limit > 0 {
		params["limit"] = fmt.Sprintf("%d", f.Limit)
	}
	var parties []model.PartyListing
	err := c.get(ctx, "/api/parties"+queryString(params), &parties)
	return parties, err
}

func (c *Client) CreateParty(ctx context.Context, p model.PartyListing) (model.PartyListing, error) {
	var created model.PartyListing
	err := c.post(ctx, "/api/parties", p, &created)
	return created, err
}

type joinPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

func (c *Client) JoinParty(ctx context.Context, partyID, playerID, playerName string) error {
	return c.post(ctx, fmt.Sprintf("/api/parties/%s/join", partyID), joinPayload{
		PlayerID:   playerID,
		PlayerName: playerName,
	}, nil)
}

func (c *Client) LeaveParty(ctx context.Context, partyID, playerID string) error {
	return c.post(ctx, fmt.Sprintf("/api/parties/%s/leave", partyID), map[string]string{
		"playerId": playerID,
	}, nil)
}

func (c *Client) InviteToParty(ctx context.Context, partyID, playerName, invitedBy string) error {
	return c.post(ctx, fmt.Sprintf("/api/parties/%s/invite", partyID), map[string]string{
		"playerName": playerName,
		"invitedBy":  invitedBy,
	}, nil)
}

func (c *Client) Invites(ctx context.Context, playerID string) ([]model.PartyInvite, error) {
	var invites []model.PartyInvite
	err := c.get(ctx, "/api/parties/invites/"+playerID, &invites)
	return invites, err
}

func (c *Client) RespondToInvite(ctx context.Context, inviteID, response, playerID string) error {
	return c.post(ctx, fmt.Sprintf("/api/parties/invites/%s/respond", inviteID), map[string]string{
		"response": response,
		"playerId": playerID,
	}, nil)
}

// Buff endpoints.

type BuffFilter struct {
	Server   string
	BuffType string
}

func (c *Client) ListBuffs(ctx context.Context, f BuffFilter) ([]model.BuffSchedule, error) {
	var schedules []model.BuffSchedule
	err := c.get(ctx, "/api/buffs"+queryString(map[string]string{
		"server":   f.Server,
		"buffType": f.BuffType,
	}), &schedules)
	return schedules, err
}

func (c *Client) CreateBuff(ctx context.Context, b model.BuffSchedule) (model.BuffSchedule, error) {
	var created model.BuffSchedule
	err := c.post(ctx, "/api/buffs", b, &created)
	return created, err
}

func (c *Client) VoteBuff(ctx context.Context, scheduleID, voterID string, vt model.VoteType, reason string) error {
	return c.post(ctx, fmt.Sprintf("/api/buffs/%s/vote", scheduleID), map[string]string{
		"voterId":  voterID,
		"voteType": string(vt),
		"reason":   reason,
	}, nil)
}

func (c *Client) ConfirmBuff(ctx context.Context, scheduleID, playerID string) error {
	return c.post(ctx, fmt.Sprintf("/api/buffs/%s/confirm", scheduleID), map[string]string{
		"playerId": playerID,
	}, nil)
}

func (c *Client) CancelBuff(ctx context.Context, scheduleID, playerID string) error {
	return c.delete(ctx, "/api/buffs/"+scheduleID, map[string]string{
		"playerId": playerID,
	})
}

// BuffStats is the backend's weekly aggregate.
type BuffStats struct {
	Week               string `json:"week"`
	NextReset          int64  `json:"nextReset"`
	TotalSchedules     int    `json:"totalSchedules"`
	ConfirmedSchedules int    `json:"confirmedSchedules"`
	UniquePlayers      int    `json:"uniquePlayers"`
}

func (c *Client) GetBuffStats(ctx context.Context, server string) (BuffStats, error) {
	var stats BuffStats
	err := c.get(ctx, "/api/buffs/stats"+queryString(map[string]string{"server": server}), &stats)
	return stats, err
}
