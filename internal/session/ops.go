package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
	"github.com/CristianFreitas/maple-story-party/internal/remote"
)

const remoteTimeout = 10 * time.Second

func (s *Store) remoteCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, remoteTimeout)
}

// --- handlers (run on the actor goroutine) ---

func (s *Store) handleCreateProfile(in ProfileInput) profileResult {
	now := s.now()
	p := model.PlayerProfile{
		ID:                  uuid.NewString(),
		UniqueID:            model.NewUniqueTag(),
		Name:                in.Name,
		Level:               in.Level,
		Job:                 in.Job,
		Server:              in.Server,
		FavoriteClasses:     in.FavoriteClasses,
		PreferredDifficulty: in.PreferredDifficulty,
		Reputation:          model.ReputationStart,
		ReputationHistory: []model.ReputationChange{
			{Change: 0, Reason: "Profile created", Timestamp: now},
		},
		CreatedAt:  now,
		LastActive: now,
	}
	if err := p.Validate(); err != nil {
		return profileResult{err: err}
	}

	s.profile = &p
	if err := s.persistProfile(); err != nil {
		return profileResult{err: err}
	}
	s.mirrorProfile()
	s.broadcast()
	return profileResult{profile: p}
}

func (s *Store) handleUpdateProfile(in ProfileUpdate) profileResult {
	if s.profile == nil {
		return profileResult{err: ErrNoProfile}
	}

	p := *s.profile
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Level != nil {
		p.Level = *in.Level
	}
	if in.Job != nil {
		p.Job = *in.Job
	}
	if in.Server != nil {
		p.Server = *in.Server
	}
	if in.FavoriteClasses != nil {
		p.FavoriteClasses = *in.FavoriteClasses
	}
	if in.PreferredDifficulty != nil {
		p.PreferredDifficulty = *in.PreferredDifficulty
	}
	p.LastActive = s.now()

	if err := p.Validate(); err != nil {
		return profileResult{err: err}
	}

	s.profile = &p
	if err := s.persistProfile(); err != nil {
		return profileResult{err: err}
	}
	s.mirrorProfile()
	s.broadcast()
	return profileResult{profile: p}
}

// handleImportProfile replaces the local profile wholesale with a restored
// snapshot. No field merge: the snapshot wins.
func (s *Store) handleImportProfile(p model.PlayerProfile) profileResult {
	if err := p.Validate(); err != nil {
		return profileResult{err: err}
	}
	p.LastActive = s.now()

	s.profile = &p
	if err := s.persistProfile(); err != nil {
		return profileResult{err: err}
	}
	s.mirrorProfile()
	s.broadcast()
	return profileResult{profile: p}
}

func (s *Store) handleLogout() error {
	s.profile = nil
	s.myParties = nil
	if err := s.local.Delete(s.ctx, localstore.KeyProfile); err != nil {
		return err
	}
	if err := s.local.Delete(s.ctx, localstore.KeyMyParties); err != nil {
		return err
	}
	s.broadcast()
	return nil
}

func (s *Store) handleCreateParty(in PartyInput) partyResult {
	if s.profile == nil {
		return partyResult{err: ErrNoProfile}
	}

	now := s.now()
	listing := model.PartyListing{
		HostID:         s.profile.ID,
		HostName:       s.profile.Name,
		BossName:       in.BossName,
		Difficulty:     in.Difficulty,
		CurrentMembers: 1,
		MaxMembers:     in.MaxMembers,
		ScheduledTime:  in.ScheduledTime,
		Server:         in.Server,
		Requirements:   in.Requirements,
		Description:    in.Description,
		IsPrivate:      in.IsPrivate,
		AllowedPlayers: in.AllowedPlayers,
		CreatedAt:      now,
		Members: []model.PartyMember{{
			ID:       s.profile.ID,
			Name:     s.profile.Name,
			Level:    s.profile.Level,
			Job:      s.profile.Job,
			JoinedAt: now,
			IsHost:   true,
		}},
	}
	if err := listing.Validate(); err != nil {
		return partyResult{err: err}
	}

	ctx, cancel := s.remoteCtx()
	created, err := s.remote.CreateParty(ctx, listing)
	cancel()
	if err == nil {
		s.refreshFromRemote()
		s.myParties = append([]string{created.ID}, s.myParties...)
		if perr := s.persistMyParties(); perr != nil {
			return partyResult{err: perr}
		}
		s.broadcast()
		return partyResult{party: created}
	}
	s.log.Warn("create party on backend failed, using local replica",
		zap.String("boss", in.BossName), zap.Error(err))

	listing.ID = uuid.NewString()
	s.parties = append([]model.PartyListing{listing}, s.parties...)
	s.myParties = append([]string{listing.ID}, s.myParties...)
	if err := s.persistParties(); err != nil {
		return partyResult{err: err}
	}
	if err := s.persistMyParties(); err != nil {
		return partyResult{err: err}
	}
	s.markPending("create_party", listing.ID)
	s.broadcast()
	return partyResult{party: listing}
}

func (s *Store) handleJoinParty(partyID string) error {
	if s.profile == nil {
		return ErrNoProfile
	}

	party := s.findParty(partyID)
	if party == nil {
		return ErrPartyNotFound
	}
	if party.HasMember(s.profile.ID) {
		return ErrAlreadyMember
	}
	if party.IsFull() {
		return ErrPartyFull
	}

	ctx, cancel := s.remoteCtx()
	err := s.remote.JoinParty(ctx, partyID, s.profile.ID, s.profile.Name)
	cancel()
	switch {
	case err == nil:
		s.refreshFromRemote()
	case isUnavailable(err):
		party.Members = append(party.Members, model.PartyMember{
			ID:       s.profile.ID,
			Name:     s.profile.Name,
			Level:    s.profile.Level,
			Job:      s.profile.Job,
			JoinedAt: s.now(),
		})
		party.CurrentMembers = len(party.Members)
		if perr := s.persistParties(); perr != nil {
			return perr
		}
		s.markPending("join_party", partyID)
	default:
		// The backend answered and said no (full, private, banned...).
		return err
	}

	s.myParties = append(s.myParties, partyID)
	if err := s.persistMyParties(); err != nil {
		return err
	}
	s.broadcast()
	return nil
}

func (s *Store) handleLeaveParty(partyID string) error {
	if s.profile == nil {
		return ErrNoProfile
	}

	party := s.findParty(partyID)
	if party == nil {
		return ErrPartyNotFound
	}
	if !party.HasMember(s.profile.ID) {
		return ErrNotMember
	}

	// The host cannot leave a party behind without a host: a host leave is a
	// delete. Keeps "exactly one host, or no party" true at all times.
	if party.HostID == s.profile.ID {
		return s.removePartyEverywhere(partyID, "delete_party")
	}

	ctx, cancel := s.remoteCtx()
	err := s.remote.LeaveParty(ctx, partyID, s.profile.ID)
	cancel()
	switch {
	case err == nil:
		s.refreshFromRemote()
	case isUnavailable(err):
		kept := party.Members[:0]
		for _, m := range party.Members {
			if m.ID != s.profile.ID {
				kept = append(kept, m)
			}
		}
		party.Members = kept
		party.CurrentMembers = len(party.Members)
		if perr := s.persistParties(); perr != nil {
			return perr
		}
		s.markPending("leave_party", partyID)
	default:
		return err
	}

	s.dropMyParty(partyID)
	if err := s.persistMyParties(); err != nil {
		return err
	}
	s.broadcast()
	return nil
}

func (s *Store) handleDeleteParty(partyID string) error {
	if s.profile == nil {
		return ErrNoProfile
	}
	party := s.findParty(partyID)
	if party == nil {
		return ErrPartyNotFound
	}
	if party.HostID != s.profile.ID {
		return ErrNotHost
	}
	return s.removePartyEverywhere(partyID, "delete_party")
}

// removePartyEverywhere deletes a hosted party remote-first. The backend
// deletes the listing when the host leaves, so LeaveParty is the wire call.
func (s *Store) removePartyEverywhere(partyID, pendingOp string) error {
	ctx, cancel := s.remoteCtx()
	err := s.remote.LeaveParty(ctx, partyID, s.profile.ID)
	cancel()
	switch {
	case err == nil:
		s.refreshFromRemote()
	case isUnavailable(err):
		kept := s.parties[:0]
		for _, p := range s.parties {
			if p.ID != partyID {
				kept = append(kept, p)
			}
		}
		s.parties = kept
		if perr := s.persistParties(); perr != nil {
			return perr
		}
		s.markPending(pendingOp, partyID)
	default:
		return err
	}

	s.dropMyParty(partyID)
	if err := s.persistMyParties(); err != nil {
		return err
	}
	s.broadcast()
	return nil
}

func (s *Store) handleInvite(partyID, playerName string) error {
	if s.profile == nil {
		return ErrNoProfile
	}
	ctx, cancel := s.remoteCtx()
	defer cancel()
	err := s.remote.InviteToParty(ctx, partyID, playerName, s.profile.ID)
	if isUnavailable(err) {
		// Invites have no local-only meaning: the invitee is on another
		// machine by definition.
		return ErrRemoteRequired
	}
	return err
}

func (s *Store) handleMyInvites() invitesResult {
	if s.profile == nil {
		return invitesResult{err: ErrNoProfile}
	}
	ctx, cancel := s.remoteCtx()
	defer cancel()
	invites, err := s.remote.Invites(ctx, s.profile.ID)
	if isUnavailable(err) {
		return invitesResult{err: ErrRemoteRequired}
	}
	return invitesResult{invites: invites, err: err}
}

func (s *Store) handleRespondInvite(inviteID string, accept bool) error {
	if s.profile == nil {
		return ErrNoProfile
	}
	response := "decline"
	if accept {
		response = "accept"
	}
	ctx, cancel := s.remoteCtx()
	err := s.remote.RespondToInvite(ctx, inviteID, response, s.profile.ID)
	cancel()
	if isUnavailable(err) {
		return ErrRemoteRequired
	}
	if err != nil {
		return err
	}
	if accept {
		s.refreshFromRemote()
		s.broadcast()
	}
	return nil
}

func (s *Store) handleAddReputation(change int, reason, fromPlayer string) reputationResult {
	if s.profile == nil {
		return reputationResult{err: ErrNoProfile}
	}

	entry := model.ReputationChange{
		Change:     change,
		Reason:     reason,
		FromPlayer: fromPlayer,
		Timestamp:  s.now(),
	}

	p := *s.profile
	p.Reputation = model.ClampReputation(p.Reputation + change)
	p.ReputationHistory = append(p.ReputationHistory, entry)
	p.LastActive = s.now()

	s.profile = &p
	if err := s.persistProfile(); err != nil {
		return reputationResult{err: err}
	}
	s.touchActivity()
	s.broadcast()
	return reputationResult{entry: entry}
}

func (s *Store) handleRefresh() error {
	ctx, cancel := s.remoteCtx()
	parties, err := s.remote.ListParties(ctx, remote.PartyFilter{Limit: 50})
	cancel()
	if err != nil {
		if isUnavailable(err) {
			// Silent fallback: keep rendering the local replica.
			s.log.Debug("party refresh skipped, backend unavailable", zap.Error(err))
			return nil
		}
		return err
	}

	s.parties = parties
	if err := s.persistParties(); err != nil {
		return err
	}
	s.broadcast()
	return nil
}

func (s *Store) handleReloadLocal(key string) {
	if err := s.loadLocal(s.ctx); err != nil {
		s.log.Warn("reload from local replica failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.broadcast()
}

// --- actor-side helpers ---

func (s *Store) findParty(partyID string) *model.PartyListing {
	for i := range s.parties {
		if s.parties[i].ID == partyID {
			return &s.parties[i]
		}
	}
	return nil
}

func (s *Store) dropMyParty(partyID string) {
	kept := s.myParties[:0]
	for _, id := range s.myParties {
		if id != partyID {
			kept = append(kept, id)
		}
	}
	s.myParties = kept
}

func (s *Store) persistProfile() error {
	if s.profile == nil {
		return s.local.Delete(s.ctx, localstore.KeyProfile)
	}
	return s.local.Put(s.ctx, localstore.KeyProfile, s.profile)
}

func (s *Store) persistParties() error {
	return s.local.Put(s.ctx, localstore.KeyParties, s.parties)
}

func (s *Store) persistMyParties() error {
	return s.local.Put(s.ctx, localstore.KeyMyParties, s.myParties)
}

// mirrorProfile pushes the profile to the backend, opportunistically. Errors
// are logged and swallowed: profile writes never fail outward.
func (s *Store) mirrorProfile() {
	if s.profile == nil {
		return
	}
	ctx, cancel := s.remoteCtx()
	defer cancel()
	if err := s.remote.UpsertPlayer(ctx, *s.profile); err != nil {
		s.log.Warn("profile mirror to backend failed", zap.Error(err))
		s.markPending("upsert_profile", s.profile.ID)
	}
}

// touchActivity bumps the backend's lastActive marker for the current
// profile. Best effort: offline the local replica already carries the bump.
func (s *Store) touchActivity() {
	if s.profile == nil {
		return
	}
	ctx, cancel := s.remoteCtx()
	defer cancel()
	if err := s.remote.TouchPlayerActivity(ctx, s.profile.ID); err != nil && !isUnavailable(err) {
		s.log.Debug("activity touch failed", zap.Error(err))
	}
}

// refreshFromRemote replaces the party working set from the backend, best
// effort. Called after a successful remote mutation.
func (s *Store) refreshFromRemote() {
	ctx, cancel := s.remoteCtx()
	parties, err := s.remote.ListParties(ctx, remote.PartyFilter{Limit: 50})
	cancel()
	if err != nil {
		s.log.Warn("party list refresh failed", zap.Error(err))
		return
	}
	s.parties = parties
	if err := s.persistParties(); err != nil {
		s.log.Warn("party mirror write failed", zap.Error(err))
	}
}

func (s *Store) markPending(op, entityID string) {
	var pending []model.PendingOp
	if _, err := s.local.Get(s.ctx, localstore.KeyPending, &pending); err != nil {
		s.log.Warn("read pending-sync markers failed", zap.Error(err))
		return
	}
	pending = append(pending, model.PendingOp{Op: op, EntityID: entityID, Timestamp: s.now()})
	if err := s.local.Put(s.ctx, localstore.KeyPending, pending); err != nil {
		s.log.Warn("write pending-sync marker failed", zap.Error(err))
	}
}

func isUnavailable(err error) bool {
	return err != nil && errors.Is(err, remote.ErrUnavailable)
}
