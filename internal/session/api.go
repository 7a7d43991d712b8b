package session

import (
	"context"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
)

// The methods below are thin request/reply wrappers over the inbox. They
// block until the actor answers or a context dies.

func (s *Store) CreateProfile(ctx context.Context, in ProfileInput) (model.PlayerProfile, error) {
	reply := make(chan profileResult, 1)
	if err := s.send(ctx, createProfileMsg{in: in, reply: reply}); err != nil {
		return model.PlayerProfile{}, err
	}
	r, err := recv(ctx, s, reply)
	if err != nil {
		return model.PlayerProfile{}, err
	}
	return r.profile, r.err
}

func (s *Store) UpdateProfile(ctx context.Context, in ProfileUpdate) (model.PlayerProfile, error) {
	reply := make(chan profileResult, 1)
	if err := s.send(ctx, updateProfileMsg{in: in, reply: reply}); err != nil {
		return model.PlayerProfile{}, err
	}
	r, err := recv(ctx, s, reply)
	if err != nil {
		return model.PlayerProfile{}, err
	}
	return r.profile, r.err
}

// ImportProfile installs a restored profile snapshot as the current profile.
func (s *Store) ImportProfile(ctx context.Context, p model.PlayerProfile) (model.PlayerProfile, error) {
	reply := make(chan profileResult, 1)
	if err := s.send(ctx, importProfileMsg{profile: p, reply: reply}); err != nil {
		return model.PlayerProfile{}, err
	}
	r, err := recv(ctx, s, reply)
	if err != nil {
		return model.PlayerProfile{}, err
	}
	return r.profile, r.err
}

func (s *Store) Logout(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, logoutMsg{reply: reply}); err != nil {
		return err
	}
	return recvErr(ctx, s, reply)
}

func (s *Store) CreateParty(ctx context.Context, in PartyInput) (model.PartyListing, error) {
	reply := make(chan partyResult, 1)
	if err := s.send(ctx, createPartyMsg{in: in, reply: reply}); err != nil {
		return model.PartyListing{}, err
	}
	r, err := recv(ctx, s, reply)
	if err != nil {
		return model.PartyListing{}, err
	}
	return r.party, r.err
}

func (s *Store) JoinParty(ctx context.Context, partyID string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, joinPartyMsg{partyID: partyID, reply: reply}); err != nil {
		return err
	}
	return recvErr(ctx, s, reply)
}

func (s *Store) LeaveParty(ctx context.Context, partyID string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, leavePartyMsg{partyID: partyID, reply: reply}); err != nil {
		return err
	}
	return recvErr(ctx, s, reply)
}

func (s *Store) DeleteParty(ctx context.Context, partyID string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, deletePartyMsg{partyID: partyID, reply: reply}); err != nil {
		return err
	}
	return recvErr(ctx, s, reply)
}

func (s *Store) InviteToParty(ctx context.Context, partyID, playerName string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, invitePartyMsg{partyID: partyID, playerName: playerName, reply: reply}); err != nil {
		return err
	}
	return recvErr(ctx, s, reply)
}

func (s *Store) MyInvites(ctx context.Context) ([]model.PartyInvite, error) {
	reply := make(chan invitesResult, 1)
	if err := s.send(ctx, myInvitesMsg{reply: reply}); err != nil {
		return nil, err
	}
	r, err := recv(ctx, s, reply)
	if err != nil {
		return nil, err
	}
	return r.invites, r.err
}

func (s *Store) RespondToInvite(ctx context.Context, inviteID string, accept bool) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, respondInviteMsg{inviteID: inviteID, accept: accept, reply: reply}); err != nil {
		return err
	}
	return recvErr(ctx, s, reply)
}

func (s *Store) AddReputationChange(ctx context.Context, change int, reason, fromPlayer string) (model.ReputationChange, error) {
	reply := make(chan reputationResult, 1)
	if err := s.send(ctx, addReputationMsg{change: change, reason: reason, fromPlayer: fromPlayer, reply: reply}); err != nil {
		return model.ReputationChange{}, err
	}
	r, err := recv(ctx, s, reply)
	if err != nil {
		return model.ReputationChange{}, err
	}
	return r.entry, r.err
}

// Refresh re-reads the party list from the backend, falling back silently to
// the local replica when it is unreachable.
func (s *Store) Refresh(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, refreshMsg{reply: reply}); err != nil {
		return err
	}
	return recvErr(ctx, s, reply)
}

// Snapshot returns a copy of the current working set.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := s.send(ctx, getSnapshotMsg{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	return recv(ctx, s, reply)
}

// Subscribe registers a snapshot outbox under id. The first snapshot arrives
// immediately; the channel closes on shutdown or when the subscriber is too
// slow to keep up.
func (s *Store) Subscribe(id string) <-chan Snapshot {
	outbox := make(chan Snapshot, 8)
	select {
	case s.inbox <- subscribeMsg{id: id, outbox: outbox}:
	case <-s.ctx.Done():
		close(outbox)
	}
	return outbox
}

func (s *Store) Unsubscribe(id string) {
	select {
	case s.inbox <- unsubscribeMsg{id: id}:
	case <-s.ctx.Done():
	}
}

// PendingSync lists the divergence markers accumulated by local-fallback
// writes since the last reconciliation.
func (s *Store) PendingSync(ctx context.Context) ([]model.PendingOp, error) {
	var pending []model.PendingOp
	if _, err := s.local.Get(ctx, localstore.KeyPending, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *Store) send(ctx context.Context, m msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func recv[T any](ctx context.Context, s *Store, reply <-chan T) (T, error) {
	var zero T
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.ctx.Done():
		return zero, s.ctx.Err()
	}
}

func recvErr(ctx context.Context, s *Store, reply <-chan error) error {
	r, err := recv(ctx, s, reply)
	if err != nil {
		return err
	}
	return r
}
