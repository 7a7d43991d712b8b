// Package session owns "my profile" and "all known parties". A single
// goroutine serializes every mutation through an inbox channel, so invariant
// checks (capacity, membership, host rules) always run against a consistent
// snapshot no matter how many callbacks (HTTP handlers, storage watches,
// socket events) are in flight.
//
// Every operation is remote-first: try the backend, and when it is
// unreachable fall through to an equivalent mutation of the local replica so
// the user-visible operation still succeeds. Each fallback write records a
// pending-sync marker because the replicas have now diverged.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
	"github.com/CristianFreitas/maple-story-party/internal/remote"
)

var ErrNoProfile = errors.New("no profile")
var ErrPartyNotFound = errors.New("party not found")
var ErrPartyFull = errors.New("party is full")
var ErrAlreadyMember = errors.New("already a member")
var ErrNotMember = errors.New("not a member")
var ErrNotHost = errors.New("only the host may do that")
var ErrRemoteRequired = errors.New("operation requires backend connection")

// Remote is the backend surface the store depends on. *remote.Client
// satisfies it; tests substitute fakes.
type Remote interface {
	UpsertPlayer(ctx context.Context, p model.PlayerProfile) error
	TouchPlayerActivity(ctx context.Context, playerID string) error
	ListParties(ctx context.Context, f remote.PartyFilter) ([]model.PartyListing, error)
	CreateParty(ctx context.Context, p model.PartyListing) (model.PartyListing, error)
	JoinParty(ctx context.Context, partyID, playerID, playerName string) error
	LeaveParty(ctx context.Context, partyID, playerID string) error
	InviteToParty(ctx context.Context, partyID, playerName, invitedBy string) error
	Invites(ctx context.Context, playerID string) ([]model.PartyInvite, error)
	RespondToInvite(ctx context.Context, inviteID, response, playerID string) error
}

// Snapshot is what subscribers render from. Slices are copies; receivers may
// keep them.
type Snapshot struct {
	Version   int
	Profile   *model.PlayerProfile
	Parties   []model.PartyListing
	MyParties []string
}

// ProfileInput is the create-profile form.
type ProfileInput struct {
	Name                string
	Level               int
	Job                 string
	Server              string
	FavoriteClasses     []string
	PreferredDifficulty model.Difficulty
}

// ProfileUpdate carries partial profile edits; nil fields are untouched.
type ProfileUpdate struct {
	Name                *string
	Level               *int
	Job                 *string
	Server              *string
	FavoriteClasses     *[]string
	PreferredDifficulty *model.Difficulty
}

// PartyInput is the create-party form.
type PartyInput struct {
	BossName       string
	Difficulty     model.Difficulty
	MaxMembers     int
	ScheduledTime  *time.Time
	Server         string
	Requirements   string
	Description    string
	IsPrivate      bool
	AllowedPlayers []string
}

type msg interface{ isSessionMsg() }

type profileResult struct {
	profile model.PlayerProfile
	err     error
}

type partyResult struct {
	party model.PartyListing
	err   error
}

type createProfileMsg struct {
	in    ProfileInput
	reply chan profileResult
}

type updateProfileMsg struct {
	in    ProfileUpdate
	reply chan profileResult
}

type importProfileMsg struct {
	profile model.PlayerProfile
	reply   chan profileResult
}

type logoutMsg struct{ reply chan error }

type createPartyMsg struct {
	in    PartyInput
	reply chan partyResult
}

type joinPartyMsg struct {
	partyID string
	reply   chan error
}

type leavePartyMsg struct {
	partyID string
	reply   chan error
}

type deletePartyMsg struct {
	partyID string
	reply   chan error
}

type invitePartyMsg struct {
	partyID    string
	playerName string
	reply      chan error
}

type myInvitesMsg struct {
	reply chan invitesResult
}

type invitesResult struct {
	invites []model.PartyInvite
	err     error
}

type respondInviteMsg struct {
	inviteID string
	accept   bool
	reply    chan error
}

type addReputationMsg struct {
	change     int
	reason     string
	fromPlayer string
	reply      chan reputationResult
}

type reputationResult struct {
	entry model.ReputationChange
	err   error
}

type refreshMsg struct{ reply chan error }

type reloadLocalMsg struct{ key string }

type subscribeMsg struct {
	id     string
	outbox chan Snapshot
}

type unsubscribeMsg struct{ id string }

type getSnapshotMsg struct{ reply chan Snapshot }

type shutdownMsg struct{}

func (createProfileMsg) isSessionMsg() {}
func (updateProfileMsg) isSessionMsg() {}
func (importProfileMsg) isSessionMsg() {}
func (logoutMsg) isSessionMsg()        {}
func (createPartyMsg) isSessionMsg()   {}
func (joinPartyMsg) isSessionMsg()     {}
func (leavePartyMsg) isSessionMsg()    {}
func (deletePartyMsg) isSessionMsg()   {}
func (invitePartyMsg) isSessionMsg()   {}
func (myInvitesMsg) isSessionMsg()     {}
func (respondInviteMsg) isSessionMsg() {}
func (addReputationMsg) isSessionMsg() {}
func (refreshMsg) isSessionMsg()       {}
func (reloadLocalMsg) isSessionMsg()   {}
func (subscribeMsg) isSessionMsg()     {}
func (unsubscribeMsg) isSessionMsg()   {}
func (getSnapshotMsg) isSessionMsg()   {}
func (shutdownMsg) isSessionMsg()      {}

// Store is the session actor.
type Store struct {
	inbox chan msg

	profile   *model.PlayerProfile
	parties   []model.PartyListing
	myParties []string
	version   int
	subs      map[string]chan Snapshot

	local  *localstore.Store
	remote Remote
	log    *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Option tweaks a Store at construction; used by tests to pin the clock.
type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads the local replica and starts the actor loop.
func New(parent context.Context, local *localstore.Store, rc Remote, log *zap.Logger, opts ...Option) (*Store, error) {
	ctx, cancel := context.WithCancel(parent)

	s := &Store{
		inbox:  make(chan msg, 64),
		subs:   make(map[string]chan Snapshot),
		local:  local,
		remote: rc,
		log:    log,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadLocal(ctx); err != nil {
		cancel()
		return nil, err
	}

	go s.loop()
	return s, nil
}

func (s *Store) loadLocal(ctx context.Context) error {
	var profile model.PlayerProfile
	found, err := s.local.Get(ctx, localstore.KeyProfile, &profile)
	if err != nil {
		return err
	}
	if found {
		s.profile = &profile
	} else {
		s.profile = nil
	}

	s.parties = nil
	if _, err := s.local.Get(ctx, localstore.KeyParties, &s.parties); err != nil {
		return err
	}
	s.myParties = nil
	if _, err := s.local.Get(ctx, localstore.KeyMyParties, &s.myParties); err != nil {
		return err
	}
	return nil
}

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch v := m.(type) {
			case createProfileMsg:
				v.reply <- s.handleCreateProfile(v.in)
			case updateProfileMsg:
				v.reply <- s.handleUpdateProfile(v.in)
			case importProfileMsg:
				v.reply <- s.handleImportProfile(v.profile)
			case logoutMsg:
				v.reply <- s.handleLogout()
			case createPartyMsg:
				v.reply <- s.handleCreateParty(v.in)
			case joinPartyMsg:
				v.reply <- s.handleJoinParty(v.partyID)
			case leavePartyMsg:
				v.reply <- s.handleLeaveParty(v.partyID)
			case deletePartyMsg:
				v.reply <- s.handleDeleteParty(v.partyID)
			case invitePartyMsg:
				v.reply <- s.handleInvite(v.partyID, v.playerName)
			case myInvitesMsg:
				v.reply <- s.handleMyInvites()
			case respondInviteMsg:
				v.reply <- s.handleRespondInvite(v.inviteID, v.accept)
			case addReputationMsg:
				v.reply <- s.handleAddReputation(v.change, v.reason, v.fromPlayer)
			case refreshMsg:
				v.reply <- s.handleRefresh()
			case reloadLocalMsg:
				s.handleReloadLocal(v.key)
			case subscribeMsg:
				s.subs[v.id] = v.outbox
				v.outbox <- s.snapshot()
			case unsubscribeMsg:
				delete(s.subs, v.id)
			case getSnapshotMsg:
				v.reply <- s.snapshot()
			case shutdownMsg:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Store) shutdown() {
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.cancel()
}

func (s *Store) snapshot() Snapshot {
	snap := Snapshot{
		Version:   s.version,
		Parties:   cloneParties(s.parties),
		MyParties: append([]string(nil), s.myParties...),
	}
	if s.profile != nil {
		p := *s.profile
		p.FavoriteClasses = append([]string(nil), p.FavoriteClasses...)
		p.ReputationHistory = append([]model.ReputationChange(nil), p.ReputationHistory...)
		snap.Profile = &p
	}
	return snap
}

// cloneParties copies the listings and every slice inside them. A snapshot
// must never alias the actor's backing arrays: handlers compact member
// slices in place, and subscribers read held snapshots on their own
// goroutines.
func cloneParties(parties []model.PartyListing) []model.PartyListing {
	out := append([]model.PartyListing(nil), parties...)
	for i := range out {
		out[i].Members = append([]model.PartyMember(nil), out[i].Members...)
		out[i].Invites = append([]model.PartyInvite(nil), out[i].Invites...)
		out[i].AllowedPlayers = append([]string(nil), out[i].AllowedPlayers...)
	}
	return out
}

func (s *Store) broadcast() {
	s.version++
	snap := s.snapshot()
	for id, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Slow subscriber; drop it rather than stall the actor.
			close(ch)
			delete(s.subs, id)
		}
	}
}

// Close stops the actor and closes all subscriber channels.
func (s *Store) Close() {
	select {
	case s.inbox <- shutdownMsg{}:
	case <-s.ctx.Done():
	}
}

// RunWatcher feeds local-store change notifications into the actor so the
// working set is re-read whenever another process replaces a shared
// document. Blocks until ctx is done; run it on its own goroutine.
func (s *Store) RunWatcher(ctx context.Context, interval time.Duration) {
	for ev := range s.local.Watch(ctx, interval) {
		switch ev.Key {
		case localstore.KeyProfile, localstore.KeyParties, localstore.KeyMyParties:
			select {
			case s.inbox <- reloadLocalMsg{key: ev.Key}:
			case <-ctx.Done():
				return
			}
		}
	}
}
