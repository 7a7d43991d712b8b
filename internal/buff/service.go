// Package buff coordinates weekly buff schedules: who is dropping which buff,
// where, and when, bucketed per reset week. The backend is authoritative when
// reachable; otherwise the local replica serves and mutations are marked as
// pending sync.
package buff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
	"github.com/CristianFreitas/maple-story-party/internal/remote"
)

var (
	ErrScheduleNotFound = errors.New("buff schedule not found")
	ErrAlreadyScheduled = errors.New("player already has a schedule this week")
	ErrDuplicateVote    = errors.New("player already cast this vote")
	ErrNotOwner         = errors.New("only the schedule owner may do that")
)

// Reset is Wednesday 21:00 in the reset timezone. Everything buff-related is
// bucketed into the week that opened at the most recent reset.
const (
	resetWeekday = time.Wednesday
	resetHour    = 21
)

// Remote is the slice of the backend client the buff service needs.
type Remote interface {
	ListBuffs(ctx context.Context, f remote.BuffFilter) ([]model.BuffSchedule, error)
	CreateBuff(ctx context.Context, b model.BuffSchedule) (model.BuffSchedule, error)
	VoteBuff(ctx context.Context, scheduleID, voterID string, vt model.VoteType, reason string) error
	ConfirmBuff(ctx context.Context, scheduleID, playerID string) error
	CancelBuff(ctx context.Context, scheduleID, playerID string) error
	GetBuffStats(ctx context.Context, server string) (remote.BuffStats, error)
}

// CreateInput is what a player provides when announcing a buff drop.
type CreateInput struct {
	PlayerID      string
	PlayerName    string
	Server        string
	BuffType      model.BuffType
	ScheduledTime time.Time
	Location      string
	Description   string
	Reputation    int
}

// Stats is the weekly aggregate, computed locally when the backend is down.
type Stats struct {
	Week               string    `json:"week"`
	NextReset          time.Time `json:"nextReset"`
	TotalSchedules     int       `json:"totalSchedules"`
	ConfirmedSchedules int       `json:"confirmedSchedules"`
	UniquePlayers      int       `json:"uniquePlayers"`
}

// Service owns the local buff-schedule replica.
type Service struct {
	remote Remote
	store  *localstore.Store
	log    *zap.Logger
	loc    *time.Location
	now    func() time.Time

	mu        sync.Mutex
	schedules []model.BuffSchedule
}

// Option tweaks a Service at construction.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds the service and loads the cached schedules. tz is the reset
// timezone name; an unknown zone falls back to UTC with a warning rather than
// failing startup.
func New(ctx context.Context, rem Remote, store *localstore.Store, tz string, log *zap.Logger, opts ...Option) (*Service, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("unknown reset timezone, using UTC", zap.String("tz", tz), zap.Error(err))
		loc = time.UTC
	}
	s := &Service{
		remote: rem,
		store:  store,
		log:    log,
		loc:    loc,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := store.Get(ctx, localstore.KeyBuffs, &s.schedules); err != nil {
		return nil, fmt.Errorf("load buff schedules: %w", err)
	}
	return s, nil
}

// NextReset returns the first Wednesday 21:00 reset strictly after t.
func (s *Service) NextReset(t time.Time) time.Time {
	t = t.In(s.loc)
	reset := time.Date(t.Year(), t.Month(), t.Day(), resetHour, 0, 0, 0, s.loc)
	for reset.Weekday() != resetWeekday || !reset.After(t) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset
}

// WeekKey buckets t into its reset week, keyed by the date the week opened.
func (s *Service) WeekKey(t time.Time) string {
	return s.NextReset(t).AddDate(0, 0, -7).Format("2006-01-02")
}

// Create announces a buff drop. One schedule per player per week; a second
// attempt in the same week fails with ErrAlreadyScheduled.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.BuffSchedule, error) {
	sched := model.BuffSchedule{
		PlayerID:      in.PlayerID,
		PlayerName:    in.PlayerName,
		Server:        in.Server,
		BuffType:      in.BuffType,
		ScheduledTime: in.ScheduledTime,
		Location:      strings.TrimSpace(in.Location),
		Description:   strings.TrimSpace(in.Description),
		Week:          s.WeekKey(in.ScheduledTime),
		CreatedAt:     s.now(),
		Reputation:    in.Reputation,
	}
	if err := sched.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range s.schedules {
		if s.schedules[i].PlayerID == in.PlayerID && s.schedules[i].Week == sched.Week {
			s.mu.Unlock()
			return nil, ErrAlreadyScheduled
		}
	}
	s.mu.Unlock()

	created, err := s.remote.CreateBuff(ctx, sched)
	switch {
	case err == nil:
		sched = created
	case errors.Is(err, remote.ErrUnavailable):
		sched.ID = uuid.NewString()
		s.markPending(ctx, "create_buff", sched.ID)
	default:
		return nil, err
	}

	s.mu.Lock()
	s.schedules = append(s.schedules, sched)
	s.persistLocked(ctx)
	s.mu.Unlock()
	return &sched, nil
}

// List returns the current week's schedules, optionally filtered by server
// and buff type. The backend result refreshes the local cache; when it is
// unreachable the cache serves.
func (s *Service) List(ctx context.Context, server string, buffType model.BuffType) ([]model.BuffSchedule, error) {
	fetched, err := s.remote.ListBuffs(ctx, remote.BuffFilter{
		Server:   server,
		BuffType: string(buffType),
	})
	if err == nil {
		s.mu.Lock()
		s.schedules = mergeRefresh(s.schedules, fetched, s.WeekKey(s.now()))
		s.persistLocked(ctx)
		s.mu.Unlock()
		return fetched, nil
	}
	if !errors.Is(err, remote.ErrUnavailable) {
		return nil, err
	}

	week := s.WeekKey(s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BuffSchedule
	for _, sched := range s.schedules {
		if sched.Week != week {
			continue
		}
		if server != "" && sched.Server != server {
			continue
		}
		if buffType != "" && sched.BuffType != buffType {
			continue
		}
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out, nil
}

// Vote casts an upvote, downvote or report on a schedule. A player gets one
// vote of each type per schedule.
func (s *Service) Vote(ctx context.Context, scheduleID, voterID string, vt model.VoteType, reason string) error {
	if _, ok := model.ParseVoteType(string(vt)); !ok {
		return fmt.Errorf("%w: unknown vote type %q", model.ErrInvalidBuff, vt)
	}

	s.mu.Lock()
	sched := s.findLocked(scheduleID)
	if sched == nil {
		s.mu.Unlock()
		return ErrScheduleNotFound
	}
	if sched.HasVote(voterID, vt) {
		s.mu.Unlock()
		return ErrDuplicateVote
	}
	s.mu.Unlock()

	err := s.remote.VoteBuff(ctx, scheduleID, voterID, vt, reason)
	if err != nil && !errors.Is(err, remote.ErrUnavailable) {
		return err
	}
	if err != nil {
		s.markPending(ctx, "vote_buff", scheduleID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sched = s.findLocked(scheduleID)
	if sched == nil {
		return nil
	}
	sched.Votes = append(sched.Votes, model.BuffVote{
		ID:        uuid.NewString(),
		PlayerID:  voterID,
		VoteType:  vt,
		Reason:    reason,
		Timestamp: s.now(),
	})
	switch vt {
	case model.VoteUp:
		sched.Upvotes++
	case model.VoteDown:
		sched.Downvotes++
	case model.VoteReport:
		sched.Reports++
	}
	s.persistLocked(ctx)
	return nil
}

// Confirm marks the owner's schedule as confirmed for this week.
func (s *Service) Confirm(ctx context.Context, scheduleID, playerID string) error {
	s.mu.Lock()
	sched := s.findLocked(scheduleID)
	if sched == nil {
		s.mu.Unlock()
		return ErrScheduleNotFound
	}
	if sched.PlayerID != playerID {
		s.mu.Unlock()
		return ErrNotOwner
	}
	s.mu.Unlock()

	err := s.remote.ConfirmBuff(ctx, scheduleID, playerID)
	if err != nil && !errors.Is(err, remote.ErrUnavailable) {
		return err
	}
	if err != nil {
		s.markPending(ctx, "confirm_buff", scheduleID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sched = s.findLocked(scheduleID); sched != nil {
		now := s.now()
		sched.IsConfirmed = true
		sched.ConfirmedAt = &now
		s.persistLocked(ctx)
	}
	return nil
}

// Cancel removes a schedule. Only the owner may cancel.
func (s *Service) Cancel(ctx context.Context, scheduleID, playerID string) error {
	s.mu.Lock()
	sched := s.findLocked(scheduleID)
	if sched == nil {
		s.mu.Unlock()
		return ErrScheduleNotFound
	}
	if sched.PlayerID != playerID {
		s.mu.Unlock()
		return ErrNotOwner
	}
	s.mu.Unlock()

	err := s.remote.CancelBuff(ctx, scheduleID, playerID)
	if err != nil && !errors.Is(err, remote.ErrUnavailable) {
		return err
	}
	if err != nil {
		s.markPending(ctx, "cancel_buff", scheduleID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.schedules[:0]
	for _, sc := range s.schedules {
		if sc.ID != scheduleID {
			kept = append(kept, sc)
		}
	}
	s.schedules = kept
	s.persistLocked(ctx)
	return nil
}

// Stats reports the weekly aggregate. When the backend is down the numbers
// come from the local cache instead.
func (s *Service) Stats(ctx context.Context, server string) (Stats, error) {
	remoteStats, err := s.remote.GetBuffStats(ctx, server)
	if err == nil {
		return Stats{
			Week:               remoteStats.Week,
			NextReset:          time.Unix(0, remoteStats.NextReset*int64(time.Millisecond)).In(s.loc),
			TotalSchedules:     remoteStats.TotalSchedules,
			ConfirmedSchedules: remoteStats.ConfirmedSchedules,
			UniquePlayers:      remoteStats.UniquePlayers,
		}, nil
	}
	if !errors.Is(err, remote.ErrUnavailable) {
		return Stats{}, err
	}

	now := s.now()
	week := s.WeekKey(now)
	stats := Stats{Week: week, NextReset: s.NextReset(now)}
	players := map[string]struct{}{}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sched := range s.schedules {
		if sched.Week != week {
			continue
		}
		if server != "" && sched.Server != server {
			continue
		}
		stats.TotalSchedules++
		if sched.IsConfirmed {
			stats.ConfirmedSchedules++
		}
		players[sched.PlayerID] = struct{}{}
	}
	stats.UniquePlayers = len(players)
	return stats, nil
}

// SweepWeek drops cached schedules from past weeks and reports how many went.
func (s *Service) SweepWeek(ctx context.Context) int {
	week := s.WeekKey(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.schedules[:0]
	swept := 0
	for _, sched := range s.schedules {
		if sched.Week == week {
			kept = append(kept, sched)
		} else {
			swept++
		}
	}
	s.schedules = kept
	if swept > 0 {
		s.persistLocked(ctx)
		s.log.Info("swept stale buff schedules", zap.Int("count", swept), zap.String("week", week))
	}
	return swept
}

// Schedule returns a copy of one cached schedule.
func (s *Service) Schedule(scheduleID string) (model.BuffSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched := s.findLocked(scheduleID); sched != nil {
		return *sched, true
	}
	return model.BuffSchedule{}, false
}

func (s *Service) findLocked(scheduleID string) *model.BuffSchedule {
	for i := range s.schedules {
		if s.schedules[i].ID == scheduleID {
			return &s.schedules[i]
		}
	}
	return nil
}

func (s *Service) persistLocked(ctx context.Context) {
	if err := s.store.Put(ctx, localstore.KeyBuffs, s.schedules); err != nil {
		s.log.Warn("persist buff schedules failed", zap.Error(err))
	}
}

func (s *Service) markPending(ctx context.Context, op, entityID string) {
	var pending []model.PendingOp
	if _, err := s.store.Get(ctx, localstore.KeyPending, &pending); err != nil {
		s.log.Warn("read pending ops failed", zap.Error(err))
		return
	}
	pending = append(pending, model.PendingOp{Op: op, EntityID: entityID, Timestamp: s.now()})
	if err := s.store.Put(ctx, localstore.KeyPending, pending); err != nil {
		s.log.Warn("mark pending op failed", zap.Error(err))
	}
}

// mergeRefresh folds the backend's current view over the cache. Fetched
// entries win; cached entries the backend does not list yet, locally-authored
// ones included, survive until the weekly sweep.
func mergeRefresh(cached, fetched []model.BuffSchedule, week string) []model.BuffSchedule {
	known := make(map[string]struct{}, len(fetched))
	for _, sched := range fetched {
		known[sched.ID] = struct{}{}
	}
	out := append([]model.BuffSchedule(nil), fetched...)
	for _, sched := range cached {
		if _, ok := known[sched.ID]; !ok && sched.Week == week {
			out = append(out, sched)
		}
	}
	return out
}
