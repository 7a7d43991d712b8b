package buff

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
	"github.com/CristianFreitas/maple-story-party/internal/remote"
)

type fakeRemote struct {
	mu      sync.Mutex
	online  bool
	created int
	votes   int
	listed  []model.BuffSchedule
}

func (f *fakeRemote) down() error {
	if !f.online {
		return fmt.Errorf("backend offline: %w", remote.ErrUnavailable)
	}
	return nil
}

func (f *fakeRemote) ListBuffs(ctx context.Context, _ remote.BuffFilter) ([]model.BuffSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return nil, err
	}
	return f.listed, nil
}

func (f *fakeRemote) CreateBuff(ctx context.Context, b model.BuffSchedule) (model.BuffSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return model.BuffSchedule{}, err
	}
	f.created++
	b.ID = fmt.Sprintf("remote-buff-%d", f.created)
	return b, nil
}

func (f *fakeRemote) VoteBuff(ctx context.Context, _, _ string, _ model.VoteType, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return err
	}
	f.votes++
	return nil
}

func (f *fakeRemote) ConfirmBuff(ctx context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down()
}

func (f *fakeRemote) CancelBuff(ctx context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down()
}

func (f *fakeRemote) GetBuffStats(ctx context.Context, _ string) (remote.BuffStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.down(); err != nil {
		return remote.BuffStats{}, err
	}
	return remote.BuffStats{Week: "remote-week", TotalSchedules: 42}, nil
}

// Saturday evening, mid reset week. The week opened Wednesday Aug 26 21:00
// and closes Wednesday Sep 2 21:00, America/Sao_Paulo.
var testNow = time.Date(2026, time.August, 29, 19, 0, 0, 0, saoPaulo())

func saoPaulo() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		panic(err)
	}
	return loc
}

func newTestService(t *testing.T, rem Remote) (*Service, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "replica.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := New(context.Background(), rem, store, "America/Sao_Paulo", zap.NewNop(),
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return svc, store
}

func scarletInput() CreateInput {
	return CreateInput{
		PlayerID:      "scarlet-id",
		PlayerName:    "Scarlet",
		Server:        "Scania",
		BuffType:      model.BuffExp,
		ScheduledTime: testNow.Add(2 * time.Hour),
		Location:      "Henesys FM entrance",
		Description:   "double exp before reset",
		Reputation:    120,
	}
}

func TestWeekKey_ResetBoundary(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{})
	loc := saoPaulo()

	beforeReset := time.Date(2026, time.September, 2, 20, 59, 0, 0, loc)
	afterReset := time.Date(2026, time.September, 2, 21, 1, 0, 0, loc)

	assert.Equal(t, "2026-08-26", svc.WeekKey(beforeReset))
	assert.Equal(t, "2026-09-02", svc.WeekKey(afterReset))
	assert.NotEqual(t, svc.WeekKey(beforeReset), svc.WeekKey(afterReset))
}

func TestNextReset_AlwaysWednesdayEvening(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{})

	reset := svc.NextReset(testNow)
	assert.Equal(t, time.Wednesday, reset.Weekday())
	assert.Equal(t, 21, reset.Hour())
	assert.True(t, reset.After(testNow))
	assert.Equal(t, time.Date(2026, time.September, 2, 21, 0, 0, 0, saoPaulo()), reset)
}

func TestNew_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	store, err := localstore.Open(filepath.Join(t.TempDir(), "replica.db"), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	svc, err := New(context.Background(), &fakeRemote{}, store, "Not/AZone", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, time.UTC, svc.loc)
}

func TestCreate_RemoteSuccess(t *testing.T) {
	rem := &fakeRemote{online: true}
	svc, store := newTestService(t, rem)
	ctx := context.Background()

	sched, err := svc.Create(ctx, scarletInput())
	require.NoError(t, err)
	assert.Equal(t, "remote-buff-1", sched.ID)
	assert.Equal(t, "2026-08-26", sched.Week)

	var pending []model.PendingOp
	_, err = store.Get(ctx, localstore.KeyPending, &pending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreate_BackendDownFallsBackLocally(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{online: false})
	ctx := context.Background()

	sched, err := svc.Create(ctx, scarletInput())
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)

	var cached []model.BuffSchedule
	found, err := store.Get(ctx, localstore.KeyBuffs, &cached)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, cached, 1)

	var pending []model.PendingOp
	_, err = store.Get(ctx, localstore.KeyPending, &pending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "create_buff", pending[0].Op)
	assert.Equal(t, sched.ID, pending[0].EntityID)
}

func TestCreate_OnePerPlayerPerWeek(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{online: true})
	ctx := context.Background()

	_, err := svc.Create(ctx, scarletInput())
	require.NoError(t, err)

	_, err = svc.Create(ctx, scarletInput())
	assert.ErrorIs(t, err, ErrAlreadyScheduled)

	// A different player on the same week is fine.
	other := scarletInput()
	other.PlayerID = "nox-id"
	other.PlayerName = "Nox"
	_, err = svc.Create(ctx, other)
	assert.NoError(t, err)
}

func TestCreate_ValidationRejected(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{online: true})

	in := scarletInput()
	in.Location = "  "
	_, err := svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, model.ErrInvalidBuff)
}

func TestVote_TalliesAndDeduplicates(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{online: true})
	ctx := context.Background()

	sched, err := svc.Create(ctx, scarletInput())
	require.NoError(t, err)

	require.NoError(t, svc.Vote(ctx, sched.ID, "nox-id", model.VoteUp, ""))
	err = svc.Vote(ctx, sched.ID, "nox-id", model.VoteUp, "")
	assert.ErrorIs(t, err, ErrDuplicateVote)

	// A different vote type from the same player still counts.
	require.NoError(t, svc.Vote(ctx, sched.ID, "nox-id", model.VoteReport, "no-show"))

	got, ok := svc.Schedule(sched.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.Upvotes)
	assert.Equal(t, 1, got.Reports)
	assert.Len(t, got.Votes, 2)
}

func TestVote_UnknownSchedule(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{online: true})
	err := svc.Vote(context.Background(), "nope", "nox-id", model.VoteUp, "")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestConfirm_OwnerOnly(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{online: true})
	ctx := context.Background()

	sched, err := svc.Create(ctx, scarletInput())
	require.NoError(t, err)

	err = svc.Confirm(ctx, sched.ID, "nox-id")
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, svc.Confirm(ctx, sched.ID, "scarlet-id"))
	got, ok := svc.Schedule(sched.ID)
	require.True(t, ok)
	assert.True(t, got.IsConfirmed)
	require.NotNil(t, got.ConfirmedAt)
	assert.Equal(t, testNow, *got.ConfirmedAt)
}

func TestCancel_OwnerOnly(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{online: true})
	ctx := context.Background()

	sched, err := svc.Create(ctx, scarletInput())
	require.NoError(t, err)

	err = svc.Cancel(ctx, sched.ID, "nox-id")
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, svc.Cancel(ctx, sched.ID, "scarlet-id"))
	_, ok := svc.Schedule(sched.ID)
	assert.False(t, ok)
}

func TestList_FallbackFiltersCurrentWeek(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{online: false})
	ctx := context.Background()

	in := scarletInput()
	_, err := svc.Create(ctx, in)
	require.NoError(t, err)

	other := scarletInput()
	other.PlayerID = "nox-id"
	other.PlayerName = "Nox"
	other.Server = "Bera"
	other.ScheduledTime = testNow.Add(time.Hour)
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	all, err := svc.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Nox", all[0].PlayerName, "sorted by scheduled time")

	scania, err := svc.List(ctx, "Scania", "")
	require.NoError(t, err)
	require.Len(t, scania, 1)
	assert.Equal(t, "Scarlet", scania[0].PlayerName)

	drops, err := svc.List(ctx, "", model.BuffDrop)
	require.NoError(t, err)
	assert.Empty(t, drops)
}

func TestStats_FallbackComputesLocally(t *testing.T) {
	svc, _ := newTestService(t, &fakeRemote{online: false})
	ctx := context.Background()

	sched, err := svc.Create(ctx, scarletInput())
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(ctx, sched.ID, "scarlet-id"))

	other := scarletInput()
	other.PlayerID = "nox-id"
	other.PlayerName = "Nox"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, "Scania")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-26", stats.Week)
	assert.Equal(t, 2, stats.TotalSchedules)
	assert.Equal(t, 1, stats.ConfirmedSchedules)
	assert.Equal(t, 2, stats.UniquePlayers)
	assert.Equal(t, svc.NextReset(testNow), stats.NextReset)
}

func TestSweepWeek_DropsStaleSchedules(t *testing.T) {
	store, err := localstore.Open(filepath.Join(t.TempDir(), "replica.db"), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	stale := model.BuffSchedule{
		ID: "old-1", PlayerID: "scarlet-id", PlayerName: "Scarlet", Server: "Scania",
		BuffType: model.BuffExp, Location: "Henesys", ScheduledTime: testNow.AddDate(0, 0, -14),
		Week: "2026-08-12",
	}
	fresh := stale
	fresh.ID = "new-1"
	fresh.ScheduledTime = testNow
	fresh.Week = "2026-08-26"
	require.NoError(t, store.Put(ctx, localstore.KeyBuffs, []model.BuffSchedule{stale, fresh}))

	svc, err := New(ctx, &fakeRemote{}, store, "America/Sao_Paulo", zap.NewNop(),
		WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	assert.Equal(t, 1, svc.SweepWeek(ctx))
	_, ok := svc.Schedule("old-1")
	assert.False(t, ok)
	_, ok = svc.Schedule("new-1")
	assert.True(t, ok)

	// Idempotent.
	assert.Equal(t, 0, svc.SweepWeek(ctx))
}
