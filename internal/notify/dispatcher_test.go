package notify

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
)

type recordingNotifier struct {
	mu        sync.Mutex
	grantAs   Permission
	requested int
	shown     []Notification
	cleared   []string
}

func (r *recordingNotifier) Permission() Permission { return r.grantAs }

func (r *recordingNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested++
	return r.grantAs, nil
}

func (r *recordingNotifier) Display(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return nil
}

func (r *recordingNotifier) Clear(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, tag)
}

func (r *recordingNotifier) displayed() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.shown...)
}

func newTestDispatcher(t *testing.T, n Notifier, opts ...Option) (*Dispatcher, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "replica.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d := New(context.Background(), n, store, zap.NewNop(), opts...)
	t.Cleanup(d.Close)
	return d, store
}

func grant(t *testing.T, d *Dispatcher) {
	t.Helper()
	require.Equal(t, PermissionGranted, d.RequestPermission(context.Background()))
}

func TestRequestPermission_PromptsOnceAndCaches(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	d, store := newTestDispatcher(t, n)
	ctx := context.Background()

	assert.Equal(t, PermissionDefault, d.Permission())
	assert.Equal(t, PermissionGranted, d.RequestPermission(ctx))
	assert.Equal(t, PermissionGranted, d.RequestPermission(ctx))
	assert.Equal(t, 1, n.requested, "second call answered from cache")

	// A fresh dispatcher on the same store starts from the cached decision.
	d2 := New(ctx, &recordingNotifier{grantAs: PermissionDenied}, store, zap.NewNop())
	assert.Equal(t, PermissionGranted, d2.Permission())
}

func TestDispatch_DeniedIsSilentNoop(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionDenied}
	d, _ := newTestDispatcher(t, n)
	ctx := context.Background()

	require.Equal(t, PermissionDenied, d.RequestPermission(ctx))

	assert.False(t, d.ChatMessage(ctx, "party-1", model.ChatMessage{PlayerName: "Nox", Message: "hi"}))
	assert.False(t, d.PartyInvite(ctx, model.PartyInvite{ID: "inv-1", InvitedPlayerName: "Aria"}))
	assert.False(t, d.ReputationChange(ctx, model.ReputationChange{Change: 5, Reason: "helpful"}, 105))
	assert.Empty(t, n.displayed())
}

func TestDispatch_DefaultPermissionShowsNothing(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	d, _ := newTestDispatcher(t, n)

	// No RequestPermission call yet.
	assert.False(t, d.ChatMessage(context.Background(), "party-1", model.ChatMessage{Message: "hi"}))
	assert.Empty(t, n.displayed())
}

func TestChatMessage_TruncatesLongBody(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	d, _ := newTestDispatcher(t, n)
	grant(t, d)

	long := strings.Repeat("x", 80)
	assert.True(t, d.ChatMessage(context.Background(), "party-1", model.ChatMessage{
		PlayerName: "Nox",
		Message:    long,
	}))

	shown := n.displayed()
	require.Len(t, shown, 1)
	assert.Equal(t, strings.Repeat("x", 50)+"...", shown[0].Body)
	assert.Equal(t, "Nox in party chat", shown[0].Title)
	assert.Equal(t, "chat-party-1", shown[0].Tag)
}

func TestChatMessage_ShortBodyUntouched(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	d, _ := newTestDispatcher(t, n)
	grant(t, d)

	assert.True(t, d.ChatMessage(context.Background(), "party-1", model.ChatMessage{Message: "gg wp"}))
	require.Len(t, n.displayed(), 1)
	assert.Equal(t, "gg wp", n.displayed()[0].Body)
}

func TestPartyInvite_CarriesRespondActions(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	d, _ := newTestDispatcher(t, n)
	grant(t, d)

	assert.True(t, d.PartyInvite(context.Background(), model.PartyInvite{
		ID:                "inv-1",
		InvitedPlayerName: "Aria",
	}))

	shown := n.displayed()
	require.Len(t, shown, 1)
	assert.Equal(t, "invite-inv-1", shown[0].Tag)
	require.Len(t, shown[0].Actions, 2)
	assert.Equal(t, "accept", shown[0].Actions[0].ID)
	assert.Equal(t, "decline", shown[0].Actions[1].ID)
}

func TestReputationChange_FormatsDelta(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	d, _ := newTestDispatcher(t, n)
	grant(t, d)
	ctx := context.Background()

	assert.True(t, d.ReputationChange(ctx, model.ReputationChange{
		Change: 5, Reason: "carried the run", FromPlayer: "Nox",
	}, 155))
	assert.True(t, d.ReputationChange(ctx, model.ReputationChange{
		Change: -10, Reason: "no-show",
	}, 90))

	shown := n.displayed()
	require.Len(t, shown, 2)
	assert.Equal(t, "+5 from Nox: carried the run", shown[0].Body)
	assert.Equal(t, "Reputation updated (Excellent)", shown[0].Title)
	assert.Equal(t, "-10: no-show", shown[1].Body)
	assert.Equal(t, "Reputation updated (Average)", shown[1].Title)
}

func TestClearInvite_DropsTheInviteToast(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	d, _ := newTestDispatcher(t, n)
	grant(t, d)
	ctx := context.Background()

	require.True(t, d.PartyInvite(ctx, model.PartyInvite{ID: "inv-1", InvitedPlayerName: "Aria"}))
	d.ClearInvite("inv-1")

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []string{"invite-inv-1"}, n.cleared)
}

func TestScheduleBuffReminders_SkipsElapsedLeads(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	now := time.Now()
	d, _ := newTestDispatcher(t, n, WithClock(func() time.Time { return now }))
	grant(t, d)

	// 7 minutes out: the 30 and 10 minute leads are already inside the
	// window, only 5 and 1 get timers.
	sched := model.BuffSchedule{
		ID:            "buff-1",
		PlayerName:    "Scarlet",
		BuffType:      model.BuffExp,
		Location:      "Henesys",
		ScheduledTime: now.Add(7 * time.Minute),
	}
	assert.Equal(t, 2, d.ScheduleBuffReminders(sched))

	// Already started: nothing armed, nothing fires immediately.
	sched.ScheduledTime = now.Add(-time.Minute)
	assert.Equal(t, 0, d.ScheduleBuffReminders(sched))
	assert.Empty(t, n.displayed())
}

func TestScheduleBuffReminders_FarOutArmsAllFour(t *testing.T) {
	now := time.Now()
	d, _ := newTestDispatcher(t, &recordingNotifier{grantAs: PermissionGranted},
		WithClock(func() time.Time { return now }))

	sched := model.BuffSchedule{ID: "buff-1", ScheduledTime: now.Add(2 * time.Hour)}
	assert.Equal(t, 4, d.ScheduleBuffReminders(sched))
}

func TestBuffReminder_LeadLabel(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	d, _ := newTestDispatcher(t, n)
	grant(t, d)
	ctx := context.Background()

	sched := model.BuffSchedule{ID: "buff-1", PlayerName: "Scarlet", BuffType: model.BuffExp, Location: "Henesys"}
	assert.True(t, d.BuffReminder(ctx, sched, 30*time.Minute))
	assert.True(t, d.BuffReminder(ctx, sched, time.Minute))

	shown := n.displayed()
	require.Len(t, shown, 2)
	assert.Equal(t, "exp buff in 30 minutes", shown[0].Title)
	assert.Equal(t, "exp buff in 1 minute", shown[1].Title)
	assert.Equal(t, "buff-buff-1-30", shown[0].Tag)
	assert.Equal(t, "buff-buff-1-1", shown[1].Tag)
}

func TestClose_StopsArmedTimers(t *testing.T) {
	n := &recordingNotifier{grantAs: PermissionGranted}
	now := time.Now()
	d, _ := newTestDispatcher(t, n, WithClock(func() time.Time { return now }))
	grant(t, d)

	sched := model.BuffSchedule{ID: "buff-1", ScheduledTime: now.Add(2 * time.Hour)}
	require.Equal(t, 4, d.ScheduleBuffReminders(sched))
	d.Close()

	assert.Equal(t, 0, d.ScheduleBuffReminders(sched), "closed dispatcher arms nothing")
	assert.Empty(t, n.displayed())
}
