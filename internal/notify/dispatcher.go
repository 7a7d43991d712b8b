package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
)

// chatPreviewLimit caps the chat body shown in a toast.
const chatPreviewLimit = 50

// reminderLeads are how far ahead of a buff drop each reminder fires.
var reminderLeads = []time.Duration{
	30 * time.Minute,
	10 * time.Minute,
	5 * time.Minute,
	1 * time.Minute,
}

// Dispatcher maps domain events to platform notifications. Every dispatch
// reports whether a notification was actually shown; with permission denied
// everything is a silent false.
type Dispatcher struct {
	notifier Notifier
	store    *localstore.Store
	log      *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	permission Permission
	timers     []*time.Timer
	closed     bool
}

// Option tweaks a Dispatcher at construction.
type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New builds a dispatcher, restoring the cached permission decision.
func New(ctx context.Context, notifier Notifier, store *localstore.Store, log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier:   notifier,
		store:      store,
		log:        log,
		now:        time.Now,
		permission: PermissionDefault,
	}
	for _, opt := range opts {
		opt(d)
	}

	var cached string
	if found, err := store.Get(ctx, localstore.KeyPermission, &cached); err != nil {
		log.Warn("read cached notification permission failed", zap.Error(err))
	} else if found {
		if p, ok := ParsePermission(cached); ok {
			d.permission = p
		}
	}
	return d
}

// Permission returns the cached consent state.
func (d *Dispatcher) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// RequestPermission prompts once and caches the answer. Subsequent calls
// return the cached decision without prompting again.
func (d *Dispatcher) RequestPermission(ctx context.Context) Permission {
	d.mu.Lock()
	if d.permission != PermissionDefault {
		p := d.permission
		d.mu.Unlock()
		return p
	}
	d.mu.Unlock()

	p, err := d.notifier.RequestPermission(ctx)
	if err != nil {
		d.log.Warn("permission request failed", zap.Error(err))
		return PermissionDefault
	}

	d.mu.Lock()
	d.permission = p
	d.mu.Unlock()

	if err := d.store.Put(ctx, localstore.KeyPermission, string(p)); err != nil {
		d.log.Warn("cache notification permission failed", zap.Error(err))
	}
	return p
}

// ChatMessage announces an incoming chat line. Long messages are previewed,
// not shown whole.
func (d *Dispatcher) ChatMessage(ctx context.Context, roomID string, msg model.ChatMessage) bool {
	return d.dispatch(ctx, Notification{
		Title: fmt.Sprintf("%s in party chat", msg.PlayerName),
		Body:  truncate(msg.Message, chatPreviewLimit),
		Tag:   "chat-" + roomID,
	})
}

// PartyInvite announces a pending invite with respond actions.
func (d *Dispatcher) PartyInvite(ctx context.Context, inv model.PartyInvite) bool {
	return d.dispatch(ctx, Notification{
		Title: "Party invite",
		Body:  fmt.Sprintf("%s was invited to a party", inv.InvitedPlayerName),
		Tag:   "invite-" + inv.ID,
		Actions: []Action{
			{ID: "accept", Title: "Accept"},
			{ID: "decline", Title: "Decline"},
		},
	})
}

// PartyUpdate announces a membership or status change in one of the player's
// parties.
func (d *Dispatcher) PartyUpdate(ctx context.Context, party model.PartyListing, event string) bool {
	return d.dispatch(ctx, Notification{
		Title: fmt.Sprintf("%s (%s)", party.BossName, party.Difficulty),
		Body:  event,
		Tag:   "party-" + party.ID,
	})
}

// BuffReminder fires one lead-time reminder for a scheduled buff.
func (d *Dispatcher) BuffReminder(ctx context.Context, sched model.BuffSchedule, lead time.Duration) bool {
	return d.dispatch(ctx, Notification{
		Title: fmt.Sprintf("%s buff in %s", sched.BuffType, leadLabel(lead)),
		Body:  fmt.Sprintf("%s drops at %s", sched.PlayerName, sched.Location),
		Tag:   fmt.Sprintf("buff-%s-%d", sched.ID, int(lead.Minutes())),
	})
}

// ReputationChange announces a reputation delta together with the tier the
// new total lands in.
func (d *Dispatcher) ReputationChange(ctx context.Context, change model.ReputationChange, total int) bool {
	sign := ""
	if change.Change > 0 {
		sign = "+"
	}
	body := fmt.Sprintf("%s%d: %s", sign, change.Change, change.Reason)
	if change.FromPlayer != "" {
		body = fmt.Sprintf("%s%d from %s: %s", sign, change.Change, change.FromPlayer, change.Reason)
	}
	return d.dispatch(ctx, Notification{
		Title: fmt.Sprintf("Reputation updated (%s)", model.ReputationLevel(total)),
		Body:  body,
		Tag:   "reputation",
	})
}

// ClearInvite drops the toast for an invite the player already responded to.
func (d *Dispatcher) ClearInvite(inviteID string) {
	d.notifier.Clear("invite-" + inviteID)
}

// ScheduleBuffReminders arms an independent timer per lead time ahead of the
// schedule's start. Leads already inside the window are skipped, not fired
// immediately. Returns how many timers were armed.
func (d *Dispatcher) ScheduleBuffReminders(sched model.BuffSchedule) int {
	until := sched.ScheduledTime.Sub(d.now())

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}

	armed := 0
	for _, lead := range reminderLeads {
		delay := until - lead
		if delay <= 0 {
			continue
		}
		d.timers = append(d.timers, time.AfterFunc(delay, func() {
			d.BuffReminder(context.Background(), sched, lead)
		}))
		armed++
	}
	return armed
}

// Close stops every armed reminder timer.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
}

func (d *Dispatcher) dispatch(ctx context.Context, n Notification) bool {
	d.mu.Lock()
	granted := d.permission == PermissionGranted
	d.mu.Unlock()
	if !granted {
		return false
	}
	if err := d.notifier.Display(ctx, n); err != nil {
		d.log.Warn("notification display failed", zap.String("tag", n.Tag), zap.Error(err))
		return false
	}
	return true
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func leadLabel(lead time.Duration) string {
	minutes := int(lead.Minutes())
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
