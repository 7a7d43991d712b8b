// Package notify turns domain events into local OS notifications, gated by a
// cached user permission. Denied permission degrades every dispatch to a
// no-op that reports false; nothing in here ever fails loudly over a missed
// toast.
package notify

import (
	"context"

	"github.com/gen2brain/beeep"
)

// Permission is the cached notification consent state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

func ParsePermission(s string) (Permission, bool) {
	switch Permission(s) {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return Permission(s), true
	default:
		return "", false
	}
}

// Action is a button on a notification. Desktop backends that cannot render
// actions drop them.
type Action struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Notification is the platform payload. Tag identifies the notification so a
// newer one with the same tag replaces or clears the older.
type Notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon,omitempty"`
	Tag     string   `json:"tag"`
	Actions []Action `json:"actions,omitempty"`
}

// Notifier is the platform surface the dispatcher drives.
type Notifier interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Display(ctx context.Context, n Notification) error
	Clear(tag string)
}

// DesktopNotifier shows notifications through the OS tray via beeep. Desktop
// environments have no permission prompt, so requests always grant.
type DesktopNotifier struct {
	AppIcon string
}

func (d *DesktopNotifier) Permission() Permission { return PermissionGranted }

func (d *DesktopNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (d *DesktopNotifier) Display(ctx context.Context, n Notification) error {
	return beeep.Notify(n.Title, n.Body, d.AppIcon)
}

// Clear is a no-op; beeep has no handle to a shown notification.
func (d *DesktopNotifier) Clear(tag string) {}
