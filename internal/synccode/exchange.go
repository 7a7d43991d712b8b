// Package synccode moves a profile between devices without accounts: a
// short-lived 6-character code maps to a stored profile snapshot. Codes live
// 24 hours; expiry is enforced on every read and swept lazily at startup.
package synccode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
)

var ErrCodeNotFound = errors.New("sync code not found")
var ErrCodeExpired = errors.New("sync code expired")

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6

// TTL is how long an issued code stays redeemable.
const TTL = 24 * time.Hour

// Exchange issues and redeems sync codes against the local store.
type Exchange struct {
	store *localstore.Store
	log   *zap.Logger
	now   func() time.Time
}

// Option tweaks an Exchange at construction.
type Option func(*Exchange)

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func NewExchange(store *localstore.Store, log *zap.Logger, opts ...Option) *Exchange {
	e := &Exchange{store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateCode draws codeLength characters uniformly from the alphabet.
func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate sync code: %w", err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// freshCode generates until it finds a code no live record is using. The 24h
// TTL keeps the live set tiny, so this effectively never loops.
func (e *Exchange) freshCode(ctx context.Context) (string, error) {
	for {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		var existing model.SyncCodeRecord
		found, err := e.store.Get(ctx, localstore.SyncCodeKey(code), &existing)
		if err != nil {
			return "", err
		}
		if !found {
			return code, nil
		}
		e.log.Debug("sync code collision, regenerating", zap.String("code", code))
	}
}

// DeviceID returns this installation's stable identifier, creating it on
// first use.
func (e *Exchange) DeviceID(ctx context.Context) (string, error) {
	var id string
	found, err := e.store.Get(ctx, localstore.KeyDeviceID, &id)
	if err != nil {
		return "", err
	}
	if found && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := e.store.Put(ctx, localstore.KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Upload stores a snapshot of the profile and returns the code to hand to
// the user. Each upload gets its own code and snapshot; earlier codes stay
// redeemable until they expire.
func (e *Exchange) Upload(ctx context.Context, profile model.PlayerProfile) (string, error) {
	code, err := e.freshCode(ctx)
	if err != nil {
		return "", err
	}
	deviceID, err := e.DeviceID(ctx)
	if err != nil {
		return "", err
	}

	now := e.now()
	snapshot := model.SyncSnapshot{Profile: profile, LastSync: now, DeviceID: deviceID}
	if err := e.store.Put(ctx, localstore.SyncDataKey(code), snapshot); err != nil {
		return "", fmt.Errorf("store sync snapshot: %w", err)
	}

	record := model.SyncCodeRecord{Code: code, ProfileID: profile.ID, ExpiresAt: now.Add(TTL)}
	if err := e.store.Put(ctx, localstore.SyncCodeKey(code), record); err != nil {
		return "", fmt.Errorf("store sync code record: %w", err)
	}

	if err := e.appendHistory(ctx, profile.ID, model.SyncHistoryEntry{
		Code:      code,
		Timestamp: now,
		DeviceID:  deviceID,
	}); err != nil {
		e.log.Warn("append sync history failed", zap.Error(err))
	}

	return code, nil
}

// Download redeems a code and returns the embedded profile. The caller
// replaces its local profile with it wholesale; there is no field merge.
// Expired codes are purged on the spot and reported distinctly from unknown
// ones.
func (e *Exchange) Download(ctx context.Context, code string) (model.PlayerProfile, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var snapshot model.SyncSnapshot
	found, err := e.store.Get(ctx, localstore.SyncDataKey(code), &snapshot)
	if err != nil {
		return model.PlayerProfile{}, err
	}
	if !found {
		return model.PlayerProfile{}, ErrCodeNotFound
	}

	var record model.SyncCodeRecord
	found, err = e.store.Get(ctx, localstore.SyncCodeKey(code), &record)
	if err != nil {
		return model.PlayerProfile{}, err
	}
	if !found || e.now().After(record.ExpiresAt) {
		// The snapshot blob may still physically exist; it must never be
		// delivered once the expiry record is gone or stale.
		e.purge(ctx, code)
		return model.PlayerProfile{}, ErrCodeExpired
	}

	return snapshot.Profile, nil
}

// History lists a profile's sync uploads, newest first.
func (e *Exchange) History(ctx context.Context, profileID string) ([]model.SyncHistoryEntry, error) {
	var history []model.SyncHistoryEntry
	if _, err := e.store.Get(ctx, localstore.SyncHistoryKey(profileID), &history); err != nil {
		return nil, err
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})
	return history, nil
}

// SweepExpired scans all code records and purges the stale ones. Run once at
// startup; between sweeps, expired payloads linger but Download rejects
// them.
func (e *Exchange) SweepExpired(ctx context.Context) (int, error) {
	keys, err := e.store.Keys(ctx, localstore.SyncCodePrefix)
	if err != nil {
		return 0, err
	}

	purged := 0
	now := e.now()
	for _, key := range keys {
		code := strings.TrimPrefix(key, localstore.SyncCodePrefix)
		var record model.SyncCodeRecord
		found, err := e.store.Get(ctx, key, &record)
		if err != nil {
			// Unreadable record: drop it and its payload.
			e.purge(ctx, code)
			purged++
			continue
		}
		if !found {
			continue
		}
		if now.After(record.ExpiresAt) {
			e.purge(ctx, code)
			purged++
		}
	}
	return purged, nil
}

func (e *Exchange) purge(ctx context.Context, code string) {
	if err := e.store.Delete(ctx, localstore.SyncCodeKey(code)); err != nil {
		e.log.Warn("purge sync code failed", zap.String("code", code), zap.Error(err))
	}
	if err := e.store.Delete(ctx, localstore.SyncDataKey(code)); err != nil {
		e.log.Warn("purge sync snapshot failed", zap.String("code", code), zap.Error(err))
	}
}

func (e *Exchange) appendHistory(ctx context.Context, profileID string, entry model.SyncHistoryEntry) error {
	var history []model.SyncHistoryEntry
	if _, err := e.store.Get(ctx, localstore.SyncHistoryKey(profileID), &history); err != nil {
		return err
	}
	history = append(history, entry)
	return e.store.Put(ctx, localstore.SyncHistoryKey(profileID), history)
}
