package synccode

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CristianFreitas/maple-story-party/internal/localstore"
	"github.com/CristianFreitas/maple-story-party/internal/model"
)

func newTestExchange(t *testing.T, now *time.Time) (*Exchange, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "replica.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := NewExchange(store, zap.NewNop(), WithClock(func() time.Time { return *now }))
	return e, store
}

func ariaProfile() model.PlayerProfile {
	return model.PlayerProfile{
		ID:                  "aria-id",
		UniqueID:            "BraveWarrior1234",
		Name:                "Aria",
		Level:               120,
		Job:                 "Bishop",
		Server:              "Bera",
		PreferredDifficulty: model.DifficultyNormal,
		Reputation:          model.ReputationStart,
	}
}

func TestGenerateCode_Format(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{6}$`)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
}

func TestUploadDownload_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, _ := newTestExchange(t, &now)
	ctx := context.Background()

	code, err := e.Upload(ctx, ariaProfile())
	require.NoError(t, err)
	require.Len(t, code, 6)

	got, err := e.Download(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "aria-id", got.ID)
	assert.Equal(t, "Aria", got.Name)
}

func TestDownload_UnknownCode(t *testing.T) {
	now := time.Now()
	e, _ := newTestExchange(t, &now)

	_, err := e.Download(context.Background(), "ZZZZZZ")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestDownload_ExpiredCodeRejectedAndPurged(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, store := newTestExchange(t, &now)
	ctx := context.Background()

	code, err := e.Upload(ctx, ariaProfile())
	require.NoError(t, err)

	// 25 hours later the snapshot blob still exists, but the code must be
	// rejected as expired, never delivered.
	now = now.Add(25 * time.Hour)

	var blob model.SyncSnapshot
	found, err := store.Get(ctx, localstore.SyncDataKey(code), &blob)
	require.NoError(t, err)
	require.True(t, found)

	_, err = e.Download(ctx, code)
	assert.ErrorIs(t, err, ErrCodeExpired)

	// The failed redeem purged the residual data.
	found, err = store.Get(ctx, localstore.SyncDataKey(code), &model.SyncSnapshot{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDownload_JustBeforeExpiryStillWorks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, _ := newTestExchange(t, &now)
	ctx := context.Background()

	code, err := e.Upload(ctx, ariaProfile())
	require.NoError(t, err)

	now = now.Add(TTL - time.Minute)
	_, err = e.Download(ctx, code)
	assert.NoError(t, err)
}

func TestUpload_TwiceYieldsIndependentSnapshots(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, _ := newTestExchange(t, &now)
	ctx := context.Background()

	first := ariaProfile()
	codeA, err := e.Upload(ctx, first)
	require.NoError(t, err)

	second := ariaProfile()
	second.Level = 200
	codeB, err := e.Upload(ctx, second)
	require.NoError(t, err)

	assert.NotEqual(t, codeA, codeB)

	gotA, err := e.Download(ctx, codeA)
	require.NoError(t, err)
	assert.Equal(t, 120, gotA.Level)

	gotB, err := e.Download(ctx, codeB)
	require.NoError(t, err)
	assert.Equal(t, 200, gotB.Level)
}

func TestDownload_NormalizesInput(t *testing.T) {
	now := time.Now()
	e, _ := newTestExchange(t, &now)
	ctx := context.Background()

	code, err := e.Upload(ctx, ariaProfile())
	require.NoError(t, err)

	lower := "  " + code + " "
	_, err = e.Download(ctx, lower)
	assert.NoError(t, err)
}

func TestSweepExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, store := newTestExchange(t, &now)
	ctx := context.Background()

	oldCode, err := e.Upload(ctx, ariaProfile())
	require.NoError(t, err)

	now = now.Add(12 * time.Hour)
	freshCode, err := e.Upload(ctx, ariaProfile())
	require.NoError(t, err)

	now = now.Add(13 * time.Hour) // old is 25h, fresh is 13h

	purged, err := e.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	found, err := store.Get(ctx, localstore.SyncCodeKey(oldCode), &model.SyncCodeRecord{})
	require.NoError(t, err)
	assert.False(t, found)

	_, err = e.Download(ctx, freshCode)
	assert.NoError(t, err)
}

func TestHistory_NewestFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e, _ := newTestExchange(t, &now)
	ctx := context.Background()

	codeA, err := e.Upload(ctx, ariaProfile())
	require.NoError(t, err)
	now = now.Add(time.Hour)
	codeB, err := e.Upload(ctx, ariaProfile())
	require.NoError(t, err)

	history, err := e.History(ctx, "aria-id")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, codeB, history[0].Code)
	assert.Equal(t, codeA, history[1].Code)
}

func TestDeviceID_Stable(t *testing.T) {
	now := time.Now()
	e, _ := newTestExchange(t, &now)
	ctx := context.Background()

	first, err := e.DeviceID(ctx)
	require.NoError(t, err)
	second, err := e.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}
