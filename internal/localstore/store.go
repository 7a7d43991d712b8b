// Package localstore is the client-side replica: a whole-document JSON blob
// store on an embedded sqlite file. Documents are replaced wholesale, never
// patched, which keeps last-write-wins semantics trivially true. Each write
// bumps a per-key revision; the watcher polls revisions so other processes
// sharing the file observe changes, the way browser storage events would.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Well-known document keys. They mirror the logical records the app keeps:
// one profile, one party collection, one my-party id list, plus keyed blobs
// for chat logs and sync codes.
const (
	KeyProfile    = "profile"
	KeyParties    = "parties"
	KeyMyParties  = "my_parties"
	KeyDeviceID   = "device_id"
	KeyPending    = "pending_sync"
	KeyBuffs      = "buffs"
	KeyPermission = "notify_permission"
)

func ChatLogKey(roomID string) string      { return "chat:" + roomID }
func SyncCodeKey(code string) string       { return "sync_code:" + code }
func SyncDataKey(code string) string       { return "sync_data:" + code }
func SyncHistoryKey(profileID string) string { return "sync_history:" + profileID }

// SyncCodePrefix is the key prefix scanned by the expiry sweep.
const SyncCodePrefix = "sync_code:"

// Document is one whole-document record. Value is the JSON encoding of the
// logical record; Revision increments on every replace.
type Document struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	Revision  int64
	UpdatedAt time.Time
}

// Store wraps the GORM connection to the replica file.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open opens (creating if needed) the replica database at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	// DELETE journal mode: the pure-Go driver has WAL visibility quirks, and
	// cross-process readers need to see committed writes promptly.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(DELETE)&_pragma=busy_timeout(5000)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open replica database: %w", err)
	}

	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("migrate replica schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Put replaces the document under key with the JSON encoding of v.
func (s *Store) Put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document %q: %w", key, err)
	}

	doc := Document{Key: key, Value: raw, Revision: 1, UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      raw,
			"revision":   gorm.Expr("documents.revision + 1"),
			"updated_at": doc.UpdatedAt,
		}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("write document %q: %w", key, err)
	}
	return nil
}

// Get decodes the document under key into out. The second return is false
// when no document exists; that is not an error.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	var doc Document
	err := s.db.WithContext(ctx).First(&doc, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read document %q: %w", key, err)
	}
	if err := json.Unmarshal(doc.Value, out); err != nil {
		return false, fmt.Errorf("decode document %q: %w", key, err)
	}
	return true, nil
}

// Delete removes the document under key. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&Document{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("delete document %q: %w", key, err)
	}
	return nil
}

// Keys lists all document keys with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("key LIKE ?", prefix+"%").
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Revisions snapshots the current revision of every document.
func (s *Store) Revisions(ctx context.Context) (map[string]int64, error) {
	var docs []Document
	if err := s.db.WithContext(ctx).Select("key", "revision").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("read revisions: %w", err)
	}
	revs := make(map[string]int64, len(docs))
	for _, d := range docs {
		revs[d.Key] = d.Revision
	}
	return revs, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
