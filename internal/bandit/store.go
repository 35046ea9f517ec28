/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bandit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/friendsincode/jukebox/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotStore persists the whole value table. Load returns a nil table and
// no error when nothing has been saved yet.
type SnapshotStore interface {
	Load(ctx context.Context) (Table, error)
	Save(ctx context.Context, t Table) error
}

// snapshotKey is shared by the key-value stores.
const snapshotKey = "jukebox:policy:snapshot"

func encodeTable(t Table) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode policy table: %w", err)
	}
	return data, nil
}

func decodeTable(data []byte) (Table, error) {
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode policy table: %w", err)
	}
	return t, nil
}

// BadgerStore keeps the snapshot in an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger database under dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open policy store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already opened database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Load(ctx context.Context) (Table, error) {
	var t Table
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get policy snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeTable(val)
			if err != nil {
				return err
			}
			t = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *BadgerStore) Save(ctx context.Context, t Table) error {
	data, err := encodeTable(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), data)
	})
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RedisStore keeps the snapshot under a single Redis key so several
// processes can share one policy.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore uses client and the default key.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: snapshotKey}
}

func (s *RedisStore) Load(ctx context.Context) (Table, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get policy snapshot: %w", err)
	}
	return decodeTable(data)
}

func (s *RedisStore) Save(ctx context.Context, t Table) error {
	data, err := encodeTable(t)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set policy snapshot: %w", err)
	}
	return nil
}

// GormStore keeps one policy_values row per context and action.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore expects models.PolicyValue to be migrated.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context) (Table, error) {
	var rows []models.PolicyValue
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load policy values: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := Table{}
	for _, r := range rows {
		row, ok := t[r.Context]
		if !ok {
			row = map[Action]float64{}
			t[r.Context] = row
		}
		row[Action(r.Action)] = r.Value
	}
	return t, nil
}

func (s *GormStore) Save(ctx context.Context, t Table) error {
	now := time.Now().UTC()
	rows := make([]models.PolicyValue, 0, len(t)*len(DefaultActions))
	for c, row := range t {
		for a, v := range row {
			rows = append(rows, models.PolicyValue{Context: c, Action: string(a), Value: v, UpdatedAt: now})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "context"}, {Name: "action"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save policy values: %w", err)
	}
	return nil
}
