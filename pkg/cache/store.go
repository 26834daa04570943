package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps the SQLite-backed identity cache. Single writer; each sync
// phase runs in one transaction.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the cache database at path and runs the
// schema migration. ":memory:" is supported for tests.
//
// WAL journaling and a busy timeout are enabled so an abruptly terminated
// run never leaves the cache corrupt.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying gorm handle for tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// GetUser fetches one user row by directory id. Returns (nil, nil) when the
// id has never been seen.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser inserts or updates a user record by id, forcing active.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	u.Active = true
	u.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "username", "uid", "gid", "gecos", "home", "shell",
			"etag", "active", "updated_at",
		}),
	}).Create(u).Error
}

// TouchUserActive re-marks an unchanged user active and refreshes its
// updated_at timestamp.
func (s *Store) TouchUserActive(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		Updates(map[string]any{"active": true, "updated_at": time.Now()}).Error
}

// DeactivateMissingUsers flips active off for every user whose id is not in
// present. Returns the number of rows deactivated.
func (s *Store) DeactivateMissingUsers(ctx context.Context, present []string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&User{}).Where("active = ?", true)
	if len(present) > 0 {
		q = q.Where("id NOT IN ?", present)
	}
	res := q.Updates(map[string]any{"active": false, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// ActiveUsers returns active user records ordered by (uid, username).
func (s *Store) ActiveUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("uid, username").
		Find(&users).Error
	return users, err
}

// ReplaceGroups re-projects the group table from the given records: each is
// inserted or updated and marked active, and groups absent from the list are
// deactivated.
//
// GIDs may shift between runs. All group GIDs are first moved to unique
// negative placeholders inside the transaction so the unique constraint on
// gid never trips while assignments swap.
func (s *Store) ReplaceGroups(ctx context.Context, records []Group) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("UPDATE groups SET gid = -rowid").Error; err != nil {
			return fmt.Errorf("failed to stage group gids: %w", err)
		}

		ids := make([]string, 0, len(records))
		for i := range records {
			rec := records[i]
			rec.Active = true
			rec.UpdatedAt = time.Now()
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "group_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"email", "name", "gid", "etag", "active", "updated_at",
				}),
			}).Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to upsert group %s: %w", rec.GroupID, err)
			}
			ids = append(ids, rec.GroupID)
		}

		q := tx.Model(&Group{}).Where("active = ?", true)
		if len(ids) > 0 {
			q = q.Where("group_id NOT IN ?", ids)
		}
		if err := q.Updates(map[string]any{"active": false, "updated_at": time.Now()}).Error; err != nil {
			return fmt.Errorf("failed to deactivate missing groups: %w", err)
		}
		return nil
	})
}

// ReplaceMemberships replaces the member rows of one group atomically.
func (s *Store) ReplaceMemberships(ctx context.Context, groupID string, usernames []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&GroupMember{}).Error; err != nil {
			return err
		}
		for _, username := range usernames {
			m := GroupMember{GroupID: groupID, Username: username}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ActiveGroups returns active group records ordered by (gid, name).
func (s *Store) ActiveGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("gid, name").
		Find(&groups).Error
	return groups, err
}

// MembersOf returns the usernames of one group in ascending order.
func (s *Store) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	var usernames []string
	err := s.db.WithContext(ctx).Model(&GroupMember{}).
		Where("group_id = ?", groupID).
		Order("username").
		Pluck("username", &usernames).Error
	return usernames, err
}

// PurgeGroupMembers removes membership rows of groups no longer active,
// cascading the group deactivation done by ReplaceGroups.
func (s *Store) PurgeGroupMembers(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("group_id NOT IN (?)",
			s.db.Model(&Group{}).Select("group_id").Where("active = ?", true)).
		Delete(&GroupMember{}).Error
}

// MetaGet returns the value for key, or "" when unset.
func (s *Store) MetaGet(ctx context.Context, key string) (string, error) {
	var m Meta
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Value, nil
}

// MetaSet stores a key-value pair, replacing any previous value.
func (s *Store) MetaSet(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Meta{Key: key, Value: value}).Error
}

// AllocatorGet returns the persisted cursor for key. ok is false when the
// cursor has never been set.
func (s *Store) AllocatorGet(ctx context.Context, key string) (next int64, ok bool, err error) {
	var c AllocatorCursor
	err = s.db.WithContext(ctx).Where("key = ?", key).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return c.NextValue, true, nil
}

// AllocatorSet persists the cursor for key.
func (s *Store) AllocatorSet(ctx context.Context, key string, next int64) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_value"}),
	}).Create(&AllocatorCursor{Key: key, NextValue: next}).Error
}
