// Package cache is the durable identity cache: the last-seen mapping from
// directory identifiers to POSIX attributes, the directory-group table and
// memberships, and run metadata. It is the source of truth for rendering the
// extrausers files.
package cache

import "time"

// User is a cached POSIX user record, keyed by the directory-stable user id.
//
// Records are never deleted. When a user disappears from an upstream listing
// the row is flipped to inactive, retaining historical UID assignments for
// audit and reallocation avoidance. Uniqueness of uid/username is an
// invariant over active rows only, so no database-level unique index exists
// on them.
type User struct {
	ID        string    `gorm:"primaryKey"`
	Email     string    `gorm:"index"`
	Username  string
	UID       int64     `gorm:"column:uid"`
	GID       int64     `gorm:"column:gid"`
	Gecos     string
	Home      string
	Shell     string
	Etag      string
	Active    bool      `gorm:"not null;default:true;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Changed reports whether any covered field differs from other. UpdatedAt is
// excluded; an otherwise identical row is only touched, not rewritten.
func (u *User) Changed(other *User) bool {
	if other == nil {
		return true
	}
	return u.Username != other.Username ||
		u.Email != other.Email ||
		u.UID != other.UID ||
		u.GID != other.GID ||
		u.Gecos != other.Gecos ||
		u.Home != other.Home ||
		u.Shell != other.Shell ||
		u.Etag != other.Etag ||
		!other.Active
}

// Group is a cached directory group with its allocated GID. The gid is
// unique across all rows, active or not: the flat-file group database cannot
// express two groups on one GID, and keeping the constraint global makes the
// placeholder staging in ReplaceGroups sound.
type Group struct {
	GroupID   string    `gorm:"primaryKey"`
	Email     string    `gorm:"not null"`
	Name      string    `gorm:"not null"`
	GID       int64     `gorm:"column:gid;not null;uniqueIndex"`
	Etag      string
	Active    bool      `gorm:"not null;default:true;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for Group.
func (Group) TableName() string {
	return "groups"
}

// GroupMember links a directory group to a cached username.
type GroupMember struct {
	GroupID  string `gorm:"primaryKey"`
	Username string `gorm:"primaryKey"`
}

// TableName returns the table name for GroupMember.
func (GroupMember) TableName() string {
	return "group_members"
}

// Meta is an arbitrary key-value pair; at minimum it carries
// last_snapshot_hash for materialisation change detection.
type Meta struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// TableName returns the table name for Meta.
func (Meta) TableName() string {
	return "meta"
}

// AllocatorCursor persists an allocation cursor between provisioning runs.
type AllocatorCursor struct {
	Key       string `gorm:"primaryKey"`
	NextValue int64  `gorm:"not null"`
}

// TableName returns the table name for AllocatorCursor.
func (AllocatorCursor) TableName() string {
	return "allocators"
}

// allModels lists every schema model for AutoMigrate. Migrations are
// additive only; columns are never dropped.
func allModels() []any {
	return []any{&User{}, &Group{}, &GroupMember{}, &Meta{}, &AllocatorCursor{}}
}
