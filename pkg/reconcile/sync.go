// Package reconcile drives the two full passes over the directory: the sync
// pass that projects users, groups, and memberships into the identity cache,
// and the provisioning pass that plans and writes POSIX attribute sets for
// users that have none.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mirovsky/gwdirector/internal/logger"
	"github.com/mirovsky/gwdirector/pkg/allocator"
	"github.com/mirovsky/gwdirector/pkg/cache"
	"github.com/mirovsky/gwdirector/pkg/config"
	"github.com/mirovsky/gwdirector/pkg/directory"
	"github.com/mirovsky/gwdirector/pkg/metrics"
)

// UserLister fetches all users in scope.
type UserLister interface {
	ListUsers(ctx context.Context) ([]directory.User, error)
}

// GroupLister fetches all groups in scope.
type GroupLister interface {
	ListGroups(ctx context.Context) ([]directory.Group, error)
}

// MemberLister fetches one group's membership.
type MemberLister interface {
	ListGroupMembers(ctx context.Context, groupEmail string) ([]directory.Member, error)
}

// Directory is the read surface the sync pass needs.
type Directory interface {
	UserLister
	GroupLister
	MemberLister
}

// Syncer projects directory state into the identity cache.
type Syncer struct {
	dir       Directory
	store     *cache.Store
	provision config.ProvisionConfig
	groups    config.GroupsConfig
}

// NewSyncer wires a sync pass over dir and store.
func NewSyncer(dir Directory, store *cache.Store, provision config.ProvisionConfig, groups config.GroupsConfig) *Syncer {
	return &Syncer{dir: dir, store: store, provision: provision, groups: groups}
}

// UserSyncStats summarises one user pass.
type UserSyncStats struct {
	Seen        int
	Upserted    int
	Touched     int
	Skipped     int
	Deactivated int64
}

// SyncUsers fetches every user in scope and reconciles the cache: changed
// rows are upserted, unchanged rows re-marked active, and rows for users no
// longer upstream are deactivated. Users without a usable POSIX attribute
// set are skipped; they only exist for the provisioning pass.
func (s *Syncer) SyncUsers(ctx context.Context) (UserSyncStats, error) {
	var stats UserSyncStats

	users, err := s.dir.ListUsers(ctx)
	if err != nil {
		return stats, err
	}
	stats.Seen = len(users)

	var present []string
	for i := range users {
		u := &users[i]
		if u.Deleted || u.Suspended {
			stats.Skipped++
			continue
		}
		acct, ok := u.PrimaryPosix()
		if !ok || !acct.Usable() {
			stats.Skipped++
			continue
		}

		row := s.userRow(u, acct)
		existing, err := s.store.GetUser(ctx, row.ID)
		if err != nil {
			return stats, err
		}
		if existing == nil || existing.Changed(row) {
			if err := s.store.UpsertUser(ctx, row); err != nil {
				return stats, err
			}
			stats.Upserted++
		} else {
			if err := s.store.TouchUserActive(ctx, row.ID); err != nil {
				return stats, err
			}
			stats.Touched++
		}
		present = append(present, row.ID)
	}

	// An empty fetch is indistinguishable from an upstream outage; keep the
	// cache rather than tombstone everyone.
	if len(present) > 0 {
		stats.Deactivated, err = s.store.DeactivateMissingUsers(ctx, present)
		if err != nil {
			return stats, err
		}
	} else {
		logger.Warn("no usable users in scope, skipping deactivation")
	}

	metrics.UsersUpserted.Set(float64(stats.Upserted))
	metrics.UsersDeactivated.Set(float64(stats.Deactivated))
	logger.Debug("user sync finished",
		"seen", stats.Seen, "upserted", stats.Upserted, "touched", stats.Touched,
		"skipped", stats.Skipped, "deactivated", stats.Deactivated)
	return stats, nil
}

// userRow normalises one directory user into its cache representation.
func (s *Syncer) userRow(u *directory.User, acct directory.PosixAccount) *cache.User {
	raw := acct.Username
	if raw == "" {
		raw = localPart(u.PrimaryEmail)
	}
	username := allocator.Sanitize(raw, s.provision.StripSuffix)

	gecos := acct.Gecos
	if gecos == "" {
		gecos = u.FullName
	}
	if gecos == "" {
		gecos = username
	}
	shell := acct.Shell
	if shell == "" {
		shell = s.provision.DefaultShell
	}
	home := acct.HomeDirectory
	if home == "" {
		home = strings.ReplaceAll(s.provision.HomeTemplate, "{username}", username)
	}

	return &cache.User{
		ID:       u.ID,
		Email:    u.PrimaryEmail,
		Username: username,
		UID:      acct.UID,
		GID:      acct.GID,
		Gecos:    gecos,
		Home:     home,
		Shell:    shell,
		Etag:     u.Etag,
		Active:   true,
	}
}

// SyncGroups fetches directory groups, assigns them deterministic GIDs, and
// replaces the cached group and membership projections. Must run after
// SyncUsers: GID seeding and member resolution both read the active user
// rows.
func (s *Syncer) SyncGroups(ctx context.Context) error {
	groups, err := s.dir.ListGroups(ctx)
	if err != nil {
		return err
	}

	activeUsers, err := s.store.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	used := allocator.NewIDSet()
	emailToUsername := make(map[string]string, len(activeUsers))
	for _, u := range activeUsers {
		used.Add(u.GID)
		if u.Email != "" {
			emailToUsername[strings.ToLower(u.Email)] = u.Username
		}
	}

	// Ascending group ID keeps probe order, and therefore the assignments,
	// identical across independent runs.
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })

	records := make([]cache.Group, 0, len(groups))
	for _, g := range groups {
		gid, err := allocator.GroupGID(g.ID, s.groups.StartGID, s.groups.EndGID, used)
		if err != nil {
			return fmt.Errorf("failed to assign GID for group %s: %w", g.Email, err)
		}
		records = append(records, cache.Group{
			GroupID: g.ID,
			Email:   g.Email,
			Name:    allocator.GroupName(g.Email),
			GID:     gid,
			Etag:    g.Etag,
			Active:  true,
		})
	}

	if err := s.store.ReplaceGroups(ctx, records); err != nil {
		return err
	}

	for _, rec := range records {
		members, err := s.dir.ListGroupMembers(ctx, rec.Email)
		if err != nil {
			return err
		}
		usernames := resolveMembers(members, emailToUsername)
		if err := s.store.ReplaceMemberships(ctx, rec.GroupID, usernames); err != nil {
			return err
		}
	}

	if err := s.store.PurgeGroupMembers(ctx); err != nil {
		return err
	}

	metrics.GroupsActive.Set(float64(len(records)))
	logger.Debug("group sync finished", "groups", len(records))
	return nil
}

// resolveMembers maps directory member entries onto cached usernames. Only
// direct USER members in an active (or unreported) state count; nested
// groups are not expanded.
func resolveMembers(members []directory.Member, emailToUsername map[string]string) []string {
	var usernames []string
	for _, m := range members {
		if !strings.EqualFold(m.Type, "USER") {
			continue
		}
		if m.Status != "" && !strings.EqualFold(m.Status, "ACTIVE") {
			continue
		}
		if username, ok := emailToUsername[strings.ToLower(m.Email)]; ok {
			usernames = append(usernames, username)
		}
	}
	return usernames
}

func localPart(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}
