package reconcile

import (
	"context"
	"strings"

	"github.com/mirovsky/gwdirector/internal/logger"
	"github.com/mirovsky/gwdirector/pkg/allocator"
	"github.com/mirovsky/gwdirector/pkg/cache"
	"github.com/mirovsky/gwdirector/pkg/config"
	"github.com/mirovsky/gwdirector/pkg/directory"
)

// Cursor keys in the cache allocators table.
const (
	uidCursorKey = "uid"
	gidCursorKey = "gid"
)

// UserPatcher writes a POSIX attribute set back to the directory.
type UserPatcher interface {
	PatchUserPosix(ctx context.Context, userID string, acct directory.PosixAccount) error
}

// ProvisionDirectory is the directory surface the provisioning pass needs.
type ProvisionDirectory interface {
	UserLister
	UserPatcher
}

// Assignment is one planned POSIX attribute set for a user that has none.
type Assignment struct {
	UserID   string
	Email    string
	Username string
	UID      int64
	GID      int64
	Home     string
	Shell    string
	Gecos    string
}

// Planner scans the tenant and plans POSIX attribute sets for users missing
// them. A nil store disables cursor persistence; planning still works, the
// cursor just restarts from the configured floor each run.
type Planner struct {
	dir   ProvisionDirectory
	store *cache.Store
	cfg   config.ProvisionConfig

	uidCursor int64
	gidCursor int64
}

// NewPlanner wires a provisioning pass over dir, persisting allocator
// cursors through store when non-nil.
func NewPlanner(dir ProvisionDirectory, store *cache.Store, cfg config.ProvisionConfig) *Planner {
	return &Planner{dir: dir, store: store, cfg: cfg}
}

// Plan lists every user in scope, harvests the in-use UID/GID/username sets
// from all POSIX attribute sets regardless of user state (a suspended user
// may be reactivated later, so its IDs stay reserved), and allocates
// identities for active users that have none. Candidates are processed in
// fetch order, which the directory returns sorted by email.
func (p *Planner) Plan(ctx context.Context) ([]Assignment, error) {
	users, err := p.dir.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	usedUIDs := allocator.NewIDSet()
	usedGIDs := allocator.NewIDSet()
	taken := make(map[string]struct{})
	var candidates []*directory.User

	for i := range users {
		u := &users[i]
		if len(u.PosixAccounts) == 0 {
			if !u.Deleted && !u.Suspended {
				candidates = append(candidates, u)
			}
			continue
		}
		for _, acct := range u.PosixAccounts {
			if acct.UID > 0 {
				usedUIDs.Add(acct.UID)
			}
			if acct.GID > 0 {
				usedGIDs.Add(acct.GID)
			}
			if acct.Username != "" {
				taken[allocator.Sanitize(acct.Username, "")] = struct{}{}
			}
		}
	}

	uidAlloc := allocator.NewUIDAllocator(usedUIDs)
	gidAlloc := allocator.NewUIDAllocator(usedGIDs)
	if err := p.seedCursors(ctx, uidAlloc, gidAlloc); err != nil {
		return nil, err
	}

	assignments := make([]Assignment, 0, len(candidates))
	for _, u := range candidates {
		base := allocator.Sanitize(localPart(u.PrimaryEmail), p.cfg.StripSuffix)
		username := allocator.UniqueUsername(base, taken)

		uid := uidAlloc.Next(p.cfg.StartUID)
		var gid int64
		if p.cfg.GIDEqualsUID {
			gid = uid
			gidAlloc.Claim(gid)
		} else {
			gid = gidAlloc.Next(p.cfg.StartGID)
		}

		gecos := u.FullName
		if gecos == "" {
			gecos = username
		}

		assignments = append(assignments, Assignment{
			UserID:   u.ID,
			Email:    u.PrimaryEmail,
			Username: username,
			UID:      uid,
			GID:      gid,
			Home:     renderHome(p.cfg.HomeTemplate, username),
			Shell:    p.cfg.DefaultShell,
			Gecos:    gecos,
		})
	}

	p.uidCursor = uidAlloc.Cursor()
	p.gidCursor = gidAlloc.Cursor()
	logger.Debug("provisioning plan built",
		"scanned", len(users), "candidates", len(candidates))
	return assignments, nil
}

// Apply patches each planned assignment into the directory. A failed patch
// is logged and skipped rather than aborting the run: retryable errors were
// already retried by the client, and a conflict on one user must not block
// the rest. Returns the number of users updated.
func (p *Planner) Apply(ctx context.Context, assignments []Assignment) (int, error) {
	applied := 0
	for _, a := range assignments {
		err := p.dir.PatchUserPosix(ctx, a.UserID, directory.PosixAccount{
			Username:      a.Username,
			UID:           a.UID,
			GID:           a.GID,
			HomeDirectory: a.Home,
			Shell:         a.Shell,
			Gecos:         a.Gecos,
		})
		if err != nil {
			if ctx.Err() != nil {
				return applied, ctx.Err()
			}
			logger.Error("failed to provision user, skipping",
				"email", a.Email, "username", a.Username, "error", err)
			continue
		}
		applied++
		logger.Info("provisioned user",
			"email", a.Email, "username", a.Username, "uid", a.UID, "gid", a.GID)
	}

	if err := p.persistCursors(ctx); err != nil {
		return applied, err
	}
	return applied, nil
}

func (p *Planner) seedCursors(ctx context.Context, uidAlloc, gidAlloc *allocator.UIDAllocator) error {
	if p.store == nil {
		return nil
	}
	next, ok, err := p.store.AllocatorGet(ctx, uidCursorKey)
	if err != nil {
		return err
	}
	if ok {
		uidAlloc.SeedCursor(next)
	}
	next, ok, err = p.store.AllocatorGet(ctx, gidCursorKey)
	if err != nil {
		return err
	}
	if ok {
		gidAlloc.SeedCursor(next)
	}
	return nil
}

func (p *Planner) persistCursors(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.AllocatorSet(ctx, uidCursorKey, p.uidCursor); err != nil {
		return err
	}
	return p.store.AllocatorSet(ctx, gidCursorKey, p.gidCursor)
}

func renderHome(template, username string) string {
	return strings.ReplaceAll(template, "{username}", username)
}
