// Package directory reads users, groups, and memberships from the Google
// Workspace Admin SDK Directory API and writes POSIX attribute sets back.
// All calls are paced against a requests-per-second ceiling and retried on
// transient failures with exponential backoff.
package directory

import (
	"encoding/json"
	"fmt"

	admin "google.golang.org/api/admin/directory/v1"
)

// PosixAccount is one POSIX attribute set attached to a directory user.
// UID/GID of 0 mean the attribute is absent: the wire format cannot carry an
// explicit null, and this system never mints IDs below the configured start
// ranges, so 0 is unambiguous.
type PosixAccount struct {
	Primary       bool
	Username      string
	UID           int64
	GID           int64
	HomeDirectory string
	Shell         string
	Gecos         string
}

// Usable reports whether the attribute set carries both numeric IDs.
func (p PosixAccount) Usable() bool {
	return p.UID > 0 && p.GID > 0
}

// User is a normalised directory user.
type User struct {
	ID            string
	PrimaryEmail  string
	FullName      string
	Suspended     bool
	Deleted       bool
	Etag          string
	PosixAccounts []PosixAccount
}

// PrimaryPosix picks the attribute set marked primary, falling back to the
// first. ok is false when the user has none.
func (u *User) PrimaryPosix() (PosixAccount, bool) {
	if len(u.PosixAccounts) == 0 {
		return PosixAccount{}, false
	}
	for _, p := range u.PosixAccounts {
		if p.Primary {
			return p, true
		}
	}
	return u.PosixAccounts[0], true
}

// Group is a normalised directory group.
type Group struct {
	ID    string
	Email string
	Name  string
	Etag  string
}

// Member is one entry of a group's member listing.
type Member struct {
	Email  string
	Type   string // USER, GROUP, CUSTOMER
	Status string // ACTIVE, SUSPENDED, ... (empty for some member types)
}

// normalizeUser converts an Admin SDK user into the package's User type.
//
// The generated admin.User declares PosixAccounts as interface{}; the only
// supported way to read it is a JSON round-trip into the concrete
// UserPosixAccount schema type.
func normalizeUser(u *admin.User) (User, error) {
	out := User{
		ID:           u.Id,
		PrimaryEmail: u.PrimaryEmail,
		Suspended:    u.Suspended,
		Deleted:      u.DeletionTime != "",
		Etag:         u.Etag,
	}
	if u.Name != nil {
		out.FullName = u.Name.FullName
	}

	if u.PosixAccounts == nil {
		return out, nil
	}

	raw, err := json.Marshal(u.PosixAccounts)
	if err != nil {
		return out, fmt.Errorf("failed to re-encode posixAccounts for %s: %w", u.PrimaryEmail, err)
	}
	var accounts []admin.UserPosixAccount
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return out, fmt.Errorf("failed to decode posixAccounts for %s: %w", u.PrimaryEmail, err)
	}

	out.PosixAccounts = make([]PosixAccount, 0, len(accounts))
	for _, a := range accounts {
		out.PosixAccounts = append(out.PosixAccounts, PosixAccount{
			Primary:       a.Primary,
			Username:      a.Username,
			UID:           int64(a.Uid),
			GID:           int64(a.Gid),
			HomeDirectory: a.HomeDirectory,
			Shell:         a.Shell,
			Gecos:         a.Gecos,
		})
	}
	return out, nil
}

// wireAccount converts back to the Admin SDK schema for a patch. The numeric
// IDs are always sent; 0 would otherwise be dropped by omitempty.
func wireAccount(p PosixAccount) admin.UserPosixAccount {
	return admin.UserPosixAccount{
		Primary:         p.Primary,
		Username:        p.Username,
		Uid:             uint64(p.UID),
		Gid:             uint64(p.GID),
		HomeDirectory:   p.HomeDirectory,
		Shell:           p.Shell,
		Gecos:           p.Gecos,
		ForceSendFields: []string{"Primary", "Uid", "Gid"},
	}
}
