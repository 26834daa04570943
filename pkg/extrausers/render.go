// Package extrausers renders the identity cache into the flat files consumed
// by libnss-extrausers (passwd, group, shadow) and writes them atomically.
package extrausers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mirovsky/gwdirector/pkg/cache"
)

// Snapshot holds the rendered text of the three files. The three blobs plus
// their combined hash fully describe one materialisation.
type Snapshot struct {
	Passwd string
	Group  string
	Shadow string
}

// Render builds a Snapshot from active cache rows. membersOf maps group ID to
// the usernames belonging to that group. now supplies the civil date for the
// shadow last-changed field.
func Render(users []cache.User, groups []cache.Group, membersOf map[string][]string, now time.Time) Snapshot {
	sorted := make([]cache.User, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].UID != sorted[j].UID {
			return sorted[i].UID < sorted[j].UID
		}
		return sorted[i].Username < sorted[j].Username
	})

	return Snapshot{
		Passwd: renderPasswd(sorted),
		Group:  renderGroup(sorted, groups, membersOf),
		Shadow: renderShadow(sorted, now),
	}
}

// Hash is the change-detection fingerprint: SHA-256 hex over the three blobs
// joined by "\n--\n" separators.
func (s Snapshot) Hash() string {
	h := sha256.New()
	h.Write([]byte(s.Passwd))
	h.Write([]byte("\n--\n"))
	h.Write([]byte(s.Group))
	h.Write([]byte("\n--\n"))
	h.Write([]byte(s.Shadow))
	return hex.EncodeToString(h.Sum(nil))
}

func renderPasswd(users []cache.User) string {
	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "%s:x:%d:%d:%s:%s:%s\n",
			u.Username, u.UID, u.GID, u.Gecos, u.Home, u.Shell)
	}
	return b.String()
}

// renderShadow emits locked entries only. Cloud passwords never reach the
// host, so every row carries "!" with a last-changed stamp of today.
func renderShadow(users []cache.User, now time.Time) string {
	days := daysSinceEpoch(now)
	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "%s:!:%d:0:99999:7:::\n", u.Username, days)
	}
	return b.String()
}

// daysSinceEpoch counts whole civil days from 1970-01-01 to now's local date.
func daysSinceEpoch(now time.Time) int64 {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

type groupLine struct {
	gid     int64
	name    string
	members string
}

// renderGroup composes implicit per-user primary groups with directory
// groups, in ascending GID order.
//
// An implicit group takes its sole member's username when the GID is private
// to one user, and a synthetic "grp<gid>" name when shared. Its member list
// stays empty: primary membership is already expressed by the passwd gid
// field.
func renderGroup(users []cache.User, groups []cache.Group, membersOf map[string][]string) string {
	byGID := make(map[int64][]string)
	for _, u := range users {
		byGID[u.GID] = append(byGID[u.GID], u.Username)
	}

	lines := make([]groupLine, 0, len(byGID)+len(groups))
	for gid, names := range byGID {
		name := fmt.Sprintf("grp%d", gid)
		if len(names) == 1 {
			name = names[0]
		}
		lines = append(lines, groupLine{gid: gid, name: name})
	}

	for _, g := range groups {
		members := make([]string, len(membersOf[g.GroupID]))
		copy(members, membersOf[g.GroupID])
		sort.Strings(members)
		lines = append(lines, groupLine{
			gid:     g.GID,
			name:    g.Name,
			members: strings.Join(members, ","),
		})
	}

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].gid != lines[j].gid {
			return lines[i].gid < lines[j].gid
		}
		return lines[i].name < lines[j].name
	})

	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s:x:%d:%s\n", l.name, l.gid, l.members)
	}
	return b.String()
}
