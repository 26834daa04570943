// Package allocator implements the deterministic assignment algorithms for
// POSIX usernames, user UIDs, and directory-group GIDs. All functions are
// pure given their inputs; callers own the in-use sets and feed them back in.
package allocator

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxUsernameLen is the longest username emitted, matching the default Linux
// useradd limit.
const MaxUsernameLen = 32

// FallbackUsername is substituted when sanitisation leaves nothing usable.
const FallbackUsername = "user"

// defaultSuffixRe strips the "_example_com" style suffix that Workspace
// appends to usernames imported from external domains.
var defaultSuffixRe = regexp.MustCompile(`_[a-z0-9]+_com$`)

// Sanitize converts a raw local-part into a valid POSIX username.
//
// The input is lowercased and reduced to [a-z0-9._-]. When stripSuffix is
// non-empty it is removed from the tail if present (case-insensitive);
// otherwise a trailing "_<alnum>_com" pattern is removed. The result is
// truncated to MaxUsernameLen and falls back to FallbackUsername when empty.
// Sanitize is idempotent.
func Sanitize(raw, stripSuffix string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(raw) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteRune(c)
		}
	}
	name := b.String()

	if stripSuffix != "" {
		s := strings.ToLower(stripSuffix)
		name = strings.TrimSuffix(name, s)
	} else {
		name = defaultSuffixRe.ReplaceAllString(name, "")
	}

	if len(name) > MaxUsernameLen {
		name = name[:MaxUsernameLen]
	}
	if name == "" {
		return FallbackUsername
	}
	return name
}

// GroupName derives a POSIX group name from a group email: the lowercased
// local-part reduced to [a-z0-9._-]. Unlike usernames there is no suffix
// stripping and no length cap.
func GroupName(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	var b strings.Builder
	for _, c := range strings.ToLower(local) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteRune(c)
		}
	}
	return b.String()
}

// UniqueUsername uniquifies base against taken by appending "-1", "-2", ...
// until an unused name is found. The chosen name is recorded in taken.
func UniqueUsername(base string, taken map[string]struct{}) string {
	if _, ok := taken[base]; !ok {
		taken[base] = struct{}{}
		return base
	}
	for i := 1; ; i++ {
		cand := fmt.Sprintf("%s-%d", base, i)
		if _, ok := taken[cand]; !ok {
			taken[cand] = struct{}{}
			return cand
		}
	}
}
