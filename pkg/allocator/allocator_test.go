package allocator

import (
	"fmt"
	"regexp"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		stripSuffix string
		want        string
	}{
		{name: "plain", raw: "alice", want: "alice"},
		{name: "uppercase", raw: "Alice", want: "alice"},
		{name: "drops invalid chars", raw: "al!i ce@", want: "alice"},
		{name: "keeps dots dashes underscores", raw: "a.b-c_d", want: "a.b-c_d"},
		{name: "default suffix strip", raw: "carol_example_com", want: "carol"},
		{name: "default suffix only at tail", raw: "carol_example_com_x", want: "carol_example_com_x"},
		{name: "explicit suffix", raw: "dave_corp_net", stripSuffix: "_corp_net", want: "dave"},
		{name: "explicit suffix case insensitive", raw: "dave_CORP_net", stripSuffix: "_Corp_Net", want: "dave"},
		{name: "explicit suffix absent", raw: "dave", stripSuffix: "_corp_net", want: "dave"},
		{name: "truncated to 32", raw: "abcdefghijklmnopqrstuvwxyz0123456789", want: "abcdefghijklmnopqrstuvwxyz012345"},
		{name: "empty falls back", raw: "!!!", want: "user"},
		{name: "empty input", raw: "", want: "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.raw, tt.stripSuffix)
			if got != tt.want {
				t.Errorf("Sanitize(%q, %q) = %q, want %q", tt.raw, tt.stripSuffix, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdempotentAndShape(t *testing.T) {
	valid := regexp.MustCompile(`^[a-z0-9._-]{1,32}$`)

	inputs := []string{
		"Alice", "bob_example_com", "x!y#z", "", "---", "UPPER.lower-Mixed_9",
		"averyveryverylongusernamethatneedstruncation_example_com",
	}
	for _, in := range inputs {
		once := Sanitize(in, "")
		twice := Sanitize(once, "")
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
		if !valid.MatchString(once) {
			t.Errorf("Sanitize(%q) = %q does not match charset/length constraint", in, once)
		}
	}
}

func TestGroupName(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{email: "eng@example.com", want: "eng"},
		{email: "Eng-Team@example.com", want: "eng-team"},
		{email: "dev ops!@example.com", want: "devops"},
		{email: "noatsign", want: "noatsign"},
		{email: "", want: ""},
	}
	for _, tt := range tests {
		if got := GroupName(tt.email); got != tt.want {
			t.Errorf("GroupName(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestUniqueUsername(t *testing.T) {
	taken := map[string]struct{}{}

	if got := UniqueUsername("dave", taken); got != "dave" {
		t.Fatalf("first dave = %q, want dave", got)
	}
	if got := UniqueUsername("dave", taken); got != "dave-1" {
		t.Fatalf("second dave = %q, want dave-1", got)
	}
	if got := UniqueUsername("dave", taken); got != "dave-2" {
		t.Fatalf("third dave = %q, want dave-2", got)
	}
	if _, ok := taken["dave-2"]; !ok {
		t.Error("chosen name not recorded in taken set")
	}
}

func TestUIDAllocatorFirstFreeForward(t *testing.T) {
	used := NewIDSet(20000, 20002)
	a := NewUIDAllocator(used)

	if got := a.Next(20000); got != 20001 {
		t.Fatalf("first alloc = %d, want 20001", got)
	}
	// Cursor sits at 20002 which is taken; next free is 20003.
	if got := a.Next(20000); got != 20003 {
		t.Fatalf("second alloc = %d, want 20003", got)
	}
	// A start above the cursor wins.
	if got := a.Next(30000); got != 30000 {
		t.Fatalf("third alloc = %d, want 30000", got)
	}
}

func TestGroupGIDDeterminism(t *testing.T) {
	ids := []string{"G1", "G2", "G3"}

	assign := func() map[string]int64 {
		used := NewIDSet()
		out := map[string]int64{}
		for _, id := range ids {
			gid, err := GroupGID(id, 30000, 30002, used)
			if err != nil {
				t.Fatalf("GroupGID(%s): %v", id, err)
			}
			out[id] = gid
		}
		return out
	}

	first := assign()
	second := assign()
	for id, gid := range first {
		if second[id] != gid {
			t.Errorf("run 2 assigned %d to %s, run 1 assigned %d", second[id], id, gid)
		}
	}

	seen := map[int64]bool{}
	for id, gid := range first {
		if gid < 30000 || gid > 30002 {
			t.Errorf("gid %d for %s outside range", gid, id)
		}
		if seen[gid] {
			t.Errorf("gid %d assigned twice", gid)
		}
		seen[gid] = true
	}
}

func TestGroupGIDAddingGroupShiftsAtMostOne(t *testing.T) {
	base := []string{"G1", "G2", "G3"}
	extended := []string{"G1", "G2", "G3", "G4"}

	assign := func(ids []string) map[string]int64 {
		used := NewIDSet()
		out := map[string]int64{}
		for _, id := range ids {
			gid, err := GroupGID(id, 30000, 30003, used)
			if err != nil {
				t.Fatalf("GroupGID(%s): %v", id, err)
			}
			out[id] = gid
		}
		return out
	}

	before := assign(base)
	after := assign(extended)

	// The new group claims one slot; linear probing can displace at most the
	// chain it lands in, never reshuffle everything.
	shifted := 0
	for _, id := range base {
		if before[id] != after[id] {
			shifted++
		}
	}
	if shifted > 1 {
		t.Errorf("%d of %d existing groups shifted, want at most 1", shifted, len(base))
	}
}

func TestGroupGIDCollisionProbesForward(t *testing.T) {
	// Claim the hashed base slot for a known group, then verify the group
	// lands on the next free slot modulo the range.
	used := NewIDSet()
	gid, err := GroupGID("G1", 30000, 30001, used)
	if err != nil {
		t.Fatal(err)
	}

	used2 := NewIDSet(gid)
	gid2, err := GroupGID("G1", 30000, 30001, used2)
	if err != nil {
		t.Fatal(err)
	}
	want := 30000 + (gid-30000+1)%2
	if gid2 != want {
		t.Errorf("collision probe = %d, want %d", gid2, want)
	}
}

func TestGroupGIDRangeExhausted(t *testing.T) {
	used := NewIDSet()
	for i := 0; i < 2; i++ {
		if _, err := GroupGID(fmt.Sprintf("G%d", i), 30000, 30001, used); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	_, err := GroupGID("G-overflow", 30000, 30001, used)
	if err == nil {
		t.Fatal("expected range exhaustion error")
	}
}
