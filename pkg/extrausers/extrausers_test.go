package extrausers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirovsky/gwdirector/pkg/cache"
)

var renderClock = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

func sampleUsers() []cache.User {
	return []cache.User{
		{ID: "u2", Username: "bob", Email: "bob@example.com", UID: 20001, GID: 20001, Gecos: "Bob B.", Home: "/home/bob", Shell: "/bin/bash", Active: true},
		{ID: "u1", Username: "alice", Email: "alice@example.com", UID: 20000, GID: 20000, Gecos: "Alice A.", Home: "/home/alice", Shell: "/bin/zsh", Active: true},
	}
}

func TestRenderPasswdSortedByUID(t *testing.T) {
	s := Render(sampleUsers(), nil, nil, renderClock)

	want := "alice:x:20000:20000:Alice A.:/home/alice:/bin/zsh\n" +
		"bob:x:20001:20001:Bob B.:/home/bob:/bin/bash\n"
	assert.Equal(t, want, s.Passwd)
}

func TestRenderShadowLockedWithCivilDays(t *testing.T) {
	s := Render(sampleUsers(), nil, nil, renderClock)

	// 2024-03-01 is 19783 days after 1970-01-01.
	want := "alice:!:19783:0:99999:7:::\n" +
		"bob:!:19783:0:99999:7:::\n"
	assert.Equal(t, want, s.Shadow)
}

func TestRenderGroupImplicitAndDirectory(t *testing.T) {
	users := append(sampleUsers(),
		cache.User{ID: "u3", Username: "carol", UID: 20002, GID: 20001, Gecos: "Carol", Home: "/home/carol", Shell: "/bin/bash", Active: true})
	groups := []cache.Group{
		{GroupID: "g1", Email: "eng@example.com", Name: "eng", GID: 30000, Active: true},
	}
	membersOf := map[string][]string{
		"g1": {"carol", "alice"},
	}

	s := Render(users, groups, membersOf, renderClock)

	// GID 20001 is shared by bob and carol, so it gets the synthetic name.
	want := "alice:x:20000:\n" +
		"grp20001:x:20001:\n" +
		"eng:x:30000:alice,carol\n"
	assert.Equal(t, want, s.Group)
}

func TestRenderEmptyCache(t *testing.T) {
	s := Render(nil, nil, nil, renderClock)
	assert.Empty(t, s.Passwd)
	assert.Empty(t, s.Group)
	assert.Empty(t, s.Shadow)
}

func TestHashStableAcrossRenders(t *testing.T) {
	a := Render(sampleUsers(), nil, nil, renderClock)
	b := Render(sampleUsers(), nil, nil, renderClock)
	assert.Equal(t, a.Hash(), b.Hash())

	changed := sampleUsers()
	changed[0].Shell = "/bin/sh"
	c := Render(changed, nil, nil, renderClock)
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestHashSeparatesBlobs(t *testing.T) {
	a := Snapshot{Passwd: "x\n"}
	b := Snapshot{Group: "x\n"}
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestWriteFilesAndModes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "extrausers")
	s := Render(sampleUsers(), nil, nil, renderClock)
	require.NoError(t, s.Write(dir))

	for _, tc := range []struct {
		name string
		text string
		mode os.FileMode
	}{
		{"passwd", s.Passwd, 0644},
		{"group", s.Group, 0644},
		{"shadow", s.Shadow, 0640},
	} {
		path := filepath.Join(dir, tc.name)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, tc.mode, info.Mode().Perm(), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, tc.text, string(data))
	}
}

func TestWriteOverwritesPrevious(t *testing.T) {
	dir := t.TempDir()
	first := Render(sampleUsers(), nil, nil, renderClock)
	require.NoError(t, first.Write(dir))

	users := sampleUsers()[:1]
	second := Render(users, nil, nil, renderClock)
	require.NoError(t, second.Write(dir))

	data, err := os.ReadFile(filepath.Join(dir, "passwd"))
	require.NoError(t, err)
	assert.Equal(t, second.Passwd, string(data))
}
