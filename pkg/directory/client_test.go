package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler, cfg Config) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := admin.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication())
	require.NoError(t, err)

	if cfg.RPS == 0 {
		cfg.RPS = 1000 // keep pacing negligible in tests
	}
	if cfg.Customer == "" && cfg.Domain == "" {
		cfg.Customer = "my_customer"
	}
	return NewClientWithService(svc, cfg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestListUsersPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/directory/v1/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(w, map[string]any{
				"users": []map[string]any{
					{
						"id":           "u1",
						"primaryEmail": "alice@example.com",
						"name":         map[string]any{"fullName": "Alice A."},
						"etag":         "e1",
						"posixAccounts": []map[string]any{
							{
								"primary":       true,
								"username":      "alice",
								"uid":           "20000",
								"gid":           "20000",
								"homeDirectory": "/home/alice",
								"shell":         "/bin/bash",
								"gecos":         "Alice A.",
							},
						},
					},
				},
				"nextPageToken": "page2",
			})
		case "page2":
			writeJSON(w, map[string]any{
				"users": []map[string]any{
					{
						"id":           "u2",
						"primaryEmail": "bob@example.com",
						"suspended":    true,
					},
				},
			})
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	c := newTestClient(t, mux, Config{MaxRetries: 0})
	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "alice@example.com", users[0].PrimaryEmail)
	assert.Equal(t, "Alice A.", users[0].FullName)
	require.Len(t, users[0].PosixAccounts, 1)
	acct := users[0].PosixAccounts[0]
	assert.True(t, acct.Primary)
	assert.Equal(t, int64(20000), acct.UID)
	assert.Equal(t, int64(20000), acct.GID)
	assert.True(t, acct.Usable())

	assert.True(t, users[1].Suspended)
	assert.Empty(t, users[1].PosixAccounts)
}

func TestListUsersScopeParameters(t *testing.T) {
	var gotCustomer, gotDomain, gotOrderBy string
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/directory/v1/users", func(w http.ResponseWriter, r *http.Request) {
		gotCustomer = r.URL.Query().Get("customer")
		gotDomain = r.URL.Query().Get("domain")
		gotOrderBy = r.URL.Query().Get("orderBy")
		writeJSON(w, map[string]any{})
	})

	c := newTestClient(t, mux, Config{Domain: "example.com"})
	_, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotCustomer)
	assert.Equal(t, "example.com", gotDomain)
	assert.Equal(t, "email", gotOrderBy)
}

func TestListUsersRetriesTransient(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/directory/v1/users", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"code":503,"message":"backend error"}}`)
			return
		}
		writeJSON(w, map[string]any{
			"users": []map[string]any{{"id": "u1", "primaryEmail": "alice@example.com"}},
		})
	})

	c := newTestClient(t, mux, Config{MaxRetries: 2})
	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, users, 1)
}

func TestListUsersFatalOnClientError(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/directory/v1/users", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"Not Authorized to access this resource/api"}}`)
	})

	c := newTestClient(t, mux, Config{MaxRetries: 3})
	_, err := c.ListUsers(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-transient errors must not be retried")
}

func TestListGroupMembers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/directory/v1/groups/eng@example.com/members", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"members": []map[string]any{
				{"email": "Alice@example.com", "type": "USER", "status": "ACTIVE"},
				{"email": "nested@example.com", "type": "GROUP"},
			},
		})
	})

	c := newTestClient(t, mux, Config{})
	members, err := c.ListGroupMembers(context.Background(), "eng@example.com")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "USER", members[0].Type)
	assert.Equal(t, "GROUP", members[1].Type)
}

func TestListGroupMembersVanishedGroup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/directory/v1/groups/gone@example.com/members", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"Resource Not Found: groupKey"}}`)
	})

	c := newTestClient(t, mux, Config{})
	members, err := c.ListGroupMembers(context.Background(), "gone@example.com")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestPatchUserPosix(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/directory/v1/users/u1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, map[string]any{"id": "u1"})
	})

	c := newTestClient(t, mux, Config{})
	err := c.PatchUserPosix(context.Background(), "u1", PosixAccount{
		Username:      "alice",
		UID:           20000,
		GID:           20000,
		HomeDirectory: "/home/alice",
		Shell:         "/bin/bash",
		Gecos:         "Alice A.",
	})
	require.NoError(t, err)

	accounts, ok := body["posixAccounts"].([]any)
	require.True(t, ok, "patch body must carry posixAccounts: %v", body)
	require.Len(t, accounts, 1)
	acct := accounts[0].(map[string]any)
	assert.Equal(t, true, acct["primary"])
	assert.Equal(t, "alice", acct["username"])
	assert.Equal(t, "20000", acct["uid"], "uid is string-encoded on the wire")
	assert.Equal(t, "20000", acct["gid"])
	assert.Equal(t, "/home/alice", acct["homeDirectory"])
	assert.Equal(t, "/bin/bash", acct["shell"])
}

func TestGroupsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/directory/v1/groups", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, map[string]any{
				"groups":        []map[string]any{{"id": "g1", "email": "eng@example.com", "name": "Engineering"}},
				"nextPageToken": "p2",
			})
			return
		}
		writeJSON(w, map[string]any{
			"groups": []map[string]any{{"id": "g2", "email": "ops@example.com", "name": "Ops"}},
		})
	})

	c := newTestClient(t, mux, Config{})
	groups, err := c.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "g1", groups[0].ID)
	assert.Equal(t, "g2", groups[1].ID)
}
