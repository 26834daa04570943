package directory

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"

	"github.com/mirovsky/gwdirector/internal/logger"
	"github.com/mirovsky/gwdirector/pkg/metrics"
)

// pageSize is the Admin SDK maximum page size for list calls.
const pageSize = 200

// userFields is the projection requested for user listings; anything outside
// it is never read, so smaller payloads and fewer quota units.
const userFields = "users(id,primaryEmail,name/fullName,suspended,deletionTime,posixAccounts,etag),nextPageToken"

const groupFields = "groups(id,email,name,etag),nextPageToken"
const memberFields = "members(email,type,status),nextPageToken"

// Config carries client behaviour knobs.
type Config struct {
	// Customer / Domain scope the listings. Exactly one is non-empty.
	Customer string
	Domain   string

	// RPS is the pacing ceiling; every request waits 1/RPS plus up to 50ms
	// of jitter before being issued.
	RPS float64

	// MaxRetries bounds the backoff attempts per request.
	MaxRetries int
}

// ReadWriteScopes are the OAuth scopes for provisioning.
var ReadWriteScopes = []string{admin.AdminDirectoryUserScope}

// ReadOnlyScopes are the OAuth scopes for sync.
var ReadOnlyScopes = []string{
	admin.AdminDirectoryUserReadonlyScope,
	admin.AdminDirectoryGroupReadonlyScope,
}

// Client is a paced, retrying Directory API consumer.
type Client struct {
	svc *admin.Service
	cfg Config
}

// NewClient builds a client with domain-wide delegation: the service-account
// key asserts the given subject (an admin) for the requested scopes.
func NewClient(ctx context.Context, keyJSON []byte, subject string, scopes []string, cfg Config) (*Client, error) {
	jwt, err := google.JWTConfigFromJSON(keyJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}
	jwt.Subject = subject

	svc, err := admin.NewService(ctx, option.WithTokenSource(jwt.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create directory service: %w", err)
	}
	return &Client{svc: svc, cfg: cfg}, nil
}

// NewClientWithService wraps an existing Admin SDK service. Used by tests to
// point the client at a local endpoint.
func NewClientWithService(svc *admin.Service, cfg Config) *Client {
	return &Client{svc: svc, cfg: cfg}
}

// ListUsers fetches every user in scope, ordered by email, one page at a
// time.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	token := ""
	for {
		call := c.svc.Users.List().
			MaxResults(pageSize).
			OrderBy("email").
			Projection("full").
			Fields(userFields)
		if c.cfg.Domain != "" {
			call = call.Domain(c.cfg.Domain)
		} else {
			call = call.Customer(c.cfg.Customer)
		}
		if token != "" {
			call = call.PageToken(token)
		}

		var resp *admin.Users
		err := c.execute(ctx, "users.list", func() error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}

		for _, u := range resp.Users {
			nu, err := normalizeUser(u)
			if err != nil {
				// A malformed posixAccounts payload only loses that user's
				// attribute sets, never the run.
				logger.Warn("skipping unreadable posixAccounts", "email", u.PrimaryEmail, "error", err)
			}
			users = append(users, nu)
		}

		if resp.NextPageToken == "" {
			return users, nil
		}
		token = resp.NextPageToken
	}
}

// ListGroups fetches every group in scope.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	token := ""
	for {
		call := c.svc.Groups.List().
			MaxResults(pageSize).
			Fields(groupFields)
		if c.cfg.Domain != "" {
			call = call.Domain(c.cfg.Domain)
		} else {
			call = call.Customer(c.cfg.Customer)
		}
		if token != "" {
			call = call.PageToken(token)
		}

		var resp *admin.Groups
		err := c.execute(ctx, "groups.list", func() error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list groups: %w", err)
		}

		for _, g := range resp.Groups {
			groups = append(groups, Group{ID: g.Id, Email: g.Email, Name: g.Name, Etag: g.Etag})
		}

		if resp.NextPageToken == "" {
			return groups, nil
		}
		token = resp.NextPageToken
	}
}

// ListGroupMembers fetches the membership of one group. A 404 means the
// group vanished between the group listing and this call; that is normal and
// yields an empty membership.
func (c *Client) ListGroupMembers(ctx context.Context, groupEmail string) ([]Member, error) {
	var members []Member
	token := ""
	for {
		call := c.svc.Members.List(groupEmail).
			MaxResults(pageSize).
			Fields(memberFields)
		if token != "" {
			call = call.PageToken(token)
		}

		var resp *admin.Members
		err := c.execute(ctx, "members.list", func() error {
			var err error
			resp, err = call.Context(ctx).Do()
			return err
		})
		if isNotFound(err) {
			logger.Warn("group vanished before member fetch", "group", groupEmail)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list members of %s: %w", groupEmail, err)
		}

		for _, m := range resp.Members {
			members = append(members, Member{Email: m.Email, Type: m.Type, Status: m.Status})
		}

		if resp.NextPageToken == "" {
			return members, nil
		}
		token = resp.NextPageToken
	}
}

// PatchUserPosix replaces the user's posixAccounts with a singleton list
// containing acct marked primary.
func (c *Client) PatchUserPosix(ctx context.Context, userID string, acct PosixAccount) error {
	acct.Primary = true
	body := &admin.User{
		PosixAccounts: []admin.UserPosixAccount{wireAccount(acct)},
	}

	err := c.execute(ctx, "users.patch", func() error {
		_, err := c.svc.Users.Patch(userID, body).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to patch user %s: %w", userID, err)
	}
	return nil
}

// execute paces, runs, and retries one API request.
//
// The pause before the request is 1/rps plus up to 50ms of jitter. Transient
// failures back off min(32, 2^attempt) seconds plus up to 1s of jitter, up
// to MaxRetries attempts; any other error, or exhaustion, propagates.
func (c *Client) execute(ctx context.Context, op string, fn func() error) error {
	if err := c.pace(ctx); err != nil {
		return err
	}

	var err error
	for attempt := 0; ; attempt++ {
		metrics.APIRequests.WithLabelValues(op).Inc()
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= c.cfg.MaxRetries {
			return err
		}

		delay := backoffDelay(attempt)
		logger.Warn("transient directory API error, backing off",
			"op", op, "attempt", attempt+1, "delay", delay, "error", err)
		metrics.APIRetries.WithLabelValues(op).Inc()
		if serr := sleepCtx(ctx, delay); serr != nil {
			return serr
		}
	}
}

// pace enforces the requests-per-second ceiling.
func (c *Client) pace(ctx context.Context) error {
	if c.cfg.RPS <= 0 {
		return nil
	}
	d := time.Duration(float64(time.Second)/c.cfg.RPS) +
		time.Duration(rand.Int63n(int64(50*time.Millisecond)))
	return sleepCtx(ctx, d)
}
