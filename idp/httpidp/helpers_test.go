package httpidp

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/idp/memory"
	"github.com/MrEthical07/goAuthCore/password"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session/clocktest"
	"github.com/stretchr/testify/require"
)

const (
	alicePassword = "correct-horse"
	rootPassword  = "root-password"
)

type mailbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *mailbox) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[email] = token
	return nil
}

func (m *mailbox) token(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[email]
}

type fixture struct {
	provider *memory.Provider
	clock    *clocktest.FakeClock
	server   *httptest.Server
	client   *Client
	mail     *mailbox
	aliceID  string
	rootID   string
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, handlerOpts HandlerOptions, clientOpts ClientOptions) fixture {
	t.Helper()

	clock := clocktest.New(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	mail := &mailbox{tokens: make(map[string]string)}
	p, err := memory.New(memory.Options{
		Clock:  clock,
		Logger: quietLogger(),
		Password: password.Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   16,
		},
		Lockout:               memory.LockoutConfig{Enabled: true, Threshold: 3, Window: time.Minute},
		Mailer:                mail,
		ImpersonationSessions: true,
	})
	require.NoError(t, err)

	p.AddTenant(goAuthCore.Tenant{ID: "acme", Name: "Acme", Active: true})
	p.AddRole(goAuthCore.Role{ID: "member", Name: "Member", Permissions: []permission.Permission{
		permission.MustParse("profile:read"),
	}})
	p.AddRole(goAuthCore.Role{ID: "superadmin", Name: "Superadmin", IsSuperadmin: true})
	p.AddRole(goAuthCore.Role{ID: "acme-admin", Name: "Admin", TenantID: "acme", Permissions: []permission.Permission{
		permission.MustParse("acme:users:write"),
	}})

	aliceID, err := p.AddUser(memory.NewUser{Email: "alice@acme.test", Password: alicePassword, DisplayName: "Alice"})
	require.NoError(t, err)
	require.NoError(t, p.Grant(aliceID, "member"))
	require.NoError(t, p.Grant(aliceID, "acme-admin"))

	rootID, err := p.AddUser(memory.NewUser{Email: "root@ops.test", Password: rootPassword})
	require.NoError(t, err)
	require.NoError(t, p.Grant(rootID, "superadmin"))

	if handlerOpts.Logger == nil {
		handlerOpts.Logger = quietLogger()
	}
	srv := httptest.NewServer(NewHandler(p, handlerOpts))
	t.Cleanup(srv.Close)

	if clientOpts.HTTPClient == nil {
		clientOpts.HTTPClient = srv.Client()
	}
	client, err := NewClient(srv.URL, clientOpts)
	require.NoError(t, err)

	return fixture{
		provider: p,
		clock:    clock,
		server:   srv,
		client:   client,
		mail:     mail,
		aliceID:  aliceID,
		rootID:   rootID,
	}
}

func (f fixture) signIn(t *testing.T, email, pw string) (context.Context, goAuthCore.SignInResult) {
	t.Helper()
	res, err := f.client.SignInWithPassword(context.Background(), email, pw)
	require.NoError(t, err)
	return goAuthCore.WithAccessToken(context.Background(), res.Session.AccessToken), res
}
