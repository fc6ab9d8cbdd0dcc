package memory

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/password"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session/clocktest"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	alicePassword = "correct-horse"
	rootPassword  = "root-password"
)

type fixture struct {
	p       *Provider
	clock   *clocktest.FakeClock
	aliceID string
	rootID  string
}

func fastPasswords() password.Config {
	return password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, mutate ...func(*Options)) fixture {
	t.Helper()

	clock := clocktest.New(testEpoch)
	opts := Options{
		Clock:                 clock,
		Logger:                quietLogger(),
		Password:              fastPasswords(),
		ImpersonationSessions: true,
	}
	for _, m := range mutate {
		m(&opts)
	}

	p, err := New(opts)
	require.NoError(t, err)

	p.AddTenant(goAuthCore.Tenant{ID: "acme", Name: "Acme", Active: true})
	p.AddTenant(goAuthCore.Tenant{ID: "globex", Name: "Globex", Active: true})
	p.AddRole(goAuthCore.Role{ID: "member", Name: "Member", Permissions: []permission.Permission{
		permission.MustParse("profile:read"),
	}})
	p.AddRole(goAuthCore.Role{ID: "superadmin", Name: "Superadmin", IsSuperadmin: true})
	p.AddRole(goAuthCore.Role{ID: "acme-admin", Name: "Admin", TenantID: "acme", Permissions: []permission.Permission{
		permission.MustParse("acme:users:write"),
	}})
	p.AddRole(goAuthCore.Role{ID: "acme-viewer", Name: "Viewer", TenantID: "acme", Permissions: []permission.Permission{
		permission.MustParse("acme:users:read"),
	}})
	p.AddRole(goAuthCore.Role{ID: "globex-viewer", Name: "Viewer", TenantID: "globex"})

	aliceID, err := p.AddUser(NewUser{Email: "alice@acme.test", Password: alicePassword, DisplayName: "Alice"})
	require.NoError(t, err)
	for _, r := range []string{"member", "acme-admin", "acme-viewer", "globex-viewer"} {
		require.NoError(t, p.Grant(aliceID, r))
	}

	rootID, err := p.AddUser(NewUser{Email: "root@ops.test", Password: rootPassword})
	require.NoError(t, err)
	require.NoError(t, p.Grant(rootID, "superadmin"))

	return fixture{p: p, clock: clock, aliceID: aliceID, rootID: rootID}
}

func (f fixture) signIn(t *testing.T, email, pw string) (context.Context, goAuthCore.SignInResult) {
	t.Helper()
	res, err := f.p.SignInWithPassword(context.Background(), email, pw)
	require.NoError(t, err)
	return goAuthCore.WithAccessToken(context.Background(), res.Session.AccessToken), res
}

func (p *Provider) challengeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.challenges)
}
