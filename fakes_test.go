package goAuthCore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/permission"
	"github.com/MrEthical07/goAuthCore/session"
	"github.com/MrEthical07/goAuthCore/session/clocktest"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const validTOTPCode = "123456"


type fakeUser struct {
	principal Principal
	password  string
}

// fakeIDP is an in-memory identity provider keyed by access token.
type fakeIDP struct {
	mu    sync.Mutex
	clock session.Clock

	users     map[string]*fakeUser // by email
	access    map[string]string    // access token -> user id
	refresh   map[string]string    // refresh token -> user id
	metadata  map[string]map[string]any
	factors   map[string][]mfa.Factor
	expiresIn int64
	serial    int

	refreshErr  error
	signOutErr  error
	metadataErr error

	signInCalls  int
	signOutCalls int
}

func newFakeIDP(clock session.Clock) *fakeIDP {
	return &fakeIDP{
		clock:     clock,
		users:     make(map[string]*fakeUser),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
		metadata:  make(map[string]map[string]any),
		factors:   make(map[string][]mfa.Factor),
		expiresIn: 3600,
	}
}

func (f *fakeIDP) addUser(id, email, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[email] = &fakeUser{
		principal: Principal{ID: id, Email: email, DisplayName: id, Active: true},
		password:  password,
	}
}

func (f *fakeIDP) issueLocked(userID string) session.Session {
	f.serial++
	s := session.New(
		fmt.Sprintf("access-%s-%d", userID, f.serial),
		fmt.Sprintf("refresh-%s-%d", userID, f.serial),
		f.expiresIn,
		f.clock.Now(),
	)
	f.access[s.AccessToken] = userID
	f.refresh[s.RefreshToken] = userID
	return s
}

func (f *fakeIDP) userIDLocked(ctx context.Context) (string, error) {
	id, ok := f.access[AccessTokenFromContext(ctx)]
	if !ok {
		return "", ErrNotAuthenticated
	}
	return id, nil
}

func (f *fakeIDP) SignInWithPassword(_ context.Context, email, password string) (SignInResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls++
	u, ok := f.users[email]
	if !ok || u.password != password {
		return SignInResult{}, ErrInvalidCredentials
	}
	return SignInResult{Session: f.issueLocked(u.principal.ID), Principal: u.principal}, nil
}

func (f *fakeIDP) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	delete(f.access, AccessTokenFromContext(ctx))
	return f.signOutErr
}

func (f *fakeIDP) CurrentUser(ctx context.Context) (Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.userIDLocked(ctx)
	if err != nil {
		return Principal{}, err
	}
	for _, u := range f.users {
		if u.principal.ID == id {
			return u.principal, nil
		}
	}
	return Principal{}, ErrUserNotFound
}

func (f *fakeIDP) RefreshSession(_ context.Context, refreshToken string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return session.Session{}, f.refreshErr
	}
	id, ok := f.refresh[refreshToken]
	if !ok {
		return session.Session{}, ErrSessionExpired
	}
	delete(f.refresh, refreshToken)
	return f.issueLocked(id), nil
}

func (f *fakeIDP) GetProfileMetadata(ctx context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.userIDLocked(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(f.metadata[id]))
	for k, v := range f.metadata[id] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeIDP) UpdateProfileMetadata(ctx context.Context, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metadataErr != nil {
		return f.metadataErr
	}
	id, err := f.userIDLocked(ctx)
	if err != nil {
		return err
	}
	if f.metadata[id] == nil {
		f.metadata[id] = make(map[string]any)
	}
	for k, v := range patch {
		f.metadata[id][k] = v
	}
	return nil
}

func (f *fakeIDP) metadataFor(userID string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]any, len(f.metadata[userID]))
	for k, v := range f.metadata[userID] {
		out[k] = v
	}
	return out
}

func (f *fakeIDP) ListFactors(ctx context.Context) ([]mfa.Factor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.userIDLocked(ctx)
	if err != nil {
		return nil, err
	}
	return append([]mfa.Factor(nil), f.factors[id]...), nil
}

func (f *fakeIDP) factorCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.factors[userID])
}

func (f *fakeIDP) EnrollTOTPFactor(ctx context.Context, friendlyName string) (mfa.FactorEnrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.userIDLocked(ctx)
	if err != nil {
		return mfa.FactorEnrollment{}, err
	}
	f.serial++
	factor := mfa.Factor{
		ID:           fmt.Sprintf("factor-%d", f.serial),
		Type:         mfa.FactorTOTP,
		Status:       mfa.FactorUnverified,
		FriendlyName: friendlyName,
		CreatedAt:    f.clock.Now(),
	}
	f.factors[id] = append(f.factors[id], factor)
	return mfa.FactorEnrollment{FactorID: factor.ID, Secret: "JBSWY3DPEHPK3PXP"}, nil
}

func (f *fakeIDP) UnenrollFactor(ctx context.Context, factorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.userIDLocked(ctx)
	if err != nil {
		return err
	}
	kept := f.factors[id][:0]
	for _, fac := range f.factors[id] {
		if fac.ID != factorID {
			kept = append(kept, fac)
		}
	}
	f.factors[id] = kept
	return nil
}

func (f *fakeIDP) ChallengeFactor(_ context.Context, factorID string) (string, error) {
	return "challenge-" + factorID, nil
}

func (f *fakeIDP) VerifyChallenge(ctx context.Context, factorID, challengeID, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, err := f.userIDLocked(ctx)
	if err != nil {
		return err
	}
	if challengeID != "challenge-"+factorID || code != validTOTPCode {
		return mfa.ErrCodeMismatch
	}
	for i := range f.factors[id] {
		if f.factors[id][i].ID == factorID {
			f.factors[id][i].Status = mfa.FactorVerified
			return nil
		}
	}
	return mfa.ErrNoPendingFactor
}

// fakeDirectory serves tenants and roles from fixed tables. Roles under the ""
// key are system roles.
type fakeDirectory struct {
	mu sync.Mutex

	tenants       []Tenant
	rolesByTenant map[string][]Role
	targets       map[string]ImpersonationTarget

	switchRoleErr   error
	switchTenantErr error
	profileErr      error
	resetErr        error

	profilePatches []ProfilePatch
	resetEmails    []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		tenants: []Tenant{
			{ID: "tenant-1", Name: "Tenant One", Active: true},
			{ID: "tenant-2", Name: "Tenant Two", Active: true},
		},
		rolesByTenant: map[string][]Role{
			"": {
				{ID: "member", Name: "Member", IsSystemRole: true, Permissions: mustPerms("profile:read", "profile:write")},
			},
			"tenant-1": {
				{ID: "t1-admin", Name: "Admin", TenantID: "tenant-1", Permissions: mustPerms("tenant-1:users:read", "tenant-1:users:write")},
				{ID: "t1-viewer", Name: "Viewer", TenantID: "tenant-1", Permissions: mustPerms("tenant-1:users:read")},
			},
			"tenant-2": {
				{ID: "r1", Name: "Role One", TenantID: "tenant-2", Permissions: mustPerms("tenant-2:reports:read")},
			},
		},
		targets: make(map[string]ImpersonationTarget),
	}
}

func mustPerms(list ...string) []permission.Permission {
	perms, err := permission.ParseAll(list)
	if err != nil {
		panic(err)
	}
	return perms
}

func (d *fakeDirectory) ListTenants(context.Context, string) ([]Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Tenant(nil), d.tenants...), nil
}

func (d *fakeDirectory) ListRoles(_ context.Context, _ string, tenantID string) ([]Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneRoles(d.rolesByTenant[tenantID]), nil
}

func (d *fakeDirectory) SwitchRole(_ context.Context, _ string, tenantID, roleID string) (Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.switchRoleErr != nil {
		return Role{}, d.switchRoleErr
	}
	for _, r := range d.rolesByTenant[tenantID] {
		if r.ID == roleID {
			return cloneRole(r), nil
		}
	}
	return Role{}, ErrRoleNotAvailable
}

func (d *fakeDirectory) SwitchTenant(_ context.Context, _ string, tenantID string) (Tenant, []Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.switchTenantErr != nil {
		return Tenant{}, nil, d.switchTenantErr
	}
	for _, t := range d.tenants {
		if t.ID == tenantID {
			return t, cloneRoles(d.rolesByTenant[tenantID]), nil
		}
	}
	return Tenant{}, nil, ErrTenantNotAvailable
}

func (d *fakeDirectory) GetImpersonationTarget(_ context.Context, userID string) (ImpersonationTarget, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	target, ok := d.targets[userID]
	if !ok {
		return ImpersonationTarget{}, ErrUserNotFound
	}
	return target, nil
}

func (d *fakeDirectory) UpdateProfile(_ context.Context, _ string, patch ProfilePatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.profileErr != nil {
		return d.profileErr
	}
	d.profilePatches = append(d.profilePatches, patch)
	return nil
}

func (d *fakeDirectory) ResetPassword(_ context.Context, email string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resetErr != nil {
		return d.resetErr
	}
	d.resetEmails = append(d.resetEmails, email)
	return nil
}

type testEnv struct {
	engine *Engine
	idp    *fakeIDP
	dir    *fakeDirectory
	clock  *clocktest.FakeClock
	store  *session.MemoryStore
}

func newTestEnv(t *testing.T, configure ...func(*Builder)) *testEnv {
	t.Helper()

	clock := clocktest.New(testEpoch)
	env := &testEnv{
		idp:   newFakeIDP(clock),
		dir:   newFakeDirectory(),
		clock: clock,
		store: session.NewMemoryStore(),
	}
	env.idp.addUser("user-1", "a@b.com", "x")

	b := New().
		WithIdentityProvider(env.idp).
		WithDirectory(env.dir).
		WithClock(clock).
		WithSessionStore(env.store).
		WithMetricsEnabled(true)
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) login(t *testing.T, email, password string) {
	t.Helper()
	if err := env.engine.Login(context.Background(), Credentials{Email: email, Password: password}); err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
}

// addSuperadmin registers a principal whose system roles include a superadmin
// role and an impersonation target for it.
func (env *testEnv) addSuperadmin(t *testing.T) {
	t.Helper()
	env.idp.addUser("root", "root@b.com", "s3cret")

	env.dir.mu.Lock()
	defer env.dir.mu.Unlock()
	env.dir.rolesByTenant[""] = append(env.dir.rolesByTenant[""], Role{
		ID: "superadmin", Name: "Superadmin", IsSystemRole: true, IsProtected: true, IsSuperadmin: true,
	})
	tenant := Tenant{ID: "tenant-9", Name: "Customer", Active: true}
	env.dir.targets["user-9"] = ImpersonationTarget{
		User:    Principal{ID: "user-9", Email: "c@d.com", DisplayName: "Customer", Active: true},
		Tenant:  &tenant,
		Roles:   []Role{{ID: "c-admin", TenantID: "tenant-9", IsSuperadmin: true, Permissions: mustPerms("tenant-9:orders:read")}},
		Tenants: []Tenant{tenant},
	}
}
