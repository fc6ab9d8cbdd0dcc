package goAuthCore

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/session"
)

func TestInitialStateIsLoading(t *testing.T) {
	env := newTestEnv(t)
	st := env.engine.State()
	if st.IsAuthenticated || !st.IsLoading {
		t.Fatalf("expected unauthenticated loading state, got %+v", st)
	}
}

func TestLoginPopulatesState(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")

	st := env.engine.State()
	if !st.IsAuthenticated || st.IsLoading {
		t.Fatalf("expected authenticated, not loading: %+v", st)
	}
	if st.User == nil || st.User.ID != "user-1" {
		t.Fatalf("unexpected principal %+v", st.User)
	}
	if st.Tenant != nil {
		t.Fatalf("expected no tenant after login, got %+v", st.Tenant)
	}
	if st.CurrentRole == nil || st.CurrentRole.ID != "member" {
		t.Fatalf("expected first role current, got %+v", st.CurrentRole)
	}
	if len(st.AvailableTenants) != 2 {
		t.Fatalf("expected 2 tenants, got %d", len(st.AvailableTenants))
	}
	if st.IsSuperadmin {
		t.Fatal("member must not be superadmin")
	}
	if st.Session == nil || st.Session.AccessToken == "" {
		t.Fatal("expected session in state")
	}
	if env.clock.Pending() != 1 {
		t.Fatalf("expected one refresh timer, got %d", env.clock.Pending())
	}
}

func TestLoginFailureResetsState(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.Login(context.Background(), Credentials{Email: "a@b.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if KindOf(err) != KindAuthentication {
		t.Fatalf("expected authentication kind, got %v", KindOf(err))
	}

	st := env.engine.State()
	if st.IsAuthenticated || st.IsLoading || st.User != nil {
		t.Fatalf("expected signed-out state, got %+v", st)
	}
	if env.clock.Pending() != 0 {
		t.Fatal("failed login must not leave a refresh timer")
	}
}

func TestLoginMissingCredentials(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.Login(context.Background(), Credentials{Email: "  ", Password: "x"})
	if !errors.Is(err, ErrMissingCredentials) || KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.idp.signInCalls != 0 {
		t.Fatal("provider must not be called")
	}
}

func TestLoginWhileAuthenticatedRejected(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")

	err := env.engine.Login(context.Background(), Credentials{Email: "a@b.com", Password: "x"})
	if !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("expected ErrAlreadyAuthenticated, got %v", err)
	}
	if !env.engine.State().IsAuthenticated {
		t.Fatal("rejected login must not sign out")
	}
}

func TestLogoutClearsStateEvenWhenProviderFails(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	env.idp.signOutErr = errors.New("network down")

	err := env.engine.Logout(context.Background())
	if err == nil || KindOf(err) != KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}

	st := env.engine.State()
	if st.IsAuthenticated || st.User != nil || st.Session != nil {
		t.Fatalf("expected cleared state, got %+v", st)
	}
	if env.clock.Pending() != 0 {
		t.Fatal("logout must cancel the refresh timer")
	}
	if _, err := env.store.Load(context.Background()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected persisted session removed, got %v", err)
	}
}

func TestSwitchTenantSelectsFirstRole(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")

	if err := env.engine.SwitchTenant(context.Background(), "tenant-2"); err != nil {
		t.Fatalf("switch tenant: %v", err)
	}

	st := env.engine.State()
	if st.Tenant == nil || st.Tenant.ID != "tenant-2" {
		t.Fatalf("unexpected tenant %+v", st.Tenant)
	}
	if st.CurrentRole == nil || st.CurrentRole.ID != "r1" {
		t.Fatalf("expected role r1, got %+v", st.CurrentRole)
	}
	if !env.engine.HasPermission("tenant-2:reports:read") {
		t.Fatal("expected tenant-2 permission")
	}
	if env.engine.HasPermission("profile:read") {
		t.Fatal("system role permissions must not survive the tenant switch")
	}
}

func TestSwitchTenantNeverKeepsPreviousTenantRole(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	ctx := context.Background()

	if err := env.engine.SwitchTenant(ctx, "tenant-1"); err != nil {
		t.Fatalf("switch tenant-1: %v", err)
	}
	if err := env.engine.SwitchRole(ctx, "t1-viewer"); err != nil {
		t.Fatalf("switch role: %v", err)
	}
	if err := env.engine.SwitchTenant(ctx, "tenant-2"); err != nil {
		t.Fatalf("switch tenant-2: %v", err)
	}

	st := env.engine.State()
	if st.CurrentRole == nil {
		t.Fatal("expected a role")
	}
	if _, ok := findRole(st.AvailableRoles, st.CurrentRole.ID); !ok {
		t.Fatalf("current role %q not in available roles", st.CurrentRole.ID)
	}
	if st.CurrentRole.TenantID != "tenant-2" {
		t.Fatalf("role from previous tenant survived: %+v", st.CurrentRole)
	}
}

func TestSwitchTenantRoleFailureLeavesRoleCleared(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	env.dir.switchRoleErr = errors.New("directory unavailable")

	err := env.engine.SwitchTenant(context.Background(), "tenant-1")
	if err == nil {
		t.Fatal("expected error from inner role switch")
	}

	st := env.engine.State()
	if st.Tenant == nil || st.Tenant.ID != "tenant-1" {
		t.Fatalf("tenant switch should stand, got %+v", st.Tenant)
	}
	if st.CurrentRole != nil {
		t.Fatalf("expected cleared role, got %+v", st.CurrentRole)
	}
	if len(st.AvailableRoles) != 2 {
		t.Fatalf("expected tenant-1 roles, got %d", len(st.AvailableRoles))
	}
}

func TestSwitchTenantDirectoryFailureKeepsState(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	before := env.engine.State()

	if err := env.engine.SwitchTenant(context.Background(), "tenant-404"); !errors.Is(err, ErrTenantNotAvailable) {
		t.Fatalf("expected ErrTenantNotAvailable, got %v", err)
	}
	if after := env.engine.State(); !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed on failed switch:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestSwitchRoleOutsideAvailableRolesKeepsPrevious(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")

	err := env.engine.SwitchRole(context.Background(), "t1-admin")
	if !errors.Is(err, ErrRoleNotAvailable) || KindOf(err) != KindAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if st := env.engine.State(); st.CurrentRole == nil || st.CurrentRole.ID != "member" {
		t.Fatalf("previous role must stay current, got %+v", st.CurrentRole)
	}
}

func TestOperationsRequireAuthentication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	checks := map[string]error{
		"switch_role":   env.engine.SwitchRole(ctx, "member"),
		"switch_tenant": env.engine.SwitchTenant(ctx, "tenant-1"),
		"impersonate":   env.engine.ImpersonateUser(ctx, "user-9"),
		"profile":       env.engine.UpdateProfile(ctx, ProfilePatch{Metadata: map[string]any{"k": "v"}}),
		"refresh":       env.engine.RefreshSession(ctx),
		"disable_mfa":   env.engine.DisableMFA(ctx, "x"),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("%s: expected ErrNotAuthenticated, got %v", name, err)
		}
	}
}

func TestImpersonationRoundTripRestoresExactState(t *testing.T) {
	env := newTestEnv(t)
	env.addSuperadmin(t)
	env.login(t, "root@b.com", "s3cret")
	ctx := context.Background()

	if err := env.engine.SwitchRole(ctx, "superadmin"); err != nil {
		t.Fatalf("switch role: %v", err)
	}
	before := env.engine.State()
	if !before.IsSuperadmin {
		t.Fatal("expected superadmin")
	}

	if err := env.engine.ImpersonateUser(ctx, "user-9"); err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	during := env.engine.State()
	if !during.IsImpersonating || during.IsSuperadmin {
		t.Fatalf("expected impersonating without superadmin, got %+v", during)
	}
	if during.User.ID != "user-9" || during.OriginalUser == nil || during.OriginalUser.ID != "root" {
		t.Fatalf("unexpected principals %+v / %+v", during.User, during.OriginalUser)
	}
	if during.Tenant == nil || during.Tenant.ID != "tenant-9" || during.CurrentRole.ID != "c-admin" {
		t.Fatalf("unexpected target context %+v %+v", during.Tenant, during.CurrentRole)
	}

	if err := env.engine.StopImpersonation(ctx); err != nil {
		t.Fatalf("stop impersonation: %v", err)
	}
	after := env.engine.State()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("round trip changed state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestImpersonationWithTargetSessionResumesOriginal(t *testing.T) {
	env := newTestEnv(t)
	env.addSuperadmin(t)
	env.login(t, "root@b.com", "s3cret")
	ctx := context.Background()

	original := env.engine.State().Session.AccessToken

	env.idp.mu.Lock()
	targetSession := env.idp.issueLocked("user-9")
	env.idp.mu.Unlock()
	env.dir.mu.Lock()
	target := env.dir.targets["user-9"]
	target.Session = &targetSession
	env.dir.targets["user-9"] = target
	env.dir.mu.Unlock()

	if err := env.engine.ImpersonateUser(ctx, "user-9"); err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	if got := env.engine.State().Session.AccessToken; got != targetSession.AccessToken {
		t.Fatalf("expected target session live, got %q", got)
	}

	if err := env.engine.StopImpersonation(ctx); err != nil {
		t.Fatalf("stop impersonation: %v", err)
	}
	if got := env.engine.State().Session.AccessToken; got != original {
		t.Fatalf("expected original session resumed, got %q", got)
	}
	if env.idp.signOutCalls != 1 {
		t.Fatalf("expected target session signed out once, got %d", env.idp.signOutCalls)
	}
}

func TestImpersonateRequiresSuperadmin(t *testing.T) {
	env := newTestEnv(t)
	env.addSuperadmin(t)
	env.login(t, "a@b.com", "x")

	err := env.engine.ImpersonateUser(context.Background(), "user-9")
	if !errors.Is(err, ErrNotSuperadmin) || KindOf(err) != KindAuthorization {
		t.Fatalf("expected ErrNotSuperadmin, got %v", err)
	}
	if env.engine.State().IsImpersonating {
		t.Fatal("must not be impersonating")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricImpersonationDenied]; got != 1 {
		t.Fatalf("expected denied metric 1, got %d", got)
	}
}

func TestImpersonationDoesNotNest(t *testing.T) {
	env := newTestEnv(t)
	env.addSuperadmin(t)
	env.login(t, "root@b.com", "s3cret")
	ctx := context.Background()

	if err := env.engine.ImpersonateUser(ctx, "user-9"); err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	if err := env.engine.ImpersonateUser(ctx, "user-9"); !errors.Is(err, ErrImpersonationActive) {
		t.Fatalf("expected ErrImpersonationActive, got %v", err)
	}
}

func TestStopImpersonationWhenNotImpersonating(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	if err := env.engine.StopImpersonation(context.Background()); !errors.Is(err, ErrNotImpersonating) {
		t.Fatalf("expected ErrNotImpersonating, got %v", err)
	}
}

func TestBackgroundRefreshUpdatesSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	first := env.engine.State().Session.AccessToken

	env.clock.Advance(2699 * time.Second)
	if got := env.engine.State().Session.AccessToken; got != first {
		t.Fatal("refresh fired before three quarters of the lifetime")
	}

	env.clock.Advance(time.Second)
	st := env.engine.State()
	if !st.IsAuthenticated || st.Session.AccessToken == first {
		t.Fatalf("expected refreshed session, got %+v", st.Session)
	}
	if env.clock.Pending() != 1 {
		t.Fatalf("expected the next refresh armed, got %d timers", env.clock.Pending())
	}
}

func TestBackgroundRefreshFailureForcesLogout(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	env.idp.refreshErr = errors.New("refresh token revoked")

	env.clock.Advance(2700 * time.Second)

	st := env.engine.State()
	if st.IsAuthenticated || st.User != nil || st.Session != nil {
		t.Fatalf("expected forced logout, got %+v", st)
	}
	if !errors.Is(st.LastError, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired recorded, got %v", st.LastError)
	}
	if env.clock.Pending() != 0 {
		t.Fatal("failed refresh must not be rescheduled")
	}
}

func TestBackgroundRefreshFailureStaleMode(t *testing.T) {
	env := newTestEnv(t, func(b *Builder) {
		cfg := DefaultConfig()
		cfg.Security.ForceLogoutOnRefreshFailure = false
		b.WithConfig(cfg)
	})
	env.login(t, "a@b.com", "x")
	env.idp.refreshErr = errors.New("refresh token revoked")

	env.clock.Advance(2700 * time.Second)

	st := env.engine.State()
	if !st.IsAuthenticated || st.User == nil {
		t.Fatal("stale mode keeps the principal")
	}
	if st.Session != nil {
		t.Fatal("stale mode drops the session")
	}
	if !errors.Is(st.LastError, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", st.LastError)
	}
}

func TestManualRefreshFailureForcesLogout(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	env.idp.refreshErr = errors.New("refresh token revoked")

	err := env.engine.RefreshSession(context.Background())
	if !errors.Is(err, ErrSessionExpired) || KindOf(err) != KindAuthentication {
		t.Fatalf("expected session expired, got %v", err)
	}
	if env.engine.State().IsAuthenticated {
		t.Fatal("expected forced logout")
	}
}

func TestRestoreResumesPersistedSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	token := env.engine.State().Session.AccessToken
	env.engine.Close()

	next, err := New().
		WithIdentityProvider(env.idp).
		WithDirectory(env.dir).
		WithClock(env.clock).
		WithSessionStore(env.store).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer next.Close()

	if err := next.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	st := next.State()
	if !st.IsAuthenticated || st.IsLoading || st.User.ID != "user-1" {
		t.Fatalf("unexpected restored state %+v", st)
	}
	if st.Session.AccessToken != token {
		t.Fatal("expected persisted session resumed")
	}
}

func TestRestoreWithoutSessionClearsLoading(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if st := env.engine.State(); st.IsLoading || st.IsAuthenticated {
		t.Fatalf("expected signed out and not loading, got %+v", st)
	}
}

func TestUpdateProfileCommitsAfterRemoteSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	name := "Ada"

	if err := env.engine.UpdateProfile(context.Background(), ProfilePatch{DisplayName: &name, Metadata: map[string]any{"theme": "dark"}}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	st := env.engine.State()
	if st.User.DisplayName != "Ada" || st.User.Metadata["theme"] != "dark" {
		t.Fatalf("profile not applied: %+v", st.User)
	}
	if len(env.dir.profilePatches) != 1 {
		t.Fatal("expected one directory call")
	}
}

func TestUpdateProfileFailureLeavesLocalUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	env.dir.profileErr = errors.New("conflict")
	before := env.engine.State()
	name := "Ada"

	if err := env.engine.UpdateProfile(context.Background(), ProfilePatch{DisplayName: &name}); err == nil {
		t.Fatal("expected error")
	}
	if after := env.engine.State(); !reflect.DeepEqual(before, after) {
		t.Fatal("local profile changed on remote failure")
	}
}

func TestUpdateProfileValidation(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	bad := "not-an-email"

	if err := env.engine.UpdateProfile(context.Background(), ProfilePatch{}); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
	if err := env.engine.UpdateProfile(context.Background(), ProfilePatch{Email: &bad}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestResetPasswordDelegates(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.ResetPassword(context.Background(), "a@b.com"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if len(env.dir.resetEmails) != 1 || env.dir.resetEmails[0] != "a@b.com" {
		t.Fatalf("unexpected reset calls %v", env.dir.resetEmails)
	}
	if err := env.engine.ResetPassword(context.Background(), "nope"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestUpdateSecurityPreferencesMirrorsMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	on := true

	if err := env.engine.UpdateSecurityPreferences(context.Background(), SecurityPreferencesPatch{LoginNotifications: &on}); err != nil {
		t.Fatalf("update preferences: %v", err)
	}
	if !env.engine.State().User.SecurityPreferences.LoginNotifications {
		t.Fatal("preference not applied")
	}
	if env.idp.metadataFor("user-1")[MetadataLoginNotifications] != true {
		t.Fatal("preference not mirrored into metadata")
	}
}

func TestUpdateSecurityPreferencesRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	env.idp.metadataErr = errors.New("write failed")

	var mu sync.Mutex
	var seen []bool
	unsubscribe := env.engine.Subscribe(func(st AuthState) {
		if st.User == nil {
			return
		}
		mu.Lock()
		seen = append(seen, st.User.SecurityPreferences.RememberDevice)
		mu.Unlock()
	})
	defer unsubscribe()

	on := true
	if err := env.engine.UpdateSecurityPreferences(context.Background(), SecurityPreferencesPatch{RememberDevice: &on}); err == nil {
		t.Fatal("expected error")
	}
	if env.engine.State().User.SecurityPreferences.RememberDevice {
		t.Fatal("optimistic change not rolled back")
	}

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(seen, []bool{true, false}) {
		t.Fatalf("expected optimistic then rollback snapshots, got %v", seen)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSecurityPrefsRollback]; got != 1 {
		t.Fatalf("expected rollback metric, got %d", got)
	}
}

func TestMFAVerifyReturnsTenCodes(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	ctx := context.Background()

	enrollment, err := env.engine.EnrollMFA(ctx, "")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if enrollment.URI == "" || enrollment.Secret == "" {
		t.Fatalf("incomplete enrollment %+v", enrollment)
	}

	codes, err := env.engine.VerifyMFA(ctx, validTOTPCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 recovery codes, got %d", len(codes))
	}
	if env.idp.metadataFor("user-1")[mfa.MetadataMFAEnabled] != true {
		t.Fatal("expected mfaEnabled=true in metadata")
	}
	if prefs := env.engine.State().User.SecurityPreferences; !prefs.MFAEnabled || !prefs.BackupCodesGenerated {
		t.Fatalf("expected local MFA flags set, got %+v", prefs)
	}

	status, err := env.engine.MFAStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Enabled || !status.Verified {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestMFAVerifyWrongCodeKeepsState(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	ctx := context.Background()

	if _, err := env.engine.EnrollMFA(ctx, "Phone"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	before := env.engine.State()
	if _, err := env.engine.VerifyMFA(ctx, "654321"); !errors.Is(err, mfa.ErrCodeMismatch) || KindOf(err) != KindValidation {
		t.Fatalf("expected rejected code reported as a mismatch, got %v", err)
	}
	if after := env.engine.State(); !reflect.DeepEqual(before, after) {
		t.Fatal("state changed on failed verification")
	}
	if _, err := env.engine.VerifyMFA(ctx, "12ab56"); !errors.Is(err, mfa.ErrInvalidCode) || KindOf(err) != KindValidation {
		t.Fatalf("expected malformed code rejected, got %v", err)
	}
}

func TestMFADisableWrongPasswordLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	ctx := context.Background()

	if _, err := env.engine.EnrollMFA(ctx, ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := env.engine.VerifyMFA(ctx, validTOTPCode); err != nil {
		t.Fatalf("verify: %v", err)
	}
	before := env.engine.State()

	err := env.engine.DisableMFA(ctx, "wrong")
	if !errors.Is(err, mfa.ErrReauthenticationFailed) || KindOf(err) != KindAuthentication {
		t.Fatalf("expected re-authentication failure, got %v", err)
	}
	if after := env.engine.State(); !reflect.DeepEqual(before, after) {
		t.Fatal("state changed after failed disable")
	}
	if env.idp.factorCount("user-1") != 1 {
		t.Fatal("factor removed despite failed re-authentication")
	}
	if env.idp.metadataFor("user-1")[mfa.MetadataMFAEnabled] != true {
		t.Fatal("metadata changed despite failed re-authentication")
	}
}

func TestMFADisableRemovesFactors(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")
	ctx := context.Background()

	if _, err := env.engine.EnrollMFA(ctx, ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := env.engine.VerifyMFA(ctx, validTOTPCode); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := env.engine.DisableMFA(ctx, "x"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if env.idp.factorCount("user-1") != 0 {
		t.Fatal("expected factors removed")
	}
	if env.engine.State().User.SecurityPreferences.MFAEnabled {
		t.Fatal("expected local MFA flag cleared")
	}

	flow, status, err := env.engine.BeginMFAFlow(ctx)
	if err != nil {
		t.Fatalf("begin flow: %v", err)
	}
	if status.Enabled || flow.Step() != mfa.StepSetup {
		t.Fatalf("expected setup flow, got %v %+v", flow.Step(), status)
	}
}

func TestMFARejectedWhileImpersonating(t *testing.T) {
	env := newTestEnv(t)
	env.addSuperadmin(t)
	env.login(t, "root@b.com", "s3cret")
	ctx := context.Background()

	if err := env.engine.ImpersonateUser(ctx, "user-9"); err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	if _, err := env.engine.EnrollMFA(ctx, ""); !errors.Is(err, ErrImpersonationActive) {
		t.Fatalf("expected ErrImpersonationActive, got %v", err)
	}
	if err := env.engine.DisableMFA(ctx, "s3cret"); !errors.Is(err, ErrImpersonationActive) {
		t.Fatalf("expected ErrImpersonationActive, got %v", err)
	}
}

func TestHasPermissionTenantScope(t *testing.T) {
	env := newTestEnv(t)
	if env.engine.HasPermission("profile:read") {
		t.Fatal("unauthenticated must be denied")
	}

	env.login(t, "a@b.com", "x")
	if err := env.engine.SwitchTenant(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("switch tenant: %v", err)
	}
	if !env.engine.HasPermission("tenant-1:users:write") {
		t.Fatal("expected tenant-1 grant")
	}
	if env.engine.HasPermission("tenant-2:users:write") {
		t.Fatal("tenant mismatch must be denied")
	}
	if env.engine.HasPermission("users") {
		t.Fatal("malformed permission must be denied")
	}

	err := env.engine.RequirePermission(context.Background(), "billing:write")
	if !errors.Is(err, ErrPermissionDenied) || KindOf(err) != KindAuthorization {
		t.Fatalf("expected permission denied, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricPermissionInvalidFormat] != 1 {
		t.Fatalf("expected one invalid format, got %d", snap.Counters[MetricPermissionInvalidFormat])
	}
}

func TestSuperadminBypassIsAudited(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, func(b *Builder) {
		cfg := DefaultConfig()
		cfg.Audit.Enabled = true
		cfg.Metrics.Enabled = true
		b.WithConfig(cfg).WithAuditSink(sink)
	})
	env.addSuperadmin(t)
	env.login(t, "root@b.com", "s3cret")

	if !env.engine.HasPermission("anything:at:all") || !env.engine.HasPermission("not a permission") {
		t.Fatal("superadmin must bypass every check")
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSuperadminBypass]; got != 2 {
		t.Fatalf("expected 2 bypasses, got %d", got)
	}

	deadline := time.After(2 * time.Second)
	bypasses := 0
	for bypasses < 2 {
		select {
		case ev := <-sink.Events():
			if ev.EventType == auditEventSuperadminBypass {
				if ev.UserID != "root" {
					t.Fatalf("unexpected audit user %q", ev.UserID)
				}
				bypasses++
			}
		case <-deadline:
			t.Fatalf("expected 2 bypass events, got %d", bypasses)
		}
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	var states []AuthState
	unsubscribe := env.engine.Subscribe(func(st AuthState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	env.login(t, "a@b.com", "x")
	unsubscribe()
	if err := env.engine.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 {
		t.Fatal("expected snapshots")
	}
	if last := states[len(states)-1]; !last.IsAuthenticated {
		t.Fatal("unsubscribed callback must not see logout")
	}
	if env.engine.State().IsAuthenticated {
		t.Fatal("engine should be signed out")
	}
}

func TestStateSnapshotsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "a@b.com", "x")

	st := env.engine.State()
	st.User.DisplayName = "mutated"
	st.AvailableRoles[0].Permissions = nil
	st.CurrentRole.ID = "other"

	fresh := env.engine.State()
	if fresh.User.DisplayName == "mutated" || fresh.CurrentRole.ID == "other" || fresh.AvailableRoles[0].Permissions == nil {
		t.Fatal("snapshot mutation leaked into engine state")
	}
}

func TestErrorFormat(t *testing.T) {
	err := opError("switch_role", ErrRoleNotAvailable)
	if err.Error() != "switch_role: authorization: role not available" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if opError("outer", err) != err {
		t.Fatal("existing *Error must pass through")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain errors have no kind")
	}
}
