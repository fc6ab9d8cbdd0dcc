package httpidp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/mfa"
	"github.com/MrEthical07/goAuthCore/session"
)

const maxErrorBytes = 64 << 10

var (
	_ goAuthCore.IdentityProvider = (*Client)(nil)
	_ goAuthCore.Directory        = (*Client)(nil)
	_ PasswordResetConfirmer      = (*Client)(nil)
)

// ClientOptions configures NewClient. Zero fields take defaults.
type ClientOptions struct {
	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
	// Timeout bounds each request when HTTPClient is nil. Default 10s.
	Timeout time.Duration
	// APIKey is sent in the apikey header.
	APIKey string
}

// Client talks to a GoTrue-style identity server such as the one NewHandler
// serves. It implements goAuthCore.IdentityProvider and goAuthCore.Directory;
// calls on behalf of the signed-in principal send the access token found in
// ctx as a bearer token.
type Client struct {
	base   *url.URL
	http   *http.Client
	apiKey string
}

// NewClient returns a Client rooted at baseURL.
func NewClient(baseURL string, opts ClientOptions) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpidp: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("httpidp: base url must be http or https: %q", baseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{base: base, http: hc, apiKey: opts.APIKey}, nil
}

/*
====================================
SESSIONS
====================================
*/

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (goAuthCore.SignInResult, error) {
	var resp tokenResponse
	q := url.Values{"grant_type": {"password"}}
	if err := c.do(ctx, http.MethodPost, q, passwordGrant{Email: email, Password: password}, &resp, "token"); err != nil {
		return goAuthCore.SignInResult{}, err
	}
	if resp.User == nil {
		return goAuthCore.SignInResult{}, fmt.Errorf("httpidp: token response without user: %w", ErrServer)
	}
	return goAuthCore.SignInResult{Session: resp.Session, Principal: *resp.User}, nil
}

// RefreshSession trades a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (session.Session, error) {
	var resp tokenResponse
	q := url.Values{"grant_type": {"refresh_token"}}
	if err := c.do(ctx, http.MethodPost, q, refreshGrant{RefreshToken: refreshToken}, &resp, "token"); err != nil {
		return session.Session{}, err
	}
	return resp.Session, nil
}

// SignOut revokes the session whose access token is in ctx.
func (c *Client) SignOut(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, nil, nil, nil, "logout")
}

// CurrentUser returns the principal the access token in ctx belongs to.
func (c *Client) CurrentUser(ctx context.Context) (goAuthCore.Principal, error) {
	var p goAuthCore.Principal
	err := c.do(ctx, http.MethodGet, nil, nil, &p, "user")
	return p, err
}

func (c *Client) GetProfileMetadata(ctx context.Context) (map[string]any, error) {
	var meta map[string]any
	err := c.do(ctx, http.MethodGet, nil, nil, &meta, "user", "metadata")
	return meta, err
}

func (c *Client) UpdateProfileMetadata(ctx context.Context, patch map[string]any) error {
	return c.do(ctx, http.MethodPut, nil, patch, nil, "user", "metadata")
}

/*
====================================
FACTORS
====================================
*/

func (c *Client) ListFactors(ctx context.Context) ([]mfa.Factor, error) {
	var factors []mfa.Factor
	err := c.do(ctx, http.MethodGet, nil, nil, &factors, "factors")
	return factors, err
}

func (c *Client) EnrollTOTPFactor(ctx context.Context, friendlyName string) (mfa.FactorEnrollment, error) {
	var resp enrollResponse
	req := enrollRequest{FactorType: "totp", FriendlyName: friendlyName}
	if err := c.do(ctx, http.MethodPost, nil, req, &resp, "factors"); err != nil {
		return mfa.FactorEnrollment{}, err
	}
	return mfa.FactorEnrollment{FactorID: resp.ID, Secret: resp.TOTP.Secret}, nil
}

func (c *Client) UnenrollFactor(ctx context.Context, factorID string) error {
	return c.do(ctx, http.MethodDelete, nil, nil, nil, "factors", factorID)
}

func (c *Client) ChallengeFactor(ctx context.Context, factorID string) (string, error) {
	var resp challengeResponse
	if err := c.do(ctx, http.MethodPost, nil, struct{}{}, &resp, "factors", factorID, "challenge"); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) VerifyChallenge(ctx context.Context, factorID, challengeID, code string) error {
	req := verifyRequest{ChallengeID: challengeID, Code: code}
	return c.do(ctx, http.MethodPost, nil, req, nil, "factors", factorID, "verify")
}

/*
====================================
DIRECTORY
====================================
*/

func (c *Client) ListTenants(ctx context.Context, userID string) ([]goAuthCore.Tenant, error) {
	var tenants []goAuthCore.Tenant
	err := c.do(ctx, http.MethodGet, nil, nil, &tenants, "users", userID, "tenants")
	return tenants, err
}

func (c *Client) ListRoles(ctx context.Context, userID, tenantID string) ([]goAuthCore.Role, error) {
	var q url.Values
	if tenantID != "" {
		q = url.Values{"tenant_id": {tenantID}}
	}
	var roles []goAuthCore.Role
	err := c.do(ctx, http.MethodGet, q, nil, &roles, "users", userID, "roles")
	return roles, err
}

func (c *Client) SwitchRole(ctx context.Context, userID, tenantID, roleID string) (goAuthCore.Role, error) {
	var role goAuthCore.Role
	req := switchRoleRequest{TenantID: tenantID, RoleID: roleID}
	err := c.do(ctx, http.MethodPut, nil, req, &role, "users", userID, "role")
	return role, err
}

func (c *Client) SwitchTenant(ctx context.Context, userID, tenantID string) (goAuthCore.Tenant, []goAuthCore.Role, error) {
	var resp switchTenantResponse
	req := switchTenantRequest{TenantID: tenantID}
	if err := c.do(ctx, http.MethodPut, nil, req, &resp, "users", userID, "tenant"); err != nil {
		return goAuthCore.Tenant{}, nil, err
	}
	return resp.Tenant, resp.Roles, nil
}

func (c *Client) GetImpersonationTarget(ctx context.Context, userID string) (goAuthCore.ImpersonationTarget, error) {
	var body impersonationBody
	if err := c.do(ctx, http.MethodGet, nil, nil, &body, "users", userID, "impersonation"); err != nil {
		return goAuthCore.ImpersonationTarget{}, err
	}
	return body.target(), nil
}

func (c *Client) UpdateProfile(ctx context.Context, userID string, patch goAuthCore.ProfilePatch) error {
	req := profilePatchBody{DisplayName: patch.DisplayName, Email: patch.Email, Metadata: patch.Metadata}
	return c.do(ctx, http.MethodPatch, nil, req, nil, "users", userID, "profile")
}

// ResetPassword asks the server to mail a reset link. Unknown addresses are not
// reported.
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, nil, recoverRequest{Email: email}, nil, "recover")
}

// ConfirmPasswordReset sets a new password with the token ResetPassword mailed.
func (c *Client) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	req := recoverConfirmRequest{Token: resetToken, Password: newPassword}
	return c.do(ctx, http.MethodPost, nil, req, nil, "recover", "confirm")
}

/*
====================================
TRANSPORT
====================================
*/

func (c *Client) endpoint(query url.Values, segments ...string) *url.URL {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := c.base.JoinPath(escaped...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method string, query url.Values, in, out any, segments ...string) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpidp: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	u := c.endpoint(query, segments...)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("httpidp: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := goAuthCore.AccessTokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httpidp: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("httpidp: decode %s %s: %w", method, u.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	apiErr := &APIError{Status: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}
