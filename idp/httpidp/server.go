package httpidp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	goAuthCore "github.com/MrEthical07/goAuthCore"
	"github.com/MrEthical07/goAuthCore/internal/rate"
	"github.com/MrEthical07/goAuthCore/middleware"
)

const maxBodyBytes = 1 << 20

// Backend is what the handler serves: an identity provider that is also its own
// directory. *memory.Provider is one.
type Backend interface {
	goAuthCore.IdentityProvider
	goAuthCore.Directory
}

// PasswordResetConfirmer is implemented by backends that accept the token mailed
// by ResetPassword. The /recover/confirm route exists only for them.
type PasswordResetConfirmer interface {
	ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error
}

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	Logger *slog.Logger
	// APIKey, when set, must be sent in the apikey header of every request.
	APIKey string
	// TrustForwarded takes the client address from X-Forwarded-For.
	TrustForwarded bool
	RateLimit      RateLimitOptions
}

// RateLimitOptions throttles the unauthenticated routes (/token and /recover)
// per client address. Disabled when Redis is nil or Limit is zero.
type RateLimitOptions struct {
	Redis  redis.UniversalClient
	Prefix string
	Limit  int
	Window time.Duration
}

type handler struct {
	backend Backend
	logger  *slog.Logger
}

// NewHandler serves backend over a GoTrue-style JSON API.
func NewHandler(backend Backend, opts HandlerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{backend: backend, logger: logger.With("component", "idp.http")}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Heartbeat("/health"))
	if opts.APIKey != "" {
		r.Use(requireAPIKey(opts.APIKey))
	}
	r.Use(middleware.ClientIP(opts.TrustForwarded))
	r.Use(middleware.AccessToken)

	r.Group(func(r chi.Router) {
		if rl := opts.RateLimit; rl.Redis != nil && rl.Limit > 0 {
			limiter := rate.New(rl.Redis, rl.Prefix, rate.Config{Limit: rl.Limit, Window: rl.Window})
			r.Use(h.throttle(limiter))
		}

		r.Post("/token", h.token)
		r.Post("/recover", h.recover)
		if _, ok := backend.(PasswordResetConfirmer); ok {
			r.Post("/recover/confirm", h.confirmRecover)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAccessToken)

		r.Post("/logout", h.logout)
		r.Get("/user", h.user)
		r.Get("/user/metadata", h.metadata)
		r.Put("/user/metadata", h.updateMetadata)

		r.Route("/factors", func(r chi.Router) {
			r.Get("/", h.listFactors)
			r.Post("/", h.enrollFactor)
			r.Delete("/{factorID}", h.unenrollFactor)
			r.Post("/{factorID}/challenge", h.challengeFactor)
			r.Post("/{factorID}/verify", h.verifyFactor)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/tenants", h.listTenants)
			r.Get("/roles", h.listRoles)
			r.Put("/role", h.switchRole)
			r.Put("/tenant", h.switchTenant)
			r.Get("/impersonation", h.impersonation)
			r.Patch("/profile", h.updateProfile)
		})
	})

	return r
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("apikey"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "invalid_api_key", Message: ErrInvalidAPIKey.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// throttle counts requests per client address and route. A Redis failure lets
// the request through.
func (h *handler) throttle(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := goAuthCore.ClientIPFromContext(r.Context())
			err := limiter.Allow(r.Context(), r.URL.Path+":"+ip)
			switch {
			case errors.Is(err, rate.ErrRateLimited):
				h.logger.InfoContext(r.Context(), "request throttled", "path", r.URL.Path, "ip", ip)
				h.fail(w, r, ErrRateLimited)
				return
			case err != nil:
				h.logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}

/*
====================================
SESSIONS
====================================
*/

// token handles POST /token?grant_type=password|refresh_token.
func (h *handler) token(w http.ResponseWriter, r *http.Request) {
	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		var req passwordGrant
		if !h.decode(w, r, &req) {
			return
		}
		res, err := h.backend.SignInWithPassword(r.Context(), req.Email, req.Password)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{Session: res.Session, TokenType: "bearer", User: &res.Principal})

	case "refresh_token":
		var req refreshGrant
		if !h.decode(w, r, &req) {
			return
		}
		s, err := h.backend.RefreshSession(r.Context(), req.RefreshToken)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{Session: s, TokenType: "bearer"})

	default:
		h.fail(w, r, ErrUnsupportedGrant)
	}
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.SignOut(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) user(w http.ResponseWriter, r *http.Request) {
	p, err := h.backend.CurrentUser(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) metadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.backend.GetProfileMetadata(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *handler) updateMetadata(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !h.decode(w, r, &patch) {
		return
	}
	if err := h.backend.UpdateProfileMetadata(r.Context(), patch); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
FACTORS
====================================
*/

func (h *handler) listFactors(w http.ResponseWriter, r *http.Request) {
	factors, err := h.backend.ListFactors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, factors)
}

func (h *handler) enrollFactor(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.FactorType != "" && req.FactorType != "totp" {
		h.fail(w, r, ErrBadRequest)
		return
	}
	e, err := h.backend.EnrollTOTPFactor(r.Context(), req.FriendlyName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollResponse{ID: e.FactorID, Type: "totp", TOTP: totpSecret{Secret: e.Secret}})
}

func (h *handler) unenrollFactor(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.UnenrollFactor(r.Context(), chi.URLParam(r, "factorID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) challengeFactor(w http.ResponseWriter, r *http.Request) {
	id, err := h.backend.ChallengeFactor(r.Context(), chi.URLParam(r, "factorID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{ID: id})
}

func (h *handler) verifyFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.backend.VerifyChallenge(r.Context(), chi.URLParam(r, "factorID"), req.ChallengeID, req.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
DIRECTORY
====================================
*/

func (h *handler) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.backend.ListTenants(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (h *handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.backend.ListRoles(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (h *handler) switchRole(w http.ResponseWriter, r *http.Request) {
	var req switchRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.backend.SwitchRole(r.Context(), chi.URLParam(r, "userID"), req.TenantID, req.RoleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *handler) switchTenant(w http.ResponseWriter, r *http.Request) {
	var req switchTenantRequest
	if !h.decode(w, r, &req) {
		return
	}
	tenant, roles, err := h.backend.SwitchTenant(r.Context(), chi.URLParam(r, "userID"), req.TenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, switchTenantResponse{Tenant: tenant, Roles: roles})
}

func (h *handler) impersonation(w http.ResponseWriter, r *http.Request) {
	target, err := h.backend.GetImpersonationTarget(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toImpersonationBody(target))
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profilePatchBody
	if !h.decode(w, r, &req) {
		return
	}
	patch := goAuthCore.ProfilePatch{DisplayName: req.DisplayName, Email: req.Email, Metadata: req.Metadata}
	if err := h.backend.UpdateProfile(r.Context(), chi.URLParam(r, "userID"), patch); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) recover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.backend.ResetPassword(r.Context(), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) confirmRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	confirmer := h.backend.(PasswordResetConfirmer)
	if err := confirmer.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*
====================================
ENCODING
====================================
*/

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.DebugContext(r.Context(), "decode request body failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "request body must be valid JSON"})
		return false
	}
	return true
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	c, ok := codeFor(err)
	if !ok {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.ErrorContext(r.Context(), "identity backend failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "server_error", Message: "internal error"})
		return
	}
	writeJSON(w, c.status, errorBody{Code: c.code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
