package middleware

import (
	"net"
	"net/http"
	"strings"

	goAuthCore "github.com/MrEthical07/goAuthCore"
)

// AccessToken copies the bearer token from the Authorization header into the
// request context with [goAuthCore.WithAccessToken]. Requests without one pass
// through unchanged.
func AccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r.Header.Get("Authorization"))
		if ok {
			r = r.WithContext(goAuthCore.WithAccessToken(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAccessToken rejects requests that carry no bearer token with 401.
// It does not validate the token; the identity provider does that.
func RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if goAuthCore.AccessTokenFromContext(r.Context()) == "" {
			if _, ok := BearerToken(r.Header.Get("Authorization")); !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP records the caller's address with [goAuthCore.WithClientIP]. When
// trustForwarded is set the first X-Forwarded-For hop wins over RemoteAddr.
func ClientIP(trustForwarded bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := clientIP(r, trustForwarded); ip != "" {
				r = r.WithContext(goAuthCore.WithClientIP(r.Context(), ip))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
