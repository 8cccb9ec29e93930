package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ModeAPIKey enables key checks.
const ModeAPIKey = "apikey"

// SessionChecker validates dashboard session tokens.
type SessionChecker interface {
	ValidSession(ctx context.Context, token string) bool
}

func enabled(mode, key string) bool { return mode == ModeAPIKey && key != "" }

func keyMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// APIKeyInterceptor returns a gRPC unary interceptor that rejects calls whose
// metadata value for header differs from key with codes.Unauthenticated.
// header must be lowercase, as gRPC normalises metadata keys.
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !enabled(mode, key) {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get(header)
		if len(vals) == 0 || !keyMatches(vals[0], key) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(ctx, req)
	}
}

// HTTPGuard is the REST counterpart of APIKeyInterceptor.
type HTTPGuard struct {
	mode, header, key string
	sessions          SessionChecker
	skip              []string
}

// RequireAPIKey builds an HTTPGuard. Paths equal to, or under, one of skip
// are never checked. Only paths under /api/ are guarded.
func RequireAPIKey(mode, header, key string, sessions SessionChecker, skip ...string) *HTTPGuard {
	return &HTTPGuard{mode: mode, header: header, key: key, sessions: sessions, skip: skip}
}

// Middleware wraps next. It matches the gorilla/mux MiddlewareFunc signature.
func (g *HTTPGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.allowed(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
	})
}

func (g *HTTPGuard) allowed(r *http.Request) bool {
	if !enabled(g.mode, g.key) || r.Method == http.MethodOptions {
		return true
	}
	p := r.URL.Path
	if !strings.HasPrefix(p, "/api/") {
		return true
	}
	for _, s := range g.skip {
		if p == s || strings.HasPrefix(p, strings.TrimSuffix(s, "/")+"/") {
			return true
		}
	}
	if keyMatches(r.Header.Get(g.header), g.key) {
		return true
	}
	if g.sessions != nil {
		if tok, ok := bearer(r.Header.Get("Authorization")); ok {
			return g.sessions.ValidSession(r.Context(), tok)
		}
	}
	return false
}

func bearer(h string) (string, bool) {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
