package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/types"
)

type contextKey string

const actorContextKey contextKey = "actor"

// actorFromContext returns the authenticated caller stored by the auth
// middleware. The bool is false only for routes that skip auth.
func actorFromContext(ctx context.Context) (types.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(types.Actor)
	return actor, ok
}

// authMiddleware validates the bearer token and attaches the caller
// identity to the request context.
func (s *Service) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeErrorResponse(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			s.writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.validator.ValidateJWT(parts[1])
		if err != nil {
			s.logger.WithError(err).Warn("Token validation failed")
			s.writeErrorResponse(w, http.StatusUnauthorized, "invalid token")
			return
		}

		actor := types.Actor{ID: claims.UserID, OrgID: claims.OrgID}
		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tracingMiddleware opens a span per request, named by the route
// template so path parameters do not explode span names, and hands the
// span context down to the handlers.
func (s *Service) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}

		ctx, span := s.tracing.StartHTTPSpan(r.Context(), r.Method, route)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each request with caller and latency fields.
func (s *Service) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		entry := s.logger.WithComponent("httpapi")
		if actor, ok := actorFromContext(r.Context()); ok {
			entry = entry.WithField("actor_id", actor.ID)
		}
		entry.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
