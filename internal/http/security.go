package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"spese/internal/log"
	"spese/internal/session"
)

const sessionCookieName = "spese_session"

// Sessions idle past this are evicted server-side anyway.
const sessionCookieMaxAge = 30 * 24 * time.Hour

type sessionKey struct{}

// securityHeaders sets the response headers every route shares.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// withSession resolves the caller's session from its cookie, issuing a new
// one when the cookie is missing or malformed.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(sessionCookieName); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(sessionCookieMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}

		sess, err := s.sessions.Get(id)
		if err != nil {
			log.FromContext(r.Context()).ErrorContext(r.Context(), "Session unavailable", log.FieldError, err)
			writeError(w, "Session unavailable", http.StatusServiceUnavailable)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldSessionID, id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey{}).(*session.Session)
	return sess
}
