package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"keywarden/internal/config"
	"keywarden/internal/infrastructure"
)

const adminRealm = "keywarden-admin"

// AdminAuth guards the admin API with a bearer token. The token is
// compared in constant time; when a bcrypt hash is configured instead of
// a plain token, the presented token is checked against the hash.
type AdminAuth struct {
	token       string
	tokenBcrypt string
	disabled    bool
	logger      *slog.Logger
}

// NewAdminAuth creates the admin authentication middleware from config
func NewAdminAuth(cfg config.AdminConfig, logger *slog.Logger) *AdminAuth {
	return &AdminAuth{
		token:       cfg.Token,
		tokenBcrypt: cfg.TokenBcrypt,
		disabled:    cfg.AuthDisabled,
		logger:      logger.With(slog.String("component", "admin_auth")),
	}
}

// Handler returns the middleware handler function
func (a *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			a.logger.WarnContext(ctx, "missing authorization header",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", ClientIP(r),
			)
			a.unauthorized(w, r, "Missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			a.logger.WarnContext(ctx, "invalid authorization format",
				"method", r.Method,
				"path", r.URL.Path,
			)
			a.unauthorized(w, r, "Invalid authorization format. Use: Bearer <token>")
			return
		}

		if !a.tokenMatches(parts[1]) {
			a.logger.WarnContext(ctx, "admin authentication failed",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", ClientIP(r),
			)
			a.unauthorized(w, r, "Invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) tokenMatches(presented string) bool {
	if presented == "" {
		return false
	}
	if a.tokenBcrypt != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.tokenBcrypt), []byte(presented)) == nil
	}
	if a.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) == 1
}

func (a *AdminAuth) unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q`, adminRealm))
	problem := ProblemFromStatus(
		http.StatusUnauthorized,
		detail,
		infrastructure.GetTraceID(r.Context()),
	)
	problem.Render(w, r)
}

// AuditLog provides audit logging middleware for admin operations
func AuditLog(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			ww := &auditResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			logger.InfoContext(ctx, "audit log",
				"event_type", "admin_api_access",
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.Query().Encode(),
				"remote_addr", ClientIP(r),
				"user_agent", r.UserAgent(),
			)

			next.ServeHTTP(ww, r)

			logger.InfoContext(ctx, "audit log complete",
				"event_type", "admin_api_response",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start).String(),
			)
		})
	}
}

// auditResponseWriter captures the response status code
type auditResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *auditResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *auditResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
