package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sagarc03/stowdrive"
)

type grantKey struct{}

// GrantFromContext returns the grant AuthMiddleware attached to the request.
func GrantFromContext(ctx context.Context) (stowdrive.Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(stowdrive.Grant)
	return g, ok
}

// AuthMiddleware verifies the direct credential or a signed capability and
// attaches the resulting grant to the request context. OPTIONS requests
// pass through unauthenticated. Every failure produces the same body so
// callers cannot tell which check rejected them.
func AuthMiddleware(signer *stowdrive.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			grant, err := signer.Verify(r.Method, r.URL, r.Header)
			if err != nil {
				HandleError(w, err)
				return
			}

			if credential, ok := signer.EchoCredential(r, grant); ok {
				w.Header().Set(stowdrive.EchoCredentialHeader, credential)
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), grantKey{}, grant)))
		})
	}
}

// RequireFullControl rejects requests whose grant lacks full control.
func RequireFullControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grant, ok := GrantFromContext(r.Context())
		if !ok || !grant.FullControl {
			HandleError(w, stowdrive.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request with its status, size and
// duration.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
