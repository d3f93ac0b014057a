package middleware

import (
	"bytes"
	"net/http"

	"github.com/TGOO-Worldwide/siliviat-app/internal/idempotency"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"
)

// Idempotency replays the first successful response recorded for a
// caller's Idempotency-Key. Requests without the header pass through.
// It must run after Auth.
func Idempotency(store idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPatch) {
				next.ServeHTTP(w, r)
				return
			}

			p, ok := PrincipalFrom(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			scoped := p.UserID + ":" + r.Method + ":" + r.URL.Path + ":" + key

			rec, found, err := store.Get(r.Context(), scoped)
			if err != nil {
				logger.Warn("Idempotency lookup failed", zap.String("key", key), zap.Error(err))
			}
			if found {
				logger.Info("Replaying idempotent response",
					zap.String("key", key),
					zap.String("user_id", p.UserID),
					zap.Int("status", rec.StatusCode),
				)
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(rec.StatusCode)
				w.Write(rec.Body)
				return
			}

			var body bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status < 200 || status >= 300 {
				return
			}

			if _, err := store.Save(r.Context(), scoped, idempotency.Record{
				StatusCode:  status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        body.Bytes(),
			}); err != nil {
				logger.Warn("Failed to record idempotent response", zap.String("key", key), zap.Error(err))
			}
		})
	}
}
