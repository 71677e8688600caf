package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const idempotencyTTL = 24 * time.Hour

// Idempotency accepts a repeated Idempotency-Key without running the handler again.
// The key is released when the first request did not succeed, so the client can retry.
func Idempotency(redisClient redis.Cmdable) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := fmt.Sprintf("idempotency:events:%s", key)
			ctx := r.Context()

			acquired, err := redisClient.SetNX(ctx, idemKey, "PROCESSING", idempotencyTTL).Result()
			if err != nil {
				// Redis unavailable: fall back to at-least-once
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Hit", "true")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"ok":true}`))
				return
			}

			ww := ChiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			done := context.WithoutCancel(ctx)
			if ww.Status() >= http.StatusBadRequest {
				redisClient.Del(done, idemKey)
				return
			}
			redisClient.Set(done, idemKey, "COMPLETED", idempotencyTTL)
		})
	}
}
