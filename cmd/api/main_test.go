package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"streamsworker/internal/application/factories/infrastructure"
	"streamsworker/internal/config"

	"github.com/stretchr/testify/require"
)

func TestAPIServesWithoutRedis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, conn := range []string{"scoped", "pooled"} {
		t.Run(conn, func(t *testing.T) {
			cfg := &config.Config{
				Redis:    config.Redis{URL: "redis://127.0.0.1:1"},
				Producer: config.Producer{Accept: "async", Conn: conn, AppendTimeout: time.Second},
			}
			f := infrastructure.NewFactory(cfg)
			defer f.Close()

			handler, uc, err := newAPI(cfg, f, logger)
			require.NoError(t, err)

			for _, key := range []string{"", "abc-123"} {
				req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"user":"abc"}`))
				if key != "" {
					req.Header.Set("Idempotency-Key", key)
				}
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)

				require.Equal(t, http.StatusOK, rec.Code)
				require.JSONEq(t, `{"ok":true}`, rec.Body.String())
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, uc.Close(ctx))
		})
	}
}
