package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/response"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck は依存先1つ分の死活確認。
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewHealthHandler はヘルスチェックエンドポイントのハンドラーを返す。
// GET /health
// すべての確認が成功すれば200、1つでも失敗すれば503を返す。
func NewHealthHandler(checks ...HealthCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		results := make(map[string]string, len(checks))
		healthy := true
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				slog.Error("health check failed",
					slog.String("check", c.Name),
					slog.String("error", err.Error()),
				)
				results[c.Name] = "unavailable"
				healthy = false
				continue
			}
			results[c.Name] = "ok"
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "Service unavailable", model.ErrCodeServiceUnavailable)
			return
		}
		response.Success(w, http.StatusOK, "OK", map[string]any{
			"status": "ok",
			"checks": results,
		})
	})
}
