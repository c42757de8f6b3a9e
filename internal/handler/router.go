package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/gatekeeper/internal/middleware"
	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/response"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Guard             *middleware.Guard
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	HSTS              bool
	Metrics           middleware.StatusRecorder // nilならHTTPメトリクスを記録しない

	// 運用エンドポイント
	HealthChecks   []HealthCheck
	MetricsHandler http.Handler // nilなら /metrics を公開しない

	// 認証
	LoginService LoginService
	Sessions     SessionService
	AuthConfig   AuthHandlerConfig

	// ユーザー
	UserService UserService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// グローバルミドルウェアの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → Metrics
//
// /api 配下はさらにCSRF検証を通る。認可はルートごとにGuardで行い、
// 認証済みルートはその後にユーザーごとのレート制限を、ログイン系ルートはIPごとのレート制限を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "Route "+r.URL.RequestURI()+" not found", model.ErrCodeRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method "+r.Method+" not allowed", model.ErrCodeMethodNotAllowed)
	})

	authHandler := NewAuthHandler(deps.LoginService, deps.Sessions, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig.Cookie)

	authenticated := deps.Guard.RequireAuthenticated()
	admin := deps.Guard.RequireAdmin()
	limited := deps.RateLimiter.GeneralMiddleware()
	loginLimited := deps.RateLimiter.LoginMiddleware()

	// --- 運用エンドポイント ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks...))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		// 認証ルート（OAuthフロー）
		r.Route("/auth", func(r chi.Router) {
			r.With(loginLimited).Get("/google", authHandler.Login)
			r.With(loginLimited).Get("/google/callback", authHandler.Callback)

			r.Get("/logout", authHandler.Logout)
			r.Post("/logout", authHandler.Logout)

			r.With(authenticated, limited).Get("/me", authHandler.Me)
		})

		r.With(authenticated, limited).Get("/dashboard", authHandler.Dashboard)

		// ユーザー管理
		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(authenticated, limited)
				r.Get("/profile", userHandler.GetProfile)
				r.Put("/profile", userHandler.UpdateProfile)
				r.Delete("/profile", userHandler.DeleteAccount)
			})

			r.With(admin, limited).Get("/", userHandler.ListUsers)
			r.With(deps.Guard.RequireSelfOrAdmin("id"), limited).Get("/{id}", userHandler.GetUser)
			r.With(admin, limited).Delete("/{id}", userHandler.DeleteUser)
		})
	})

	return r
}
