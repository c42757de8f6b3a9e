// Package app はコマンドの解析と、各起動モードの依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/gatekeeper/internal/auth"
	"github.com/hitoshi/gatekeeper/internal/authz"
	"github.com/hitoshi/gatekeeper/internal/config"
	"github.com/hitoshi/gatekeeper/internal/database"
	"github.com/hitoshi/gatekeeper/internal/handler"
	"github.com/hitoshi/gatekeeper/internal/logger"
	"github.com/hitoshi/gatekeeper/internal/metrics"
	"github.com/hitoshi/gatekeeper/internal/middleware"
	"github.com/hitoshi/gatekeeper/internal/repository"
	"github.com/hitoshi/gatekeeper/internal/session"
	"github.com/hitoshi/gatekeeper/internal/user"
	"github.com/hitoshi/gatekeeper/internal/worker/cleanup"
)

// logoutPath はCSRF検証を行わないログアウトのパス。
const logoutPath = "/api/auth/logout"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
		slog.String("revocation_backend", cfg.RevocationBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSeed:
		return runSeed(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
// DBの起動を待つため、DB_CONNECT_ATTEMPTS回までリトライする。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.WaitForDB(ctx, db, cfg.DBConnectAttempts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// sessionBackends はセッション管理が使う永続化先。
type sessionBackends struct {
	store   session.Store
	revoked session.RevocationList
	redis   *redis.Client // REVOCATION_BACKEND=redis の場合のみ非nil
}

// inProcess はいずれかの永続化先がプロセス内メモリかを返す。
func (b *sessionBackends) inProcess() bool {
	_, memStore := b.store.(*session.MemoryStore)
	_, memRevoked := b.revoked.(*session.MemoryRevocationList)
	return memStore || memRevoked
}

func (b *sessionBackends) Close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
}

// newSessionBackends は設定に応じてセッションストアと失効リストを生成する。
func newSessionBackends(ctx context.Context, cfg *config.Config, db *sql.DB) (*sessionBackends, error) {
	b := &sessionBackends{}

	switch cfg.SessionStore {
	case config.SessionStoreMemory:
		b.store = session.NewMemoryStore()
	default:
		b.store = repository.NewPostgresSessionRepo(db)
	}

	switch cfg.RevocationBackend {
	case config.RevocationBackendRedis:
		rdb := session.NewRedisClient(session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		b.redis = rdb
		b.revoked = session.NewRedisRevocationList(rdb)
	default:
		b.revoked = session.NewMemoryRevocationList()
	}

	return b, nil
}

// newRegistry はGoランタイムとプロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. セッション管理
	backends, err := newSessionBackends(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer backends.Close()

	sessions := session.NewManager(backends.store, backends.revoked, cfg.SessionTTL, collector)

	// 4. ドメインサービスの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	gate := authz.NewGate(sessions, userRepo, collector)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleCallbackURL,
		Timeout:      cfg.OAuthExchangeTimeout,
	})
	authService := auth.NewService(oauthProvider, userRepo, auth.ServiceConfig{
		ExchangeTimeout: cfg.OAuthExchangeTimeout,
		AdminEmails:     cfg.AdminEmails,
	}, collector)
	userService := user.NewService(userRepo, sessions)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer rateLimiter.Stop()

	cookie := handler.CookieConfig{
		Name:   cfg.CookieName,
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionMaxAge(),
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		Guard:       middleware.NewGuard(gate, cfg.CookieName),
		RateLimiter: rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			ExemptPaths:  []string{logoutPath},
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              cfg.CookieSecure,
		Metrics:           collector,
		HealthChecks:      healthChecks(db, backends.redis),
		MetricsHandler:    metrics.Handler(reg),
		LoginService:      authService,
		Sessions:          sessions,
		AuthConfig:        handler.AuthHandlerConfig{Cookie: cookie},
		UserService:       userService,
	})

	// 6. プロセス内に状態を持つ場合はこのプロセスで掃除する
	if backends.inProcess() {
		go cleanup.NewSweepJob(sessions, slog.Default(), cfg.SweepInterval).Start(ctx)
	}

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// healthChecks は /health が確認する依存先を返す。
func healthChecks(db *sql.DB, rdb *redis.Client) []handler.HealthCheck {
	checks := []handler.HealthCheck{
		{Name: "database", Check: db.PingContext},
	}
	if rdb != nil {
		checks = append(checks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return checks
}

// runWorker はワーカーモードで起動する。
// PostgreSQLのセッションストアに対して期限切れセッションの掃除を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.SessionStore == config.SessionStoreMemory {
		return fmt.Errorf("worker requires SESSION_STORE=%s", config.SessionStorePostgres)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	backends, err := newSessionBackends(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer backends.Close()

	sessions := session.NewManager(backends.store, backends.revoked, cfg.SessionTTL, nil)

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
	)

	// 掃除ジョブをメインgoroutineで実行（ブロッキング）
	cleanup.NewSweepJob(sessions, slog.Default(), cfg.SweepInterval).Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は開発用のデモユーザーを投入する。
func runSeed(cfg *config.Config) error {
	ctx := context.Background()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := database.Seed(ctx, db)
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("database seeded", slog.Int64("created_users", n))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
