// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/gatekeeper/internal/logger"
	"github.com/hitoshi/gatekeeper/internal/middleware"
	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/response"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	defaultSuccessRedirect = "/api/dashboard"
	defaultFailureRedirect = "/"
)

// LoginService はOAuthログインのサービスインターフェース。auth.Service が実装する。
type LoginService interface {
	BeginLogin(state string) string
	CompleteLogin(ctx context.Context, code string) (*model.User, error)
}

// SessionService はセッションの発行と破棄のインターフェース。session.Manager が実装する。
type SessionService interface {
	Issue(ctx context.Context, userID int64) (*model.Session, error)
	Destroy(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie          CookieConfig
	SuccessRedirect string // ログイン成功時のリダイレクト先
	FailureRedirect string // ログイン失敗時とログアウト後のリダイレクト先
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	login    LoginService
	sessions SessionService
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(login LoginService, sessions SessionService, config AuthHandlerConfig) *AuthHandler {
	if config.SuccessRedirect == "" {
		config.SuccessRedirect = defaultSuccessRedirect
	}
	if config.FailureRedirect == "" {
		config.FailureRedirect = defaultFailureRedirect
	}
	return &AuthHandler{
		login:    login,
		sessions: sessions,
		config:   config,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /api/auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		response.InternalError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.login.BeginLogin(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /api/auth/google/callback?code=xxx&state=yyy
// 失敗時はいずれも FailureRedirect へリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. stateの検証（CSRF対策）
	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		h.fail(w, r)
		return
	}

	// 2. IdP側でのキャンセル等
	if idpErr := q.Get("error"); idpErr != "" {
		slog.Info("oauth login cancelled by identity provider", slog.String("error", idpErr))
		h.fail(w, r)
		return
	}

	code := q.Get("code")
	if code == "" {
		slog.Warn("oauth callback without authorization code")
		h.fail(w, r)
		return
	}

	// 3. 認証処理（ユーザーの検索・作成）
	user, err := h.login.CompleteLogin(r.Context(), code)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, model.ErrIdentityExchangeFailed) || errors.Is(err, model.ErrProfileIncomplete) {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "oauth login failed", slog.String("error", err.Error()))
		h.fail(w, r)
		return
	}

	// 4. 既存のセッションがあれば破棄して新しいセッションを発行する（セッション固定化対策）
	if old := h.config.Cookie.sessionID(r); old != "" {
		if err := h.sessions.Destroy(r.Context(), old); err != nil {
			slog.Warn("failed to destroy previous session", logger.SessionID(old), slog.String("error", err.Error()))
		}
	}

	sess, err := h.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to issue session",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		h.fail(w, r)
		return
	}

	// 5. セッションCookieを設定（HTTP Only）
	h.config.Cookie.setSession(w, sess.ID)

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		logger.SessionID(sess.ID),
	)

	http.Redirect(w, r, h.config.SuccessRedirect, http.StatusFound)
}

// Logout はセッションを失効させて破棄する。
// GET/POST /api/auth/logout
// セッションが無い・既に無効な場合も同じ結果になる。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sid := h.config.Cookie.sessionID(r); sid != "" {
		// 破棄に失敗した場合はログアウト済みと扱わず、Cookieを残して再試行させる
		if err := h.sessions.Destroy(r.Context(), sid); err != nil {
			slog.Error("failed to logout", logger.SessionID(sid), slog.String("error", err.Error()))
			response.InternalError(w)
			return
		}
	}

	h.config.Cookie.clearSession(w)
	http.Redirect(w, r, h.config.FailureRedirect, http.StatusFound)
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w)
		return
	}
	response.Success(w, http.StatusOK, "User retrieved successfully", toUserResponse(principal))
}

// Dashboard はログイン後のダッシュボードを返す。
// GET /api/dashboard
func (h *AuthHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w)
		return
	}
	response.Success(w, http.StatusOK, "Welcome to your dashboard!", map[string]any{
		"user": toUserResponse(principal),
	})
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.config.FailureRedirect, http.StatusFound)
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
