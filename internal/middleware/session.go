// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/gatekeeper/internal/authz"
	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/response"
	"github.com/hitoshi/gatekeeper/internal/user"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var principalContextKey = contextKey("principal")

// Authorizer は認可判定のインターフェース。authz.Gate が実装する。
type Authorizer interface {
	Authorize(ctx context.Context, sessionID string, level authz.Level) authz.Decision
}

// Guard はセッションCookieを読み取り、認可ゲートに判定させるミドルウェアを生成する。
type Guard struct {
	gate       Authorizer
	cookieName string
}

// NewGuard はGuardを生成する。
func NewGuard(gate Authorizer, cookieName string) *Guard {
	return &Guard{gate: gate, cookieName: cookieName}
}

// SessionID はリクエストのセッションCookieの値を返す。無ければ空文字。
func (g *Guard) SessionID(r *http.Request) string {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// RequireAuthenticated は有効なセッションを持つリクエストのみ通すミドルウェアを返す。
// 未認証の理由（Cookie無し・失効・期限切れ）はレスポンスで区別しない。
func (g *Guard) RequireAuthenticated() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.enforce(w, r, next, authz.Authenticated())
		})
	}
}

// RequireAdmin は管理者のみ通すミドルウェアを返す。
func (g *Guard) RequireAdmin() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.enforce(w, r, next, authz.Admin())
		})
	}
}

// RequireSelfOrAdmin はURLパラメータparamのユーザー本人か管理者のみ通すミドルウェアを返す。
// 判定順: 未認証なら401、IDが正の整数でなければ400、本人でも管理者でもなければ403。
func (g *Guard) RequireSelfOrAdmin(param string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			target, ok := user.ParseUserID(chi.URLParam(r, param))
			if !ok {
				d := g.gate.Authorize(r.Context(), g.SessionID(r), authz.Authenticated())
				if !d.Permitted() {
					response.Unauthenticated(w)
					return
				}
				response.Error(w, http.StatusBadRequest, "Invalid user ID", model.ErrCodeInvalidUserID)
				return
			}
			g.enforce(w, r, next, authz.SelfOrAdmin(target))
		})
	}
}

func (g *Guard) enforce(w http.ResponseWriter, r *http.Request, next http.Handler, level authz.Level) {
	d := g.gate.Authorize(r.Context(), g.SessionID(r), level)
	switch d.Outcome {
	case authz.Permitted:
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), d.Principal)))
	case authz.DeniedForbidden:
		setLogUserID(r.Context(), d.Principal.ID)
		response.Forbidden(w)
	default:
		response.Unauthenticated(w)
	}
}

// PrincipalFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// Guardのミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(principalContextKey).(*model.User)
	return u, ok && u != nil
}

// ContextWithPrincipal はコンテキストに認証済みユーザーを注入する。
// ログ用のリクエスト状態があればユーザーIDも記録する。
func ContextWithPrincipal(ctx context.Context, principal *model.User) context.Context {
	if principal != nil {
		setLogUserID(ctx, principal.ID)
	}
	return context.WithValue(ctx, principalContextKey, principal)
}
