package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/gatekeeper/internal/authz"
	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/response"
	"github.com/hitoshi/gatekeeper/internal/session"
)

// --- テスト用モック ---

type mockUserFinder struct {
	users map[int64]*model.User
}

func (m *mockUserFinder) FindByID(_ context.Context, id int64) (*model.User, error) {
	return m.users[id], nil
}

// guardFixture は実際のセッション管理と認可ゲートの上にGuardを組み立てる。
// ユーザー1は管理者、7と9は一般ユーザー。
type guardFixture struct {
	guard    *Guard
	sessions *session.Manager
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	users := &mockUserFinder{users: map[int64]*model.User{
		1: {ID: 1, Name: "Admin", IsAdmin: true},
		7: {ID: 7, Name: "Seven"},
		9: {ID: 9, Name: "Nine"},
	}}
	mgr := session.NewManager(session.NewMemoryStore(), session.NewMemoryRevocationList(), time.Hour, nil)
	return &guardFixture{
		guard:    NewGuard(authz.NewGate(mgr, users, nil), "session_id"),
		sessions: mgr,
	}
}

func (f *guardFixture) login(t *testing.T, userID int64) string {
	t.Helper()
	s, err := f.sessions.Issue(context.Background(), userID)
	if err != nil {
		t.Fatalf("Issue(%d) error = %v", userID, err)
	}
	return s.ID
}

// principalEcho はコンテキストのプリンシパルIDを書き込むハンドラー。
func principalEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Error("principal should be in context")
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]int64{"id": p.ID})
	})
}

func do(h http.Handler, method, path, sid string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: sid})
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

// --- RequireAuthenticated ---

func TestRequireAuthenticated_ValidSession(t *testing.T) {
	f := newGuardFixture(t)
	h := f.guard.RequireAuthenticated()(principalEcho(t))

	w := do(h, http.MethodGet, "/api/auth/me", f.login(t, 7))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeEnvelope(t, w); body["id"] != float64(7) {
		t.Errorf("principal id = %v, want 7", body["id"])
	}
}

// 未認証の理由にかかわらず同じ401レスポンスを返す。
func TestRequireAuthenticated_UniformUnauthenticated(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	revoked := f.login(t, 7)
	if err := f.sessions.Destroy(ctx, revoked); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	tests := []struct {
		name string
		sid  string
	}{
		{"Cookie無し", ""},
		{"形式不正", "not-a-session"},
		{"未発行", "0000000000000000000000000000000000000000000000000000000000000000"},
		{"ログアウト済み", revoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := f.guard.RequireAuthenticated()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			w := do(h, http.MethodGet, "/api/dashboard", tt.sid)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			body := decodeEnvelope(t, w)
			if body["message"] != response.MessageAuthenticationRequired {
				t.Errorf("message = %v", body["message"])
			}
			if body["success"] != false {
				t.Errorf("success = %v", body["success"])
			}
		})
	}
}

// --- RequireAdmin ---

func TestRequireAdmin(t *testing.T) {
	f := newGuardFixture(t)
	h := f.guard.RequireAdmin()(principalEcho(t))

	tests := []struct {
		name       string
		sid        string
		wantStatus int
	}{
		{"管理者", f.login(t, 1), http.StatusOK},
		{"一般ユーザー", f.login(t, 7), http.StatusForbidden},
		{"未認証", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(h, http.MethodGet, "/api/users", tt.sid); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- RequireSelfOrAdmin ---

func TestRequireSelfOrAdmin(t *testing.T) {
	f := newGuardFixture(t)

	r := chi.NewRouter()
	r.With(f.guard.RequireSelfOrAdmin("id")).Get("/api/users/{id}", principalEcho(t).ServeHTTP)

	admin, seven, nine := f.login(t, 1), f.login(t, 7), f.login(t, 9)

	tests := []struct {
		name       string
		path       string
		sid        string
		wantStatus int
		wantError  string
	}{
		{"本人", "/api/users/7", seven, http.StatusOK, ""},
		{"他人", "/api/users/7", nine, http.StatusForbidden, model.ErrCodeForbidden},
		{"管理者", "/api/users/7", admin, http.StatusOK, ""},
		{"存在しないIDでも管理者は通す", "/api/users/42", admin, http.StatusOK, ""},
		{"未認証", "/api/users/7", "", http.StatusUnauthorized, model.ErrCodeUnauthenticated},
		{"ID不正", "/api/users/abc", seven, http.StatusBadRequest, model.ErrCodeInvalidUserID},
		{"ID不正かつ未認証は401を優先", "/api/users/abc", "", http.StatusUnauthorized, model.ErrCodeUnauthenticated},
		{"ID=0", "/api/users/0", admin, http.StatusBadRequest, model.ErrCodeInvalidUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, tt.sid)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantError != "" {
				if body := decodeEnvelope(t, w); body["error"] != tt.wantError {
					t.Errorf("error = %v, want %q", body["error"], tt.wantError)
				}
			}
		})
	}
}

// ログアウト後の同じCookieは即座に拒否される。
func TestGuard_RevokedSessionRejectedImmediately(t *testing.T) {
	f := newGuardFixture(t)
	h := f.guard.RequireAuthenticated()(principalEcho(t))
	sid := f.login(t, 7)

	if w := do(h, http.MethodGet, "/api/dashboard", sid); w.Code != http.StatusOK {
		t.Fatalf("before logout: status = %d", w.Code)
	}
	if err := f.sessions.Destroy(context.Background(), sid); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if w := do(h, http.MethodGet, "/api/dashboard", sid); w.Code != http.StatusUnauthorized {
		t.Errorf("after logout: status = %d, want 401", w.Code)
	}
}

func TestPrincipalFromContext_Empty(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("empty context should not have a principal")
	}
	if _, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), nil)); ok {
		t.Error("nil principal should not be reported")
	}
}
