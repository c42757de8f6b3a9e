package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/gatekeeper/internal/middleware"
	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/response"
	"github.com/hitoshi/gatekeeper/internal/user"
)

// maxRequestBodySize はリクエストボディの上限（1MB）。
const maxRequestBodySize = 1 << 20

// UserService はユーザーハンドラーが必要とするサービスインターフェース。user.Service が実装する。
type UserService interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdateProfile(ctx context.Context, id int64, input user.ProfileInput) (*model.User, error)
	ListUsers(ctx context.Context, page, limit int) ([]*model.User, int, error)
	DeleteUser(ctx context.Context, id int64) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserService
	cookie  CookieConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserService, cookie CookieConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookie:  cookie,
	}
}

// updateProfileRequest はプロフィール更新のリクエストボディ。
type updateProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /api/users/profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w)
		return
	}

	u, err := h.service.GetUser(r.Context(), principal.ID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "User profile retrieved successfully", toUserResponse(u))
}

// UpdateProfile はログインユーザーの名前とメールアドレスを更新する。
// PUT /api/users/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", model.ErrCodeValidationFailed)
		return
	}

	input, err := user.ValidateProfile(req.Name, req.Email)
	if err != nil {
		response.FromError(w, err)
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), principal.ID, input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "Profile updated successfully", toUserResponse(updated))
}

// DeleteAccount はログインユーザーの退会処理を行う。
// DELETE /api/users/profile
// 全セッションを失効させ、セッションCookieもクリアする。
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w)
		return
	}

	if err := h.service.DeleteUser(r.Context(), principal.ID); err != nil {
		response.FromError(w, err)
		return
	}

	h.cookie.clearSession(w)
	response.Success(w, http.StatusOK, "Account deleted successfully", nil)
}

// ListUsers はユーザー一覧を返す（管理者のみ）。
// GET /api/users?page=1&limit=10
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, err := user.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("limit"))
	if err != nil {
		response.FromError(w, err)
		return
	}

	users, total, err := h.service.ListUsers(r.Context(), page, limit)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Paginated(w, "Users retrieved successfully", toUserResponses(users), page, limit, total)
}

// GetUser は指定IDのユーザーを返す（本人または管理者）。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := user.ParseUserID(chi.URLParam(r, "id"))
	if !ok {
		writeInvalidUserID(w)
		return
	}

	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "User retrieved successfully", toUserResponse(u))
}

// DeleteUser は指定IDのユーザーを削除する（管理者のみ）。
// DELETE /api/users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := user.ParseUserID(chi.URLParam(r, "id"))
	if !ok {
		writeInvalidUserID(w)
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "User deleted successfully", nil)
}

func writeInvalidUserID(w http.ResponseWriter) {
	response.Error(w, http.StatusBadRequest, "Invalid user ID", model.ErrCodeInvalidUserID)
}
