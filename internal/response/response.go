// Package response はAPIレスポンスの統一フォーマットを提供する。
//
// 成功時:   {"success":true,"message":...,"data":...,"timestamp":...}
// 失敗時:   {"success":false,"message":...,"error":...,"timestamp":...}
// 一覧取得: 成功時の形に "pagination" を加える。
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/gatekeeper/internal/model"
)

// timestampLayout はISO 8601（ミリ秒、UTC）。
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// MessageAuthenticationRequired は未認証時の統一メッセージ。
// セッションが無いのか失効したのかは区別しない。
const MessageAuthenticationRequired = "Authentication required. Please log in."

// now はテストで差し替える。
var now = time.Now

// Envelope はすべてのレスポンスの外枠。
type Envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Data       any         `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

// Pagination はページング情報。
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination は総件数からページ数を計算する。
func NewPagination(page, limit, total int) *Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// Success は成功レスポンスを書き込む。
func Success(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Error はエラーレスポンスを書き込む。detailは空なら省略する。
func Error(w http.ResponseWriter, status int, message, detail string) {
	write(w, status, Envelope{Success: false, Message: message, Error: detail})
}

// Paginated はページング付きの一覧レスポンスを書き込む。
func Paginated(w http.ResponseWriter, message string, data any, page, limit, total int) {
	write(w, http.StatusOK, Envelope{
		Success:    true,
		Message:    message,
		Data:       data,
		Pagination: NewPagination(page, limit, total),
	})
}

// ValidationFailed は検証エラーを422で書き込む。個々のエラーは ", " で連結する。
func ValidationFailed(w http.ResponseWriter, errs []string) {
	Error(w, http.StatusUnprocessableEntity, "Validation failed", strings.Join(errs, ", "))
}

// Unauthenticated は401の統一レスポンスを書き込む。
func Unauthenticated(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, MessageAuthenticationRequired, model.ErrCodeUnauthenticated)
}

// Forbidden は403レスポンスを書き込む。
func Forbidden(w http.ResponseWriter) {
	Error(w, http.StatusForbidden, "Access denied", model.ErrCodeForbidden)
}

// InternalError は500レスポンスを書き込む。詳細は返さない。
func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "Internal server error", model.ErrCodeInternal)
}

// FromError はサービス層のエラーを対応するステータスのレスポンスに変換する。
// 対応表に無いエラーは内容をログにのみ残して500を返す。
func FromError(w http.ResponseWriter, err error) {
	var validationErr *model.ValidationError
	switch {
	case errors.As(err, &validationErr):
		ValidationFailed(w, validationErr.Errors)
	case errors.Is(err, model.ErrUnauthenticated):
		Unauthenticated(w)
	case errors.Is(err, model.ErrForbidden):
		Forbidden(w)
	case errors.Is(err, model.ErrUserNotFound):
		Error(w, http.StatusNotFound, "User not found", model.ErrCodeUserNotFound)
	case errors.Is(err, model.ErrDuplicateEmail):
		Error(w, http.StatusConflict, "Email already in use", model.ErrCodeDuplicateEmail)
	case errors.Is(err, model.ErrDuplicateExternalID):
		Error(w, http.StatusConflict, "Identity already linked to another user", model.ErrCodeDuplicateExternalID)
	case errors.Is(err, model.ErrIdentityExchangeFailed):
		Error(w, http.StatusBadGateway, "Login with the identity provider failed", model.ErrCodeIdentityExchangeFailed)
	case errors.Is(err, model.ErrProfileIncomplete):
		Error(w, http.StatusUnprocessableEntity, "Identity provider did not return a usable email", model.ErrCodeProfileIncomplete)
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		InternalError(w)
	}
}

func write(w http.ResponseWriter, status int, body Envelope) {
	body.Timestamp = now().UTC().Format(timestampLayout)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
