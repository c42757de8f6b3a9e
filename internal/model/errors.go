// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"strings"
)

// 定義済みエラーコード。レスポンスの error フィールドに入る。
const (
	ErrCodeUnauthenticated        = "UNAUTHENTICATED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeIdentityExchangeFailed = "IDENTITY_EXCHANGE_FAILED"
	ErrCodeProfileIncomplete      = "PROFILE_INCOMPLETE"
	ErrCodeDuplicateEmail         = "DUPLICATE_EMAIL"
	ErrCodeDuplicateExternalID    = "DUPLICATE_EXTERNAL_ID"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeInvalidUserID          = "INVALID_USER_ID"
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeInternal               = "INTERNAL_ERROR"
	ErrCodeRateLimited            = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFFailed             = "CSRF_VALIDATION_FAILED"
	ErrCodeRouteNotFound          = "ROUTE_NOT_FOUND"
	ErrCodeMethodNotAllowed       = "METHOD_NOT_ALLOWED"
	ErrCodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
)

var (
	// ErrUnauthenticated はセッションが無い・無効・失効・期限切れのいずれかを表す。
	// 利用者にはどれに該当したかを区別させない。
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden は有効なセッションだが権限が足りないことを表す。
	ErrForbidden = errors.New("access denied")

	// ErrIdentityExchangeFailed はIdPが認可コードを拒否したか、通信に失敗したことを表す。
	ErrIdentityExchangeFailed = errors.New("identity exchange failed")

	// ErrProfileIncomplete はIdPのプロフィールに利用可能なメールアドレスが無いことを表す。
	ErrProfileIncomplete = errors.New("identity profile incomplete")

	// ErrDuplicateEmail はメールアドレスの一意制約違反。
	ErrDuplicateEmail = errors.New("email already in use")

	// ErrDuplicateExternalID は外部IDの一意制約違反。
	ErrDuplicateExternalID = errors.New("external identity already linked")

	// ErrUserNotFound は指定IDのユーザーが存在しないことを表す。
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateSessionID はセッションIDの衝突。発行側で再生成する。
	ErrDuplicateSessionID = errors.New("session id collision")
)

// ValidationError はリクエスト内容の検証エラーをまとめて保持する。
type ValidationError struct {
	Errors []string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return strings.Join(e.Errors, ", ")
}

// NewValidationError はValidationErrorを生成する。
func NewValidationError(errs ...string) *ValidationError {
	return &ValidationError{Errors: errs}
}
