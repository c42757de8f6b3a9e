package middleware

import (
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/hitoshi/gatekeeper/internal/model"
	"github.com/hitoshi/gatekeeper/internal/response"
)

// MessageTooManyRequests はレート制限超過時のメッセージ。
const MessageTooManyRequests = "Too many requests. Please try again later."

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(int(math.Ceil(1.0/float64(r))), 1)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	response.Error(w, http.StatusTooManyRequests, MessageTooManyRequests, model.ErrCodeRateLimited)
}

// writeCSRFFailure はCSRFトークン検証失敗の403レスポンスを書き込む。
func writeCSRFFailure(w http.ResponseWriter) {
	response.Error(w, http.StatusForbidden, "CSRF token validation failed", model.ErrCodeCSRFFailed)
}
