package common

import (
	"errors"
	"net/http"
)

// ErrorResponse 定義 API 錯誤響應結構
type ErrorResponse struct {
	Code    string      `json:"code"`              // 錯誤代碼
	Message string      `json:"message"`           // 錯誤信息
	Details string      `json:"details,omitempty"` // 詳細信息（僅在開發模式顯示）
	Quota   interface{} `json:"quota,omitempty"`   // 配額相關拒絕時附上剩餘額度
}

// CustomError 定義自定義錯誤類型
type CustomError struct {
	Code    string // 錯誤代碼
	Message string // 錯誤信息
	Err     error  // 原始錯誤
	Status  int    // HTTP 狀態碼
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap 回傳原始錯誤，支援 errors.Is/As
func (e *CustomError) Unwrap() error {
	return e.Err
}

// NewError 創建新的自定義錯誤
func NewError(code string, message string, status int, err error) *CustomError {
	return &CustomError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// WithErr 複製錯誤並附上原始錯誤
func (e *CustomError) WithErr(err error) *CustomError {
	return &CustomError{
		Code:    e.Code,
		Message: e.Message,
		Status:  e.Status,
		Err:     err,
	}
}

// AsCustomError 取出 CustomError，不是則回傳 nil
func AsCustomError(err error) *CustomError {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// 預定義錯誤代碼
const (
	// 客戶端錯誤 (4xx)
	ErrCodeInvalidRequest   = "INVALID_REQUEST"    // 400
	ErrCodeUnauthorized     = "UNAUTHORIZED"       // 401
	ErrCodeForbidden        = "FORBIDDEN"          // 403
	ErrCodeNotFound         = "NOT_FOUND"          // 404
	ErrCodeRequestTimeout   = "REQUEST_TIMEOUT"    // 408
	ErrCodeTooManyRequests  = "TOO_MANY_REQUESTS"  // 429

	// 服務器錯誤 (5xx)
	ErrCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"     // 504

	// 擷取管線錯誤
	ErrCodeBudgetExceeded       = "BUDGET_EXCEEDED"        // 月配額或每日預算用罄
	ErrCodeRateLimited          = "RATE_LIMITED"           // 每小時呼叫上限
	ErrCodeNoExtractableContent = "NO_EXTRACTABLE_CONTENT" // 所有擷取層耗盡
	ErrCodeUpstreamService      = "UPSTREAM_SERVICE_ERROR" // 上游模型服務失敗
)

// 預定義錯誤
var (
	// 客戶端錯誤
	ErrInvalidRequest  = NewError(ErrCodeInvalidRequest, "無效的請求", http.StatusBadRequest, nil)
	ErrUnauthorized    = NewError(ErrCodeUnauthorized, "未授權的訪問", http.StatusUnauthorized, nil)
	ErrNotFound        = NewError(ErrCodeNotFound, "資源不存在", http.StatusNotFound, nil)
	ErrRequestTimeout  = NewError(ErrCodeRequestTimeout, "請求超時", http.StatusRequestTimeout, nil)
	ErrTooManyRequests = NewError(ErrCodeTooManyRequests, "請求過於頻繁", http.StatusTooManyRequests, nil)

	// 服務器錯誤
	ErrInternalError      = NewError(ErrCodeInternalError, "服務器內部錯誤", http.StatusInternalServerError, nil)
	ErrServiceUnavailable = NewError(ErrCodeServiceUnavailable, "服務暫時不可用", http.StatusServiceUnavailable, nil)
	ErrGatewayTimeout     = NewError(ErrCodeGatewayTimeout, "網關超時", http.StatusGatewayTimeout, nil)

	// 擷取管線錯誤
	ErrBudgetExceeded       = NewError(ErrCodeBudgetExceeded, "擷取配額已用罄", http.StatusPaymentRequired, nil)
	ErrRateLimited          = NewError(ErrCodeRateLimited, "擷取頻率超過上限", http.StatusTooManyRequests, nil)
	ErrNoExtractableContent = NewError(ErrCodeNoExtractableContent, "來源中找不到可擷取的食譜內容", http.StatusUnprocessableEntity, nil)
	ErrUpstreamService      = NewError(ErrCodeUpstreamService, "上游 AI 服務錯誤", http.StatusBadGateway, nil)

	// 快取錯誤
	ErrCacheMiss     = NewError("CACHE_MISS", "快取未命中", http.StatusNotFound, nil)
	ErrCacheDisabled = NewError("CACHE_DISABLED", "快取已禁用", http.StatusServiceUnavailable, nil)
)

// PolicyRejection 策略性拒絕（預檢跳過、證據驗證失敗、標題過濾）
// 屬於預期行為，不重試、不直接回傳給使用者，只記錄原因碼供遙測
type PolicyRejection struct {
	Reason string // 原因碼
	Detail string
}

func (e *PolicyRejection) Error() string {
	if e.Detail != "" {
		return e.Reason + ": " + e.Detail
	}
	return e.Reason
}

// NewPolicyRejection 創建策略性拒絕
func NewPolicyRejection(reason, detail string) *PolicyRejection {
	return &PolicyRejection{Reason: reason, Detail: detail}
}

// IsPolicyRejection 檢查是否為策略性拒絕
func IsPolicyRejection(err error) bool {
	var pr *PolicyRejection
	return errors.As(err, &pr)
}
