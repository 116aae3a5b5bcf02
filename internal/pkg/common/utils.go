package common

import "github.com/google/uuid"

// NewAttemptID 產生擷取嘗試的追蹤識別碼，只存活在單次請求的日誌中
func NewAttemptID() string {
	return uuid.New().String()
}
