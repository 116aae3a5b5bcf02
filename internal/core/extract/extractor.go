// Package extract 實作擷取階梯的各層：結構化標記、正則、文字模型、
// 視覺模型、語音與留言。所有層共用同一介面，由管線依序調度
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recipe-importer/internal/pkg/common"
)

// Output 單一擷取層的輸出
type Output struct {
	Ingredients  []common.RawIngredient
	Instructions []common.Step
	CostCents    int
	// Terminal 表示此層的結果可整包接受，階梯就此終止（結構化標記專用）
	Terminal bool
	// EvidenceCorpus 證據驗證的比對語料，由各生成式層自行指定
	// （文字層用主要文字、逐字稿層用字幕、留言層用命中的留言本身）
	EvidenceCorpus string
}

// Extractor 擷取層介面，階梯是一組可互換的策略物件
type Extractor interface {
	// Name 回傳層名稱，用於 tiers_used 與日誌
	Name() string

	// Extract 對來源執行一次擷取，無可用內容時回傳空輸出而非錯誤
	Extract(ctx context.Context, bundle *common.SourceBundle) (*Output, error)
}

// UpstreamError 上游服務錯誤，依狀態碼區分暫時性與永久性
type UpstreamError struct {
	StatusCode int
	RetryAfter time.Duration // 伺服器指定的重試延遲（若有）
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Transient 僅 429 與 5xx 視為暫時性，其餘 4xx 為永久失敗不重試
func (e *UpstreamError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500 || e.StatusCode == 0
}

// IsTransient 判斷錯誤是否值得重試
func IsTransient(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}
	// 網路層錯誤（逾時、連線中斷）視為暫時性
	return errors.Is(err, context.DeadlineExceeded)
}

// backoffDelay 指數退避：1s/2s/4s，上限 10s；伺服器指定延遲優先
func backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > 10*time.Second {
			return 10 * time.Second
		}
		return retryAfter
	}
	delay := time.Second << uint(attempt)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	return delay
}

// retryTransient 對暫時性錯誤執行最多 maxRetries 次重試
func retryTransient(ctx context.Context, maxRetries int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			var retryAfter time.Duration
			var ue *UpstreamError
			if errors.As(lastErr, &ue) {
				retryAfter = ue.RetryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt-1, retryAfter)):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// ingredientCountConfidence 食材數量對應的信心階梯函數
func ingredientCountConfidence(count int) float64 {
	switch {
	case count == 0:
		return 0
	case count <= 2:
		return 0.60
	case count <= 4:
		return 0.75
	default:
		return 0.85
	}
}
