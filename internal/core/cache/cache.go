// Package cache 實作內容定址的擷取快取：
// 相同輸入（URL、標題、描述、使用者文字）在管線版本不變時直接回放結果
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"recipe-importer/internal/core/normalize"
	"recipe-importer/internal/pkg/common"
)

// Key 由來源內容與管線版本生成快取鍵
// 管線版本調升是唯一支援的邏輯失效機制：提示詞或驗證規則變更時
// 必須調升版本字串，否則舊結果會以新語意被回放
func Key(bundle *common.SourceBundle, pipelineVersion string) string {
	parts := []string{
		normalize.Text(bundle.URL),
		normalize.Text(bundle.Title),
		normalize.Text(bundle.Description),
		normalize.Text(bundle.UserSuppliedText),
		pipelineVersion,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "extract:" + hex.EncodeToString(sum[:])
}

// Entry 快取條目，只快取成功結果（失敗不做負面快取）
type Entry struct {
	Ingredients  []common.MergedIngredient `json:"ingredients"`
	Instructions []common.Step             `json:"instructions"`
	Confidence   float64                   `json:"confidence"`
	TiersUsed    []string                  `json:"tiers_used"`
	CostCents    int                       `json:"cost_cents"`
	CreatedAt    time.Time                 `json:"created_at"`
	ExpiresAt    time.Time                 `json:"expires_at"`
	HitCount     int64                     `json:"hit_count"`
}

// Expired 條目是否已過期
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
