package common

import (
	"fmt"
	"strings"
)

// SourceTag 標記食材來自哪一個擷取層
type SourceTag string

const (
	SourceSchema  SourceTag = "schema"   // 結構化標記（schema.org）
	SourceRegex   SourceTag = "regex"    // 行式正則解析
	SourceLLMText SourceTag = "llm_text" // 文字模型擷取
	SourceVision  SourceTag = "vision"   // 影片視覺模型擷取
	SourceASR     SourceTag = "asr"      // 語音轉文字
	SourceComment SourceTag = "comment"  // 留言擷取
)

// SourceBaseConfidence 各來源的基礎信任度（schema 最高、ASR 最低）
var SourceBaseConfidence = map[SourceTag]float64{
	SourceSchema:  0.95,
	SourceRegex:   0.85,
	SourceLLMText: 0.75,
	SourceVision:  0.70,
	SourceComment: 0.65,
	SourceASR:     0.55,
}

// GenerativeSources 允許幻覺的來源，其輸出必須通過證據驗證
var GenerativeSources = map[SourceTag]bool{
	SourceLLMText: true,
	SourceVision:  true,
	SourceASR:     true,
	SourceComment: true,
}

// SourceBundle 一次擷取嘗試的輸入單位，由外部抓取器產生後不再修改
type SourceBundle struct {
	URL                  string `json:"url"`
	Platform             string `json:"platform"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	UserSuppliedText     string `json:"user_supplied_text,omitempty"`
	VideoDurationSeconds int    `json:"video_duration_seconds,omitempty"`
	CaptionsText         string `json:"captions_text,omitempty"`
	HTML                 string `json:"html,omitempty"`     // 網頁原始標記（供結構化解析）
	VideoID              string `json:"video_id,omitempty"` // 供留言擷取使用
}

// PrimaryText 回傳主要文字來源（描述 + 使用者補充文字）
func (b *SourceBundle) PrimaryText() string {
	parts := make([]string, 0, 2)
	if strings.TrimSpace(b.Description) != "" {
		parts = append(parts, b.Description)
	}
	if strings.TrimSpace(b.UserSuppliedText) != "" {
		parts = append(parts, b.UserSuppliedText)
	}
	return strings.Join(parts, "\n")
}

// IsVideo 判斷來源是否為影片
func (b *SourceBundle) IsVideo() bool {
	return b.VideoDurationSeconds > 0 || b.VideoID != ""
}

// RawIngredient 單一擷取器的輸出，尚未經過驗證
type RawIngredient struct {
	Name           string    `json:"name"`
	Amount         string    `json:"amount,omitempty"`
	Unit           string    `json:"unit,omitempty"`
	EvidencePhrase string    `json:"evidence_phrase,omitempty"`
	Source         SourceTag `json:"source_tag"`
	Confidence     float64   `json:"confidence"`
	Group          string    `json:"group,omitempty"`
	Optional       bool      `json:"optional,omitempty"`
}

// MergedIngredient 跨來源合併後的食材
type MergedIngredient struct {
	Name       string      `json:"name"`
	Amount     float64     `json:"amount,omitempty"`
	AmountText string      `json:"amount_text,omitempty"` // 質化份量（如「適量」）
	Unit       string      `json:"unit,omitempty"`
	Group      string      `json:"group,omitempty"`
	Confidence float64     `json:"confidence"`
	Conflict   bool        `json:"conflict"`
	Optional   bool        `json:"optional,omitempty"`
	Sources    []SourceTag `json:"sources"`
}

// Step 料理步驟
type Step struct {
	StepNumber      int    `json:"step_number"`
	Description     string `json:"description"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// 快取狀態
const (
	CacheStatusCached = "cached"
	CacheStatusFresh  = "fresh"
)

// ExtractionResult 對外回傳的擷取結果
type ExtractionResult struct {
	Ingredients  []MergedIngredient `json:"ingredients"`
	Instructions []Step             `json:"instructions"`
	Confidence   float64            `json:"confidence"`
	CostCents    int                `json:"cost_cents"`
	CacheStatus  string             `json:"cache_status"`
	TiersUsed    []string           `json:"tiers_used"`
}

// OperationType 配額操作類型
type OperationType string

const (
	OperationScan   OperationType = "scan"   // 快速掃描
	OperationImport OperationType = "import" // 完整匯入
)

// UserTier 使用者方案
type UserTier string

const (
	TierFree UserTier = "free"
	TierPaid UserTier = "paid"
)

// FormatRawIngredients 格式化食材列表（供日誌與提示詞使用）
func FormatRawIngredients(ingredients []RawIngredient) string {
	var sb strings.Builder
	for _, ing := range ingredients {
		sb.WriteString(fmt.Sprintf("- %s", ing.Name))
		if ing.Amount != "" {
			sb.WriteString(fmt.Sprintf(": %s %s", ing.Amount, ing.Unit))
		}
		if ing.Group != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", ing.Group))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
