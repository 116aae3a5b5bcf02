// Package validate 實作防幻覺閘門：證據驗證與小節標題過濾
// 兩者都是可組合的過濾階段，新增的生成式擷取層自動繼承保證，無需額外接線
package validate

import (
	"strings"

	"recipe-importer/internal/core/normalize"
	"recipe-importer/internal/pkg/common"
)

// 證據驗證拒絕原因碼
const (
	RejectEmptySource     = "empty_source_text"
	RejectMissingEvidence = "missing_evidence_phrase"
	RejectNotInSource     = "evidence_not_in_source"
)

// CheckEvidence 驗證食材聲稱的證據片語確實是來源文字的子字串
// 這是阻止生成式擷取器捏造食材的唯一機制，驗證一律 fail closed：
// 來源為空、證據缺失、找不到子字串都直接拒絕，沒有部分給分
func CheckEvidence(ing common.RawIngredient, sourceText string) (string, bool) {
	if strings.TrimSpace(sourceText) == "" {
		return RejectEmptySource, false
	}
	if strings.TrimSpace(ing.EvidencePhrase) == "" {
		return RejectMissingEvidence, false
	}

	normalizedSource := normalize.Text(sourceText)
	normalizedEvidence := normalize.Text(ing.EvidencePhrase)
	if normalizedEvidence == "" {
		return RejectMissingEvidence, false
	}
	if !strings.Contains(normalizedSource, normalizedEvidence) {
		return RejectNotInSource, false
	}
	return "", true
}
