package validate

import (
	"go.uber.org/zap"

	"recipe-importer/internal/core/parse"
	"recipe-importer/internal/pkg/common"
)

// Stage 過濾階段：Ingredient[] -> Ingredient[]，順序無關、可任意組合
type Stage func([]common.RawIngredient) []common.RawIngredient

// Apply 依序套用所有過濾階段
func Apply(items []common.RawIngredient, stages ...Stage) []common.RawIngredient {
	for _, stage := range stages {
		items = stage(items)
	}
	return items
}

// EvidenceStage 證據驗證階段，只檢查允許幻覺的來源
// 確定性解析器（schema、regex）的輸出本身就是來源文字，直接放行
func EvidenceStage(sourceText string) Stage {
	return func(items []common.RawIngredient) []common.RawIngredient {
		out := items[:0]
		for _, ing := range items {
			if !common.GenerativeSources[ing.Source] {
				out = append(out, ing)
				continue
			}
			reason, ok := CheckEvidence(ing, sourceText)
			if !ok {
				common.LogPolicyRejection("evidence_validation", reason,
					zap.String("食材", ing.Name),
					zap.String("來源層", string(ing.Source)),
				)
				continue
			}
			out = append(out, ing)
		}
		return out
	}
}

// RequireEvidenceStage 只要求證據片語非空，不做子字串比對
// 視覺層在來源完全沒有文字語料（無字幕）時退用此階段：
// 證據引用的是畫面上或口說的文字，無從交叉比對，但缺片語仍一律拒絕
func RequireEvidenceStage() Stage {
	return func(items []common.RawIngredient) []common.RawIngredient {
		out := items[:0]
		for _, ing := range items {
			if common.GenerativeSources[ing.Source] && ing.EvidencePhrase == "" {
				common.LogPolicyRejection("evidence_validation", RejectMissingEvidence,
					zap.String("食材", ing.Name),
					zap.String("來源層", string(ing.Source)),
				)
				continue
			}
			out = append(out, ing)
		}
		return out
	}
}

// SectionHeaderStage 小節標題過濾階段
// 驗證後的列表中出現的標題一律整筆移除，不再折疊為群組
func SectionHeaderStage() Stage {
	return func(items []common.RawIngredient) []common.RawIngredient {
		out := items[:0]
		for _, ing := range items {
			if reason, isHeader := parse.ClassifySectionHeader(ing.Name); isHeader {
				common.LogPolicyRejection("section_header_filter", reason,
					zap.String("項目", ing.Name),
					zap.String("來源層", string(ing.Source)),
				)
				continue
			}
			out = append(out, ing)
		}
		return out
	}
}

// ConfidenceStage 為缺信心值的食材補上來源層基礎信任度
func ConfidenceStage() Stage {
	return func(items []common.RawIngredient) []common.RawIngredient {
		for i := range items {
			if items[i].Confidence == 0 {
				items[i].Confidence = common.SourceBaseConfidence[items[i].Source]
			}
		}
		return items
	}
}
