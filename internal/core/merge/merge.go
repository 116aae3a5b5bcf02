// Package merge 實作跨來源食材調和：
// 不同擷取層各自產出的食材清單，依正規化名稱鍵分組後合併為單一權威清單
package merge

import (
	"sort"

	"go.uber.org/zap"

	"recipe-importer/internal/core/normalize"
	"recipe-importer/internal/pkg/common"
)

// 合併信心值常數
const (
	agreementConfidence = 0.95 // 多來源數量完全一致
	conflictCap         = 0.65 // 數量衝突時的信心上限
	conflictPenalty     = 0.10 // 整體信心的衝突扣分
	confidenceFloor     = 0.60 // 扣分後的下限
)

// TieBreak 衝突裁決策略：多來源數量不一致時挑選勝出者
// 預設偏好視覺來源（畫面上的量測視為基準事實），但這是未經驗證的
// 啟發式，保留為可插拔策略以便日後實證調整
type TieBreak func(candidates []common.RawIngredient) common.RawIngredient

// PreferVision 預設裁決：有視覺來源就用視覺的數量，否則取信心最高者
func PreferVision(candidates []common.RawIngredient) common.RawIngredient {
	best := candidates[0]
	for _, c := range candidates {
		if c.Source == common.SourceVision {
			return c
		}
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

// Result 合併結果
type Result struct {
	Ingredients []common.MergedIngredient
	// Confidence 整體嘗試信心：各項平均，有衝突扣 0.10，下限 0.60
	Confidence float64
	// Conflicts 記錄到的數量衝突筆數
	Conflicts int
}

// Merger 跨來源合併器
type Merger struct {
	tieBreak TieBreak
}

// New 創建合併器，tieBreak 為 nil 時採用預設的視覺優先策略
func New(tieBreak TieBreak) *Merger {
	if tieBreak == nil {
		tieBreak = PreferVision
	}
	return &Merger{tieBreak: tieBreak}
}

// Merge 調和多個來源的已驗證食材
func (m *Merger) Merge(validated []common.RawIngredient) *Result {
	if len(validated) == 0 {
		return &Result{}
	}

	// 依名稱鍵分組，保持首見順序
	groups := make(map[string][]common.RawIngredient)
	order := make([]string, 0, len(validated))
	for _, ing := range validated {
		key := normalize.NameKey(ing.Name)
		if key == "" {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ing)
	}

	result := &Result{Ingredients: make([]common.MergedIngredient, 0, len(order))}
	var confidenceSum float64

	for _, key := range order {
		merged := m.mergeGroup(groups[key])
		if merged.Conflict {
			result.Conflicts++
		}
		confidenceSum += merged.Confidence
		result.Ingredients = append(result.Ingredients, merged)
	}

	if len(result.Ingredients) == 0 {
		return result
	}

	overall := confidenceSum / float64(len(result.Ingredients))
	if result.Conflicts > 0 {
		overall -= conflictPenalty
		common.LogWarn("合併發現數量衝突",
			zap.Int("衝突筆數", result.Conflicts),
			zap.Float64("整體信心", overall),
		)
	}
	if overall < confidenceFloor {
		overall = confidenceFloor
	}
	result.Confidence = overall
	return result
}

// mergeGroup 合併單一名稱鍵下的所有出現
func (m *Merger) mergeGroup(group []common.RawIngredient) common.MergedIngredient {
	first := group[0]
	merged := common.MergedIngredient{
		Name:     first.Name,
		Group:    first.Group,
		Optional: first.Optional,
		Sources:  sourceTags(group),
	}

	// 單一來源直接放行
	if len(group) == 1 {
		applyAmount(&merged, first)
		merged.Confidence = first.Confidence
		return merged
	}

	withAmount := make([]common.RawIngredient, 0, len(group))
	for _, ing := range group {
		if ing.Amount != "" {
			withAmount = append(withAmount, ing)
		}
	}

	switch {
	case len(withAmount) == 0:
		// 沒有任何來源給數量，保留首見者
		applyAmount(&merged, first)
		merged.Confidence = maxConfidence(group)
	case len(withAmount) == 1:
		applyAmount(&merged, withAmount[0])
		merged.Unit = withAmount[0].Unit
		merged.Confidence = maxConfidence(group)
	case amountsAgree(withAmount):
		// 多來源完全一致，信心提升
		applyAmount(&merged, withAmount[0])
		merged.Unit = withAmount[0].Unit
		merged.Confidence = agreementConfidence
	default:
		// 數量衝突：記錄衝突、交由裁決策略挑選、信心封頂
		winner := m.tieBreak(withAmount)
		applyAmount(&merged, winner)
		merged.Unit = winner.Unit
		merged.Conflict = true
		merged.Confidence = conflictCap
	}

	if merged.Unit == "" {
		merged.Unit = first.Unit
	}
	return merged
}

// applyAmount 填入數量：可量化的轉為數值，定性描述保留原文
func applyAmount(merged *common.MergedIngredient, ing common.RawIngredient) {
	merged.AmountText = ing.Amount
	if merged.Unit == "" {
		merged.Unit = ing.Unit
	}
	if value, ok := normalize.Amount(ing.Amount); ok {
		merged.Amount = value
	}
}

// amountsAgree 所有來源的正規化數量與單位完全一致
func amountsAgree(group []common.RawIngredient) bool {
	refAmount, refOK := normalize.Amount(group[0].Amount)
	refUnit := normalize.Unit(group[0].Unit)
	for _, ing := range group[1:] {
		amount, ok := normalize.Amount(ing.Amount)
		if ok != refOK || amount != refAmount {
			return false
		}
		if normalize.Unit(ing.Unit) != refUnit {
			return false
		}
		if !refOK && normalize.Text(ing.Amount) != normalize.Text(group[0].Amount) {
			return false
		}
	}
	return true
}

func maxConfidence(group []common.RawIngredient) float64 {
	best := group[0].Confidence
	for _, ing := range group[1:] {
		if ing.Confidence > best {
			best = ing.Confidence
		}
	}
	return best
}

func sourceTags(group []common.RawIngredient) []common.SourceTag {
	seen := make(map[common.SourceTag]bool, len(group))
	tags := make([]common.SourceTag, 0, len(group))
	for _, ing := range group {
		if !seen[ing.Source] {
			seen[ing.Source] = true
			tags = append(tags, ing.Source)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
