// Package pregate 在付費擷取層之前執行廉價的品質信號預檢
// 寧可漏掉可用來源（false negative），也不為注定空手的呼叫付費
package pregate

import (
	"regexp"
	"strings"

	"recipe-importer/internal/core/normalize"
)

// 預檢拒絕原因碼
const (
	ReasonTooShort    = "description_too_short"
	ReasonNoSignals   = "no_recipe_signals"
	ReasonWeakSignals = "weak_signals_only"
	ReasonPassed      = "passed"
)

// Result 預檢結果
type Result struct {
	ShouldSkipExpensiveExtraction bool    `json:"should_skip_expensive_extraction"`
	Reason                        string  `json:"reason"`
	EstimatedConfidence           float64 `json:"estimated_confidence"`
}

// Gate 品質信號預檢器
type Gate struct {
	minTextLength int
}

// New 創建預檢器
func New(minTextLength int) *Gate {
	if minTextLength <= 0 {
		minTextLength = 100
	}
	return &Gate{minTextLength: minTextLength}
}

var (
	quantityUnitPattern = regexp.MustCompile(`(?i)\b\d+(?:[./]\d+)?\s*(?:cups?|tbsps?|tablespoons?|tsps?|teaspoons?|oz|ounces?|lbs?|pounds?|g|grams?|kg|ml|l|liters?|litres?|cloves?|cans?|sticks?|slices?|pinch(?:es)?)\b`)
	fractionPattern     = regexp.MustCompile(`[¼½¾⅓⅔⅕⅖⅗⅘⅙⅚⅛⅜⅝⅞]|\b\d+/\d+\b`)
	listLinePattern     = regexp.MustCompile(`(?m)^\s*(?:[-•▢*·]|\d+[.)])\s+\S`)
	keywordPattern      = regexp.MustCompile(`(?i)\b(?:ingredients?|recipe|instructions?|directions?|you(?:'ll| will) need)\b`)
)

// commonIngredientWords 常見食材詞表，兩個以上命中視為弱信號
var commonIngredientWords = []string{
	"salt", "pepper", "butter", "sugar", "flour", "oil", "garlic", "onion",
	"egg", "milk", "water", "cheese", "chicken", "beef", "pork", "rice",
	"soy sauce", "vinegar", "honey", "lemon", "tomato", "cream", "ginger",
	"basil", "cilantro", "parsley", "chili", "noodle", "pasta",
}

// Check 檢查文字是否值得送往付費擷取層
func (g *Gate) Check(text string) Result {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < g.minTextLength {
		return Result{
			ShouldSkipExpensiveExtraction: true,
			Reason:                        ReasonTooShort,
			EstimatedConfidence:           0,
		}
	}

	hasQuantityUnit := quantityUnitPattern.MatchString(trimmed)
	hasFraction := fractionPattern.MatchString(trimmed)
	hasListStructure := countListLines(trimmed) >= 2
	hasKeyword := keywordPattern.MatchString(trimmed)
	ingredientHits := countIngredientWords(trimmed)

	strongSignals := 0
	if hasQuantityUnit {
		strongSignals++
	}
	if hasFraction {
		strongSignals++
	}
	if hasListStructure {
		strongSignals++
	}
	if hasKeyword {
		strongSignals++
	}

	if strongSignals == 0 && ingredientHits < 2 {
		return Result{
			ShouldSkipExpensiveExtraction: true,
			Reason:                        ReasonNoSignals,
			EstimatedConfidence:           0,
		}
	}

	// 只有常見食材詞、沒有結構或份量：仍跳過，但記錄較低的估計信心
	if strongSignals == 0 {
		return Result{
			ShouldSkipExpensiveExtraction: true,
			Reason:                        ReasonWeakSignals,
			EstimatedConfidence:           0.3,
		}
	}

	confidence := 0.5 + 0.1*float64(strongSignals)
	if ingredientHits >= 2 {
		confidence += 0.05
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Result{
		ShouldSkipExpensiveExtraction: false,
		Reason:                        ReasonPassed,
		EstimatedConfidence:           confidence,
	}
}

func countListLines(text string) int {
	return len(listLinePattern.FindAllString(text, -1))
}

func countIngredientWords(text string) int {
	lowered := normalize.Text(text)
	hits := 0
	for _, w := range commonIngredientWords {
		if strings.Contains(lowered, w) {
			hits++
		}
	}
	return hits
}
