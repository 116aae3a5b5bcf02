package parse

import (
	"regexp"
	"strings"
)

// 標題過濾原因碼，與七種判定模式一一對應
const (
	HeaderTrailingColon     = "trailing_colon"
	HeaderForThePhrase      = "for_the_phrase"
	HeaderVocabulary        = "header_vocabulary"
	HeaderAllCaps           = "all_caps"
	HeaderLeadingFor        = "leading_for"
	HeaderNumbered          = "numbered_header"
	HeaderParentheticalOnly = "parenthetical_only"
)

// headerVocabulary 已知的小節標題詞彙，含食譜結構的後設標題
var headerVocabulary = map[string]bool{
	"sauce":        true,
	"marinade":     true,
	"garnish":      true,
	"topping":      true,
	"toppings":     true,
	"dressing":     true,
	"filling":      true,
	"frosting":     true,
	"glaze":        true,
	"batter":       true,
	"dough":        true,
	"crust":        true,
	"base":         true,
	"seasoning":    true,
	"spice mix":    true,
	"ingredients":  true,
	"instructions": true,
	"directions":   true,
	"method":       true,
	"notes":        true,
	"optional":     true,
	"equipment":    true,
}

var (
	forThePattern         = regexp.MustCompile(`(?i)^for\s+the\s+\S+`)
	numberedHeaderPattern = regexp.MustCompile(`^(?:step\s*)?\d+\s*[.):]\s*$|(?i)^(?:part|step)\s+\d+\b`)
	parentheticalPattern  = regexp.MustCompile(`^\(.*\)$`)
)

// ClassifySectionHeader 判斷候選食材名稱是否為誤入列表的小節標題
// 依序套用七種模式，回傳第一個命中的原因碼；未命中回傳 ok=false
func ClassifySectionHeader(name string) (reason string, ok bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}

	// 1. 尾隨冒號："Sauce:"
	if strings.HasSuffix(trimmed, ":") || strings.HasSuffix(trimmed, "：") {
		return HeaderTrailingColon, true
	}

	// 2. "for the X" 措辭
	if forThePattern.MatchString(trimmed) {
		return HeaderForThePhrase, true
	}

	// 3. 已知標題詞彙
	if headerVocabulary[strings.ToLower(strings.TrimRight(trimmed, ":："))] {
		return HeaderVocabulary, true
	}

	// 4. 全大寫且長度 > 2
	if len(trimmed) > 2 && isAllCaps(trimmed) {
		return HeaderAllCaps, true
	}

	// 5. 開頭 "For "
	if strings.HasPrefix(trimmed, "For ") {
		return HeaderLeadingFor, true
	}

	// 6. 編號標題："Part 2"、"Step 1:"
	if numberedHeaderPattern.MatchString(trimmed) {
		return HeaderNumbered, true
	}

	// 7. 純括號內容："(see notes)"
	if parentheticalPattern.MatchString(trimmed) {
		return HeaderParentheticalOnly, true
	}

	return "", false
}

// HeaderLabel 取出標題的群組標籤（去掉冒號與 "for the" 前綴）
func HeaderLabel(name string) string {
	label := strings.TrimSpace(name)
	label = strings.TrimRight(label, ":：")
	lower := strings.ToLower(label)
	if strings.HasPrefix(lower, "for the ") {
		label = label[len("for the "):]
	} else if strings.HasPrefix(lower, "for ") {
		label = label[len("for "):]
	}
	return strings.TrimSpace(label)
}

// isAllCaps 字母全為大寫且至少含一個字母
func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}
