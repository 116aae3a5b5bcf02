// Package parse 實作確定性解析器：結構化標記解析與行式正則解析
// 兩者皆不產生幻覺，是擷取階梯最便宜的兩層
package parse

import (
	"regexp"
	"strings"

	"recipe-importer/internal/core/normalize"
	"recipe-importer/internal/pkg/common"
)

// 各模式層的信心值
const (
	confQuantityUnitName = 0.92
	confUnitName         = 0.80
	confQualitative      = 0.75
	confBareBullet       = 0.65
)

var (
	bulletPrefixPattern = regexp.MustCompile(`^\s*[-•▢*·◦‣]\s*`)
	noisePatterns       = []*regexp.Regexp{
		regexp.MustCompile(`(?i)https?://|www\.`),
		regexp.MustCompile(`(?i)\b(?:subscribe|follow me|like and share|link in bio)\b`),
		regexp.MustCompile(`^\s*\d+[.)]\s`), // 編號步驟標記
		regexp.MustCompile(`^\s*#\S+(?:\s+#\S+)*\s*$`), // 純 hashtag
		regexp.MustCompile(`\S+@\S+\.\S+`),
	}

	quantityPattern = `\d+(?:\.\d+)?(?:\s+\d+/\d+)?|\d+/\d+`
	// 份量+單位+名稱："1 cup flour"、"2 tbsp soy sauce"
	quantityUnitNamePattern = regexp.MustCompile(`^(` + quantityPattern + `)\s*([a-z.]+)\s+(?:of\s+)?(.+)$`)
	// 份量+名稱（無單位）："2 eggs"
	quantityNamePattern = regexp.MustCompile(`^(` + quantityPattern + `)\s+(.+)$`)
	// 單位+名稱："cup of flour"
	unitNamePattern = regexp.MustCompile(`^([a-z.]+)\s+(?:of\s+)?(.+)$`)
	// 質化份量："pinch of salt"、"salt to taste"
	qualitativeLeadPattern  = regexp.MustCompile(`^(?:a\s+)?(pinch|dash|splash|handful|drizzle|sprinkle)\s+(?:of\s+)?(.+)$`)
	qualitativeTrailPattern = regexp.MustCompile(`^(.+?)[,\s]+\(?(to taste|to serve|to garnish|for garnish|as needed|optional)\)?$`)

	numberedStepPattern = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.+)$`)
	pureNumericPattern  = regexp.MustCompile(`^[\d\s./-]+$`)
)

// metaHeaders 食譜結構的後設標題，不能作為食材群組標籤
var metaHeaders = map[string]bool{
	"ingredients":  true,
	"instructions": true,
	"directions":   true,
	"method":       true,
	"notes":        true,
	"equipment":    true,
}

// garnishQualifiers 表示裝飾或調味性質的措辭，對應的食材標記為可省略
var garnishQualifiers = map[string]bool{
	"to taste":    true,
	"to garnish":  true,
	"for garnish": true,
	"to serve":    true,
	"as needed":   true,
	"optional":    true,
}

// RegexParser 行式正則食材解析器
type RegexParser struct{}

// NewRegexParser 創建行式解析器
func NewRegexParser() *RegexParser {
	return &RegexParser{}
}

// Parse 逐行解析自由文字，依四個模式層取出食材
// 中途遇到的小節標題成為後續食材的群組標籤，直到下一個標題或列表結尾
func (p *RegexParser) Parse(text string) []common.RawIngredient {
	var out []common.RawIngredient
	currentGroup := ""

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			// 空行視為列表結尾，群組標籤不跨列表
			currentGroup = ""
			continue
		}
		if isNoise(line) {
			continue
		}

		bulleted := bulletPrefixPattern.MatchString(line)
		stripped := bulletPrefixPattern.ReplaceAllString(line, "")

		// 中途標題：轉為群組標籤而不是丟棄
		// 後設標題（ingredients/instructions 等）只重置群組，不能當標籤
		if _, isHeader := ClassifySectionHeader(stripped); isHeader {
			label := HeaderLabel(stripped)
			if metaHeaders[strings.ToLower(label)] {
				currentGroup = ""
			} else {
				currentGroup = label
			}
			continue
		}

		ing, ok := p.parseLine(stripped, bulleted)
		if !ok {
			continue
		}
		ing.Group = currentGroup
		ing.EvidencePhrase = stripped
		ing.Source = common.SourceRegex
		out = append(out, ing)
	}

	return dedupeByName(out)
}

// parseLine 依優先序套用四個模式層
func (p *RegexParser) parseLine(line string, bulleted bool) (common.RawIngredient, bool) {
	normalized := normalize.Text(line)

	// 第一層：份量+單位+名稱
	if m := quantityUnitNamePattern.FindStringSubmatch(normalized); m != nil && normalize.KnownUnit(m[2]) {
		return common.RawIngredient{
			Name:       strings.TrimSpace(m[3]),
			Amount:     strings.TrimSpace(m[1]),
			Unit:       normalize.Unit(m[2]),
			Confidence: confQuantityUnitName,
		}, true
	}

	// 第一層變體：份量+名稱（"2 eggs"）
	if m := quantityNamePattern.FindStringSubmatch(normalized); m != nil && !pureNumericPattern.MatchString(m[2]) {
		return common.RawIngredient{
			Name:       strings.TrimSpace(m[2]),
			Amount:     strings.TrimSpace(m[1]),
			Confidence: confQuantityUnitName,
		}, true
	}

	// 第三層（前置詞形式）：質化份量詞是單位表的子集，必須先於第二層比對
	if m := qualitativeLeadPattern.FindStringSubmatch(normalized); m != nil {
		return common.RawIngredient{
			Name:       strings.TrimSpace(m[2]),
			Amount:     m[1],
			Confidence: confQualitative,
		}, true
	}

	// 第二層：單位+名稱
	if m := unitNamePattern.FindStringSubmatch(normalized); m != nil && normalize.KnownUnit(m[1]) {
		return common.RawIngredient{
			Name:       strings.TrimSpace(m[2]),
			Unit:       normalize.Unit(m[1]),
			Confidence: confUnitName,
		}, true
	}

	// 第三層（後置詞形式）：「X to taste」
	if m := qualitativeTrailPattern.FindStringSubmatch(normalized); m != nil {
		return common.RawIngredient{
			Name:       strings.TrimSpace(m[1]),
			Amount:     m[2],
			Confidence: confQualitative,
			Optional:   garnishQualifiers[m[2]],
		}, true
	}

	// 第四層：純項目符號行，限長度 3–50 且非純數字
	if bulleted && len(normalized) >= 3 && len(normalized) <= 50 && !pureNumericPattern.MatchString(normalized) {
		return common.RawIngredient{
			Name:       normalized,
			Confidence: confBareBullet,
		}, true
	}

	return common.RawIngredient{}, false
}

// ParseInstructions 從編號行取出料理步驟
func ParseInstructions(text string) []common.Step {
	var steps []common.Step
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		m := numberedStepPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(m[2])
		if desc == "" {
			continue
		}
		steps = append(steps, common.Step{
			StepNumber:  len(steps) + 1,
			Description: desc,
		})
	}
	return steps
}

// isNoise 命中噪音封鎖清單的行在模式比對前即丟棄
func isNoise(line string) bool {
	for _, p := range noisePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// dedupeByName 重複的食材名稱只保留信心最高的一筆
func dedupeByName(items []common.RawIngredient) []common.RawIngredient {
	best := make(map[string]int)
	var out []common.RawIngredient
	for _, ing := range items {
		key := normalize.NameKey(ing.Name)
		if idx, seen := best[key]; seen {
			if ing.Confidence > out[idx].Confidence {
				out[idx] = ing
			}
			continue
		}
		best[key] = len(out)
		out = append(out, ing)
	}
	return out
}
