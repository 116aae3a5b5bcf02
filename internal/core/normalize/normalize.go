// Package normalize 提供單位、份量、名稱與文字的正規化純函數
// 本套件不依賴任何其他內部套件
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// unicodeFractions Unicode 分數與 ASCII 比值的對照表
var unicodeFractions = map[rune]string{
	'¼': "1/4",
	'½': "1/2",
	'¾': "3/4",
	'⅓': "1/3",
	'⅔': "2/3",
	'⅕': "1/5",
	'⅖': "2/5",
	'⅗': "3/5",
	'⅘': "4/5",
	'⅙': "1/6",
	'⅚': "5/6",
	'⅛': "1/8",
	'⅜': "3/8",
	'⅝': "5/8",
	'⅞': "7/8",
	// U+2044 分數斜線，NFKC 分解混合分數時會產生
	'⁄': "/",
}

// smartPunct 智慧引號與破折號的 ASCII 對照
var smartPunct = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
	"–", "-",
	"—", "-",
	"…", "...",
)

// zeroWidthRunes 需剔除的零寬字符
var zeroWidthRunes = map[rune]bool{
	'\u200B': true, // zero width space
	'\u200C': true, // zero width non-joiner
	'\u200D': true, // zero width joiner
	'\uFEFF': true, // BOM
	'\u00AD': true, // soft hyphen
}

var (
	whitespacePattern   = regexp.MustCompile(`\s+`)
	decimalCommaPattern = regexp.MustCompile(`(\d),(\d)`)
)

// Text 將文字完全正規化：NFKC 相容分解、小寫、Unicode 分數轉 ASCII、
// 零寬字符剔除、智慧標點轉 ASCII、小數逗號轉句點、空白摺疊
// 證據驗證的雙方（證據片語與來源文字）都必須經過同一函數
func Text(s string) string {
	// 分數摺疊必須在 NFKC 之前：NFKC 會把 ¼ 分解成 1⁄4（U+2044），
	// 先摺疊才能得到 ASCII 比值
	var sb strings.Builder
	sb.Grow(len(s))
	var prev rune
	for _, r := range s {
		if zeroWidthRunes[r] {
			continue
		}
		if frac, ok := unicodeFractions[r]; ok {
			// 帶分數「1½」補空格，解析端才認得 "1 1/2"
			if prev >= '0' && prev <= '9' && r != '⁄' {
				sb.WriteByte(' ')
			}
			sb.WriteString(frac)
			prev = r
			continue
		}
		sb.WriteRune(r)
		prev = r
	}
	s = norm.NFKC.String(sb.String())
	s = strings.ToLower(s)

	s = smartPunct.Replace(s)
	s = decimalCommaPattern.ReplaceAllString(s, "$1.$2")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// unitAliases 單位別名對照表，鍵為小寫别名，值為標準單位
var unitAliases = map[string]string{
	"tbsp":        "tablespoon",
	"tbsps":       "tablespoon",
	"tbs":         "tablespoon",
	"tablespoon":  "tablespoon",
	"tablespoons": "tablespoon",
	"tsp":         "teaspoon",
	"tsps":        "teaspoon",
	"teaspoon":    "teaspoon",
	"teaspoons":   "teaspoon",
	"c":           "cup",
	"cup":         "cup",
	"cups":        "cup",
	"oz":          "ounce",
	"ounce":       "ounce",
	"ounces":      "ounce",
	"fl oz":       "fluid ounce",
	"lb":          "pound",
	"lbs":         "pound",
	"pound":       "pound",
	"pounds":      "pound",
	"g":           "gram",
	"gram":        "gram",
	"grams":       "gram",
	"kg":          "kilogram",
	"kilogram":    "kilogram",
	"kilograms":   "kilogram",
	"ml":          "milliliter",
	"milliliter":  "milliliter",
	"milliliters": "milliliter",
	"l":           "liter",
	"liter":       "liter",
	"liters":      "liter",
	"litre":       "liter",
	"litres":      "liter",
	"pinch":       "pinch",
	"pinches":     "pinch",
	"dash":        "dash",
	"dashes":      "dash",
	"clove":       "clove",
	"cloves":      "clove",
	"slice":       "slice",
	"slices":      "slice",
	"can":         "can",
	"cans":        "can",
	"stick":       "stick",
	"sticks":      "stick",
	"piece":       "piece",
	"pieces":      "piece",
	"bunch":       "bunch",
	"bunches":     "bunch",
}

// Unit 將單位轉為標準型；無法識別時回傳小寫修剪後的原字串
func Unit(u string) string {
	key := strings.ToLower(strings.TrimSpace(strings.Trim(u, ".")))
	if canonical, ok := unitAliases[key]; ok {
		return canonical
	}
	return key
}

// KnownUnit 判斷是否為可識別的量測單位
func KnownUnit(u string) bool {
	_, ok := unitAliases[strings.ToLower(strings.TrimSpace(strings.Trim(u, ".")))]
	return ok
}

var mixedNumberPattern = regexp.MustCompile(`^(\d+)\s+(\d+)/(\d+)$`)

// Amount 解析份量字串為數值，支援整數、小數、分數與帶分數
// 質化份量（「適量」等）無法解析，回傳 ok=false
func Amount(s string) (float64, bool) {
	s = Text(s)
	if s == "" {
		return 0, false
	}

	// 帶分數："1 1/2"
	if m := mixedNumberPattern.FindStringSubmatch(s); m != nil {
		whole, _ := strconv.ParseFloat(m[1], 64)
		num, _ := strconv.ParseFloat(m[2], 64)
		den, _ := strconv.ParseFloat(m[3], 64)
		if den == 0 {
			return 0, false
		}
		return whole + num/den, true
	}

	// 純分數："1/4"
	if num, den, found := strings.Cut(s, "/"); found {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err1 == nil && err2 == nil && d != 0 {
			return n / d, true
		}
		return 0, false
	}

	// 範圍："2-3" 取下界
	if lo, _, found := strings.Cut(s, "-"); found {
		if v, err := strconv.ParseFloat(strings.TrimSpace(lo), 64); err == nil {
			return v, true
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var namePunctPattern = regexp.MustCompile(`[^\p{L}\p{N} ]+`)

// NameKey 產生食材名稱的合併鍵：小寫、去標點、去複數
func NameKey(name string) string {
	s := Text(name)
	s = namePunctPattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	words := strings.Fields(s)
	for i, w := range words {
		words[i] = singular(w)
	}
	return strings.Join(words, " ")
}

// singular 簡易英文去複數，足以把常見食材名稱折疊到同一鍵
func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "oes"): // tomatoes, potatoes
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "ies"): // berries
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "ses"): // molasses 除外交給例外表
		return w[:len(w)-2]
	case len(w) > 2 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}
