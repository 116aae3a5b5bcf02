package parse

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"recipe-importer/internal/core/normalize"
	"recipe-importer/internal/pkg/common"
)

// 結構化標記是最受信任的來源
const confSchema = 0.95

// SchemaRecipe 從標記中讀出的食譜物件
type SchemaRecipe struct {
	Name         string
	Ingredients  []common.RawIngredient
	Instructions []common.Step
}

// SchemaParser 結構化標記（schema.org JSON-LD）解析器
type SchemaParser struct {
	lineParser *RegexParser
}

// NewSchemaParser 創建結構化標記解析器
func NewSchemaParser() *SchemaParser {
	return &SchemaParser{lineParser: NewRegexParser()}
}

// Parse 在網頁標記中尋找內嵌的機器可讀食譜物件
// 找到且名稱與食材列表皆非空時，整包以 0.95 信心接受
func (p *SchemaParser) Parse(html string) (*SchemaRecipe, bool) {
	if strings.TrimSpace(html) == "" {
		return nil, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, false
	}

	var recipe *SchemaRecipe
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload interface{}
		if err := common.ParseJSON(s.Text(), &payload); err != nil {
			return true // 壞掉的 JSON-LD 區塊直接略過
		}
		if node := findRecipeNode(payload); node != nil {
			recipe = p.buildRecipe(node)
			return recipe == nil
		}
		return true
	})

	if recipe == nil || recipe.Name == "" || len(recipe.Ingredients) == 0 {
		return nil, false
	}
	return recipe, true
}

// findRecipeNode 走訪 JSON-LD 結構尋找 @type 為 Recipe 的節點
// 容忍 @graph 包裝、頂層陣列與 @type 為字串或陣列兩種寫法
func findRecipeNode(payload interface{}) map[string]interface{} {
	switch v := payload.(type) {
	case []interface{}:
		for _, item := range v {
			if node := findRecipeNode(item); node != nil {
				return node
			}
		}
	case map[string]interface{}:
		if isRecipeType(v["@type"]) {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			return findRecipeNode(graph)
		}
	}
	return nil
}

func isRecipeType(t interface{}) bool {
	switch v := t.(type) {
	case string:
		return strings.EqualFold(v, "Recipe")
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, "Recipe") {
				return true
			}
		}
	}
	return false
}

// buildRecipe 從 Recipe 節點讀出名稱、食材與步驟
func (p *SchemaParser) buildRecipe(node map[string]interface{}) *SchemaRecipe {
	recipe := &SchemaRecipe{
		Name: asString(node["name"]),
	}

	lines := asStringSlice(node["recipeIngredient"])
	if len(lines) == 0 {
		lines = asStringSlice(node["ingredients"]) // 舊版欄位名
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ing, ok := p.lineParser.parseLine(line, true)
		if !ok {
			// 標記中的食材行即使無法拆解也值得保留
			ing = common.RawIngredient{Name: normalize.Text(line)}
		}
		ing.Source = common.SourceSchema
		ing.Confidence = confSchema
		ing.EvidencePhrase = line
		recipe.Ingredients = append(recipe.Ingredients, ing)
	}
	recipe.Ingredients = dedupeByName(recipe.Ingredients)

	recipe.Instructions = parseInstructionNode(node["recipeInstructions"])
	return recipe
}

// parseInstructionNode 讀出步驟，容忍字串、HowToStep 與 HowToSection 三種寫法
func parseInstructionNode(node interface{}) []common.Step {
	var steps []common.Step
	appendStep := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		steps = append(steps, common.Step{
			StepNumber:  len(steps) + 1,
			Description: text,
		})
	}

	var walk func(interface{})
	walk = func(n interface{}) {
		switch v := n.(type) {
		case string:
			appendStep(v)
		case []interface{}:
			for _, item := range v {
				walk(item)
			}
		case map[string]interface{}:
			if items, ok := v["itemListElement"]; ok {
				walk(items)
				return
			}
			appendStep(asString(v["text"]))
		}
	}
	walk(node)
	return steps
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{val}
	}
	return nil
}
