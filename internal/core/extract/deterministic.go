package extract

import (
	"context"

	"go.uber.org/zap"

	"recipe-importer/internal/core/parse"
	"recipe-importer/internal/pkg/common"
)

// SchemaTier 結構化標記層：找到完整的機器可讀食譜時整包接受並終止階梯
type SchemaTier struct {
	parser *parse.SchemaParser
}

// NewSchemaTier 創建結構化標記層
func NewSchemaTier() *SchemaTier {
	return &SchemaTier{parser: parse.NewSchemaParser()}
}

// Name 層名稱
func (t *SchemaTier) Name() string {
	return string(common.SourceSchema)
}

// Extract 在網頁標記中尋找內嵌食譜物件
func (t *SchemaTier) Extract(ctx context.Context, bundle *common.SourceBundle) (*Output, error) {
	recipe, ok := t.parser.Parse(bundle.HTML)
	if !ok {
		return &Output{}, nil
	}

	common.LogInfo("結構化標記命中，階梯終止",
		zap.String("食譜", recipe.Name),
		zap.Int("食材數", len(recipe.Ingredients)),
	)

	return &Output{
		Ingredients:  recipe.Ingredients,
		Instructions: recipe.Instructions,
		Terminal:     true,
	}, nil
}

// RegexTier 行式正則層：解析創作者描述與使用者補充文字
type RegexTier struct {
	parser *parse.RegexParser
}

// NewRegexTier 創建正則層
func NewRegexTier() *RegexTier {
	return &RegexTier{parser: parse.NewRegexParser()}
}

// Name 層名稱
func (t *RegexTier) Name() string {
	return string(common.SourceRegex)
}

// Extract 逐行解析主要文字來源
func (t *RegexTier) Extract(ctx context.Context, bundle *common.SourceBundle) (*Output, error) {
	text := bundle.PrimaryText()
	if text == "" {
		return &Output{}, nil
	}

	return &Output{
		Ingredients:  t.parser.Parse(text),
		Instructions: parse.ParseInstructions(text),
	}, nil
}
