package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-importer/internal/core/budget"
	"recipe-importer/internal/core/cache"
	"recipe-importer/internal/core/extract"
	"recipe-importer/internal/core/merge"
	"recipe-importer/internal/core/pregate"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// fakeTier 可編程的擷取層替身
type fakeTier struct {
	name  string
	out   *extract.Output
	err   error
	calls int
	// useCorpus 為 true 時把主要文字設為證據語料
	useCorpus bool
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Extract(ctx context.Context, bundle *common.SourceBundle) (*extract.Output, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := *f.out
	if f.useCorpus {
		out.EvidenceCorpus = bundle.PrimaryText()
	}
	return &out, nil
}

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Version:        "v1",
		MinIngredients: 5,
		MinTextLength:  100,
		AttemptTimeout: 10 * time.Second,
		MaxConcurrent:  4,
	}
}

func regexIngredients(names ...string) []common.RawIngredient {
	out := make([]common.RawIngredient, 0, len(names))
	for _, name := range names {
		out = append(out, common.RawIngredient{
			Name: name, Amount: "1", Unit: "cup",
			Source: common.SourceRegex, Confidence: 0.92,
		})
	}
	return out
}

type pipelineFixture struct {
	pipeline *Pipeline
	limiter  *budget.Limiter
	schema   *fakeTier
	regex    *fakeTier
	llm      *fakeTier
	vision   *fakeTier
	asr      *fakeTier
	comment  *fakeTier
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		schema:  &fakeTier{name: "schema", out: &extract.Output{}},
		regex:   &fakeTier{name: "regex", out: &extract.Output{}},
		llm:     &fakeTier{name: "llm_text", out: &extract.Output{}, useCorpus: true},
		vision:  &fakeTier{name: "vision", out: &extract.Output{}},
		asr:     &fakeTier{name: "asr", out: &extract.Output{}},
		comment: &fakeTier{name: "comment", out: &extract.Output{}},
	}
	f.limiter = budget.NewLimiter(budget.NewMemoryStore(), &config.BudgetConfig{
		Enabled:                  true,
		FreeMonthlyScans:         5,
		FreeMonthlyImports:       3,
		PaidMonthlyScans:         50,
		PaidMonthlyImports:       30,
		HourlyCalls:              50,
		PaidDailyVisionMinutes:   30,
		GlobalDailyVisionMinutes: 600,
	})

	cfg := testPipelineConfig()
	f.pipeline = New(Deps{
		Config:      cfg,
		Gate:        pregate.New(cfg.MinTextLength),
		Merger:      merge.New(nil),
		Cache:       cache.NewMemoryStore(&config.CacheConfig{Enabled: true, TTL: 720 * time.Hour, MaxSize: 100}),
		Limiter:     f.limiter,
		SchemaTier:  f.schema,
		RegexTier:   f.regex,
		LLMTier:     f.llm,
		VisionTier:  f.vision,
		ASRTier:     f.asr,
		CommentTier: f.comment,
	})
	return f
}

// richDescription 通過預檢的文字：夠長且帶數量單位清單
func richDescription(lines ...string) string {
	padding := "Today I am showing you how to make my favorite weeknight dinner recipe from scratch."
	return padding + "\nIngredients:\n" + strings.Join(lines, "\n")
}

func textRequest(description string) *Request {
	return &Request{
		Bundle: &common.SourceBundle{
			URL:         "https://example.com/recipe",
			Platform:    "web",
			Title:       "Test Recipe",
			Description: description,
		},
		UserID:    "u1",
		Tier:      common.TierPaid,
		Operation: common.OperationScan,
	}
}

func TestExtract_SchemaTerminalShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.schema.out = &extract.Output{
		Terminal: true,
		Ingredients: []common.RawIngredient{
			{Name: "flour", Amount: "2", Unit: "cup", Source: common.SourceSchema, Confidence: 0.95},
		},
		Instructions: []common.Step{{StepNumber: 1, Description: "Mix."}},
	}

	result, err := f.pipeline.Extract(context.Background(), textRequest("short"))
	require.NoError(t, err)

	assert.Equal(t, []string{"schema"}, result.TiersUsed)
	assert.Equal(t, common.CacheStatusFresh, result.CacheStatus)
	assert.Len(t, result.Instructions, 1)
	// 結構化標記命中後不再呼叫任何付費層
	assert.Zero(t, f.llm.calls)
	assert.Zero(t, f.vision.calls)
}

func TestExtract_RegexSufficientSkipsModel(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{
		Ingredients: regexIngredients("flour", "salt", "sugar", "butter", "milk"),
	}

	result, err := f.pipeline.Extract(context.Background(), textRequest(richDescription("1 cup flour")))
	require.NoError(t, err)

	assert.Len(t, result.Ingredients, 5)
	assert.Zero(t, f.llm.calls)
	assert.Zero(t, f.vision.calls)
}

func TestExtract_EscalatesToModelWhenInsufficient(t *testing.T) {
	f := newFixture(t)
	description := richDescription("2 cups flour", "1 tsp salt")
	f.regex.out = &extract.Output{Ingredients: regexIngredients("flour", "salt")}
	f.llm.out = &extract.Output{
		Ingredients: []common.RawIngredient{
			{Name: "sugar", EvidencePhrase: "flour", Source: common.SourceLLMText},
			{Name: "butter", EvidencePhrase: "salt", Source: common.SourceLLMText},
			{Name: "eggs", EvidencePhrase: "recipe", Source: common.SourceLLMText},
		},
		CostCents: 3,
	}

	result, err := f.pipeline.Extract(context.Background(), textRequest(description))
	require.NoError(t, err)

	assert.Equal(t, 1, f.llm.calls)
	assert.Len(t, result.Ingredients, 5)
	assert.Equal(t, 3, result.CostCents)
	assert.Contains(t, result.TiersUsed, "llm_text")
}

func TestExtract_EvidenceValidationRejectsFabrication(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{Ingredients: regexIngredients("flour")}
	f.llm.out = &extract.Output{
		Ingredients: []common.RawIngredient{
			// 證據不在來源文字中，必須被擋下
			{Name: "saffron", EvidencePhrase: "a pinch of rare saffron", Source: common.SourceLLMText},
			{Name: "salt", EvidencePhrase: "weeknight dinner", Source: common.SourceLLMText},
		},
	}

	result, err := f.pipeline.Extract(context.Background(), textRequest(richDescription("1 cup flour")))
	require.NoError(t, err)

	names := make([]string, 0, len(result.Ingredients))
	for _, ing := range result.Ingredients {
		names = append(names, ing.Name)
	}
	assert.NotContains(t, names, "saffron")
	assert.Contains(t, names, "salt")
}

func TestExtract_CacheIdempotence(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{
		Ingredients: regexIngredients("flour", "salt", "sugar", "butter", "milk"),
	}
	req := textRequest(richDescription("1 cup flour"))

	first, err := f.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, common.CacheStatusFresh, first.CacheStatus)

	second, err := f.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, common.CacheStatusCached, second.CacheStatus)
	assert.Zero(t, second.CostCents)
	assert.Equal(t, first.Ingredients, second.Ingredients)
	// 回放不重跑任何擷取層
	assert.Equal(t, 1, f.regex.calls)
}

func TestExtract_BypassCacheForcesFresh(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{
		Ingredients: regexIngredients("flour", "salt", "sugar", "butter", "milk"),
	}
	req := textRequest(richDescription("1 cup flour"))

	_, err := f.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)

	req.Options.BypassCache = true
	second, err := f.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, common.CacheStatusFresh, second.CacheStatus)
	assert.Equal(t, 2, f.regex.calls)
}

func TestExtract_BudgetExceededIsTyped(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{
		Ingredients: regexIngredients("flour", "salt", "sugar", "butter", "milk"),
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		req := textRequest(richDescription("1 cup flour"))
		req.Tier = common.TierFree
		req.Operation = common.OperationImport
		// 每次換標題避開快取
		req.Bundle.Title = strings.Repeat("x", i+1)
		_, err := f.pipeline.Extract(ctx, req)
		require.NoError(t, err)
	}

	req := textRequest(richDescription("1 cup flour"))
	req.Tier = common.TierFree
	req.Operation = common.OperationImport
	req.Bundle.Title = "over quota"
	_, err := f.pipeline.Extract(ctx, req)
	assert.ErrorIs(t, err, common.ErrBudgetExceeded)
}

func TestExtract_NoExtractableContent(t *testing.T) {
	f := newFixture(t)

	req := textRequest("#cooking #food")
	_, err := f.pipeline.Extract(context.Background(), req)
	assert.ErrorIs(t, err, common.ErrNoExtractableContent)
	// 預檢擋下後不得呼叫付費層
	assert.Zero(t, f.llm.calls)
}

func TestExtract_FailureReleasesOperationQuota(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		req := textRequest("#cooking #food")
		req.Tier = common.TierFree
		req.Bundle.Title = strings.Repeat("y", i+1)
		_, err := f.pipeline.Extract(context.Background(), req)
		require.ErrorIs(t, err, common.ErrNoExtractableContent)
	}

	// 失敗的嘗試不消耗每月配額
	usage, err := f.limiter.CurrentUsage(context.Background(), "u1", common.TierFree)
	require.NoError(t, err)
	assert.Zero(t, usage.MonthlyScansUsed)
}

func videoRequest() *Request {
	return &Request{
		Bundle: &common.SourceBundle{
			URL:                  "https://example.com/watch?v=abc",
			Platform:             "youtube",
			Title:                "Cooking Video",
			Description:          richDescription("2 cups flour"),
			VideoDurationSeconds: 120,
			VideoID:              "abc",
		},
		UserID:    "u1",
		Tier:      common.TierPaid,
		Operation: common.OperationImport,
	}
}

func TestExtract_VisionInvokedForInsufficientVideo(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{Ingredients: regexIngredients("flour")}
	f.vision.out = &extract.Output{
		Ingredients: []common.RawIngredient{
			{Name: "soy sauce", EvidencePhrase: "soy sauce", Source: common.SourceVision},
			{Name: "ginger", EvidencePhrase: "ginger", Source: common.SourceVision},
			{Name: "garlic", EvidencePhrase: "garlic", Source: common.SourceVision},
			{Name: "scallions", EvidencePhrase: "scallions", Source: common.SourceVision},
		},
		CostCents: 10,
	}

	result, err := f.pipeline.Extract(context.Background(), videoRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, f.vision.calls)
	assert.Contains(t, result.TiersUsed, "vision")

	// 兩分鐘影片消耗兩分鐘視覺預算
	usage, uerr := f.limiter.CurrentUsage(context.Background(), "u1", common.TierPaid)
	require.NoError(t, uerr)
	assert.Equal(t, int64(2), usage.VisionMinutesUsed)
}

func TestExtract_VisionFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{Ingredients: regexIngredients("flour")}
	f.vision.err = errors.New("vision service unavailable")
	f.comment.out = &extract.Output{
		Ingredients: []common.RawIngredient{
			{Name: "flour", EvidencePhrase: "2 cups flour", Source: common.SourceComment},
		},
	}

	req := videoRequest()
	req.Bundle.CaptionsText = "2 cups flour in the bowl"
	_, err := f.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)

	usage, uerr := f.limiter.CurrentUsage(context.Background(), "u1", common.TierPaid)
	require.NoError(t, uerr)
	assert.Zero(t, usage.VisionMinutesUsed)
}

func TestExtract_FreeTierNeverInvokesVision(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{Ingredients: regexIngredients("flour")}
	f.comment.out = &extract.Output{
		Ingredients: []common.RawIngredient{
			{Name: "flour", EvidencePhrase: "2 cups flour", Source: common.SourceComment},
		},
	}

	req := videoRequest()
	req.Tier = common.TierFree

	_, err := f.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, f.vision.calls)
	// 逐字稿層也是付費限定
	assert.Zero(t, f.asr.calls)
}

func TestExtract_CommentFallbackUsedWhenStillInsufficient(t *testing.T) {
	f := newFixture(t)
	f.regex.out = &extract.Output{Ingredients: regexIngredients("flour")}
	f.comment.out = &extract.Output{
		Ingredients: []common.RawIngredient{
			{Name: "soy sauce", EvidencePhrase: "2 tbsp soy sauce", Source: common.SourceComment},
		},
	}
	// 留言層自帶語料（命中的留言本身）
	f.comment.out.EvidenceCorpus = "Full recipe: 2 tbsp soy sauce and noodles"

	result, err := f.pipeline.Extract(context.Background(), videoRequest())
	require.NoError(t, err)
	assert.Contains(t, result.TiersUsed, "comment")

	names := make([]string, 0)
	for _, ing := range result.Ingredients {
		names = append(names, ing.Name)
	}
	assert.Contains(t, names, "soy sauce")
}
