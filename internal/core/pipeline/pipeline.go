// Package pipeline 實作擷取階梯的編排器：
// 快取查找 → 配額檢查 → 預檢 → 確定性解析 → 模型升級 → 視覺／逐字稿／留言後備 → 合併 → 快取寫入
// 各層依序嘗試，成功即短路後續昂貴層
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"recipe-importer/internal/core/budget"
	"recipe-importer/internal/core/cache"
	"recipe-importer/internal/core/extract"
	"recipe-importer/internal/core/merge"
	"recipe-importer/internal/core/normalize"
	"recipe-importer/internal/core/pregate"
	"recipe-importer/internal/core/validate"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// Options 單次擷取的呼叫端選項
type Options struct {
	BypassCache bool `json:"bypass_cache,omitempty"`
}

// Request 一次擷取請求
type Request struct {
	Bundle      *common.SourceBundle
	UserID      string
	HouseholdID string
	Tier        common.UserTier
	Operation   common.OperationType
	Options     Options
}

// Pipeline 擷取管線編排器
type Pipeline struct {
	config  *config.PipelineConfig
	gate    *pregate.Gate
	merger  *merge.Merger
	cache   cache.Store
	limiter *budget.Limiter

	// 階梯各層，未配置的層為 nil
	schemaTier  extract.Extractor
	regexTier   extract.Extractor
	llmTier     extract.Extractor
	visionTier  extract.Extractor
	asrTier     extract.Extractor
	commentTier extract.Extractor

	// 並發席次：同時進行的擷取嘗試上限
	slots chan struct{}
}

// Deps 管線依賴注入
type Deps struct {
	Config  *config.PipelineConfig
	Gate    *pregate.Gate
	Merger  *merge.Merger
	Cache   cache.Store
	Limiter *budget.Limiter

	SchemaTier  extract.Extractor
	RegexTier   extract.Extractor
	LLMTier     extract.Extractor
	VisionTier  extract.Extractor
	ASRTier     extract.Extractor
	CommentTier extract.Extractor
}

// New 創建管線
func New(deps Deps) *Pipeline {
	maxConcurrent := deps.Config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pipeline{
		config:      deps.Config,
		gate:        deps.Gate,
		merger:      deps.Merger,
		cache:       deps.Cache,
		limiter:     deps.Limiter,
		schemaTier:  deps.SchemaTier,
		regexTier:   deps.RegexTier,
		llmTier:     deps.LLMTier,
		visionTier:  deps.VisionTier,
		asrTier:     deps.ASRTier,
		commentTier: deps.CommentTier,
		slots:       make(chan struct{}, maxConcurrent),
	}
}

// attempt 單次嘗試的累積狀態
type attempt struct {
	validated    []common.RawIngredient
	instructions []common.Step
	tiersUsed    []string
	costCents    int
}

// uniqueNames 以名稱鍵計數目前累積的不重複食材數
func (a *attempt) uniqueNames() int {
	seen := make(map[string]bool, len(a.validated))
	for _, ing := range a.validated {
		seen[normalize.NameKey(ing.Name)] = true
	}
	return len(seen)
}

// sufficient 是否已達升級門檻，達標即不再呼叫更昂貴的層
func (p *Pipeline) sufficient(a *attempt) bool {
	return a.uniqueNames() >= p.config.MinIngredients
}

// Extract 執行一次完整的擷取嘗試
func (p *Pipeline) Extract(ctx context.Context, req *Request) (*common.ExtractionResult, error) {
	// 佔用並發席次
	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
	defer cancel()

	cacheKey := cache.Key(req.Bundle, p.config.Version)

	// 快取命中免費回放，不消耗配額
	if !req.Options.BypassCache {
		if entry, err := p.cache.Get(ctx, cacheKey); err == nil {
			common.LogCacheHit("extraction", cacheKey)
			return &common.ExtractionResult{
				Ingredients:  entry.Ingredients,
				Instructions: entry.Instructions,
				Confidence:   entry.Confidence,
				CostCents:    0,
				CacheStatus:  common.CacheStatusCached,
				TiersUsed:    entry.TiersUsed,
			}, nil
		} else if !errors.Is(err, common.ErrCacheMiss) && !errors.Is(err, common.ErrCacheDisabled) {
			common.LogWarn("快取查找失敗，改走完整擷取", zap.Error(err))
		} else {
			common.LogCacheMiss("extraction", cacheKey)
		}
	}

	// 配額檢查與佔用
	if err := p.limiter.CheckAndReserve(ctx, req.UserID, req.Tier, req.Operation); err != nil {
		return nil, err
	}

	attemptID := common.NewAttemptID()
	common.LogInfo("擷取嘗試開始",
		zap.String("attempt_id", attemptID),
		zap.String("user_id", req.UserID),
		zap.String("operation", string(req.Operation)),
	)

	result, err := p.runLadder(ctx, req)
	if err != nil {
		// 嘗試失敗，退還已佔用的操作額度
		p.limiter.ReleaseOperation(ctx, req.UserID, req.Operation)
		common.LogWarn("擷取嘗試失敗",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
		return nil, err
	}

	common.LogInfo("擷取嘗試完成",
		zap.String("attempt_id", attemptID),
		zap.Strings("tiers_used", result.TiersUsed),
		zap.Float64("confidence", result.Confidence),
		zap.Int("cost_cents", result.CostCents),
	)

	// 只快取成功結果，失敗不做負面快取
	entry := &cache.Entry{
		Ingredients:  result.Ingredients,
		Instructions: result.Instructions,
		Confidence:   result.Confidence,
		TiersUsed:    result.TiersUsed,
		CostCents:    result.CostCents,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(30 * 24 * time.Hour),
	}
	// 寫入失敗不影響本次回傳
	if err := p.cache.Set(context.WithoutCancel(ctx), cacheKey, entry); err != nil {
		common.LogWarn("快取寫入失敗", zap.Error(err))
	}

	return result, nil
}

// runLadder 依序執行擷取階梯
func (p *Pipeline) runLadder(ctx context.Context, req *Request) (*common.ExtractionResult, error) {
	bundle := req.Bundle
	a := &attempt{}

	// 結構化標記：有名稱且有食材清單就整包接受，階梯終止
	if out, err := p.runTier(ctx, p.schemaTier, bundle, a); err == nil && out != nil && out.Terminal {
		return p.finish(a)
	}

	// 行式正則解析
	p.runTier(ctx, p.regexTier, bundle, a)
	if p.sufficient(a) {
		return p.finish(a)
	}

	// 預檢：判斷文字是否值得送交付費擷取
	gateResult := p.gate.Check(bundle.PrimaryText())
	if gateResult.ShouldSkipExpensiveExtraction {
		common.LogPolicyRejection("pre_gate", gateResult.Reason,
			zap.String("url", bundle.URL),
			zap.Float64("估計信心", gateResult.EstimatedConfidence),
		)
		// 確定性層已有部分結果就直接收尾，否則視為不可擷取
		if a.uniqueNames() > 0 {
			return p.finish(a)
		}
		// 文字不可用但影片來源仍可走視覺與留言後備
		if !bundle.IsVideo() {
			return nil, common.ErrNoExtractableContent
		}
	} else {
		// 文字模型升級
		if _, err := p.runTier(ctx, p.llmTier, bundle, a); err != nil {
			if upstreamFatal(err) && a.uniqueNames() == 0 {
				return nil, common.ErrUpstreamService.WithErr(err)
			}
		}
		if p.sufficient(a) {
			return p.finish(a)
		}
	}

	// 視覺後備：影片來源且分鐘預算足夠才呼叫
	p.runVision(ctx, req, a)
	if !p.sufficient(a) {
		// 逐字稿後備：付費方案限定
		if req.Tier == common.TierPaid {
			p.runTier(ctx, p.asrTier, bundle, a)
		}
	}

	// 留言探勘獨立於視覺／逐字稿，仍不足就最後一搏
	if !p.sufficient(a) {
		p.runTier(ctx, p.commentTier, bundle, a)
	}

	if a.uniqueNames() == 0 {
		return nil, common.ErrNoExtractableContent
	}
	return p.finish(a)
}

// runTier 執行單一擷取層並累積經過驗證的輸出
func (p *Pipeline) runTier(ctx context.Context, tier extract.Extractor, bundle *common.SourceBundle, a *attempt) (*extract.Output, error) {
	if tier == nil {
		return nil, nil
	}

	start := time.Now()
	out, err := tier.Extract(ctx, bundle)
	common.LogTierAttempt(tier.Name(), countOutput(out), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	a.tiersUsed = append(a.tiersUsed, tier.Name())
	a.costCents += out.CostCents

	validated := p.validateOutput(out)
	a.validated = append(a.validated, validated...)
	if len(a.instructions) == 0 && len(out.Instructions) > 0 {
		a.instructions = out.Instructions
	}
	return out, nil
}

// runVision 視覺層外圍的預算保留與釋放
// 保留先於呼叫；呼叫失敗（含逾時取消）必須退還，保留不可洩漏
func (p *Pipeline) runVision(ctx context.Context, req *Request, a *attempt) {
	if p.visionTier == nil || !req.Bundle.IsVideo() {
		return
	}

	minutes := extract.EstimateVisionMinutes(req.Bundle.VideoDurationSeconds)
	if err := p.limiter.ReserveVisionMinutes(ctx, req.UserID, req.Tier, minutes); err != nil {
		common.LogInfo("視覺分鐘預算不足，跳過視覺層",
			zap.String("使用者", req.UserID),
			zap.Int("所需分鐘", minutes),
		)
		return
	}

	if _, err := p.runTier(ctx, p.visionTier, req.Bundle, a); err != nil {
		// 取消情境下用獨立 context 完成退還
		p.limiter.ReleaseVisionMinutes(context.WithoutCancel(ctx), req.UserID, minutes)
	}
}

// validateOutput 對單層輸出套用防幻覺過濾階段
func (p *Pipeline) validateOutput(out *extract.Output) []common.RawIngredient {
	stages := make([]validate.Stage, 0, 3)
	if out.EvidenceCorpus == "" && onlyVision(out.Ingredients) {
		// 無字幕的影片沒有可比對的文字語料，退用僅要求片語非空的驗證
		stages = append(stages, validate.RequireEvidenceStage())
	} else {
		stages = append(stages, validate.EvidenceStage(out.EvidenceCorpus))
	}
	stages = append(stages, validate.SectionHeaderStage(), validate.ConfidenceStage())
	return validate.Apply(out.Ingredients, stages...)
}

// finish 合併所有來源並組裝回傳結果
func (p *Pipeline) finish(a *attempt) (*common.ExtractionResult, error) {
	merged := p.merger.Merge(a.validated)
	if len(merged.Ingredients) == 0 {
		return nil, common.ErrNoExtractableContent
	}

	return &common.ExtractionResult{
		Ingredients:  merged.Ingredients,
		Instructions: a.instructions,
		Confidence:   merged.Confidence,
		CostCents:    a.costCents,
		CacheStatus:  common.CacheStatusFresh,
		TiersUsed:    a.tiersUsed,
	}, nil
}

func countOutput(out *extract.Output) int {
	if out == nil {
		return 0
	}
	return len(out.Ingredients)
}

func onlyVision(ingredients []common.RawIngredient) bool {
	for _, ing := range ingredients {
		if ing.Source != common.SourceVision {
			return false
		}
	}
	return len(ingredients) > 0
}

// upstreamFatal 上游終局失敗（非暫時性且重試已盡）
func upstreamFatal(err error) bool {
	var ue *extract.UpstreamError
	return errors.As(err, &ue)
}
