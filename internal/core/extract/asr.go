package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// asrPrompt 逐字稿擷取提示詞
const asrPrompt = `Extract the recipe from this cooking video transcript. Respond with compact JSON only.
Schema: {"ingredients":[{"name":string,"amount":string,"unit":string,"evidence_phrase":string}],"instructions":[{"step_number":int,"text":string}]}
evidence_phrase must be a verbatim quote from the transcript for every ingredient. Spoken amounts are often informal ("a couple of", "half a"); keep them as spoken. If the transcript contains no recipe, return {"ingredients":[],"instructions":[]}.`

// ASRTier 逐字稿擷取層：以字幕／語音逐字稿餵文字模型
type ASRTier struct {
	client     *ModelClient
	cfg        *config.ModelConfig
	maxMinutes int
}

// NewASRTier 創建逐字稿層
func NewASRTier(client *ModelClient, cfg *config.ModelConfig, maxMinutes int) *ASRTier {
	return &ASRTier{client: client, cfg: cfg, maxMinutes: maxMinutes}
}

// Name 層名稱
func (t *ASRTier) Name() string {
	return string(common.SourceASR)
}

// Extract 對字幕逐字稿執行擷取
func (t *ASRTier) Extract(ctx context.Context, bundle *common.SourceBundle) (*Output, error) {
	transcript := strings.TrimSpace(bundle.CaptionsText)
	if transcript == "" {
		return &Output{}, nil
	}
	// 超長影片不走逐字稿層，成本與雜訊都划不來
	if t.maxMinutes > 0 && bundle.VideoDurationSeconds > t.maxMinutes*60 {
		common.LogInfo("逐字稿層跳過：影片過長",
			zap.Int("影片秒數", bundle.VideoDurationSeconds),
			zap.Int("上限分鐘", t.maxMinutes),
		)
		return &Output{}, nil
	}

	if t.cfg.MaxInputChars > 0 && len(transcript) > t.cfg.MaxInputChars {
		transcript = transcript[:t.cfg.MaxInputChars]
	}

	userPrompt := fmt.Sprintf("Title: %s\nTranscript:\n%s", bundle.Title, transcript)

	start := time.Now()
	result, err := t.client.Complete(ctx, asrPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	out := parseModelPayload(result.Text, common.SourceASR)
	out.CostCents = t.client.CostCents(result.PromptTokens, result.CompletionTokens)
	out.EvidenceCorpus = bundle.CaptionsText

	common.LogInfo("逐字稿擷取完成",
		zap.Int("食材數", len(out.Ingredients)),
		zap.Int("輸入token", result.PromptTokens),
		zap.Duration("耗時", time.Since(start)),
	)
	return out, nil
}
