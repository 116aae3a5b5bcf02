package extract

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// visionPrompt 視覺擷取提示詞：同樣要求逐項證據片語
const visionPrompt = `Watch this cooking video and extract the recipe. Respond with compact JSON only.
Schema: {"ingredients":[{"name":string,"amount":string,"unit":string,"evidence_phrase":string}],"instructions":[{"step_number":int,"text":string}]}
evidence_phrase must quote on-screen text or spoken words for every ingredient; ingredients without evidence are discarded. Never guess amounts you cannot see or hear.`

// 取樣解析度旋鈕，影響成本與精度
const (
	ResolutionDefault = "default"
	ResolutionLow     = "low"
)

// MediaRef 傳給視覺服務的媒體引用
type MediaRef struct {
	URL        string // 短效委派媒體連結
	FileHandle string // 伺服器端上傳後取得的檔案句柄（大檔案）
	Resolution string
}

// VisionClient 多模態（影片理解）服務客戶端
type VisionClient struct {
	client *resty.Client
	cfg    *config.VisionConfig
}

// NewVisionClient 創建視覺服務客戶端
func NewVisionClient(cfg *config.VisionConfig) *VisionClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.APIKey)).
		SetHeader("HTTP-Referer", "https://recipe-importer.app").
		SetHeader("X-Title", "Recipe Importer")

	return &VisionClient{client: client, cfg: cfg}
}

// UploadMedia 伺服器端抓取加上傳的間接路徑，供無法委派連結的大檔案使用
func (c *VisionClient) UploadMedia(ctx context.Context, sourceURL string) (string, error) {
	var fileID string
	err := retryTransient(ctx, c.cfg.MaxRetries, func() error {
		var innerErr error
		fileID, innerErr = c.uploadOnce(ctx, sourceURL)
		return innerErr
	})
	return fileID, err
}

func (c *VisionClient) uploadOnce(ctx context.Context, sourceURL string) (string, error) {
	uploadCtx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	var result struct {
		FileID string `json:"file_id"`
	}
	resp, err := c.client.R().
		SetContext(uploadCtx).
		SetBody(map[string]string{"source_url": sourceURL}).
		SetResult(&result).
		Post("/files")
	if err != nil {
		return "", &UpstreamError{StatusCode: 0, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &UpstreamError{StatusCode: resp.StatusCode(), Body: truncateForLog(resp.String())}
	}
	if result.FileID == "" {
		return "", &UpstreamError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("empty file handle in upload response")}
	}
	return result.FileID, nil
}

// Analyze 發送影片理解請求，暫時性錯誤依共用退避策略重試
func (c *VisionClient) Analyze(ctx context.Context, media MediaRef, prompt string) (*ModelResult, error) {
	start := time.Now()
	var result *ModelResult
	err := retryTransient(ctx, c.cfg.MaxRetries, func() error {
		var innerErr error
		result, innerErr = c.analyzeOnce(ctx, media, prompt)
		return innerErr
	})
	common.LogAICall(c.cfg.Model, time.Since(start), err)
	return result, err
}

func (c *VisionClient) analyzeOnce(ctx context.Context, media MediaRef, prompt string) (*ModelResult, error) {
	content := []map[string]interface{}{
		{"type": "text", "text": prompt},
	}
	if media.FileHandle != "" {
		content = append(content, map[string]interface{}{
			"type": "file", "file": map[string]string{"file_id": media.FileHandle},
		})
	} else {
		content = append(content, map[string]interface{}{
			"type": "video_url", "video_url": map[string]string{"url": media.URL},
		})
	}

	req := map[string]interface{}{
		"model": c.cfg.Model,
		"messages": []map[string]interface{}{
			{"role": "user", "content": content},
		},
		"video_resolution": media.Resolution,
	}

	var response chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&response).
		Post("/chat/completions")
	if err != nil {
		return nil, &UpstreamError{StatusCode: 0, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode(),
			Body:       truncateForLog(resp.String()),
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After")),
		}
	}
	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return nil, &UpstreamError{StatusCode: resp.StatusCode(), Err: fmt.Errorf("empty content in vision response")}
	}

	return &ModelResult{
		Text:             response.Choices[0].Message.Content,
		PromptTokens:     response.Usage.PromptTokens,
		CompletionTokens: response.Usage.CompletionTokens,
	}, nil
}

// ResolveMediaRef 決定媒體引用與取樣解析度
// 超過門檻的長片降為低解析度取樣，抑制 token 成本
func ResolveMediaRef(bundle *common.SourceBundle, cfg *config.VisionConfig) MediaRef {
	resolution := ResolutionDefault
	if cfg.LowResThresholdSeconds > 0 && bundle.VideoDurationSeconds > cfg.LowResThresholdSeconds {
		resolution = ResolutionLow
	}
	return MediaRef{URL: bundle.URL, Resolution: resolution}
}

// EstimateVisionMinutes 由影片長度推導分鐘成本（預算保留用，無條件進位）
func EstimateVisionMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 1
	}
	return int(math.Ceil(float64(durationSeconds) / 60.0))
}

// VisionTier 視覺模型擷取層
type VisionTier struct {
	client *VisionClient
	cfg    *config.VisionConfig
	// 大檔案平台走伺服器端上傳間接路徑
	uploadPlatforms map[string]bool
}

// NewVisionTier 創建視覺層
func NewVisionTier(client *VisionClient, cfg *config.VisionConfig) *VisionTier {
	return &VisionTier{
		client: client,
		cfg:    cfg,
		uploadPlatforms: map[string]bool{
			"tiktok": true,
		},
	}
}

// Name 層名稱
func (t *VisionTier) Name() string {
	return string(common.SourceVision)
}

// Extract 對影片來源執行視覺擷取
func (t *VisionTier) Extract(ctx context.Context, bundle *common.SourceBundle) (*Output, error) {
	if !bundle.IsVideo() {
		return &Output{}, nil
	}

	media := ResolveMediaRef(bundle, t.cfg)
	if t.uploadPlatforms[strings.ToLower(bundle.Platform)] {
		handle, err := t.client.UploadMedia(ctx, bundle.URL)
		if err != nil {
			return nil, err
		}
		media.FileHandle = handle
		media.URL = ""
	}

	start := time.Now()
	result, err := t.client.Analyze(ctx, media, visionPrompt)
	if err != nil {
		return nil, err
	}

	out := parseModelPayload(result.Text, common.SourceVision)
	// 視覺層的語料是字幕；沒有字幕時管線退用僅要求片語非空的驗證
	out.EvidenceCorpus = bundle.CaptionsText
	minutes := EstimateVisionMinutes(bundle.VideoDurationSeconds)
	out.CostCents = int(math.Ceil(float64(minutes) * t.cfg.CentsPerMinute))

	common.LogInfo("視覺擷取完成",
		zap.Int("食材數", len(out.Ingredients)),
		zap.String("解析度", media.Resolution),
		zap.Int("影片分鐘", minutes),
		zap.Duration("耗時", time.Since(start)),
	)
	return out, nil
}
