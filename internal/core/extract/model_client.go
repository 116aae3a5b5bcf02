package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"go.uber.org/zap"
)

const baseURL = "https://openrouter.ai/api/v1"

// ModelClient 文字補全服務客戶端
type ModelClient struct {
	httpClient *http.Client
	cfg        *config.ModelConfig
}

// chatMessage 消息結構
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest 表示 API 請求
type chatRequest struct {
	Model          string        `json:"model,omitempty"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

// respFormat JSON 約束輸出模式
type respFormat struct {
	Type string `json:"type"`
}

// chatResponse 服務響應結構
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage usageInfo `json:"usage"`
}

// usageInfo 實際用量信息，計費以此為準而非估計值
type usageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelResult 補全結果
type ModelResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// NewModelClient 創建文字模型客戶端
func NewModelClient(cfg *config.ModelConfig) *ModelClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ModelClient{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}
}

// Complete 發送補全請求，對 429/5xx 依退避策略重試，其餘 4xx 立即失敗
func (c *ModelClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*ModelResult, error) {
	start := time.Now()
	var result *ModelResult
	err := retryTransient(ctx, c.cfg.MaxRetries, func() error {
		var attemptErr error
		result, attemptErr = c.doOnce(ctx, systemPrompt, userPrompt)
		return attemptErr
	})
	common.LogAICall(c.cfg.Model, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// doOnce 單次請求
func (c *ModelClient) doOnce(ctx context.Context, systemPrompt, userPrompt string) (*ModelResult, error) {
	req := &chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:      c.cfg.MaxOutputTokens,
		Temperature:    0.1,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("HTTP-Referer", "https://recipe-importer.app")
	httpReq.Header.Set("X-Title", "Recipe Importer")

	common.LogInfo("Sending request to model service",
		zap.String("model", req.Model),
		zap.Int("prompt_chars", len(userPrompt)),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{StatusCode: 0, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: 0, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		ue := &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       truncateForLog(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		common.LogError("Model service returned error status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("model", req.Model),
		)
		return nil, ue
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		// 格式錯誤的響應視為永久失敗，不重試
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("empty content in response")}
	}

	common.LogInfo("Model request completed",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", response.Usage.PromptTokens),
		zap.Int("completion_tokens", response.Usage.CompletionTokens),
	)

	return &ModelResult{
		Text:             response.Choices[0].Message.Content,
		PromptTokens:     response.Usage.PromptTokens,
		CompletionTokens: response.Usage.CompletionTokens,
	}, nil
}

// CostCents 以服務回報的實際 token 數計費，無條件進位到美分
func (c *ModelClient) CostCents(promptTokens, completionTokens int) int {
	cents := float64(promptTokens)/1e6*c.cfg.InputCentsPerMTok +
		float64(completionTokens)/1e6*c.cfg.OutputCentsPerMTok
	return int(math.Ceil(cents))
}

// parseRetryAfter 解析伺服器指定的重試延遲（秒）
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncateForLog(s string) string {
	if len(s) > 500 {
		return s[:500]
	}
	return s
}
