package extract

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"recipe-importer/internal/core/normalize"
	"recipe-importer/internal/core/parse"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// 創作者常把完整食譜貼在置頂留言，這一層撈回來用確定性解析器處理

// CommentClient 留言 API 客戶端
type CommentClient struct {
	client *resty.Client
	cfg    *config.CommentsConfig
}

// NewCommentClient 創建留言客戶端
func NewCommentClient(cfg *config.CommentsConfig) *CommentClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &CommentClient{client: client, cfg: cfg}
}

type commentListResponse struct {
	Items []struct {
		Snippet struct {
			TopLevelComment struct {
				Snippet struct {
					TextOriginal string `json:"textOriginal"`
					LikeCount    int    `json:"likeCount"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

// ListComments 取回影片的熱門留言內文，暫時性錯誤依共用退避策略重試
func (c *CommentClient) ListComments(ctx context.Context, videoID string) ([]string, error) {
	var texts []string
	err := retryTransient(ctx, c.cfg.MaxRetries, func() error {
		var innerErr error
		texts, innerErr = c.listOnce(ctx, videoID)
		return innerErr
	})
	return texts, err
}

func (c *CommentClient) listOnce(ctx context.Context, videoID string) ([]string, error) {
	var result commentListResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"part":       "snippet",
			"videoId":    videoID,
			"order":      "relevance",
			"maxResults": fmt.Sprintf("%d", c.cfg.MaxResults),
			"key":        c.cfg.APIKey,
		}).
		SetResult(&result).
		Get("/commentThreads")
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

	texts := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		text := item.Snippet.TopLevelComment.Snippet.TextOriginal
		if text != "" {
			texts = append(texts, text)
		}
	}
	return texts, nil
}

// 留言評分規則
var (
	// 硬性排除：提問、讚美、推廣類留言不可能是食譜
	rejectQuestionPattern = regexp.MustCompile(`\?\s*$`)
	rejectPraisePattern   = regexp.MustCompile(`(?i)^(wow|omg|yum+|amazing|delicious|love (this|it)|looks (so )?good|great (video|recipe))\b`)
	rejectPromoPattern    = regexp.MustCompile(`(?i)(check out my|subscribe|follow me|my channel|promo code|discount|http://|https://)`)

	ingredientsHeaderPattern = regexp.MustCompile(`(?i)^\s*(ingredients?|what you('ll| will) need|recipe)\s*[:：]?\s*$`)
	commentListLinePattern   = regexp.MustCompile(`^\s*[-•▢*·]?\s*\S`)
	commentQtyUnitPattern    = regexp.MustCompile(`(?i)\b\d+[\d\s./⁄-]*\s*(cups?|tbsp|tablespoons?|tsp|teaspoons?|oz|ounces?|lbs?|pounds?|g|grams?|kg|ml|l|liters?|cloves?|cans?|sticks?)\b`)
)

// 只考察前幾則熱門留言，相關性排序後面的都是雜訊
const maxCommentsConsidered = 5

// looksLikeRecipeComment 判斷留言是否像完整食譜
// 接受條件：明確的食材標題，或至少五行清單且其中至少五行帶數量單位
func looksLikeRecipeComment(text string) bool {
	if rejectPromoPattern.MatchString(text) {
		return false
	}

	listLines := 0
	qtyUnitLines := 0
	hasHeader := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if ingredientsHeaderPattern.MatchString(trimmed) {
			hasHeader = true
		}
		if commentListLinePattern.MatchString(trimmed) {
			listLines++
		}
		if commentQtyUnitPattern.MatchString(normalize.Text(trimmed)) {
			qtyUnitLines++
		}
	}

	// 提問與純讚美是整則留言的屬性：帶任何數量行的留言都不算
	if qtyUnitLines == 0 {
		trimmed := strings.TrimSpace(text)
		if rejectQuestionPattern.MatchString(trimmed) || rejectPraisePattern.MatchString(trimmed) {
			return false
		}
	}

	if hasHeader {
		return true
	}
	return listLines >= 5 && qtyUnitLines >= 5
}

// CommentTier 留言探勘擷取層
type CommentTier struct {
	client *CommentClient
	parser *parse.RegexParser
}

// NewCommentTier 創建留言層
func NewCommentTier(client *CommentClient) *CommentTier {
	return &CommentTier{client: client, parser: parse.NewRegexParser()}
}

// Name 層名稱
func (t *CommentTier) Name() string {
	return string(common.SourceComment)
}

// Extract 探勘熱門留言中的食譜
func (t *CommentTier) Extract(ctx context.Context, bundle *common.SourceBundle) (*Output, error) {
	if bundle.VideoID == "" {
		return &Output{}, nil
	}

	start := time.Now()
	comments, err := t.client.ListComments(ctx, bundle.VideoID)
	if err != nil {
		return nil, err
	}

	limit := maxCommentsConsidered
	if len(comments) < limit {
		limit = len(comments)
	}

	for i := 0; i < limit; i++ {
		if !looksLikeRecipeComment(comments[i]) {
			continue
		}

		ingredients := t.parser.Parse(comments[i])
		for j := range ingredients {
			ingredients[j].Source = common.SourceComment
			ingredients[j].Confidence = common.SourceBaseConfidence[common.SourceComment]
		}
		instructions := parse.ParseInstructions(comments[i])

		common.LogInfo("留言探勘命中",
			zap.Int("留言序位", i),
			zap.Int("食材數", len(ingredients)),
			zap.Duration("耗時", time.Since(start)),
		)
		return &Output{
			Ingredients:    ingredients,
			Instructions:   instructions,
			EvidenceCorpus: comments[i],
		}, nil
	}

	return &Output{}, nil
}
