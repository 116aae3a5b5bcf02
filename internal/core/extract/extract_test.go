package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

func TestParseModelPayload_ObjectWithFence(t *testing.T) {
	raw := "```json\n{\"ingredients\":[{\"name\":\"flour\",\"amount\":\"2\",\"unit\":\"cup\",\"evidence_phrase\":\"2 cups flour\"},{\"name\":\"salt\",\"amount\":1,\"unit\":\"tsp\",\"evidence_phrase\":\"1 tsp salt\"},{\"name\":\"sugar\",\"evidence_phrase\":\"sugar to taste\"}],\"instructions\":[{\"step_number\":1,\"text\":\"Mix everything.\"}]}\n```"

	out := parseModelPayload(raw, common.SourceLLMText)
	require.Len(t, out.Ingredients, 3)

	assert.Equal(t, "flour", out.Ingredients[0].Name)
	assert.Equal(t, "2", out.Ingredients[0].Amount)
	assert.Equal(t, "cup", out.Ingredients[0].Unit)
	assert.Equal(t, "2 cups flour", out.Ingredients[0].EvidencePhrase)
	assert.Equal(t, common.SourceLLMText, out.Ingredients[0].Source)

	// 信心值是食材數量的階梯函數
	for _, ing := range out.Ingredients {
		assert.InDelta(t, 0.75, ing.Confidence, 0.001)
	}

	require.Len(t, out.Instructions, 1)
	assert.Equal(t, 1, out.Instructions[0].StepNumber)
	assert.Equal(t, "Mix everything.", out.Instructions[0].Description)
}

func TestParseModelPayload_LegacyBareArray(t *testing.T) {
	raw := `[{"name":"soy sauce","amount":"2","unit":"tbsp","evidence_phrase":"2 tbsp soy sauce"}]`

	out := parseModelPayload(raw, common.SourceVision)
	require.Len(t, out.Ingredients, 1)
	assert.Equal(t, "soy sauce", out.Ingredients[0].Name)
	assert.Equal(t, common.SourceVision, out.Ingredients[0].Source)
	assert.InDelta(t, 0.60, out.Ingredients[0].Confidence, 0.001)
}

func TestParseModelPayload_UnquotedKeys(t *testing.T) {
	raw := `{ingredients:[{name:"flour","amount":"2","unit":"cup",evidence_phrase:"2 cups flour"}]}`

	out := parseModelPayload(raw, common.SourceLLMText)
	require.Len(t, out.Ingredients, 1)
	assert.Equal(t, "flour", out.Ingredients[0].Name)
	assert.Equal(t, "2 cups flour", out.Ingredients[0].EvidencePhrase)
}

func TestParseModelPayload_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"純文字", "Sorry, I can't find a recipe here."},
		{"截斷的JSON", `{"ingredients":[{"name":"fl`},
		{"空字串", ""},
		{"錯誤型別", `{"ingredients":"none"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := parseModelPayload(tt.raw, common.SourceLLMText)
			assert.Empty(t, out.Ingredients)
			assert.Empty(t, out.Instructions)
		})
	}
}

func TestIngredientCountConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ingredientCountConfidence(0))
	assert.Equal(t, 0.60, ingredientCountConfidence(1))
	assert.Equal(t, 0.60, ingredientCountConfidence(2))
	assert.Equal(t, 0.75, ingredientCountConfidence(3))
	assert.Equal(t, 0.75, ingredientCountConfidence(4))
	assert.Equal(t, 0.85, ingredientCountConfidence(5))
	assert.Equal(t, 0.85, ingredientCountConfidence(12))
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(0, 0))
	assert.Equal(t, 2*time.Second, backoffDelay(1, 0))
	assert.Equal(t, 4*time.Second, backoffDelay(2, 0))
	// 指數退避上限 10 秒
	assert.Equal(t, 10*time.Second, backoffDelay(5, 0))
	// 優先採用伺服器指定的延遲，同樣受上限約束
	assert.Equal(t, 3*time.Second, backoffDelay(0, 3*time.Second))
	assert.Equal(t, 10*time.Second, backoffDelay(0, 30*time.Second))
}

func TestUpstreamErrorTransient(t *testing.T) {
	assert.True(t, (&UpstreamError{StatusCode: 429}).Transient())
	assert.True(t, (&UpstreamError{StatusCode: 500}).Transient())
	assert.True(t, (&UpstreamError{StatusCode: 503}).Transient())
	assert.True(t, (&UpstreamError{StatusCode: 0, Err: errors.New("dial timeout")}).Transient())
	// 其餘 4xx 視為終局失敗
	assert.False(t, (&UpstreamError{StatusCode: 400}).Transient())
	assert.False(t, (&UpstreamError{StatusCode: 401}).Transient())
	assert.False(t, (&UpstreamError{StatusCode: 422}).Transient())
}

func TestRetryTransient_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := retryTransient(context.Background(), 2, func() error {
		calls++
		return &UpstreamError{StatusCode: 401}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryTransient_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := retryTransient(context.Background(), 2, func() error {
		calls++
		if calls < 2 {
			return &UpstreamError{StatusCode: 0, Err: errors.New("connection reset")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestResolveMediaRef(t *testing.T) {
	cfg := &config.VisionConfig{LowResThresholdSeconds: 120}

	short := &common.SourceBundle{URL: "https://example.com/v/1", VideoDurationSeconds: 45}
	assert.Equal(t, ResolutionDefault, ResolveMediaRef(short, cfg).Resolution)

	// 超過兩分鐘的影片降為低解析度取樣
	long := &common.SourceBundle{URL: "https://example.com/v/2", VideoDurationSeconds: 300}
	assert.Equal(t, ResolutionLow, ResolveMediaRef(long, cfg).Resolution)
}

func TestEstimateVisionMinutes(t *testing.T) {
	assert.Equal(t, 1, EstimateVisionMinutes(0))
	assert.Equal(t, 1, EstimateVisionMinutes(59))
	assert.Equal(t, 1, EstimateVisionMinutes(60))
	assert.Equal(t, 2, EstimateVisionMinutes(61))
	assert.Equal(t, 5, EstimateVisionMinutes(300))
}

func TestLooksLikeRecipeComment(t *testing.T) {
	recipe := "Ingredients:\n- 2 cups flour\n- 1 tsp salt\n- 1 cup sugar\n- 2 eggs\n- 1/2 cup butter"
	assert.True(t, looksLikeRecipeComment(recipe))

	listOnly := "- 2 cups flour\n- 1 tsp baking soda\n- 3 tbsp cocoa\n- 1 cup milk\n- 2 oz chocolate\n- 1 tsp vanilla"
	assert.True(t, looksLikeRecipeComment(listOnly))

	// 標題本身就足以接受，不要求額外的數量行
	headerOnly := "Ingredients:\nflour\nsalt"
	assert.True(t, looksLikeRecipeComment(headerOnly))

	// 帶數量行的留言即使以問號結尾也不算提問
	recipeWithQuestion := "Ingredients:\n- 2 cups flour\n- 1 tsp salt\n- 1 cup sugar\nWho wants more?"
	assert.True(t, looksLikeRecipeComment(recipeWithQuestion))

	rejected := []struct {
		name string
		text string
	}{
		{"提問", "What temperature did you bake this at?"},
		{"純讚美", "Wow this looks so good"},
		{"推廣", "Check out my channel for more recipes! https://example.com"},
		{"清單太短", "- 2 cups flour\n- 1 tsp salt"},
		{"無數量的清單", "- flour\n- salt\n- sugar\n- eggs\n- butter\n- milk"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, looksLikeRecipeComment(tt.text))
		})
	}
}

func TestListCommentsRetriesTransient(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"snippet":{"topLevelComment":{"snippet":{"textOriginal":"Ingredients:\n- 2 cups flour"}}}}]}`))
	}))
	defer server.Close()

	client := NewCommentClient(&config.CommentsConfig{
		BaseURL:    server.URL,
		MaxResults: 5,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})

	comments, err := client.ListComments(context.Background(), "vid123")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "2 cups flour")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestListCommentsPermanentFailureNoRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewCommentClient(&config.CommentsConfig{
		BaseURL:    server.URL,
		MaxResults: 5,
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})

	_, err := client.ListComments(context.Background(), "vid123")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCommentTierExtractsRecipeComment(t *testing.T) {
	comment := "Ingredients:\n- 2 cups flour\n- 1 tsp salt\n- 1 cup sugar\n- 2 eggs\n- 1/2 cup butter\n" +
		"Instructions:\n1. Mix the dry ingredients.\n2. Fold in the eggs and butter."
	payload, err := json.Marshal(map[string]interface{}{
		"items": []map[string]interface{}{
			{"snippet": map[string]interface{}{
				"topLevelComment": map[string]interface{}{
					"snippet": map[string]interface{}{"textOriginal": comment},
				},
			}},
		},
	})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	tier := NewCommentTier(NewCommentClient(&config.CommentsConfig{
		BaseURL:    server.URL,
		MaxResults: 5,
		Timeout:    5 * time.Second,
	}))

	out, err := tier.Extract(context.Background(), &common.SourceBundle{VideoID: "vid123"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Ingredients)
	for _, ing := range out.Ingredients {
		assert.Equal(t, common.SourceComment, ing.Source)
	}
	require.Len(t, out.Instructions, 2)
	assert.Equal(t, 1, out.Instructions[0].StepNumber)
	assert.Equal(t, comment, out.EvidenceCorpus)
}

func TestCommentTierSkipsWithoutVideoID(t *testing.T) {
	tier := NewCommentTier(NewCommentClient(&config.CommentsConfig{BaseURL: "http://localhost", Timeout: time.Second}))
	out, err := tier.Extract(context.Background(), &common.SourceBundle{URL: "https://example.com/post"})
	require.NoError(t, err)
	assert.Empty(t, out.Ingredients)
}
