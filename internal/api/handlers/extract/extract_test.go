package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-importer/internal/core/budget"
	"recipe-importer/internal/core/cache"
	extractcore "recipe-importer/internal/core/extract"
	"recipe-importer/internal/core/merge"
	"recipe-importer/internal/core/pipeline"
	"recipe-importer/internal/core/pregate"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := budget.NewLimiter(budget.NewMemoryStore(), &config.BudgetConfig{
		Enabled:            true,
		FreeMonthlyScans:   5,
		FreeMonthlyImports: 3,
		PaidMonthlyScans:   50,
		PaidMonthlyImports: 30,
		HourlyCalls:        50,
	})
	pipelineConfig := &config.PipelineConfig{
		Version:        "v1",
		MinIngredients: 5,
		MinTextLength:  100,
		AttemptTimeout: 5 * time.Second,
		MaxConcurrent:  4,
	}
	pipe := pipeline.New(pipeline.Deps{
		Config:     pipelineConfig,
		Gate:       pregate.New(pipelineConfig.MinTextLength),
		Merger:     merge.New(nil),
		Cache:      cache.NewMemoryStore(&config.CacheConfig{Enabled: true, TTL: time.Hour, MaxSize: 10}),
		Limiter:    limiter,
		SchemaTier: extractcore.NewSchemaTier(),
		RegexTier:  extractcore.NewRegexTier(),
	})
	return NewHandler(pipe, limiter)
}

func newTestRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.POST("/api/v1/extract", h.HandleExtract)
	router.GET("/api/v1/extract/quota", h.HandleQuota)
	return router
}

func postExtract(t *testing.T, router *gin.Engine, body map[string]interface{}, userID string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleExtract_DeterministicSuccess(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	body := map[string]interface{}{
		"url":   "https://example.com/peanut-noodles",
		"title": "Peanut Noodles",
		"description": "The best weeknight peanut noodles you will ever make at home!\n" +
			"Ingredients:\n" +
			"- 1/4 cup peanut butter\n" +
			"- 2 tbsp soy sauce\n" +
			"- 1 tbsp rice vinegar\n" +
			"- 2 cloves garlic\n" +
			"- 8 oz noodles\n",
	}

	w := postExtract(t, router, body, "user-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result common.ExtractionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Len(t, result.Ingredients, 5)
	assert.Equal(t, common.CacheStatusFresh, result.CacheStatus)
	assert.Contains(t, result.TiersUsed, "regex")
	assert.Zero(t, result.CostCents)
}

func TestHandleExtract_SecondCallServedFromCache(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	body := map[string]interface{}{
		"url":   "https://example.com/peanut-noodles",
		"title": "Peanut Noodles",
		"description": "The best weeknight peanut noodles you will ever make at home!\n" +
			"Ingredients:\n" +
			"- 1/4 cup peanut butter\n" +
			"- 2 tbsp soy sauce\n" +
			"- 1 tbsp rice vinegar\n" +
			"- 2 cloves garlic\n" +
			"- 8 oz noodles\n",
	}

	first := postExtract(t, router, body, "user-1")
	require.Equal(t, http.StatusOK, first.Code)

	second := postExtract(t, router, body, "user-1")
	require.Equal(t, http.StatusOK, second.Code)

	var result common.ExtractionResult
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &result))
	assert.Equal(t, common.CacheStatusCached, result.CacheStatus)
	assert.Zero(t, result.CostCents)
}

func TestHandleExtract_MissingURL(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	w := postExtract(t, router, map[string]interface{}{"title": "no url"}, "user-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExtract_MissingUserID(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	w := postExtract(t, router, map[string]interface{}{"url": "https://example.com/x"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExtract_NoExtractableContent(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	body := map[string]interface{}{
		"url":         "https://example.com/short",
		"description": "#cooking #food",
	}
	w := postExtract(t, router, body, "user-1")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp common.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, common.ErrCodeNoExtractableContent, resp.Code)
}

func TestHandleExtract_BudgetExceededCarriesQuota(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	description := "The best weeknight peanut noodles you will ever make at home!\n" +
		"Ingredients:\n" +
		"- 1/4 cup peanut butter\n" +
		"- 2 tbsp soy sauce\n" +
		"- 1 tbsp rice vinegar\n" +
		"- 2 cloves garlic\n" +
		"- 8 oz noodles\n"

	// 免費層每月三次匯入，變動標題避開快取
	for i := 0; i < 3; i++ {
		body := map[string]interface{}{
			"url":         fmt.Sprintf("https://example.com/noodles-%d", i),
			"title":       fmt.Sprintf("Peanut Noodles %d", i),
			"description": description,
		}
		w := postExtract(t, router, body, "user-quota")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := postExtract(t, router, map[string]interface{}{
		"url":         "https://example.com/noodles-final",
		"title":       "Peanut Noodles Final",
		"description": description,
	}, "user-quota")
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	// 配額類拒絕要帶剩餘額度
	var resp struct {
		Code  string        `json:"code"`
		Quota *budget.Usage `json:"quota"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, common.ErrCodeBudgetExceeded, resp.Code)
	require.NotNil(t, resp.Quota)
	assert.Equal(t, int64(3), resp.Quota.MonthlyImportsUsed)
	assert.Equal(t, int64(3), resp.Quota.MonthlyImportsLimit)
}

func TestHandleQuota(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extract/quota?tier=free", nil)
	req.Header.Set("X-User-ID", "user-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var usage budget.Usage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, int64(5), usage.MonthlyScansLimit)
	assert.Equal(t, int64(3), usage.MonthlyImportsLimit)
	assert.Zero(t, usage.MonthlyImportsUsed)
}
