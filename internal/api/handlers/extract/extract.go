package extract

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-importer/internal/core/budget"
	"recipe-importer/internal/core/pipeline"
	"recipe-importer/internal/pkg/common"
)

// Handler 擷取端點處理器
type Handler struct {
	pipeline *pipeline.Pipeline
	limiter  *budget.Limiter
}

// NewHandler 創建處理器
func NewHandler(p *pipeline.Pipeline, limiter *budget.Limiter) *Handler {
	return &Handler{pipeline: p, limiter: limiter}
}

// ExtractRequest 擷取請求
// 來源內容由外部抓取器取得後隨請求送入
type ExtractRequest struct {
	URL                  string `json:"url" binding:"required"`
	Platform             string `json:"platform,omitempty"`
	Title                string `json:"title,omitempty"`
	Description          string `json:"description,omitempty"`
	UserSuppliedText     string `json:"user_supplied_text,omitempty"` // 使用者自行貼上的食譜文字
	VideoDurationSeconds int    `json:"video_duration_seconds,omitempty"`
	CaptionsText         string `json:"captions_text,omitempty"`
	HTML                 string `json:"html,omitempty"`
	VideoID              string `json:"video_id,omitempty"`

	UserID      string `json:"user_id,omitempty"`
	HouseholdID string `json:"household_id,omitempty"`
	Tier        string `json:"tier,omitempty"`      // free（預設）或 paid
	Operation   string `json:"operation,omitempty"` // scan 或 import（預設）

	Options pipeline.Options `json:"options"`
}

// resolveUserID 標頭優先，請求體次之
func resolveUserID(c *gin.Context, body string) string {
	if header := c.GetHeader("X-User-ID"); header != "" {
		return header
	}
	return body
}

func parseTier(raw string) common.UserTier {
	if strings.EqualFold(raw, string(common.TierPaid)) {
		return common.TierPaid
	}
	return common.TierFree
}

func parseOperation(raw string) common.OperationType {
	if strings.EqualFold(raw, string(common.OperationScan)) {
		return common.OperationScan
	}
	return common.OperationImport
}

// HandleExtract POST /api/v1/extract
func (h *Handler) HandleExtract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.LogWarn("擷取請求格式錯誤", zap.Error(err))
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Code:    common.ErrCodeInvalidRequest,
			Message: "無效的請求",
			Details: err.Error(),
		})
		return
	}

	userID := resolveUserID(c, req.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Code:    common.ErrCodeInvalidRequest,
			Message: "缺少使用者識別",
		})
		return
	}

	bundle := &common.SourceBundle{
		URL:                  req.URL,
		Platform:             req.Platform,
		Title:                req.Title,
		Description:          req.Description,
		UserSuppliedText:     req.UserSuppliedText,
		VideoDurationSeconds: req.VideoDurationSeconds,
		CaptionsText:         req.CaptionsText,
		HTML:                 req.HTML,
		VideoID:              req.VideoID,
	}

	result, err := h.pipeline.Extract(c.Request.Context(), &pipeline.Request{
		Bundle:      bundle,
		UserID:      userID,
		HouseholdID: req.HouseholdID,
		Tier:        parseTier(req.Tier),
		Operation:   parseOperation(req.Operation),
		Options:     req.Options,
	})
	if err != nil {
		h.writeError(c, err, userID, parseTier(req.Tier))
		return
	}

	common.LogInfo("擷取完成",
		zap.String("使用者", userID),
		zap.String("url", req.URL),
		zap.Int("食材數", len(result.Ingredients)),
		zap.Float64("信心", result.Confidence),
		zap.String("快取狀態", result.CacheStatus),
		zap.Strings("使用層", result.TiersUsed),
	)
	c.JSON(http.StatusOK, result)
}

// HandleQuota GET /api/v1/extract/quota
func (h *Handler) HandleQuota(c *gin.Context) {
	userID := resolveUserID(c, c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Code:    common.ErrCodeInvalidRequest,
			Message: "缺少使用者識別",
		})
		return
	}

	usage, err := h.limiter.CurrentUsage(c.Request.Context(), userID, parseTier(c.Query("tier")))
	if err != nil {
		common.LogError("配額查詢失敗", zap.String("使用者", userID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, common.ErrorResponse{
			Code:    common.ErrCodeServiceUnavailable,
			Message: "配額查詢暫時不可用",
		})
		return
	}

	c.JSON(http.StatusOK, usage)
}

// writeError 將管線的類型化失敗映射為 HTTP 響應
func (h *Handler) writeError(c *gin.Context, err error, userID string, tier common.UserTier) {
	if ce := common.AsCustomError(err); ce != nil {
		if ce.Status >= 500 {
			common.LogError("擷取失敗", zap.String("code", ce.Code), zap.Error(err))
		} else {
			common.LogInfo("擷取被拒", zap.String("code", ce.Code), zap.String("原因", ce.Message))
		}

		resp := common.ErrorResponse{Code: ce.Code, Message: ce.Message}
		// 配額類拒絕附上剩餘額度，呼叫端才知道何時可以再試
		if ce.Status == http.StatusPaymentRequired || ce.Status == http.StatusTooManyRequests {
			if usage, usageErr := h.limiter.CurrentUsage(c.Request.Context(), userID, tier); usageErr == nil {
				resp.Quota = usage
			}
		}
		c.JSON(ce.Status, resp)
		return
	}

	common.LogError("擷取發生未預期錯誤", zap.Error(err))
	c.JSON(http.StatusInternalServerError, common.ErrorResponse{
		Code:    common.ErrCodeInternalError,
		Message: "服務器內部錯誤",
	})
}
