package api

import (
	"context"
	"net/http"
	"time"

	"recipe-importer/internal/api/handlers/extract"
	"recipe-importer/internal/api/handlers/health"
	"recipe-importer/internal/api/middleware"
	"recipe-importer/internal/core/budget"
	"recipe-importer/internal/core/cache"
	extractcore "recipe-importer/internal/core/extract"
	"recipe-importer/internal/core/merge"
	"recipe-importer/internal/core/pipeline"
	"recipe-importer/internal/core/pregate"
	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 請求體大小限制 (10MB)：整頁 HTML 與逐字稿都在請求體內
const maxBodySize = 10 << 20

// SetupRouter 設置路由
// redisClient 為 nil 時退用行程內存儲（開發模式與測試）
func SetupRouter(cfg *config.Config, redisClient *redis.Client) (*gin.Engine, error) {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(requestid.New())

	// CORS 設置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(middleware.BodySizeLimit(maxBodySize))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	router.Use(middleware.Deduplication(cfg))

	// 初始化存儲：有 Redis 用 Redis，否則退用記憶體
	var cacheStore cache.Store
	var budgetStore budget.Store
	if redisClient != nil {
		cacheStore = cache.NewRedisService(redisClient, &cfg.Cache)
		budgetStore = budget.NewRedisStore(redisClient)
	} else {
		common.LogWarn("Redis 未配置，快取與配額改用行程內存儲")
		cacheStore = cache.NewMemoryStore(&cfg.Cache)
		budgetStore = budget.NewMemoryStore()
	}
	limiter := budget.NewLimiter(budgetStore, &cfg.Budget)

	// 組裝擷取階梯
	deps := pipeline.Deps{
		Config:     &cfg.Pipeline,
		Gate:       pregate.New(cfg.Pipeline.MinTextLength),
		Merger:     merge.New(nil),
		Cache:      cacheStore,
		Limiter:    limiter,
		SchemaTier: extractcore.NewSchemaTier(),
		RegexTier:  extractcore.NewRegexTier(),
	}

	if cfg.OpenRouter.Enabled && cfg.OpenRouter.APIKey != "" {
		modelClient := extractcore.NewModelClient(&cfg.OpenRouter)
		deps.LLMTier = extractcore.NewLLMTier(modelClient, &cfg.OpenRouter)
		deps.ASRTier = extractcore.NewASRTier(modelClient, &cfg.OpenRouter, cfg.Pipeline.MaxASRMinutes)
	} else {
		common.LogWarn("文字模型未配置，升級階梯只剩確定性解析")
	}

	if cfg.Vision.Enabled && cfg.Vision.APIKey != "" {
		visionClient := extractcore.NewVisionClient(&cfg.Vision)
		deps.VisionTier = extractcore.NewVisionTier(visionClient, &cfg.Vision)
	}

	if cfg.Comments.Enabled {
		deps.CommentTier = extractcore.NewCommentTier(extractcore.NewCommentClient(&cfg.Comments))
	}

	pipe := pipeline.New(deps)

	common.LogInfo("擷取管線已初始化",
		zap.String("pipeline_version", cfg.Pipeline.Version),
		zap.Bool("llm_enabled", deps.LLMTier != nil),
		zap.Bool("vision_enabled", deps.VisionTier != nil),
		zap.Bool("comments_enabled", deps.CommentTier != nil),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Int("max_concurrent", cfg.Pipeline.MaxConcurrent),
	)

	// 全局中間件：請求超時與配置注入
	timeoutDuration := cfg.Pipeline.AttemptTimeout + 10*time.Second
	router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeoutDuration)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Set("config", cfg)

		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetHeader("X-Request-ID")),
				zap.Duration("timeout", timeoutDuration),
			)
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error": "Request timeout",
				"code":  common.ErrCodeRequestTimeout,
			})
			c.Abort()
		}
	})

	// 健康檢查路由
	router.GET("/health", health.HealthCheck)
	router.GET("/ready", health.ReadinessCheck(redisClient))
	router.GET("/live", health.LivenessCheck)

	// API 路由組
	api := router.Group("/api/v1")
	{
		extractHandler := extract.NewHandler(pipe, limiter)

		api.POST("/extract", extractHandler.HandleExtract)
		api.GET("/extract/quota", extractHandler.HandleQuota)
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
		zap.Duration("timeout", timeoutDuration),
		zap.Int64("max_body_size", maxBodySize),
	)

	return router, nil
}
