package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App         AppConfig       `mapstructure:"app"`
	Server      ServerConfig    `mapstructure:"server"`
	OpenRouter  ModelConfig     `mapstructure:"openrouter"`
	Vision      VisionConfig    `mapstructure:"vision"`
	Comments    CommentsConfig  `mapstructure:"comments"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Budget      BudgetConfig    `mapstructure:"budget"`
	Pipeline    PipelineConfig  `mapstructure:"pipeline"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	DedupWindow time.Duration   `mapstructure:"dedup_window"`
	LogLevel    string          `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Version  string `mapstructure:"version"`
	Name     string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ModelConfig 文字模型（OpenRouter）配置
type ModelConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	MaxInputChars   int           `mapstructure:"max_input_chars"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	// 每百萬 token 的費率（美分），用於實際用量計費
	InputCentsPerMTok  float64 `mapstructure:"input_cents_per_mtok"`
	OutputCentsPerMTok float64 `mapstructure:"output_cents_per_mtok"`
}

// VisionConfig 影片視覺模型配置
type VisionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	// 超過此秒數的影片降低取樣解析度，以抑制 token 成本
	LowResThresholdSeconds int     `mapstructure:"low_res_threshold_seconds"`
	CentsPerMinute         float64 `mapstructure:"cents_per_minute"`
	MaxRetries             int     `mapstructure:"max_retries"`
}

// CommentsConfig 留言 API 配置
type CommentsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// RedisConfig Redis 連線配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig 擷取快取配置
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"` // 僅記憶體模式使用
}

// BudgetConfig 配額與預算配置
type BudgetConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// 每月配額（依操作類型與方案）
	FreeMonthlyScans   int `mapstructure:"free_monthly_scans"`
	FreeMonthlyImports int `mapstructure:"free_monthly_imports"`
	PaidMonthlyScans   int `mapstructure:"paid_monthly_scans"`
	PaidMonthlyImports int `mapstructure:"paid_monthly_imports"`
	HourlyCalls        int `mapstructure:"hourly_calls"` // 各方案共用

	// 視覺層每日分鐘預算
	PaidDailyVisionMinutes   int `mapstructure:"paid_daily_vision_minutes"`
	GlobalDailyVisionMinutes int `mapstructure:"global_daily_vision_minutes"`
}

// PipelineConfig 擷取管線配置
type PipelineConfig struct {
	// 版本字串：邏輯或提示詞變更時必須調升，使快取鍵失效
	Version             string        `mapstructure:"version"`
	MinIngredients      int           `mapstructure:"min_ingredients"` // 升級門檻
	MinTextLength       int           `mapstructure:"min_text_length"` // 預檢最短文字
	AttemptTimeout      time.Duration `mapstructure:"attempt_timeout"`
	MaxASRMinutes       int           `mapstructure:"max_asr_minutes"`
	MaxConcurrent       int           `mapstructure:"max_concurrent"` // 同時進行的擷取嘗試上限
}

// RateLimitConfig 速率限制配置（IP 層，與配額無關）
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// 加載 .env 文件
	if err := godotenv.Load(); err != nil {
		// .env 不存在時仍可由環境變數提供設定
		if !strings.Contains(err.Error(), "no such file") {
			return nil, err
		}
	}

	// 設定預設值
	setDefaults()

	// 設定環境變數前綴
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 綁定環境變量
	viper.BindEnv("openrouter.api_key", "OPENROUTER_API_KEY")
	viper.BindEnv("openrouter.model", "OPENROUTER_MODEL")
	viper.BindEnv("openrouter.max_output_tokens", "MODEL_MAX_OUTPUT_TOKENS")
	viper.BindEnv("vision.api_key", "VISION_API_KEY")
	viper.BindEnv("vision.model", "VISION_MODEL")
	viper.BindEnv("vision.enabled", "VISION_ENABLED")
	viper.BindEnv("comments.api_key", "COMMENTS_API_KEY")
	viper.BindEnv("comments.base_url", "COMMENTS_BASE_URL")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("cache.enabled", "CACHE_ENABLED")
	viper.BindEnv("budget.enabled", "BUDGET_ENABLED")
	viper.BindEnv("pipeline.version", "PIPELINE_VERSION")
	viper.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	viper.BindEnv("rate_limit.requests", "RATE_LIMIT_REQUESTS")
	viper.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW")
	viper.BindEnv("dedup_window", "DEDUP_WINDOW")
	viper.BindEnv("log_level", "LOG_LEVEL")

	// 設定設定檔名稱和路徑
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// 讀取設定檔
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 添加調試日誌（logger 尚未初始化，改用 fmt.Println）
	fmt.Println("Loading configuration",
		"openrouter_api_key:", maskAPIKey(viper.GetString("openrouter.api_key")),
		"openrouter_model:", viper.GetString("openrouter.model"),
		"pipeline_version:", viper.GetString("pipeline.version"))

	// 解析設定
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// maskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults() {
	// 應用程式設定
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.name", "recipe-importer")

	// 伺服器設定
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	// 寫逾時必須涵蓋最長的擷取嘗試（attempt_timeout 120s 加緩衝）
	viper.SetDefault("server.write_timeout", "150s")
	viper.SetDefault("server.idle_timeout", "120s")

	// 文字模型設定
	viper.SetDefault("openrouter.enabled", true)
	viper.SetDefault("openrouter.model", "qwen/qwen2.5-72b-instruct")
	viper.SetDefault("openrouter.max_output_tokens", 2000)
	viper.SetDefault("openrouter.max_input_chars", 16000)
	viper.SetDefault("openrouter.timeout", "30s")
	viper.SetDefault("openrouter.max_retries", 2)
	viper.SetDefault("openrouter.input_cents_per_mtok", 80.0)
	viper.SetDefault("openrouter.output_cents_per_mtok", 400.0)

	// 視覺模型設定
	viper.SetDefault("vision.enabled", false)
	viper.SetDefault("vision.model", "qwen/qwen2.5-vl-72b-instruct")
	viper.SetDefault("vision.timeout", "45s")
	viper.SetDefault("vision.upload_timeout", "60s")
	viper.SetDefault("vision.low_res_threshold_seconds", 120)
	viper.SetDefault("vision.cents_per_minute", 5.0)
	viper.SetDefault("vision.max_retries", 2)

	// 留言 API 設定
	viper.SetDefault("comments.enabled", true)
	viper.SetDefault("comments.base_url", "https://www.googleapis.com/youtube/v3")
	viper.SetDefault("comments.max_results", 20)
	viper.SetDefault("comments.timeout", "10s")
	viper.SetDefault("comments.max_retries", 2)

	// Redis 設定
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	// 快取設定
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.ttl", "720h") // 30 天
	viper.SetDefault("cache.max_size", 1000)

	// 預算設定
	viper.SetDefault("budget.enabled", true)
	viper.SetDefault("budget.free_monthly_scans", 5)
	viper.SetDefault("budget.free_monthly_imports", 3)
	viper.SetDefault("budget.paid_monthly_scans", 50)
	viper.SetDefault("budget.paid_monthly_imports", 30)
	viper.SetDefault("budget.hourly_calls", 50)
	viper.SetDefault("budget.paid_daily_vision_minutes", 30)
	viper.SetDefault("budget.global_daily_vision_minutes", 600)

	// 管線設定
	viper.SetDefault("pipeline.version", "v1")
	viper.SetDefault("pipeline.min_ingredients", 5)
	viper.SetDefault("pipeline.min_text_length", 100)
	viper.SetDefault("pipeline.attempt_timeout", "120s")
	viper.SetDefault("pipeline.max_asr_minutes", 10)
	viper.SetDefault("pipeline.max_concurrent", 20)

	// 限流設定
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests", 100)
	viper.SetDefault("rate_limit.window", "1m")

	// 去重設定
	viper.SetDefault("dedup_window", "1s")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證伺服器設定
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	// 驗證快取設定
	if config.Cache.Enabled {
		if config.Cache.TTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
	}

	// 驗證管線設定
	if config.Pipeline.Version == "" {
		return fmt.Errorf("pipeline version is required")
	}
	if config.Pipeline.MinIngredients <= 0 {
		return fmt.Errorf("invalid pipeline min ingredients")
	}
	if config.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("invalid pipeline max concurrent")
	}

	// 驗證預算設定
	if config.Budget.Enabled {
		if config.Budget.HourlyCalls <= 0 {
			return fmt.Errorf("invalid budget hourly calls")
		}
		if config.Budget.GlobalDailyVisionMinutes <= 0 {
			return fmt.Errorf("invalid global daily vision minutes")
		}
	}

	return nil
}
