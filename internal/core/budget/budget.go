package budget

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

// 計數器 TTL，略寬於計量週期本身，讓過期自然清理
const (
	monthlyTTL = 32 * 24 * time.Hour
	hourlyTTL  = 2 * time.Hour
	dailyTTL   = 25 * time.Hour
)

// Limiter 配額與預算控管器
type Limiter struct {
	store  Store
	config *config.BudgetConfig
	now    func() time.Time // 測試時可替換
}

// NewLimiter 創建控管器
func NewLimiter(store Store, cfg *config.BudgetConfig) *Limiter {
	return &Limiter{store: store, config: cfg, now: time.Now}
}

func monthlyKey(userID string, op common.OperationType, now time.Time) string {
	return fmt.Sprintf("quota:%s:%s:%s", userID, op, now.UTC().Format("2006-01"))
}

func hourlyKey(userID string, now time.Time) string {
	return fmt.Sprintf("quota:%s:hourly:%s", userID, now.UTC().Format("2006-01-02-15"))
}

func visionUserKey(userID string, now time.Time) string {
	return fmt.Sprintf("vision:%s:%s", userID, now.UTC().Format("2006-01-02"))
}

func visionGlobalKey(now time.Time) string {
	return fmt.Sprintf("vision:global:%s", now.UTC().Format("2006-01-02"))
}

// monthlyLimit 依方案與操作類型取得每月配額
func (l *Limiter) monthlyLimit(tier common.UserTier, op common.OperationType) int64 {
	switch {
	case tier == common.TierPaid && op == common.OperationScan:
		return int64(l.config.PaidMonthlyScans)
	case tier == common.TierPaid && op == common.OperationImport:
		return int64(l.config.PaidMonthlyImports)
	case op == common.OperationImport:
		return int64(l.config.FreeMonthlyImports)
	default:
		return int64(l.config.FreeMonthlyScans)
	}
}

// CheckAndReserve 原子地檢查並佔用一次操作額度（每月配額 + 每小時上限）
// 每月配額超限回傳 ErrBudgetExceeded，小時上限超限回傳 ErrRateLimited
// 小時計數器在基礎設施故障時 fail open（可用性優先）；
// 每月配額同樣 fail open，真正的成本控管在視覺分鐘預算
func (l *Limiter) CheckAndReserve(ctx context.Context, userID string, tier common.UserTier, op common.OperationType) error {
	if !l.config.Enabled {
		return nil
	}
	now := l.now()

	ok, err := l.store.IncrWithLimit(ctx, hourlyKey(userID, now), 1, int64(l.config.HourlyCalls), hourlyTTL)
	if err != nil {
		common.LogWarn("小時計數器故障，放行請求",
			zap.String("使用者", userID),
			zap.Error(err),
		)
	} else if !ok {
		return common.ErrRateLimited
	}

	ok, err = l.store.IncrWithLimit(ctx, monthlyKey(userID, op, now), 1, l.monthlyLimit(tier, op), monthlyTTL)
	if err != nil {
		common.LogWarn("每月配額計數器故障，放行請求",
			zap.String("使用者", userID),
			zap.Error(err),
		)
		return nil
	}
	if !ok {
		common.LogInfo("每月配額已用盡",
			zap.String("使用者", userID),
			zap.String("操作", string(op)),
			zap.String("方案", string(tier)),
		)
		return common.ErrBudgetExceeded
	}
	return nil
}

// ReleaseOperation 可證明失敗時退還已佔用的操作額度
func (l *Limiter) ReleaseOperation(ctx context.Context, userID string, op common.OperationType) {
	if !l.config.Enabled {
		return
	}
	now := l.now()
	if err := l.store.Decr(ctx, monthlyKey(userID, op, now), 1); err != nil {
		common.LogWarn("操作額度退還失敗", zap.String("使用者", userID), zap.Error(err))
	}
	if err := l.store.Decr(ctx, hourlyKey(userID, now), 1); err != nil {
		common.LogWarn("小時額度退還失敗", zap.String("使用者", userID), zap.Error(err))
	}
}

// dailyVisionLimit 依方案取得每日視覺分鐘預算，免費方案為 0
func (l *Limiter) dailyVisionLimit(tier common.UserTier) int64 {
	if tier == common.TierPaid {
		return int64(l.config.PaidDailyVisionMinutes)
	}
	return 0
}

// ReserveVisionMinutes 在呼叫視覺層之前原子地保留分鐘額度
// 個人與全域預算都要通過；視覺預算在基礎設施故障時 fail closed（成本控管優先）
// 個人檢查通過而全域不足時，個人保留會回退，不留殘餘佔用
func (l *Limiter) ReserveVisionMinutes(ctx context.Context, userID string, tier common.UserTier, minutes int) error {
	if !l.config.Enabled {
		return nil
	}
	if minutes <= 0 {
		return nil
	}
	now := l.now()

	userLimit := l.dailyVisionLimit(tier)
	if userLimit == 0 {
		return common.ErrBudgetExceeded
	}

	userKey := visionUserKey(userID, now)
	ok, err := l.store.IncrWithLimit(ctx, userKey, int64(minutes), userLimit, dailyTTL)
	if err != nil {
		common.LogError("視覺分鐘計數器故障，拒絕請求", zap.String("使用者", userID), zap.Error(err))
		return common.ErrBudgetExceeded
	}
	if !ok {
		return common.ErrBudgetExceeded
	}

	ok, err = l.store.IncrWithLimit(ctx, visionGlobalKey(now), int64(minutes),
		int64(l.config.GlobalDailyVisionMinutes), dailyTTL)
	if err != nil || !ok {
		// 全域不足，回退個人保留
		if derr := l.store.Decr(ctx, userKey, int64(minutes)); derr != nil {
			common.LogWarn("視覺分鐘回退失敗", zap.String("使用者", userID), zap.Error(derr))
		}
		if err != nil {
			common.LogError("全域視覺計數器故障，拒絕請求", zap.Error(err))
		}
		return common.ErrBudgetExceeded
	}
	return nil
}

// ReleaseVisionMinutes 視覺呼叫失敗時退還保留的分鐘額度
// 逾時取消也必須走到這裡，保留不可因取消而洩漏
func (l *Limiter) ReleaseVisionMinutes(ctx context.Context, userID string, minutes int) {
	if !l.config.Enabled || minutes <= 0 {
		return
	}
	now := l.now()
	if err := l.store.Decr(ctx, visionUserKey(userID, now), int64(minutes)); err != nil {
		common.LogWarn("個人視覺分鐘退還失敗", zap.String("使用者", userID), zap.Error(err))
	}
	if err := l.store.Decr(ctx, visionGlobalKey(now), int64(minutes)); err != nil {
		common.LogWarn("全域視覺分鐘退還失敗", zap.Error(err))
	}
}

// Usage 配額使用現況，供查詢端點回報
type Usage struct {
	MonthlyScansUsed    int64 `json:"monthly_scans_used"`
	MonthlyScansLimit   int64 `json:"monthly_scans_limit"`
	MonthlyImportsUsed  int64 `json:"monthly_imports_used"`
	MonthlyImportsLimit int64 `json:"monthly_imports_limit"`
	HourlyCallsUsed     int64 `json:"hourly_calls_used"`
	HourlyCallsLimit    int64 `json:"hourly_calls_limit"`
	VisionMinutesUsed   int64 `json:"vision_minutes_used"`
	VisionMinutesLimit  int64 `json:"vision_minutes_limit"`
}

// CurrentUsage 讀取使用者目前的配額使用現況
func (l *Limiter) CurrentUsage(ctx context.Context, userID string, tier common.UserTier) (*Usage, error) {
	now := l.now()

	scans, err := l.store.Get(ctx, monthlyKey(userID, common.OperationScan, now))
	if err != nil {
		return nil, err
	}
	imports, err := l.store.Get(ctx, monthlyKey(userID, common.OperationImport, now))
	if err != nil {
		return nil, err
	}
	hourly, err := l.store.Get(ctx, hourlyKey(userID, now))
	if err != nil {
		return nil, err
	}
	visionMinutes, err := l.store.Get(ctx, visionUserKey(userID, now))
	if err != nil {
		return nil, err
	}

	return &Usage{
		MonthlyScansUsed:    scans,
		MonthlyScansLimit:   l.monthlyLimit(tier, common.OperationScan),
		MonthlyImportsUsed:  imports,
		MonthlyImportsLimit: l.monthlyLimit(tier, common.OperationImport),
		HourlyCallsUsed:     hourly,
		HourlyCallsLimit:    int64(l.config.HourlyCalls),
		VisionMinutesUsed:   visionMinutes,
		VisionMinutesLimit:  l.dailyVisionLimit(tier),
	}, nil
}
