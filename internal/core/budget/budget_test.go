package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-importer/internal/infrastructure/config"
	"recipe-importer/internal/pkg/common"
)

func testBudgetConfig() *config.BudgetConfig {
	return &config.BudgetConfig{
		Enabled:                  true,
		FreeMonthlyScans:         5,
		FreeMonthlyImports:       3,
		PaidMonthlyScans:         50,
		PaidMonthlyImports:       30,
		HourlyCalls:              50,
		PaidDailyVisionMinutes:   30,
		GlobalDailyVisionMinutes: 600,
	}
}

func TestCheckAndReserve_FreeMonthlyQuota(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testBudgetConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport))
	}
	err := limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport)
	assert.ErrorIs(t, err, common.ErrBudgetExceeded)

	// 掃描與匯入各自獨立計量
	assert.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationScan))
}

func TestCheckAndReserve_FreshQuotaAfterMonthBoundary(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testBudgetConfig())
	ctx := context.Background()

	current := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport))
	}
	err := limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport)
	require.ErrorIs(t, err, common.ErrBudgetExceeded)

	// 跨月後計數器換鍵，配額重新開始
	current = time.Date(2026, 9, 1, 0, 30, 0, 0, time.UTC)
	require.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport))

	usage, usageErr := limiter.CurrentUsage(ctx, "u1", common.TierFree)
	require.NoError(t, usageErr)
	assert.Equal(t, int64(1), usage.MonthlyImportsUsed)
}

func TestCheckAndReserve_HourlyCeiling(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.HourlyCalls = 2
	cfg.PaidMonthlyScans = 100
	limiter := NewLimiter(NewMemoryStore(), cfg)
	ctx := context.Background()

	require.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierPaid, common.OperationScan))
	require.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierPaid, common.OperationScan))

	err := limiter.CheckAndReserve(ctx, "u1", common.TierPaid, common.OperationScan)
	assert.ErrorIs(t, err, common.ErrRateLimited)
}

func TestReleaseOperation_RefundsQuota(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.FreeMonthlyImports = 1
	limiter := NewLimiter(NewMemoryStore(), cfg)
	ctx := context.Background()

	require.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport))
	assert.ErrorIs(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport), common.ErrBudgetExceeded)

	limiter.ReleaseOperation(ctx, "u1", common.OperationImport)
	assert.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport))
}

func TestReserveVisionMinutes_FreeTierDenied(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testBudgetConfig())
	err := limiter.ReserveVisionMinutes(context.Background(), "u1", common.TierFree, 1)
	assert.ErrorIs(t, err, common.ErrBudgetExceeded)
}

func TestReserveVisionMinutes_PerUserBudget(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testBudgetConfig())
	ctx := context.Background()

	require.NoError(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 20))
	// 剩 10 分鐘，再要 15 分鐘必須拒絕
	assert.ErrorIs(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 15), common.ErrBudgetExceeded)
	assert.NoError(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 10))
}

func TestReserveVisionMinutes_GlobalBudgetRollsBackUserReservation(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.GlobalDailyVisionMinutes = 10
	limiter := NewLimiter(NewMemoryStore(), cfg)
	ctx := context.Background()

	require.NoError(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 10))

	// 全域已滿：u2 被拒，且個人保留必須回退
	assert.ErrorIs(t, limiter.ReserveVisionMinutes(ctx, "u2", common.TierPaid, 5), common.ErrBudgetExceeded)
	usage, err := limiter.CurrentUsage(ctx, "u2", common.TierPaid)
	require.NoError(t, err)
	assert.Zero(t, usage.VisionMinutesUsed)
}

func TestReleaseVisionMinutes_Refunds(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testBudgetConfig())
	ctx := context.Background()

	require.NoError(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 30))
	assert.ErrorIs(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 1), common.ErrBudgetExceeded)

	limiter.ReleaseVisionMinutes(ctx, "u1", 30)
	assert.NoError(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 5))
}

// faultyStore 模擬基礎設施故障
type faultyStore struct{}

func (faultyStore) IncrWithLimit(context.Context, string, int64, int64, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}
func (faultyStore) Decr(context.Context, string, int64) error { return errors.New("connection refused") }
func (faultyStore) Get(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestFailOpenVersusFailClosed(t *testing.T) {
	limiter := NewLimiter(faultyStore{}, testBudgetConfig())
	ctx := context.Background()

	// 便宜的操作計數器故障時放行（可用性優先）
	assert.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierPaid, common.OperationScan))

	// 昂貴的視覺預算故障時拒絕（成本控管優先）
	assert.ErrorIs(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 5), common.ErrBudgetExceeded)
}

func TestConcurrentReservationsNoDoubleSpend(t *testing.T) {
	cfg := testBudgetConfig()
	cfg.GlobalDailyVisionMinutes = 100
	cfg.PaidDailyVisionMinutes = 100
	limiter := NewLimiter(NewMemoryStore(), cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	granted := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.ReserveVisionMinutes(ctx, "u1", common.TierPaid, 10) == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	// 100 分鐘預算、每次保留 10 分鐘，最多允許 10 次
	assert.Equal(t, 10, len(granted))
}

func TestCurrentUsage(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), testBudgetConfig())
	ctx := context.Background()

	require.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationScan))
	require.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationScan))

	usage, err := limiter.CurrentUsage(ctx, "u1", common.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage.MonthlyScansUsed)
	assert.Equal(t, int64(5), usage.MonthlyScansLimit)
	assert.Equal(t, int64(2), usage.HourlyCallsUsed)
	assert.Equal(t, int64(0), usage.VisionMinutesLimit)
}

func TestDisabledBudgetAllowsEverything(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), &config.BudgetConfig{Enabled: false})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		assert.NoError(t, limiter.CheckAndReserve(ctx, "u1", common.TierFree, common.OperationImport))
	}
	assert.NoError(t, limiter.ReserveVisionMinutes(ctx, "u1", common.TierFree, 60))
}
