package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/rebalancer/internal/types"
)

func id(b byte) types.ID {
	return types.IDFromBytes([]byte{b, 0x7F})
}

var (
	lending = types.NewStableLending(types.StableLending{PoolID: id(200), ReserveAddress: id(201)})
	farming = types.NewYieldFarming(types.YieldFarming{PairID: id(202), RewardMultiplier: 1, TokenAMint: id(203), TokenBMint: id(204)})
	staking = types.NewLiquidStaking(types.LiquidStaking{ValidatorID: id(205), StakePool: id(206)})
)

func candidate(b byte, score uint64, volatility uint32, protocol types.ProtocolType) types.StrategyPerformanceData {
	return types.StrategyPerformanceData{
		StrategyID:       id(b),
		PerformanceScore: score,
		VolatilityScore:  volatility,
		Protocol:         protocol,
		PercentileRank:   90,
	}
}

func testLimits() types.RiskLimits {
	limits := types.DefaultRiskLimits()
	limits.PlatformTreasury = id(100)
	limits.ManagerTreasury = id(101)
	return limits
}

func TestCalculateOptimalAllocation(t *testing.T) {
	strategies := []types.StrategyPerformanceData{
		candidate(1, 6000, 0, lending),
		candidate(2, 3000, 5000, farming),
		candidate(3, 1000, 10000, staking), // 380M share is below the staking ticket
	}

	allocations, err := CalculateOptimalAllocation(10_000_000_000, strategies, testLimits())
	require.NoError(t, err)

	expected := []types.CapitalAllocation{
		{StrategyID: id(100), Amount: 50_000_000, AllocationType: types.AllocationPlatformFee},
		{StrategyID: id(101), Amount: 150_000_000, AllocationType: types.AllocationManagerIncentive},
		// capped at 4e9, x1.2 risk adjustment, plus 3.8e9 of dust
		{StrategyID: id(1), Amount: 8_600_000_000, AllocationType: types.AllocationTopPerformer},
		// 1.5e9 x0.8
		{StrategyID: id(2), Amount: 1_200_000_000, AllocationType: types.AllocationTopPerformer},
	}
	assert.Equal(t, expected, allocations)

	total, err := ValidateAllocations(allocations)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000), total)
}

func TestCalculateOptimalAllocationDiversificationSlots(t *testing.T) {
	limits := testLimits()
	limits.PlatformFeeBps = 0
	limits.ManagerFeeBps = 0

	strategies := []types.StrategyPerformanceData{
		candidate(1, 2500, 10000, lending),
		candidate(2, 2500, 10000, lending),
		candidate(3, 2500, 10000, lending),
		candidate(4, 2500, 10000, lending),
	}

	allocations, err := CalculateOptimalAllocation(10_000_000_000, strategies, limits)
	require.NoError(t, err)
	require.Len(t, allocations, 4)

	assert.Equal(t, types.AllocationTopPerformer, allocations[0].AllocationType)
	assert.Equal(t, types.AllocationTopPerformer, allocations[2].AllocationType)
	assert.Equal(t, types.AllocationRiskDiversification, allocations[3].AllocationType)

	assert.Equal(t, uint64(1_000_000_000+6_561_000_000), allocations[0].Amount)
	assert.Equal(t, uint64(900_000_000), allocations[1].Amount)
	assert.Equal(t, uint64(810_000_000), allocations[2].Amount)
	assert.Equal(t, uint64(729_000_000), allocations[3].Amount)

	var sum uint64
	for _, a := range allocations {
		sum += a.Amount
	}
	assert.Equal(t, uint64(10_000_000_000), sum)
}

func TestCalculateOptimalAllocationSkipsBelowTicket(t *testing.T) {
	limits := testLimits()
	limits.PlatformFeeBps = 0
	limits.ManagerFeeBps = 0

	allocations, err := CalculateOptimalAllocation(100_000_000, []types.StrategyPerformanceData{candidate(1, 100, 0, staking)}, limits)
	require.NoError(t, err)
	assert.Empty(t, allocations)
}

func TestCalculateOptimalAllocationErrors(t *testing.T) {
	strategies := []types.StrategyPerformanceData{candidate(1, 5000, 0, lending)}

	_, err := CalculateOptimalAllocation(0, strategies, testLimits())
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	_, err = CalculateOptimalAllocation(1_000_000_000, nil, testLimits())
	assert.ErrorIs(t, err, types.ErrInsufficientStrategies)

	_, err = CalculateOptimalAllocation(1_000_000_000, []types.StrategyPerformanceData{candidate(1, 0, 0, lending)}, testLimits())
	assert.ErrorIs(t, err, types.ErrInvalidPerformanceScore)

	_, err = CalculateOptimalAllocation(1_000_000_000, []types.StrategyPerformanceData{candidate(1, 10, 0, types.ProtocolType{Kind: "vaults"})}, testLimits())
	assert.ErrorIs(t, err, types.ErrInvalidProtocolType)
}

func TestCalculateOptimalAllocationNeverOverallocates(t *testing.T) {
	limits := testLimits()
	limits.RiskToleranceBps = 20000
	limits.MaxSingleStrategyBps = 10000
	limits.MinSingleStrategyBps = 0

	strategies := []types.StrategyPerformanceData{
		candidate(1, 9000, 0, lending),
		candidate(2, 500, 0, lending),
		candidate(3, 500, 0, lending),
	}
	for _, capital := range []uint64{100_000_000, 1_000_000_000, 123_456_789_012, 5_000_000_000_000} {
		allocations, err := CalculateOptimalAllocation(capital, strategies, limits)
		require.NoError(t, err)
		total, err := ValidateAllocations(allocations)
		require.NoError(t, err)
		assert.LessOrEqual(t, total, capital)
	}
}

func TestCalculateOptimalAllocationUniqueDestinations(t *testing.T) {
	strategies := []types.StrategyPerformanceData{
		candidate(1, 6000, 0, lending),
		candidate(2, 3000, 5000, farming),
	}

	// both treasuries default to the zero ID
	allocations, err := CalculateOptimalAllocation(10_000_000_000, strategies, types.DefaultRiskLimits())
	require.NoError(t, err)

	seen := make(map[types.ID]bool)
	for _, a := range allocations {
		assert.False(t, seen[a.StrategyID], "destination %s repeated", a.StrategyID)
		seen[a.StrategyID] = true
	}
	require.NotEmpty(t, allocations)
	assert.Equal(t, types.CapitalAllocation{StrategyID: types.ID{}, Amount: 200_000_000, AllocationType: types.AllocationPlatformFee}, allocations[0])

	total, err := ValidateAllocations(allocations)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000), total)

	_, fees := SplitFees(allocations)
	require.Len(t, fees, 1)

	t.Run("strategy collides with a treasury", func(t *testing.T) {
		limits := testLimits()
		limits.ManagerTreasury = id(2)
		_, err := CalculateOptimalAllocation(10_000_000_000, strategies, limits)
		assert.ErrorIs(t, err, types.ErrDuplicateStrategy)
	})

	t.Run("duplicate candidates", func(t *testing.T) {
		_, err := CalculateOptimalAllocation(10_000_000_000, []types.StrategyPerformanceData{strategies[0], strategies[0]}, testLimits())
		assert.ErrorIs(t, err, types.ErrDuplicateStrategy)
	})
}

func TestCalculateRiskAdjustment(t *testing.T) {
	limits := types.DefaultRiskLimits()
	assert.Equal(t, uint64(12000), CalculateRiskAdjustment(0, limits))
	assert.Equal(t, uint64(8000), CalculateRiskAdjustment(5000, limits))
	assert.Equal(t, uint64(4000), CalculateRiskAdjustment(10000, limits))
	assert.Equal(t, uint64(4000), CalculateRiskAdjustment(20000, limits))

	limits.RiskToleranceBps = 10000
	assert.Equal(t, uint64(15000), CalculateRiskAdjustment(0, limits))
	limits.RiskToleranceBps = 20000
	assert.Equal(t, uint64(15000), CalculateRiskAdjustment(0, limits))
	assert.Equal(t, uint64(10000), CalculateRiskAdjustment(10000, limits))
}

func TestValidateAllocations(t *testing.T) {
	total, err := ValidateAllocations([]types.CapitalAllocation{
		{StrategyID: id(1), Amount: 5},
		{StrategyID: id(2), Amount: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(12), total)

	total, err = ValidateAllocations(nil)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = ValidateAllocations([]types.CapitalAllocation{{StrategyID: id(1), Amount: 5}, {StrategyID: id(1), Amount: 6}})
	assert.ErrorIs(t, err, types.ErrDuplicateStrategy)

	_, err = ValidateAllocations([]types.CapitalAllocation{{StrategyID: id(1), Amount: 0}})
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	_, err = ValidateAllocations([]types.CapitalAllocation{{StrategyID: id(1), Amount: MaxAllocationAmount}})
	assert.ErrorIs(t, err, types.ErrBalanceOverflow)

	_, err = ValidateAllocations([]types.CapitalAllocation{{StrategyID: id(1), Amount: MaxAllocationAmount - 1}})
	assert.NoError(t, err)
}

func TestSplitFees(t *testing.T) {
	allocations := []types.CapitalAllocation{
		{StrategyID: id(100), Amount: 1, AllocationType: types.AllocationPlatformFee},
		{StrategyID: id(1), Amount: 2, AllocationType: types.AllocationTopPerformer},
		{StrategyID: id(101), Amount: 3, AllocationType: types.AllocationManagerIncentive},
		{StrategyID: id(2), Amount: 4, AllocationType: types.AllocationRiskDiversification},
	}
	strategyAllocations, fees := SplitFees(allocations)
	assert.Equal(t, []types.CapitalAllocation{allocations[1], allocations[3]}, strategyAllocations)
	assert.Equal(t, []types.CapitalAllocation{allocations[0], allocations[2]}, fees)
}

func TestValidateRiskLimits(t *testing.T) {
	assert.NoError(t, ValidateRiskLimits(types.DefaultRiskLimits()))

	limits := types.DefaultRiskLimits()
	limits.RiskToleranceBps = 20001
	err := ValidateRiskLimits(limits)
	assert.ErrorIs(t, err, ErrInvalidRiskLimits)
	assert.ErrorIs(t, err, types.ErrInvalidRiskLimits)
}
