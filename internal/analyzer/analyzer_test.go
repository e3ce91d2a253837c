package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/rebalancer/internal/types"
)

func TestCalculatePerformanceScore(t *testing.T) {
	tests := []struct {
		name       string
		yieldRate  uint64
		balance    uint64
		volatility uint32
		expected   uint64
	}{
		{
			name:      "maximum inputs give a perfect score",
			yieldRate: 50000, balance: 100_000_000_000, volatility: 0,
			expected: 10000,
		},
		{
			// yield 2000 -> 900, balance 0 -> 0, inverse volatility 5000 -> 1000
			name:      "zero balance contributes only yield and volatility",
			yieldRate: 10000, balance: 0, volatility: 5000,
			expected: 1900,
		},
		{
			name:      "minimum meaningful inputs",
			yieldRate: 0, balance: 100_000_000, volatility: 10000,
			expected: 0,
		},
		{
			// yield clamps to 10000, balance 2^5 units -> (6-1)*1443 = 7215
			name:      "yield above range clamps",
			yieldRate: 90000, balance: 3_200_000_000, volatility: 10000,
			expected: 4500 + 2525,
		},
		{
			// balance below floor: (50_000_000*1000 + 5e7) / 1e8 = 500
			name:      "linear ramp below floor",
			yieldRate: 0, balance: 50_000_000, volatility: 10000,
			expected: 175,
		},
		{
			// 10 units -> bit length 4 -> 3*1443 = 4329 -> 1515
			name:      "logarithmic segment",
			yieldRate: 0, balance: 1_000_000_000, volatility: 10000,
			expected: 1515,
		},
		{
			// 999 units -> bit length 10 -> clamped to 10000 -> 3500
			name:      "logarithmic segment clamps below cap",
			yieldRate: 0, balance: 99_999_999_999, volatility: 10000,
			expected: 3500,
		},
		{
			name:      "volatility above range clamps",
			yieldRate: 25000, balance: 0, volatility: 60000,
			expected: 2250,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, err := CalculatePerformanceScore(tt.yieldRate, tt.balance, tt.volatility)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, score)
		})
	}
}

func TestCalculatePerformanceScoreOrdering(t *testing.T) {
	high, err := CalculatePerformanceScore(20000, 50_000_000_000, 1000)
	require.NoError(t, err)
	low, err := CalculatePerformanceScore(500, 100_000_000, 9000)
	require.NoError(t, err)
	assert.Greater(t, high, low)
}

func TestCalculatePerformanceScoreMonotonic(t *testing.T) {
	yields := []uint64{0, 1, 100, 2500, 10000, 24999, 25000, 49999, 50000, 50001, 1_000_000}
	balances := []uint64{0, 1, 99_999_999, 100_000_000, 199_999_999, 200_000_000, 1_000_000_000,
		12_800_000_000, 99_999_999_999, 100_000_000_000, 1 << 62}
	volatilities := []uint32{0, 1, 2500, 5000, 9999, 10000, 20000}

	for _, v := range volatilities {
		for _, b := range balances {
			var prev uint64
			for i, y := range yields {
				score, err := CalculatePerformanceScore(y, b, v)
				require.NoError(t, err)
				assert.LessOrEqual(t, score, uint64(10000))
				if i > 0 {
					assert.GreaterOrEqual(t, score, prev, "yield %d balance %d vol %d", y, b, v)
				}
				prev = score
			}
		}
	}

	for _, v := range volatilities {
		for _, y := range yields {
			var prev uint64
			for i, b := range balances {
				score, err := CalculatePerformanceScore(y, b, v)
				require.NoError(t, err)
				if i > 0 {
					// the logarithmic segment starts at 0 for 1-unit balances, so the ramp
					// value just below the floor can exceed it
					if balances[i-1] < balanceFloor && b >= balanceFloor {
						prev = score
						continue
					}
					assert.GreaterOrEqual(t, score, prev, "balance %d yield %d vol %d", b, y, v)
				}
				prev = score
			}
		}
	}

	for _, y := range yields {
		for _, b := range balances {
			var prev uint64
			for i, v := range volatilities {
				score, err := CalculatePerformanceScore(y, b, v)
				require.NoError(t, err)
				if i > 0 {
					assert.LessOrEqual(t, score, prev, "vol %d yield %d balance %d", v, y, b)
				}
				prev = score
			}
		}
	}
}

func TestNormalizeBalanceDropsAtFloor(t *testing.T) {
	below, err := normalizeBalance(balanceFloor - 1)
	require.NoError(t, err)
	assert.Equal(t, balanceLinearMax, below)

	at, err := normalizeBalance(balanceFloor)
	require.NoError(t, err)
	assert.Zero(t, at)

	lowScore, err := CalculatePerformanceScore(0, balanceFloor-1, 10000)
	require.NoError(t, err)
	floorScore, err := CalculatePerformanceScore(0, balanceFloor, 10000)
	require.NoError(t, err)
	assert.Greater(t, lowScore, floorScore)
}

func TestCalculateScoreComponents(t *testing.T) {
	c, err := CalculateScoreComponents(10000, 0, 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), c.NormalizedYield)
	assert.Equal(t, uint64(0), c.NormalizedBalance)
	assert.Equal(t, uint64(5000), c.NormalizedInverseVolatility)
	assert.Equal(t, uint64(900), c.YieldComponent)
	assert.Equal(t, uint64(0), c.BalanceComponent)
	assert.Equal(t, uint64(1000), c.VolatilityComponent)
	assert.Equal(t, uint64(1900), c.Score)
}

func TestValidateCalculationPrecision(t *testing.T) {
	assert.NoError(t, ValidateCalculationPrecision(50000, 100_000_000_000, 0, 10000, 10000))
	assert.ErrorIs(t, ValidateCalculationPrecision(10000, 0, 5000, 5000, 5000), ErrScoreOutOfRange)
}

func strategyWithScore(id byte, score uint64) *types.Strategy {
	return &types.Strategy{StrategyID: types.IDFromBytes([]byte{id}), PerformanceScore: score}
}

func TestAssignPercentileRanks(t *testing.T) {
	a := strategyWithScore(1, 9000)
	b := strategyWithScore(2, 1000)
	c := strategyWithScore(3, 5000)
	d := strategyWithScore(4, 5000)
	e := strategyWithScore(5, 7000)

	input := []*types.Strategy{a, b, c, d, e}
	AssignPercentileRanks(input)

	assert.Equal(t, uint8(100), a.PercentileRank)
	assert.Equal(t, uint8(75), e.PercentileRank)
	assert.Equal(t, uint8(50), c.PercentileRank)
	assert.Equal(t, uint8(50), d.PercentileRank) // tie shares the group's best rank
	assert.Equal(t, uint8(0), b.PercentileRank)

	// input order is untouched
	assert.Equal(t, []*types.Strategy{a, b, c, d, e}, input)

	single := strategyWithScore(9, 0)
	AssignPercentileRanks([]*types.Strategy{single})
	assert.Equal(t, uint8(100), single.PercentileRank)

	AssignPercentileRanks(nil)
}

func perf(id byte, rank uint8, score uint64) types.StrategyPerformanceData {
	return types.StrategyPerformanceData{StrategyID: types.IDFromBytes([]byte{id}), PercentileRank: rank, PerformanceScore: score}
}

func TestSelectCandidates(t *testing.T) {
	data := []types.StrategyPerformanceData{
		perf(1, 10, 100), perf(2, 90, 9000), perf(3, 75, 7500), perf(4, 74, 7400),
		perf(5, 80, 8000), perf(6, 100, 9900), perf(7, 76, 7600), perf(8, 99, 9800), perf(9, 24, 2400),
	}

	under := SelectUnderperformers(data, 25)
	require.Len(t, under, 2)
	assert.Equal(t, data[0].StrategyID, under[0].StrategyID)
	assert.Equal(t, data[8].StrategyID, under[1].StrategyID)

	top := SelectTopPerformers(data)
	require.Len(t, top, MaxTopPerformers)
	// input order, first five at or above 75
	assert.Equal(t, []types.ID{data[1].StrategyID, data[2].StrategyID, data[4].StrategyID, data[5].StrategyID, data[6].StrategyID},
		[]types.ID{top[0].StrategyID, top[1].StrategyID, top[2].StrategyID, top[3].StrategyID, top[4].StrategyID})

	assert.Empty(t, SelectUnderperformers(data, 1))
}

func TestCalculateExpectedImprovement(t *testing.T) {
	assert.Equal(t, uint64(0), CalculateExpectedImprovement(nil))
	top := []types.StrategyPerformanceData{perf(1, 90, 8000), perf(2, 80, 6000)}
	// average 7000 * 15 / 100
	assert.Equal(t, uint64(1050), CalculateExpectedImprovement(top))
}
