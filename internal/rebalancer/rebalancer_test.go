package rebalancer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/rebalancer/internal/extraction"
	"github.com/elys-network/rebalancer/internal/planner"
	"github.com/elys-network/rebalancer/internal/state"
	"github.com/elys-network/rebalancer/internal/types"
)

const startTime = int64(1_700_000_000)

func id(b byte) types.ID {
	return types.IDFromBytes([]byte{b, 0x42, 0x17})
}

var (
	manager = id(1)
	lending = types.NewStableLending(types.StableLending{PoolID: id(200), UtilizationBps: 5000, ReserveAddress: id(201)})
	farming = types.NewYieldFarming(types.YieldFarming{PairID: id(202), RewardMultiplier: 2, TokenAMint: id(203), TokenBMint: id(204), FeeTierBps: 30})
	staking = types.NewLiquidStaking(types.LiquidStaking{ValidatorID: id(205), StakePool: id(206), UnstakeDelayEpochs: 2})
)

type testClock struct {
	mu  sync.Mutex
	now int64
}

func (c *testClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Epoch() uint64 { return uint64(c.Now() / 86400) }

func (c *testClock) Advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) eventTypes() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *state.MemoryStore
	clock  *testClock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: state.NewMemoryStore(), clock: &testClock{now: startTime}, events: &recorder{}}
	svc, err := NewService(Config{Store: f.store, Engine: extraction.NewEngine(f.clock), Publisher: f.events})
	require.NoError(t, err)
	f.svc = svc

	_, err = svc.InitializePortfolio(context.Background(), manager, 50, 3600)
	require.NoError(t, err)
	return f
}

func (f *fixture) strategy(t *testing.T, strategyID types.ID) types.Strategy {
	t.Helper()
	s, err := f.store.GetStrategy(context.Background(), manager, strategyID)
	require.NoError(t, err)
	return s
}

func (f *fixture) position(t *testing.T, strategyID types.ID) types.CapitalPosition {
	t.Helper()
	p, err := f.store.GetPosition(context.Background(), manager, strategyID)
	require.NoError(t, err)
	return p
}

func (f *fixture) portfolio(t *testing.T) types.Portfolio {
	t.Helper()
	p, err := f.store.GetPortfolio(context.Background(), manager)
	require.NoError(t, err)
	return p
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)

	bad := types.DefaultRiskLimits()
	bad.MaxSingleStrategyBps = 20000
	_, err = NewService(Config{Store: state.NewMemoryStore(), DefaultLimits: &bad})
	assert.ErrorIs(t, err, types.ErrInvalidRiskLimits)
}

func TestInitializePortfolio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.portfolio(t)
	assert.Equal(t, uint8(50), p.RebalanceThreshold)
	assert.Equal(t, startTime, p.LastRebalance)
	assert.Equal(t, startTime, p.PortfolioCreation)
	assert.Equal(t, types.DefaultPerformanceFeeBps, p.PerformanceFeeBps)

	_, err := f.svc.InitializePortfolio(ctx, manager, 50, 3600)
	assert.ErrorIs(t, err, types.ErrPortfolioExists)

	_, err = f.svc.InitializePortfolio(ctx, types.ID{}, 10, 3600)
	assert.ErrorIs(t, err, types.ErrInvalidManager)
	_, err = f.svc.InitializePortfolio(ctx, id(2), 0, 3600)
	assert.ErrorIs(t, err, types.ErrInvalidRebalanceThreshold)
	_, err = f.svc.InitializePortfolio(ctx, id(2), 51, 3600)
	assert.ErrorIs(t, err, types.ErrInvalidRebalanceThreshold)
	_, err = f.svc.InitializePortfolio(ctx, id(2), 10, 3599)
	assert.ErrorIs(t, err, types.ErrInvalidRebalanceInterval)
	_, err = f.svc.InitializePortfolio(ctx, id(2), 10, 86401)
	assert.ErrorIs(t, err, types.ErrInvalidRebalanceInterval)
}

func TestRegisterStrategy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.RegisterStrategy(ctx, manager, id(10), farming, 1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyActive, s.Status)
	assert.Equal(t, types.DefaultVolatilityScore, s.VolatilityScore)
	assert.Equal(t, types.DefaultPercentileRank, s.PercentileRank)
	assert.Equal(t, uint64(0), s.PerformanceScore)
	assert.Equal(t, uint64(1_000_000_000), s.TotalDeposits)
	assert.Equal(t, startTime, s.CreationTime)

	pos := f.position(t, id(10))
	assert.Equal(t, types.PositionLiquidityPair, pos.PositionType)
	assert.Equal(t, uint64(500_000_000), pos.TokenAAmount)
	assert.Equal(t, uint64(500_000_000), pos.TokenBAmount)
	assert.Equal(t, uint64(1_000_000_000), pos.LPTokens)
	assert.Equal(t, uint64(1_000_000_000), pos.PlatformControlledLP)
	assert.Equal(t, uint32(1), f.portfolio(t).TotalStrategies)

	tests := []struct {
		name     string
		id       types.ID
		protocol types.ProtocolType
		balance  uint64
		err      error
	}{
		{name: "default id", id: types.ID{}, protocol: lending, balance: 1_000_000_000, err: types.ErrInvalidStrategyID},
		{name: "zero balance", id: id(11), protocol: lending, balance: 0, err: types.ErrInsufficientBalance},
		{name: "balance overflow", id: id(11), protocol: lending, balance: types.MaxBalance, err: types.ErrBalanceOverflow},
		{name: "invalid protocol", id: id(11), protocol: types.NewStableLending(types.StableLending{ReserveAddress: id(1)}), balance: 1_000_000_000, err: types.ErrInvalidPoolID},
		{name: "below staking ticket", id: id(11), protocol: staking, balance: 999_999_999, err: types.ErrInsufficientBalance},
		{name: "duplicate", id: id(10), protocol: lending, balance: 1_000_000_000, err: types.ErrDuplicateStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RegisterStrategy(ctx, manager, tt.id, tt.protocol, tt.balance)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Equal(t, uint32(1), f.portfolio(t).TotalStrategies, "rejected registrations leave the counter alone")

	_, err = f.svc.RegisterStrategy(ctx, id(9), id(12), lending, 1_000_000_000)
	assert.ErrorIs(t, err, types.ErrPortfolioNotFound)

	require.NoError(t, f.svc.SetEmergencyPause(ctx, manager, true))
	_, err = f.svc.RegisterStrategy(ctx, manager, id(12), lending, 1_000_000_000)
	assert.ErrorIs(t, err, types.ErrEmergencyPaused)
}

func TestUpdatePerformance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterStrategy(ctx, manager, id(10), lending, 5_000_000_000)
	require.NoError(t, err)

	f.clock.Advance(60)
	s, err := f.svc.UpdatePerformance(ctx, manager, id(10), 500, 5000, 5_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(3570), s.PerformanceScore)
	assert.Equal(t, startTime+60, s.LastUpdated)
	assert.Equal(t, uint64(3570), f.strategy(t, id(10)).PerformanceScore)

	_, err = f.svc.UpdatePerformance(ctx, manager, id(10), 50001, 5000, 1)
	assert.ErrorIs(t, err, types.ErrExcessiveYieldRate)
	_, err = f.svc.UpdatePerformance(ctx, manager, id(10), 500, 10001, 1)
	assert.ErrorIs(t, err, types.ErrInvalidVolatilityScore)
	_, err = f.svc.UpdatePerformance(ctx, manager, id(10), 500, 5000, types.MaxBalance)
	assert.ErrorIs(t, err, types.ErrBalanceOverflow)
	_, err = f.svc.UpdatePerformance(ctx, manager, id(99), 500, 5000, 1)
	assert.ErrorIs(t, err, types.ErrStrategyNotFound)

	require.NoError(t, f.svc.SetStrategyStatus(ctx, manager, id(10), types.StrategyPaused))
	_, err = f.svc.UpdatePerformance(ctx, manager, id(10), 500, 5000, 1)
	assert.ErrorIs(t, err, types.ErrStrategyNotFound)
	assert.Equal(t, uint64(3570), f.strategy(t, id(10)).PerformanceScore)

	assert.ErrorIs(t, f.svc.SetStrategyStatus(ctx, manager, id(10), "retired"), types.ErrStrategyNotFound)
}

func TestExecuteRankingCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, score := range []uint64{500, 9000, 3000} {
		sid := id(byte(10 + i))
		_, err := f.svc.RegisterStrategy(ctx, manager, sid, lending, 1_000_000_000)
		require.NoError(t, err)
		_, err = f.svc.UpdatePerformance(ctx, manager, sid, score*5, 0, 0)
		require.NoError(t, err)
	}
	_, err := f.svc.RegisterStrategy(ctx, manager, id(20), lending, 1_000_000_000)
	require.NoError(t, err)
	require.NoError(t, f.svc.SetStrategyStatus(ctx, manager, id(20), types.StrategyDeprecated))

	_, err = f.svc.ExecuteRankingCycle(ctx, manager)
	assert.ErrorIs(t, err, types.ErrRebalanceTooSoon)
	assert.ErrorIs(t, err, types.ErrInvalidRebalanceInterval)

	f.clock.Advance(3600)
	ranked, err := f.svc.ExecuteRankingCycle(ctx, manager)
	require.NoError(t, err)
	require.Len(t, ranked, 3, "only active strategies are ranked")

	assert.Equal(t, uint8(0), f.strategy(t, id(10)).PercentileRank)
	assert.Equal(t, uint8(100), f.strategy(t, id(11)).PercentileRank)
	assert.Equal(t, uint8(50), f.strategy(t, id(12)).PercentileRank)
	assert.Equal(t, types.DefaultPercentileRank, f.strategy(t, id(20)).PercentileRank)
	assert.Equal(t, startTime+3600, f.portfolio(t).LastRebalance)

	f.clock.Advance(7200)
	require.NoError(t, f.svc.SetEmergencyPause(ctx, manager, true))
	_, err = f.svc.ExecuteRankingCycle(ctx, manager)
	assert.ErrorIs(t, err, types.ErrEmergencyPaused)
}

func TestExtractCapital(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterStrategy(ctx, manager, id(10), lending, 5_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.RegisterStrategy(ctx, manager, id(11), farming, 1_000_000_000)
	require.NoError(t, err)

	t.Run("batch size", func(t *testing.T) {
		_, err := f.svc.ExtractCapital(ctx, manager, nil)
		assert.ErrorIs(t, err, types.ErrInsufficientStrategies)

		ids := make([]types.ID, 11)
		for i := range ids {
			ids[i] = id(byte(100 + i))
		}
		_, err = f.svc.ExtractCapital(ctx, manager, ids)
		assert.ErrorIs(t, err, types.ErrTooManyStrategies)
	})

	t.Run("all or nothing", func(t *testing.T) {
		_, err := f.svc.ExtractCapital(ctx, manager, []types.ID{id(10), id(99)})
		assert.ErrorIs(t, err, types.ErrStrategyNotFound)
		assert.Equal(t, uint64(5_000_000_000), f.strategy(t, id(10)).CurrentBalance)
		assert.Equal(t, uint64(0), f.portfolio(t).TotalCapitalMoved)

		_, err = f.svc.ExtractCapital(ctx, manager, []types.ID{id(10), id(10)})
		assert.ErrorIs(t, err, types.ErrDuplicateStrategy)
	})

	t.Run("lending and farming", func(t *testing.T) {
		f.clock.Advance(10)
		results, err := f.svc.ExtractCapital(ctx, manager, []types.ID{id(10), id(11)})
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, types.ExtractionResult{StrategyID: id(10), ExtractedAmount: 4_990_000_000, ExtractionType: types.ExtractionLendingWithdrawal}, results[0])
		assert.Equal(t, types.ExtractionResult{StrategyID: id(11), ExtractedAmount: 995_000_000, ExtractionType: types.ExtractionLiquidityWithdrawal, FeesPaid: 3_000_000}, results[1])

		assert.Equal(t, uint64(10_000_000), f.strategy(t, id(10)).CurrentBalance)
		assert.Equal(t, uint64(5_000_000), f.strategy(t, id(11)).CurrentBalance)

		pos := f.position(t, id(11))
		assert.Equal(t, uint64(0), pos.PlatformControlledLP)
		assert.Equal(t, uint64(0), pos.LPTokens)
		assert.Equal(t, startTime+10, pos.LastRebalance)

		assert.Equal(t, uint64(5_985_000_000), f.portfolio(t).TotalCapitalMoved)
	})

	t.Run("paused", func(t *testing.T) {
		require.NoError(t, f.svc.SetEmergencyPause(ctx, manager, true))
		_, err := f.svc.ExtractCapital(ctx, manager, []types.ID{id(10)})
		assert.ErrorIs(t, err, types.ErrEmergencyPaused)
		require.NoError(t, f.svc.SetEmergencyPause(ctx, manager, false))
	})
}

func TestRedistributeCapital(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterStrategy(ctx, manager, id(10), lending, 1_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.RegisterStrategy(ctx, manager, id(11), farming, 1_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.RegisterStrategy(ctx, manager, id(12), staking, 1_000_000_000)
	require.NoError(t, err)
	require.NoError(t, f.svc.SetStrategyStatus(ctx, manager, id(12), types.StrategyPaused))

	allocations := []types.CapitalAllocation{
		{StrategyID: id(50), Amount: 7_000_000, AllocationType: types.AllocationPlatformFee},
		{StrategyID: id(10), Amount: 300_000_000, AllocationType: types.AllocationTopPerformer},
		{StrategyID: id(11), Amount: 201, AllocationType: types.AllocationRiskDiversification},
	}
	total, err := f.svc.RedistributeCapital(ctx, manager, allocations)
	require.NoError(t, err)
	assert.Equal(t, uint64(307_000_201), total)

	lendingStrategy := f.strategy(t, id(10))
	assert.Equal(t, uint64(1_300_000_000), lendingStrategy.CurrentBalance)
	assert.Equal(t, uint64(1_300_000_000), lendingStrategy.TotalDeposits)
	assert.Equal(t, uint64(1_300_000_000), f.position(t, id(10)).TokenAAmount)

	pair := f.position(t, id(11))
	assert.Equal(t, uint64(500_000_100), pair.TokenAAmount)
	assert.Equal(t, uint64(500_000_101), pair.TokenBAmount)
	assert.Equal(t, uint64(1_000_000_201), pair.LPTokens)
	assert.Equal(t, uint64(1_000_000_201), pair.PlatformControlledLP)

	assert.Equal(t, uint64(307_000_201), f.portfolio(t).TotalCapitalMoved)

	tests := []struct {
		name        string
		allocations []types.CapitalAllocation
		err         error
	}{
		{name: "empty", err: types.ErrInsufficientStrategies},
		{name: "too many", allocations: make([]types.CapitalAllocation, 21), err: types.ErrTooManyStrategies},
		{
			name: "duplicate",
			allocations: []types.CapitalAllocation{
				{StrategyID: id(10), Amount: 1, AllocationType: types.AllocationTopPerformer},
				{StrategyID: id(10), Amount: 1, AllocationType: types.AllocationTopPerformer},
			},
			err: types.ErrDuplicateStrategy,
		},
		{
			name:        "zero amount",
			allocations: []types.CapitalAllocation{{StrategyID: id(10), AllocationType: types.AllocationTopPerformer}},
			err:         types.ErrInsufficientBalance,
		},
		{
			name:        "paused destination",
			allocations: []types.CapitalAllocation{{StrategyID: id(12), Amount: 5, AllocationType: types.AllocationTopPerformer}},
			err:         types.ErrStrategyNotFound,
		},
		{
			name:        "unknown destination",
			allocations: []types.CapitalAllocation{{StrategyID: id(77), Amount: 5, AllocationType: types.AllocationTopPerformer}},
			err:         types.ErrStrategyNotFound,
		},
		{
			name:        "balance overflow",
			allocations: []types.CapitalAllocation{{StrategyID: id(10), Amount: types.MaxBalance - 1, AllocationType: types.AllocationTopPerformer}},
			err:         types.ErrBalanceOverflow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RedistributeCapital(ctx, manager, tt.allocations)
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Equal(t, uint64(307_000_201), f.portfolio(t).TotalCapitalMoved, "rejected redistributions move nothing")
}

func TestRunCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterStrategy(ctx, manager, id(10), lending, 5_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.RegisterStrategy(ctx, manager, id(11), staking, 2_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.UpdatePerformance(ctx, manager, id(10), 500, 5000, 5_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.UpdatePerformance(ctx, manager, id(11), 20000, 1000, 2_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5620), f.strategy(t, id(11)).PerformanceScore)

	_, err = f.svc.RunCycle(ctx, manager)
	assert.ErrorIs(t, err, types.ErrRebalanceTooSoon)
	assert.True(t, IsSkip(err))

	f.clock.Advance(3600)
	report, err := f.svc.RunCycle(ctx, manager)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 1, report.CycleNumber)
	assert.Equal(t, []types.ID{id(10)}, report.Plan.ExtractionTargets)
	assert.Equal(t, uint64(4_990_000_000), report.Plan.TotalToExtract)
	assert.Equal(t, uint64(99_800_000), report.Plan.EstimatedFees)
	assert.Equal(t, uint64(843), report.Plan.ExpectedImprovement)
	assert.Equal(t, uint64(4_990_000_000), report.TotalExtracted)
	assert.Equal(t, uint64(4_890_200_000), report.TotalRedistributed)
	assert.Equal(t, uint64(99_800_000), report.TotalFeesPaid)

	assert.Equal(t, uint64(10_000_000), f.strategy(t, id(10)).CurrentBalance)
	assert.Equal(t, uint8(0), f.strategy(t, id(10)).PercentileRank)
	top := f.strategy(t, id(11))
	assert.Equal(t, uint8(100), top.PercentileRank)
	assert.Equal(t, uint64(6_890_200_000), top.CurrentBalance)
	assert.Equal(t, uint64(6_890_200_000), top.TotalDeposits)
	assert.Equal(t, uint64(6_890_200_000), f.position(t, id(11)).TokenAAmount)

	p := f.portfolio(t)
	assert.Equal(t, uint64(9_880_200_000), p.TotalCapitalMoved)
	assert.Equal(t, startTime+3600, p.LastRebalance)

	reports, err := f.store.RecentCycleReports(ctx, manager, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, report.Plan.PlanID, reports[0].Plan.PlanID)

	// Nothing left to extract: ranks are refreshed but no plan runs.
	f.clock.Advance(3600)
	report, err = f.svc.RunCycle(ctx, manager)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, startTime+7200, f.portfolio(t).LastRebalance)
	cycle, err := f.store.GetCurrentCycleNumber(ctx, manager)
	require.NoError(t, err)
	assert.Equal(t, 1, cycle)

	assert.Contains(t, f.events.eventTypes(), EventCycleCompleted)
}

func TestRunCycleReplansOnRealizedAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// staking extraction loses 2% to the penalty, so the plan is rebuilt on what arrived
	_, err := f.svc.RegisterStrategy(ctx, manager, id(10), staking, 5_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.RegisterStrategy(ctx, manager, id(11), lending, 2_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.UpdatePerformance(ctx, manager, id(10), 500, 5000, 5_000_000_000)
	require.NoError(t, err)
	_, err = f.svc.UpdatePerformance(ctx, manager, id(11), 20000, 1000, 2_000_000_000)
	require.NoError(t, err)

	f.clock.Advance(3600)
	report, err := f.svc.RunCycle(ctx, manager)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, uint64(4_990_000_000), report.Plan.TotalToExtract)
	assert.Equal(t, uint64(4_900_000_000), report.TotalExtracted)

	var planned uint64
	for _, a := range report.Plan.RedistributionPlan {
		planned += a.Amount
	}
	assert.Equal(t, uint64(4_900_000_000), planned)
	// fee carve-outs stay with the treasuries
	assert.Equal(t, uint64(4_802_000_000), report.TotalRedistributed)
	assert.Equal(t, uint64(100_000_000+98_000_000), report.TotalFeesPaid)
	assert.Equal(t, uint64(6_802_000_000), f.strategy(t, id(11)).CurrentBalance)
	assert.Equal(t, uint64(0), f.strategy(t, id(10)).CurrentBalance)
}

func TestPlanRebalance(t *testing.T) {
	portfolio := types.Portfolio{Manager: manager, RebalanceThreshold: 25}
	data := func(b byte, rank uint8, balance, score uint64, vol uint32, protocol types.ProtocolType) types.StrategyPerformanceData {
		return types.StrategyPerformanceData{StrategyID: id(b), PercentileRank: rank, CurrentBalance: balance, PerformanceScore: score, VolatilityScore: vol, Protocol: protocol}
	}
	strategies := []types.StrategyPerformanceData{
		data(1, 10, 3_000_000_000, 1000, 5000, lending),
		data(2, 90, 1_000_000_000, 8000, 0, lending),
		data(3, 50, 9_000_000_000, 5000, 5000, lending),
		data(4, 0, 5_000_000, 0, 5000, lending),
	}

	plan, err := PlanRebalanceDefault(portfolio, strategies)
	require.NoError(t, err)
	assert.Equal(t, manager, plan.Manager)
	assert.Equal(t, []types.ID{id(1), id(4)}, plan.ExtractionTargets)
	assert.Equal(t, uint64(2_990_000_000), plan.TotalToExtract)
	assert.Equal(t, uint64(59_800_000), plan.EstimatedFees)
	assert.Equal(t, uint64(1200), plan.ExpectedImprovement)
	assert.NotEmpty(t, plan.PlanID)

	var total uint64
	for _, a := range plan.RedistributionPlan {
		total += a.Amount
	}
	assert.LessOrEqual(t, total, plan.TotalToExtract)

	// default treasuries coincide, so the fee carve-outs arrive merged
	validated, err := planner.ValidateAllocations(plan.RedistributionPlan)
	require.NoError(t, err)
	assert.Equal(t, total, validated)

	t.Run("paused", func(t *testing.T) {
		paused := portfolio
		paused.EmergencyPause = true
		_, err := PlanRebalanceDefault(paused, strategies)
		assert.ErrorIs(t, err, types.ErrEmergencyPaused)
	})

	t.Run("no underperformers", func(t *testing.T) {
		_, err := PlanRebalanceDefault(portfolio, strategies[1:3])
		assert.ErrorIs(t, err, types.ErrInsufficientStrategies)
	})

	t.Run("no top performers", func(t *testing.T) {
		_, err := PlanRebalanceDefault(portfolio, []types.StrategyPerformanceData{strategies[0], strategies[2]})
		assert.ErrorIs(t, err, types.ErrInsufficientStrategies)
	})

	t.Run("extractable at the boundary", func(t *testing.T) {
		edge := []types.StrategyPerformanceData{data(1, 10, 110_000_000, 1000, 0, lending), strategies[1]}
		_, err := PlanRebalanceDefault(portfolio, edge)
		assert.ErrorIs(t, err, types.ErrInsufficientBalance)

		edge[0].CurrentBalance = 110_000_001
		plan, err := PlanRebalanceDefault(portfolio, edge)
		require.NoError(t, err)
		assert.Equal(t, uint64(100_000_001), plan.TotalToExtract)
	})

	t.Run("extractable overflow", func(t *testing.T) {
		huge := []types.StrategyPerformanceData{
			data(1, 0, ^uint64(0), 1, 0, lending),
			data(5, 0, ^uint64(0), 1, 0, lending),
			strategies[1],
		}
		_, err := PlanRebalanceDefault(portfolio, huge)
		assert.ErrorIs(t, err, types.ErrBalanceOverflow)
	})
}

func TestSumExtractions(t *testing.T) {
	extracted, fees, err := sumExtractions([]types.ExtractionResult{
		{StrategyID: id(1), ExtractedAmount: 4_990_000_000},
		{StrategyID: id(2), ExtractedAmount: 995_000_000, FeesPaid: 3_000_000},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5_985_000_000), extracted)
	assert.Equal(t, uint64(3_000_000), fees)

	_, _, err = sumExtractions([]types.ExtractionResult{
		{StrategyID: id(1), ExtractedAmount: ^uint64(0)},
		{StrategyID: id(2), ExtractedAmount: 1},
	})
	assert.ErrorIs(t, err, types.ErrBalanceOverflow)

	_, _, err = sumExtractions([]types.ExtractionResult{
		{StrategyID: id(1), FeesPaid: ^uint64(0)},
		{StrategyID: id(2), FeesPaid: 1},
	})
	assert.ErrorIs(t, err, types.ErrBalanceOverflow)
}

func TestIsSkip(t *testing.T) {
	assert.True(t, IsSkip(types.ErrEmergencyPaused))
	assert.False(t, IsSkip(types.ErrBalanceOverflow))
	assert.False(t, IsSkip(nil))
}

func TestPositionQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterStrategy(ctx, manager, id(10), farming, 1_000_000_000)
	require.NoError(t, err)

	assert.NoError(t, f.svc.CheckWithdrawalFeasibility(ctx, manager, id(10), 1000))
	assert.ErrorIs(t, f.svc.CheckWithdrawalFeasibility(ctx, manager, id(10), 999), types.ErrWithdrawalTooSmall)
	assert.ErrorIs(t, f.svc.CheckWithdrawalFeasibility(ctx, manager, id(10), 500_000_001), types.ErrExcessiveWithdrawal)

	il, err := f.svc.ImpermanentLoss(ctx, manager, id(10), 1_000_000, 1_000_000, startTime)
	require.NoError(t, err)
	assert.Equal(t, int64(0), il)

	_, err = f.svc.ImpermanentLoss(ctx, manager, id(10), 1_000_000, 1_000_000, startTime-61)
	assert.ErrorIs(t, err, types.ErrStalePrice)

	_, _, err = f.svc.QuoteLPWithdrawal(ctx, manager, id(10), 1000, 1000, 1000, 2_000_000_000)
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
}
