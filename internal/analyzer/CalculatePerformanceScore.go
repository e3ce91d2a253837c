/*

This file contains the main function for calculating the performance score for a strategy.

The score is a weighted composite of three normalized metrics, all on a 0-10000 scale:
yield (45%), capital size (35%) and inverse volatility (20%). Every step is integer-only so the
result is identical on every platform; rounding is (num + div/2) / div.

*/

package analyzer

import (
	"errors"
	"fmt"

	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/logger"
	"github.com/elys-network/rebalancer/internal/types"
)

var ErrScoreInvariant = errors.New("performance score invariant violated")
var ErrScoreOutOfRange = errors.New("performance score outside expected range")

var scoreLogger = logger.GetForComponent("performance_scorer")

// Scoring constants
const (
	scoreScale = uint64(10000)

	yieldWeightBps      = uint64(4500)
	balanceWeightBps    = uint64(3500)
	volatilityWeightBps = uint64(2000)

	balanceFloor     = uint64(100_000_000)     // 0.1 unit
	balanceCap       = uint64(100_000_000_000) // 100 units
	balanceUnit      = uint64(100_000_000)
	balanceLinearMax = uint64(1000)
	logStepScale     = uint64(1443) // ~ ln(2) * 1000 * 2
)

// ScoreComponents is the breakdown of a performance score.
type ScoreComponents struct {
	NormalizedYield             uint64 `json:"normalized_yield"`
	NormalizedBalance           uint64 `json:"normalized_balance"`
	NormalizedInverseVolatility uint64 `json:"normalized_inverse_volatility"`
	YieldComponent              uint64 `json:"yield_component"`
	BalanceComponent            uint64 `json:"balance_component"`
	VolatilityComponent         uint64 `json:"volatility_component"`
	Score                       uint64 `json:"score"`
}

// CalculatePerformanceScore converts (yield, balance, volatility) into a composite score.
// Inputs:
//   - yieldRate: annual yield in basis points (0-50000; higher values clamp to the maximum).
//   - balance: current capital in base units.
//   - volatility: risk score 0-10000 (higher values clamp to 10000).
//
// Output:
//   - The composite score in [0, 10000].
//   - ErrScoreInvariant if any intermediate leaves the 0-10000 scale.
func CalculatePerformanceScore(yieldRate uint64, balance uint64, volatility uint32) (uint64, error) {
	components, err := CalculateScoreComponents(yieldRate, balance, volatility)
	if err != nil {
		return 0, err
	}
	return components.Score, nil
}

// CalculateScoreComponents is CalculatePerformanceScore with the full breakdown.
func CalculateScoreComponents(yieldRate uint64, balance uint64, volatility uint32) (ScoreComponents, error) {
	var result ScoreComponents
	var err error

	// --- 1. Normalize each metric ---
	result.NormalizedYield, err = normalizeYield(yieldRate)
	if err != nil {
		return ScoreComponents{}, err
	}
	result.NormalizedBalance, err = normalizeBalance(balance)
	if err != nil {
		return ScoreComponents{}, err
	}
	result.NormalizedInverseVolatility = normalizeInverseVolatility(volatility)

	for name, value := range map[string]uint64{
		"yield":              result.NormalizedYield,
		"balance":            result.NormalizedBalance,
		"inverse_volatility": result.NormalizedInverseVolatility,
	} {
		if value > scoreScale {
			scoreLogger.Error().Str("metric", name).Uint64("value", value).Msg("Normalized metric above scale")
			return ScoreComponents{}, errors.Join(ErrScoreInvariant, types.ErrBalanceOverflow,
				fmt.Errorf("normalized %s %d exceeds %d", name, value, scoreScale))
		}
	}

	// --- 2. Weight components ---
	if result.YieldComponent, err = weighted(result.NormalizedYield, yieldWeightBps); err != nil {
		return ScoreComponents{}, err
	}
	if result.BalanceComponent, err = weighted(result.NormalizedBalance, balanceWeightBps); err != nil {
		return ScoreComponents{}, err
	}
	if result.VolatilityComponent, err = weighted(result.NormalizedInverseVolatility, volatilityWeightBps); err != nil {
		return ScoreComponents{}, err
	}

	// --- 3. Composite ---
	score, err := fixedpoint.CheckedAdd(result.YieldComponent, result.BalanceComponent)
	if err == nil {
		score, err = fixedpoint.CheckedAdd(score, result.VolatilityComponent)
	}
	if err != nil {
		return ScoreComponents{}, errors.Join(ErrScoreInvariant, types.ErrBalanceOverflow, err)
	}
	if score > scoreScale {
		scoreLogger.Error().Uint64("score", score).Msg("Composite score above scale")
		return ScoreComponents{}, errors.Join(ErrScoreInvariant, types.ErrBalanceOverflow,
			fmt.Errorf("composite score %d exceeds %d", score, scoreScale))
	}
	result.Score = score

	scoreLogger.Debug().
		Uint64("yieldRate", yieldRate).
		Uint64("balance", balance).
		Uint32("volatility", volatility).
		Uint64("yieldComponent", result.YieldComponent).
		Uint64("balanceComponent", result.BalanceComponent).
		Uint64("volatilityComponent", result.VolatilityComponent).
		Uint64("score", score).
		Msg("Performance score calculated")

	return result, nil
}

// normalizeYield maps [0, 50000] bps linearly onto [0, 10000] with rounding.
func normalizeYield(yieldRate uint64) (uint64, error) {
	if yieldRate > types.MaxYieldRateBps {
		return scoreScale, nil
	}
	v, err := fixedpoint.MulDivRound(yieldRate, scoreScale, types.MaxYieldRateBps)
	if err != nil {
		return 0, errors.Join(types.ErrBalanceOverflow, err)
	}
	return v, nil
}

// normalizeBalance is piecewise: a linear ramp below the floor, a bit-length logarithm between
// floor and cap, and saturation at the cap.
func normalizeBalance(balance uint64) (uint64, error) {
	switch {
	case balance == 0:
		return 0, nil
	case balance >= balanceCap:
		return scoreScale, nil
	case balance < balanceFloor:
		v, err := fixedpoint.MulDivRound(balance, balanceLinearMax, balanceFloor)
		if err != nil {
			return 0, errors.Join(types.ErrBalanceOverflow, err)
		}
		return v, nil
	}

	units := balance / balanceUnit
	if units <= 1 {
		return 0, nil
	}
	logScaled := (fixedpoint.BitLen(units) - 1) * logStepScale
	if logScaled > scoreScale {
		logScaled = scoreScale
	}
	return logScaled, nil
}

func normalizeInverseVolatility(volatility uint32) uint64 {
	v := uint64(volatility)
	if v > scoreScale {
		v = scoreScale
	}
	return scoreScale - v
}

func weighted(normalized, weightBps uint64) (uint64, error) {
	v, err := fixedpoint.MulDivRound(normalized, weightBps, fixedpoint.BpsDenominator)
	if err != nil {
		return 0, errors.Join(ErrScoreInvariant, types.ErrBalanceOverflow, err)
	}
	return v, nil
}

// ValidateCalculationPrecision checks that the score of the given inputs lands in [expectedMin, expectedMax].
func ValidateCalculationPrecision(yieldRate, balance uint64, volatility uint32, expectedMin, expectedMax uint64) error {
	score, err := CalculatePerformanceScore(yieldRate, balance, volatility)
	if err != nil {
		return err
	}
	if score < expectedMin || score > expectedMax {
		return fmt.Errorf("%w: score %d not in [%d, %d]", ErrScoreOutOfRange, score, expectedMin, expectedMax)
	}
	return nil
}
