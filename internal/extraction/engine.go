/*

This file contains the capital extraction engine: given a strategy and its position it withdraws
capital according to the protocol family the strategy belongs to.

Each extractor computes every new field value first and only writes the strategy and position once
all checked operations have succeeded, so a failed extraction leaves both records untouched.

*/

package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/rebalancer/internal/logger"
	"github.com/elys-network/rebalancer/internal/types"
)

var extractionLogger = logger.GetForComponent("capital_extraction")

// Clock supplies the wall-clock time and the current staking epoch.
type Clock interface {
	Now() int64
	Epoch() uint64
}

// SystemClock reads the host clock. Epochs are EpochSeconds long (one day if zero).
type SystemClock struct {
	EpochSeconds int64
}

func (c SystemClock) Now() int64 {
	return time.Now().Unix()
}

func (c SystemClock) Epoch() uint64 {
	length := c.EpochSeconds
	if length <= 0 {
		length = 86400
	}
	return uint64(c.Now() / length)
}

// FixedClock always reports the same instant.
type FixedClock struct {
	Unix         int64
	CurrentEpoch uint64
}

func (c FixedClock) Now() int64    { return c.Unix }
func (c FixedClock) Epoch() uint64 { return c.CurrentEpoch }

// Engine dispatches extraction to the protocol-specific formulas.
type Engine struct {
	clock Clock
}

func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{clock: clock}
}

// Clock returns the engine's time source.
func (e *Engine) Clock() Clock {
	return e.clock
}

// Extract withdraws capital from one strategy.
// Inputs:
//   - strategy: must be Active with a non-zero balance.
//   - position: the strategy's capital position.
//
// Output:
//   - The extraction result. A lending strategy at or below the rent reserve yields
//     ExtractionNone with a zero amount.
//   - On error neither strategy nor position is modified.
func (e *Engine) Extract(ctx context.Context, strategy *types.Strategy, position *types.CapitalPosition) (types.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return types.ExtractionResult{}, err
	}
	if strategy == nil || position == nil {
		return types.ExtractionResult{}, types.ErrStrategyNotFound
	}
	if !strategy.IsActive() {
		return types.ExtractionResult{}, fmt.Errorf("%w: strategy %s is %s", types.ErrStrategyNotFound, strategy.StrategyID, strategy.Status)
	}
	if strategy.CurrentBalance == 0 {
		return types.ExtractionResult{}, fmt.Errorf("%w: strategy %s has no balance", types.ErrInsufficientBalance, strategy.StrategyID)
	}
	if position.StrategyID != strategy.StrategyID {
		return types.ExtractionResult{}, fmt.Errorf("%w: position belongs to %s, not %s", types.ErrInvalidPoolState, position.StrategyID, strategy.StrategyID)
	}

	var (
		result types.ExtractionResult
		err    error
	)
	switch strategy.Protocol.Kind {
	case types.ProtocolStableLending:
		result, err = e.extractFromLending(strategy, position)
	case types.ProtocolYieldFarming:
		result, err = e.extractFromYieldFarming(strategy, position)
	case types.ProtocolLiquidStaking:
		if strategy.Protocol.LiquidStaking == nil {
			return types.ExtractionResult{}, types.ErrInvalidProtocolType
		}
		result, err = e.extractFromStaking(strategy, position, strategy.Protocol.LiquidStaking)
	default:
		return types.ExtractionResult{}, fmt.Errorf("%w: %q", types.ErrInvalidProtocolType, strategy.Protocol.Kind)
	}
	if err != nil {
		extractionLogger.Warn().
			Err(err).
			Str("strategyID", strategy.StrategyID.String()).
			Str("protocol", string(strategy.Protocol.Kind)).
			Msg("Extraction rejected")
		return types.ExtractionResult{}, err
	}

	result.StrategyID = strategy.StrategyID
	return result, nil
}

func overflow(err error) error {
	return errors.Join(types.ErrBalanceOverflow, err)
}

func insufficient(err error) error {
	return errors.Join(types.ErrInsufficientBalance, err)
}
