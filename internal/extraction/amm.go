/*

This file contains the constant-product AMM helpers: LP burn quotes that verify the x*y=k
invariant, and the oracle-priced impermanent loss of a liquidity position.

*/

package extraction

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/elys-network/rebalancer/internal/fixedpoint"
	"github.com/elys-network/rebalancer/internal/types"
)

// Oracle and invariant tolerances
const (
	MaxPriceAgeSeconds   = int64(60)
	InvariantToleranceBp = uint64(1) // 0.01% of k
)

// CalculateLPWithdrawalAmounts quotes the tokens received for burning LP tokens from a pool.
// Inputs:
//   - position: the LP position being burned from; burn may not exceed its LP tokens.
//   - reserveA, reserveB: current pool reserves.
//   - totalSupply: total LP supply of the pool, must be non-zero.
//   - burn: LP tokens to burn.
//
// Output:
//   - The token A and token B amounts, burn*reserve/totalSupply.
//   - ErrInvariantViolation if the post-burn k falls more than 0.01% below the pre-burn k.
func CalculateLPWithdrawalAmounts(position *types.CapitalPosition, reserveA, reserveB, totalSupply, burn uint64) (uint64, uint64, error) {
	if burn > position.LPTokens {
		return 0, 0, fmt.Errorf("%w: burning %d of %d LP tokens", types.ErrInsufficientBalance, burn, position.LPTokens)
	}
	if totalSupply == 0 {
		return 0, 0, fmt.Errorf("%w: zero LP supply", types.ErrInvalidPoolState)
	}

	tokenAOut, err := fixedpoint.MulDiv(burn, reserveA, totalSupply)
	if err != nil {
		return 0, 0, overflow(err)
	}
	tokenBOut, err := fixedpoint.MulDiv(burn, reserveB, totalSupply)
	if err != nil {
		return 0, 0, overflow(err)
	}

	oldK := new(uint256.Int).Mul(uint256.NewInt(reserveA), uint256.NewInt(reserveB))
	newK := new(uint256.Int).Mul(
		uint256.NewInt(fixedpoint.SaturatingSub(reserveA, tokenAOut)),
		uint256.NewInt(fixedpoint.SaturatingSub(reserveB, tokenBOut)),
	)
	tolerance := new(uint256.Int).Mul(oldK, uint256.NewInt(InvariantToleranceBp))
	tolerance.Div(tolerance, uint256.NewInt(fixedpoint.BpsDenominator))
	floor := new(uint256.Int).Sub(oldK, tolerance)

	if newK.Lt(floor) {
		extractionLogger.Warn().
			Uint64("reserveA", reserveA).
			Uint64("reserveB", reserveB).
			Uint64("burn", burn).
			Str("oldK", oldK.Dec()).
			Str("newK", newK.Dec()).
			Msg("LP burn breaks constant product invariant")
		return 0, 0, fmt.Errorf("%w: k drops from %s to %s", types.ErrInvariantViolation, oldK.Dec(), newK.Dec())
	}
	return tokenAOut, tokenBOut, nil
}

// CalculateCurrentImpermanentLoss prices a liquidity position against fresh oracle prices.
// Prices carry 6 decimals; the result is in millionths, negative for a loss relative to holding
// (-1_000_000 is -100%).
func CalculateCurrentImpermanentLoss(position *types.CapitalPosition, priceA, priceB uint64, priceTimestamp, now int64) (int64, error) {
	if fixedpoint.SaturatingSubInt64(now, priceTimestamp) > MaxPriceAgeSeconds {
		return 0, fmt.Errorf("%w: price is %ds old", types.ErrStalePrice, now-priceTimestamp)
	}
	if position.EntryPriceB == 0 || priceB == 0 {
		return 0, types.ErrInvalidPrice
	}

	scale := uint256.NewInt(PriceScale)
	entryRatio := new(uint256.Int).Mul(uint256.NewInt(position.EntryPriceA), scale)
	entryRatio.Div(entryRatio, uint256.NewInt(position.EntryPriceB))
	currentRatio := new(uint256.Int).Mul(uint256.NewInt(priceA), scale)
	currentRatio.Div(currentRatio, uint256.NewInt(priceB))
	if entryRatio.IsZero() {
		return 0, fmt.Errorf("%w: entry price ratio rounds to zero", types.ErrInvalidPrice)
	}

	// IL = 2*sqrt(r) / (1 + r) - 1 with r the price ratio change, everything scaled by 1e6
	change := new(uint256.Int).Mul(currentRatio, scale)
	change.Div(change, entryRatio)
	sqrtChange := fixedpoint.Sqrt(new(uint256.Int).Mul(change, scale))
	numerator := new(uint256.Int).Mul(sqrtChange, uint256.NewInt(2))
	numerator.Mul(numerator, scale)
	denominator := new(uint256.Int).Add(scale, change)
	ilRatio := new(uint256.Int).Div(numerator, denominator)

	// 2*sqrt(r)/(1+r) never exceeds 1, so ilRatio is at most 1e6
	return int64(ilRatio.Uint64()) - int64(PriceScale), nil
}

// CurrentImpermanentLoss is CalculateCurrentImpermanentLoss evaluated at the engine clock.
func (e *Engine) CurrentImpermanentLoss(position *types.CapitalPosition, priceA, priceB uint64, priceTimestamp int64) (int64, error) {
	return CalculateCurrentImpermanentLoss(position, priceA, priceB, priceTimestamp, e.clock.Now())
}
