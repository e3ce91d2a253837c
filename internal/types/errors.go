/*

This file contains the error taxonomy shared by every rebalancer package.

Errors fall into four groups: validation errors (bad configuration supplied by the caller),
state errors (strategy unavailable, portfolio paused, bad batch sizes), arithmetic errors
(overflow, AMM invariant deviation, stale prices) and business-rule rejections. Callers
match them with errors.Is; context is attached with fmt.Errorf("%w: ...") or errors.Join.

*/

package types

import "errors"

// Validation errors
var (
	ErrInvalidRebalanceThreshold = errors.New("rebalance threshold must be between 1-50%")
	ErrInvalidRebalanceInterval  = errors.New("rebalance interval must be between 1 hour and 1 day")
	ErrInvalidManager            = errors.New("manager cannot be the default key")
	ErrInvalidStrategyID         = errors.New("strategy ID cannot be the default key")
	ErrExcessiveYieldRate        = errors.New("yield rate exceeds maximum allowed (500%)")
	ErrInvalidVolatilityScore    = errors.New("invalid volatility score, must be 0-10000")
	ErrInvalidPoolID             = errors.New("invalid pool ID")
	ErrInvalidReserveAddress     = errors.New("invalid reserve address")
	ErrInvalidUtilization        = errors.New("invalid utilization rate")
	ErrInvalidPairID             = errors.New("invalid pair ID")
	ErrInvalidTokenMint          = errors.New("invalid token mint")
	ErrDuplicateTokenMints       = errors.New("token mints cannot be identical")
	ErrInvalidRewardMultiplier   = errors.New("invalid reward multiplier")
	ErrInvalidFeeTier            = errors.New("invalid fee tier")
	ErrInvalidValidatorID        = errors.New("invalid validator ID")
	ErrInvalidStakePool          = errors.New("invalid stake pool")
	ErrInvalidCommission         = errors.New("invalid commission rate")
	ErrInvalidUnstakeDelay       = errors.New("invalid unstake delay")
	ErrInvalidRiskLimits         = errors.New("risk limits contain invalid values")
	ErrInvalidProtocolType       = errors.New("invalid protocol type for operation")
)

// State errors
var (
	ErrEmergencyPaused        = errors.New("portfolio is in emergency pause mode")
	ErrStrategyNotFound       = errors.New("strategy not found or invalid")
	ErrUnauthorizedManager    = errors.New("unauthorized: caller is not portfolio manager")
	ErrInsufficientStrategies = errors.New("insufficient strategies for operation")
	ErrTooManyStrategies      = errors.New("too many strategies for single operation")
	ErrPortfolioNotFound      = errors.New("portfolio not found")
	ErrPortfolioExists        = errors.New("portfolio already initialized for manager")
	ErrRebalanceTooSoon       = errors.New("minimum rebalance interval has not elapsed")
)

// Arithmetic errors
var (
	ErrBalanceOverflow     = errors.New("balance update would cause overflow")
	ErrInsufficientBalance = errors.New("insufficient balance for operation")
	ErrInvalidPoolState    = errors.New("pool state is invalid or corrupted")
	ErrInvariantViolation  = errors.New("AMM invariant violation detected")
	ErrStalePrice          = errors.New("price data is too stale for safe calculations")
	ErrInvalidPrice        = errors.New("invalid or zero price provided")
)

// Business-rule rejections
var (
	ErrWithdrawalTooSmall      = errors.New("withdrawal amount is too small (dust protection)")
	ErrExcessiveWithdrawal     = errors.New("withdrawal amount exceeds safe limits")
	ErrExcessiveUnstakeDelay   = errors.New("unstake delay period is too long")
	ErrProtocolHighUtilization = errors.New("protocol utilization too high for safe withdrawal")
	ErrDuplicateStrategy       = errors.New("duplicate strategy in allocation")
	ErrInvalidPerformanceScore = errors.New("invalid performance score for calculation")
)
