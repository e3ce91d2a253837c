/*

This file contains the types for capital positions, the per-strategy token state that extraction reads and updates.

*/

package types

import "fmt"

// PositionType classifies the shape of a capital position.
type PositionType string

const (
	PositionSingleAsset   PositionType = "single_asset"
	PositionLiquidityPair PositionType = "liquidity_pair"
	PositionStaked        PositionType = "staked_position"
)

// CapitalPosition tracks the tokens a strategy holds.
type CapitalPosition struct {
	StrategyID           ID           `json:"strategy_id"`
	TokenAAmount         uint64       `json:"token_a_amount"`
	TokenBAmount         uint64       `json:"token_b_amount"` // 0 for single-asset positions
	LPTokens             uint64       `json:"lp_tokens"`
	PlatformControlledLP uint64       `json:"platform_controlled_lp"` // never above LPTokens
	PositionType         PositionType `json:"position_type"`
	EntryPriceA          uint64       `json:"entry_price_a"` // 6 decimals
	EntryPriceB          uint64       `json:"entry_price_b"` // 6 decimals
	LastRebalance        int64        `json:"last_rebalance"`
	AccruedFees          uint64       `json:"accrued_fees"`
	ImpermanentLoss      int64        `json:"impermanent_loss"` // percent, negative for gains
}

// Validate checks the position's structural invariant.
func (p *CapitalPosition) Validate() error {
	if p.PlatformControlledLP > p.LPTokens {
		return fmt.Errorf("%w: platform LP %d exceeds LP tokens %d", ErrInvalidPoolState, p.PlatformControlledLP, p.LPTokens)
	}
	return nil
}
