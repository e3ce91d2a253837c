/*

This file contains the protocol variants a strategy can hold capital in.

ProtocolType is a closed tagged union: Kind selects exactly one of the variant payloads.
Every routine that depends on the protocol switches exhaustively over Kind and treats an
unknown kind (or a missing payload) as ErrInvalidProtocolType.

*/

package types

import "fmt"

// ProtocolKind discriminates the ProtocolType union.
type ProtocolKind string

const (
	ProtocolStableLending ProtocolKind = "stable_lending"
	ProtocolYieldFarming  ProtocolKind = "yield_farming"
	ProtocolLiquidStaking ProtocolKind = "liquid_staking"
)

// Protocol limits
const (
	MaxUtilizationBps     uint16 = 10000
	MinRewardMultiplier   uint8  = 1
	MaxRewardMultiplier   uint8  = 10
	MaxFeeTierBps         uint16 = 1000
	MaxCommissionBps      uint16 = 1000
	MaxUnstakeDelayEpochs uint32 = 50
	LendingMinimumTicket  uint64 = 100_000_000   // 0.1 unit
	FarmingMinimumTicket  uint64 = 500_000_000   // 0.5 unit
	StakingMinimumTicket  uint64 = 1_000_000_000 // 1 unit
)

// StableLending is a single-asset lending deposit.
type StableLending struct {
	PoolID         ID     `json:"pool_id"`
	UtilizationBps uint16 `json:"utilization_bps"`
	ReserveAddress ID     `json:"reserve_address"`
}

// YieldFarming is a constant-product AMM liquidity position.
type YieldFarming struct {
	PairID           ID     `json:"pair_id"`
	RewardMultiplier uint8  `json:"reward_multiplier"` // 1-10x
	TokenAMint       ID     `json:"token_a_mint"`
	TokenBMint       ID     `json:"token_b_mint"`
	FeeTierBps       uint16 `json:"fee_tier_bps"`
}

// LiquidStaking is a liquid stake delegated to a validator.
type LiquidStaking struct {
	ValidatorID        ID     `json:"validator_id"`
	CommissionBps      uint16 `json:"commission_bps"`
	StakePool          ID     `json:"stake_pool"`
	UnstakeDelayEpochs uint32 `json:"unstake_delay_epochs"`
}

// ProtocolType is the closed set of supported protocols.
type ProtocolType struct {
	Kind          ProtocolKind   `json:"kind"`
	StableLending *StableLending `json:"stable_lending,omitempty"`
	YieldFarming  *YieldFarming  `json:"yield_farming,omitempty"`
	LiquidStaking *LiquidStaking `json:"liquid_staking,omitempty"`
}

// NewStableLending wraps a lending payload.
func NewStableLending(p StableLending) ProtocolType {
	return ProtocolType{Kind: ProtocolStableLending, StableLending: &p}
}

// NewYieldFarming wraps a farming payload.
func NewYieldFarming(p YieldFarming) ProtocolType {
	return ProtocolType{Kind: ProtocolYieldFarming, YieldFarming: &p}
}

// NewLiquidStaking wraps a staking payload.
func NewLiquidStaking(p LiquidStaking) ProtocolType {
	return ProtocolType{Kind: ProtocolLiquidStaking, LiquidStaking: &p}
}

// Clone returns a copy that shares no payload pointer with p.
func (p ProtocolType) Clone() ProtocolType {
	out := ProtocolType{Kind: p.Kind}
	if p.StableLending != nil {
		v := *p.StableLending
		out.StableLending = &v
	}
	if p.YieldFarming != nil {
		v := *p.YieldFarming
		out.YieldFarming = &v
	}
	if p.LiquidStaking != nil {
		v := *p.LiquidStaking
		out.LiquidStaking = &v
	}
	return out
}

// checkPayload verifies that the payload selected by Kind is present.
func (p ProtocolType) checkPayload() error {
	switch p.Kind {
	case ProtocolStableLending:
		if p.StableLending == nil {
			return fmt.Errorf("%w: missing stable lending payload", ErrInvalidProtocolType)
		}
	case ProtocolYieldFarming:
		if p.YieldFarming == nil {
			return fmt.Errorf("%w: missing yield farming payload", ErrInvalidProtocolType)
		}
	case ProtocolLiquidStaking:
		if p.LiquidStaking == nil {
			return fmt.Errorf("%w: missing liquid staking payload", ErrInvalidProtocolType)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidProtocolType, p.Kind)
	}
	return nil
}

// Validate checks the per-variant configuration rules.
func (p ProtocolType) Validate() error {
	if err := p.checkPayload(); err != nil {
		return err
	}

	switch p.Kind {
	case ProtocolStableLending:
		l := p.StableLending
		if l.PoolID.IsZero() {
			return ErrInvalidPoolID
		}
		if l.ReserveAddress.IsZero() {
			return ErrInvalidReserveAddress
		}
		if l.UtilizationBps > MaxUtilizationBps {
			return fmt.Errorf("%w: %d bps", ErrInvalidUtilization, l.UtilizationBps)
		}
	case ProtocolYieldFarming:
		f := p.YieldFarming
		if f.PairID.IsZero() {
			return ErrInvalidPairID
		}
		if f.TokenAMint.IsZero() || f.TokenBMint.IsZero() {
			return ErrInvalidTokenMint
		}
		if f.TokenAMint.Equals(f.TokenBMint) {
			return ErrDuplicateTokenMints
		}
		if f.RewardMultiplier < MinRewardMultiplier || f.RewardMultiplier > MaxRewardMultiplier {
			return fmt.Errorf("%w: %dx", ErrInvalidRewardMultiplier, f.RewardMultiplier)
		}
		if f.FeeTierBps > MaxFeeTierBps {
			return fmt.Errorf("%w: %d bps", ErrInvalidFeeTier, f.FeeTierBps)
		}
	case ProtocolLiquidStaking:
		s := p.LiquidStaking
		if s.ValidatorID.IsZero() {
			return ErrInvalidValidatorID
		}
		if s.StakePool.IsZero() {
			return ErrInvalidStakePool
		}
		if s.CommissionBps > MaxCommissionBps {
			return fmt.Errorf("%w: %d bps", ErrInvalidCommission, s.CommissionBps)
		}
		if s.UnstakeDelayEpochs > MaxUnstakeDelayEpochs {
			return fmt.Errorf("%w: %d epochs", ErrInvalidUnstakeDelay, s.UnstakeDelayEpochs)
		}
	}
	return nil
}

// Name returns the human-readable protocol name.
func (p ProtocolType) Name() string {
	switch p.Kind {
	case ProtocolStableLending:
		return "Stable Lending"
	case ProtocolYieldFarming:
		return "Yield Farming"
	case ProtocolLiquidStaking:
		return "Liquid Staking"
	default:
		return "Unknown"
	}
}

// ExpectedTokens lists the token accounts a position in this protocol holds.
func (p ProtocolType) ExpectedTokens() []ID {
	if p.checkPayload() != nil {
		return nil
	}
	switch p.Kind {
	case ProtocolStableLending:
		return []ID{p.StableLending.ReserveAddress}
	case ProtocolYieldFarming:
		return []ID{p.YieldFarming.TokenAMint, p.YieldFarming.TokenBMint}
	case ProtocolLiquidStaking:
		return []ID{p.LiquidStaking.StakePool}
	}
	return nil
}

// MinimumTicket is the smallest allocation or balance the protocol accepts.
func (p ProtocolType) MinimumTicket() (uint64, error) {
	switch p.Kind {
	case ProtocolStableLending:
		return LendingMinimumTicket, nil
	case ProtocolYieldFarming:
		return FarmingMinimumTicket, nil
	case ProtocolLiquidStaking:
		return StakingMinimumTicket, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidProtocolType, p.Kind)
	}
}

// ValidateBalanceConstraints rejects balances below the protocol minimum ticket.
func (p ProtocolType) ValidateBalanceConstraints(balance uint64) error {
	minimum, err := p.MinimumTicket()
	if err != nil {
		return err
	}
	if balance < minimum {
		return fmt.Errorf("%w: %s requires at least %d, got %d", ErrInsufficientBalance, p.Name(), minimum, balance)
	}
	return nil
}

// PositionType is the position shape a protocol produces.
func (p ProtocolType) PositionType() PositionType {
	switch p.Kind {
	case ProtocolYieldFarming:
		return PositionLiquidityPair
	case ProtocolLiquidStaking:
		return PositionStaked
	default:
		return PositionSingleAsset
	}
}
