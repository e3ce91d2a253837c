/*

This file contains the outputs of a rebalancing cycle: allocations, risk limits, extraction results and plans.

*/

package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AllocationType tells downstream accounting why capital is routed to a destination.
type AllocationType string

const (
	AllocationTopPerformer        AllocationType = "top_performer"
	AllocationRiskDiversification AllocationType = "risk_diversification"
	AllocationManagerIncentive    AllocationType = "manager_incentive"
	AllocationPlatformFee         AllocationType = "platform_fee"
)

// IsFee reports whether the allocation is a fee carve-out rather than a strategy deposit.
func (a AllocationType) IsFee() bool {
	return a == AllocationManagerIncentive || a == AllocationPlatformFee
}

type CapitalAllocation struct {
	StrategyID     ID             `json:"strategy_id"`
	Amount         uint64         `json:"amount"`
	AllocationType AllocationType `json:"allocation_type"`
}

// RiskLimits holds the policy knobs of the allocation planner. All fields are basis points
// except the treasury identities.
type RiskLimits struct {
	MaxSingleStrategyBps uint64 `json:"max_single_strategy_bps"`
	MinSingleStrategyBps uint64 `json:"min_single_strategy_bps"`
	PlatformFeeBps       uint64 `json:"platform_fee_bps"`
	ManagerFeeBps        uint64 `json:"manager_fee_bps"`
	RiskToleranceBps     uint64 `json:"risk_tolerance_bps"`
	PlatformTreasury     ID     `json:"platform_treasury"`
	ManagerTreasury      ID     `json:"manager_treasury"`
}

// DefaultRiskLimits returns the conservative defaults used by the orchestrator.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxSingleStrategyBps: 4000, // 40% max single strategy
		MinSingleStrategyBps: 100,  // 1% minimum allocation
		PlatformFeeBps:       50,   // 0.5% platform fee
		ManagerFeeBps:        150,  // 1.5% manager fee
		RiskToleranceBps:     8000, // 80% risk tolerance
	}
}

// Validate rejects limits the planner cannot honour.
func (r RiskLimits) Validate() error {
	if r.MaxSingleStrategyBps > 10000 || r.MinSingleStrategyBps > 10000 {
		return fmt.Errorf("%w: single strategy bounds must be <= 10000 bps", ErrInvalidRiskLimits)
	}
	if r.MinSingleStrategyBps > r.MaxSingleStrategyBps {
		return fmt.Errorf("%w: min single strategy %d bps exceeds max %d bps", ErrInvalidRiskLimits, r.MinSingleStrategyBps, r.MaxSingleStrategyBps)
	}
	if r.PlatformFeeBps > 10000 || r.ManagerFeeBps > 10000 {
		return fmt.Errorf("%w: fees must each be <= 10000 bps", ErrInvalidRiskLimits)
	}
	if r.PlatformFeeBps+r.ManagerFeeBps > 10000 {
		return fmt.Errorf("%w: combined fees exceed 10000 bps", ErrInvalidRiskLimits)
	}
	if r.RiskToleranceBps > 20000 {
		return fmt.Errorf("%w: risk tolerance %d bps above 20000", ErrInvalidRiskLimits, r.RiskToleranceBps)
	}
	return nil
}

// ExtractionType communicates which extraction formula fired.
type ExtractionType string

const (
	ExtractionNone                ExtractionType = "no_extraction"
	ExtractionLendingWithdrawal   ExtractionType = "lending_withdrawal"
	ExtractionLiquidityWithdrawal ExtractionType = "liquidity_withdrawal"
	ExtractionStakingUnstake      ExtractionType = "staking_unstake"
)

type ExtractionResult struct {
	StrategyID      ID             `json:"strategy_id"`
	ExtractedAmount uint64         `json:"extracted_amount"`
	ExtractionType  ExtractionType `json:"extraction_type"`
	FeesPaid        uint64         `json:"fees_paid"`
}

// RebalancingPlan is the transient artifact of one rebalancing cycle.
type RebalancingPlan struct {
	PlanID              uuid.UUID           `json:"plan_id"`
	Manager             ID                  `json:"manager"`
	CreatedAt           time.Time           `json:"created_at"`
	ExtractionTargets   []ID                `json:"extraction_targets"`
	TotalToExtract      uint64              `json:"total_to_extract"`
	RedistributionPlan  []CapitalAllocation `json:"redistribution_plan"`
	EstimatedFees       uint64              `json:"estimated_fees"`
	ExpectedImprovement uint64              `json:"expected_improvement"` // performance score points
}

// CycleReport is the persisted outcome of an executed rebalancing cycle.
type CycleReport struct {
	CycleNumber        int                `json:"cycle_number"`
	Plan               RebalancingPlan    `json:"plan"`
	Extractions        []ExtractionResult `json:"extractions"`
	TotalExtracted     uint64             `json:"total_extracted"`
	TotalRedistributed uint64             `json:"total_redistributed"`
	TotalFeesPaid      uint64             `json:"total_fees_paid"`
	CompletedAt        time.Time          `json:"completed_at"`
}
