// ./internal/state/snapshot_store.go
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver for array support

	"github.com/elys-network/rebalancer/internal/types"
)

// SaveCycleReport saves an executed rebalancing cycle to the database.
func (s *PostgresStore) SaveCycleReport(ctx context.Context, manager types.ID, report types.CycleReport) error {
	redistributionJSON, err := json.Marshal(report.Plan.RedistributionPlan)
	if err != nil {
		return fmt.Errorf("failed to marshal redistribution_plan: %w", err)
	}
	extractionsJSON, err := json.Marshal(report.Extractions)
	if err != nil {
		return fmt.Errorf("failed to marshal extractions: %w", err)
	}
	targets := make([]string, len(report.Plan.ExtractionTargets))
	for i, id := range report.Plan.ExtractionTargets {
		targets[i] = id.String()
	}

	query := `
		INSERT INTO cycle_reports (
			plan_id, manager, cycle_number, created_at, completed_at,
			extraction_targets, total_to_extract, redistribution_plan, extractions,
			estimated_fees, expected_improvement, total_extracted, total_redistributed, total_fees_paid
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);`

	_, err = s.db.ExecContext(ctx, query,
		report.Plan.PlanID, manager.String(), report.CycleNumber, report.Plan.CreatedAt, report.CompletedAt,
		pq.Array(targets), numericArg(report.Plan.TotalToExtract), redistributionJSON, extractionsJSON,
		numericArg(report.Plan.EstimatedFees), numericArg(report.Plan.ExpectedImprovement),
		numericArg(report.TotalExtracted), numericArg(report.TotalRedistributed), numericArg(report.TotalFeesPaid),
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle report: %w", err)
	}

	stateLogger.Info().
		Str("plan_id", report.Plan.PlanID.String()).
		Int("cycle_number", report.CycleNumber).
		Uint64("total_extracted", report.TotalExtracted).
		Msg("Cycle report saved to database")
	return nil
}

// RecentCycleReports retrieves recent cycle reports, newest first.
func (s *PostgresStore) RecentCycleReports(ctx context.Context, manager types.ID, limit int) ([]types.CycleReport, error) {
	query := `
		SELECT
			plan_id, cycle_number, created_at, completed_at,
			extraction_targets, total_to_extract, redistribution_plan, extractions,
			estimated_fees, expected_improvement, total_extracted, total_redistributed, total_fees_paid
		FROM cycle_reports
		WHERE manager = $1
		ORDER BY completed_at DESC, cycle_number DESC`
	args := []any{manager.String()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent cycle reports: %w", err)
	}
	defer rows.Close()

	reports := make([]types.CycleReport, 0)
	for rows.Next() {
		var r types.CycleReport
		var targets []string
		var redistributionJSON, extractionsJSON []byte

		err := rows.Scan(
			&r.Plan.PlanID, &r.CycleNumber, &r.Plan.CreatedAt, &r.CompletedAt,
			pq.Array(&targets), numeric{&r.Plan.TotalToExtract}, &redistributionJSON, &extractionsJSON,
			numeric{&r.Plan.EstimatedFees}, numeric{&r.Plan.ExpectedImprovement},
			numeric{&r.TotalExtracted}, numeric{&r.TotalRedistributed}, numeric{&r.TotalFeesPaid},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle report row: %w", err)
		}

		r.Plan.Manager = manager
		for _, t := range targets {
			id, err := types.ParseID(t)
			if err != nil {
				return nil, fmt.Errorf("cycle %d: %w", r.CycleNumber, err)
			}
			r.Plan.ExtractionTargets = append(r.Plan.ExtractionTargets, id)
		}
		if len(redistributionJSON) > 0 {
			if err := json.Unmarshal(redistributionJSON, &r.Plan.RedistributionPlan); err != nil {
				return nil, fmt.Errorf("failed to unmarshal redistribution plan: %w", err)
			}
		}
		if len(extractionsJSON) > 0 {
			if err := json.Unmarshal(extractionsJSON, &r.Extractions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal extractions: %w", err)
			}
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return reports, nil
}
