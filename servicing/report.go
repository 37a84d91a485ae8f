package servicing

import (
	"context"
	"fmt"

	"github.com/warp/loan-engine/lending"
)

// =============================================================================
// REPORTS
// =============================================================================

type ReportService struct {
	Deps
	Weights lending.HealthWeights
}

func NewReportService(deps Deps, weights lending.HealthWeights) *ReportService {
	if weights == nil {
		weights = lending.DefaultHealthWeights()
	}
	return &ReportService{Deps: deps, Weights: weights}
}

// Portfolio classifies every loan as of asOf (read-only, nothing is
// written) and compares it with the tiers recorded as of previous.
// A zero previous date means no comparison: every loan counts as new.
func (s *ReportService) Portfolio(ctx context.Context, asOf, previous lending.Date) (lending.PortfolioReport, error) {
	entries, err := s.entries(ctx, asOf)
	if err != nil {
		return lending.PortfolioReport{}, err
	}

	snapshot := lending.PortfolioSnapshot{}
	if !previous.IsZero() {
		snapshot, err = s.Store.TiersAsOf(ctx, previous)
		if err != nil {
			return lending.PortfolioReport{}, fmt.Errorf("failed to load previous tiers: %w", err)
		}
	}

	return lending.BuildReport(entries, snapshot, s.Weights, asOf, s.Classifier.Currency), nil
}

// WriteOffs returns the write-off report as of asOf.
func (s *ReportService) WriteOffs(ctx context.Context, asOf lending.Date) (lending.WriteOffReport, error) {
	entries, err := s.entries(ctx, asOf)
	if err != nil {
		return lending.WriteOffReport{}, err
	}
	return lending.BuildWriteOffReport(entries), nil
}

func (s *ReportService) entries(ctx context.Context, asOf lending.Date) ([]lending.PortfolioEntry, error) {
	loans, err := s.Store.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	policy := s.Policy.Get()
	entries := make([]lending.PortfolioEntry, 0, len(loans))
	for _, loan := range loans {
		// Closed loans leave the portfolio; they show up as removed movements.
		if loan.Status == lending.LoanClosed {
			continue
		}
		installments, err := s.Store.Installments(ctx, loan.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load installments for %s: %w", loan.ID, err)
		}
		updated, result, err := lending.Reclassify(loan, installments, policy, asOf, s.Classifier, lending.TriggerManual)
		if err != nil {
			return nil, fmt.Errorf("loan %s: %w", loan.ID, err)
		}
		entries = append(entries, lending.EntryFor(updated, result))
	}
	return entries, nil
}
