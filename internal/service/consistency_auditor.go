package service

import (
	"context"
	"fmt"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/util"

	"go.uber.org/zap"
)

// ConsistencyAuditor compares fast and durable stock for every known
// product and heals divergence by overwriting the durable side.
type ConsistencyAuditor struct {
	stocks      *StockStore
	repo        SnapshotRepository
	maxProducts int
	logger      *zap.Logger
}

func NewConsistencyAuditor(stocks *StockStore, repo SnapshotRepository, maxProducts int) *ConsistencyAuditor {
	if maxProducts <= 0 {
		maxProducts = DefaultSweepLimit
	}
	return &ConsistencyAuditor{
		stocks:      stocks,
		repo:        repo,
		maxProducts: maxProducts,
		logger:      util.GetLogger(),
	}
}

// Audit runs one full comparison. Products whose read or heal fails are
// logged and left out of TotalChecked; only failing to list the product set
// returns an error.
func (a *ConsistencyAuditor) Audit(ctx context.Context) (*models.ConsistencyReport, error) {
	ctx, span := util.StartSpan(ctx, "ConsistencyAuditor.Audit")
	defer span.End()

	report := &models.ConsistencyReport{
		StartedAt:  time.Now(),
		Mismatches: []models.Mismatch{},
	}

	products, err := a.repo.ListProducts(ctx, a.maxProducts)
	if err != nil {
		util.SpanError(span, err)
		return nil, fmt.Errorf("list products: %w", err)
	}

	for _, p := range products {
		outcome, err := reconcile(ctx, a.stocks, a.repo, p)
		if err != nil {
			report.FailedCount++
			a.logger.Error("Consistency check failed for product", zap.String("product_id", p.ID), zap.Error(err))
			continue
		}

		report.TotalChecked++
		if !outcome.mismatched {
			continue
		}

		report.MismatchCount++
		report.Mismatches = append(report.Mismatches, models.Mismatch{
			ProductID:    p.ID,
			FastValue:    outcome.fast,
			DurableValue: outcome.durable,
			Healed:       true,
		})
		util.AuditMismatchesTotal.Inc()
		a.logger.Warn("Stock mismatch healed",
			zap.String("product_id", p.ID),
			zap.Int64("fast", outcome.fast),
			zap.Int64("durable", outcome.durable))
	}

	report.ConsistencyRate = consistencyRate(report.TotalChecked, report.MismatchCount)
	report.Duration = time.Since(report.StartedAt)
	util.AuditConsistencyRate.Set(report.ConsistencyRate)

	a.logger.Info("Consistency check finished",
		zap.Int("checked", report.TotalChecked),
		zap.Int("mismatches", report.MismatchCount),
		zap.Int("failed", report.FailedCount),
		zap.Float64("consistency_rate", report.ConsistencyRate))
	return report, nil
}

func consistencyRate(checked, mismatched int) float64 {
	if checked == 0 {
		return 1.0
	}
	return float64(checked-mismatched) / float64(checked)
}
