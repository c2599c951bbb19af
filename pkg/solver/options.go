package solver

import (
	"fmt"
	"time"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
	"github.com/arnavshah/shift-optimizer/pkg/models"
)

// Options carries the objective weights and search budget of one solve.
type Options struct {
	WeightPreferences float64
	WeightCoverage    float64
	WeightFairness    float64
	WeightCost        float64

	// SoftPenalty is charged per unit of soft constraint violation.
	SoftPenalty float64

	TimeLimit time.Duration
	MIPGap    float64

	// FixExisting pins committed assignments to 1.
	FixExisting bool
}

// NewOptions validates an optimization config and turns it into solver options.
func NewOptions(cfg *models.OptimizationConfig, softPenalty float64) (Options, error) {
	weights := map[string]float64{
		"weight_fairness":    cfg.WeightFairness,
		"weight_preferences": cfg.WeightPreferences,
		"weight_cost":        cfg.WeightCost,
		"weight_coverage":    cfg.WeightCoverage,
	}
	for name, w := range weights {
		if w < 0 || w > 1 {
			return Options{}, fmt.Errorf("config %d: %s must be in [0,1], got %g: %w", cfg.ID, name, w, apperrors.ErrValidationFailure)
		}
	}
	if cfg.MaxRuntimeSeconds <= 0 {
		return Options{}, fmt.Errorf("config %d: max_runtime_seconds must be positive: %w", cfg.ID, apperrors.ErrValidationFailure)
	}
	if cfg.MIPGap < 0 || cfg.MIPGap >= 1 {
		return Options{}, fmt.Errorf("config %d: mip_gap must be in [0,1), got %g: %w", cfg.ID, cfg.MIPGap, apperrors.ErrValidationFailure)
	}
	if softPenalty <= 0 {
		return Options{}, fmt.Errorf("soft penalty must be positive: %w", apperrors.ErrValidationFailure)
	}

	return Options{
		WeightPreferences: cfg.WeightPreferences,
		WeightCoverage:    cfg.WeightCoverage,
		WeightFairness:    cfg.WeightFairness,
		WeightCost:        cfg.WeightCost,
		SoftPenalty:       softPenalty,
		TimeLimit:         time.Duration(cfg.MaxRuntimeSeconds) * time.Second,
		MIPGap:            cfg.MIPGap,
		FixExisting:       true,
	}, nil
}

// MaxSwing bounds how far the primary objective terms can move between any two
// assignments covering totalRequired slots. Preference, coverage and cost
// coefficients are each at most their weight per assignment; the fairness
// deviations sum to at most twice the number of assignments.
func (o Options) MaxSwing(totalRequired int) float64 {
	t := float64(totalRequired)
	return t*(o.WeightPreferences+o.WeightCoverage+o.WeightCost) + 2*t*o.WeightFairness
}

// CheckPenalty fails when a single unit of soft violation could be bought back
// by the primary objective.
func (o Options) CheckPenalty(totalRequired int) error {
	swing := o.MaxSwing(totalRequired)
	if o.SoftPenalty <= swing {
		return fmt.Errorf("soft penalty %g must exceed the maximum objective swing %g for %d required slots: %w",
			o.SoftPenalty, swing, totalRequired, apperrors.ErrValidationFailure)
	}
	return nil
}
