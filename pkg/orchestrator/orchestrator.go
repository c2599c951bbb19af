// Package orchestrator drives a scheduling run through
// PENDING → RUNNING → COMPLETED | FAILED and owns every write to the run record.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
	"github.com/arnavshah/shift-optimizer/pkg/config"
	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/repository"
	"github.com/arnavshah/shift-optimizer/pkg/scheduler"
	"github.com/arnavshah/shift-optimizer/pkg/snapshot"
	"github.com/arnavshah/shift-optimizer/pkg/solver"
	"github.com/arnavshah/shift-optimizer/pkg/validator"
)

type Orchestrator struct {
	store     repository.Store
	builder   *snapshot.Builder
	validator *validator.Service
	cfg       config.SolverConfig
	logger    *zap.Logger
}

func New(store repository.Store, cfg config.SolverConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		builder:   snapshot.NewBuilder(store, logger),
		validator: validator.NewService(store, logger),
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}
}

// SubmitRequest describes a new run
type SubmitRequest struct {
	ScheduleID uint
	ConfigID   *uint
	// ApplyAssignments commits the solution as shift assignments on success.
	ApplyAssignments bool
	// ReplaceExisting frees the solver from the schedule's committed
	// assignments and, when applying, clears them in the same transaction.
	ReplaceExisting bool
}

// ApplyResult reports what ApplySolution wrote
type ApplyResult struct {
	AssignmentsCreated int   `json:"assignments_created"`
	ShiftsUpdated      int64 `json:"shifts_updated"`
}

// Submit records a PENDING run. Execution happens later on a worker.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.SchedulingRun, error) {
	if _, err := o.store.GetSchedule(ctx, req.ScheduleID); err != nil {
		return nil, err
	}
	if req.ConfigID != nil {
		if _, err := o.store.GetConfig(ctx, *req.ConfigID); err != nil {
			return nil, err
		}
	}

	run := &models.SchedulingRun{
		ScheduleID:       req.ScheduleID,
		ConfigID:         req.ConfigID,
		Status:           models.RunPending,
		ApplyAssignments: req.ApplyAssignments,
		ReplaceExisting:  req.ReplaceExisting,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	o.logger.Info("run submitted",
		zap.String("run_id", run.ID.String()),
		zap.Uint("schedule_id", run.ScheduleID),
		zap.Bool("apply_assignments", run.ApplyAssignments),
		zap.Bool("replace_existing", run.ReplaceExisting))
	return run, nil
}

// outcome carries what a run produced so far, for both persistence and failure metadata.
type outcome struct {
	config   *models.OptimizationConfig
	snap     *snapshot.Snapshot
	solution *solver.Solution
	warnings []validator.Violation
	// solverStatus is set once the model was built, even when no solve happened.
	solverStatus *models.SolverStatus
	// retainedCover counts required slots committed assignments outside the model fill.
	retainedCover int
}

// Execute runs the build, solve, validate and persist sequence for one
// PENDING run. Any failure after the run started leaves it FAILED with a
// message and is returned to the caller.
func (o *Orchestrator) Execute(ctx context.Context, runID uuid.UUID) error {
	run, err := o.startRun(ctx, runID)
	if err != nil {
		return err
	}

	logger := o.logger.With(zap.String("run_id", runID.String()), zap.Uint("schedule_id", run.ScheduleID))
	logger.Info("run started")

	out := &outcome{}
	if err := o.guard(ctx, run, out, logger); err != nil {
		return o.fail(ctx, run, out, err, logger)
	}
	return nil
}

// guard runs execute and turns a panic on the build or solve path into an
// error, so a started run still reaches FAILED.
func (o *Orchestrator) guard(ctx context.Context, run *models.SchedulingRun, out *outcome, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return o.execute(ctx, run, out, logger)
}

// startRun moves a PENDING run to RUNNING under a row lock. A second executor
// for the same run gets ErrConflict.
func (o *Orchestrator) startRun(ctx context.Context, runID uuid.UUID) (*models.SchedulingRun, error) {
	var run *models.SchedulingRun
	err := o.store.Transaction(ctx, func(tx repository.Store) error {
		r, err := tx.LockRun(ctx, runID)
		if err != nil {
			return err
		}
		if r.Status != models.RunPending {
			return fmt.Errorf("run %s is %s, not %s: %w", runID, r.Status, models.RunPending, apperrors.ErrConflict)
		}

		now := time.Now()
		ok, err := tx.TransitionRun(ctx, runID, models.RunPending, models.RunRunning, map[string]any{"started_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %s changed status while starting: %w", runID, apperrors.ErrConflict)
		}
		r.Status = models.RunRunning
		r.StartedAt = &now
		run = r
		return nil
	})
	return run, err
}

func (o *Orchestrator) execute(ctx context.Context, run *models.SchedulingRun, out *outcome, logger *zap.Logger) error {
	cfg, err := o.loadConfig(ctx, run)
	if err != nil {
		return err
	}
	out.config = cfg

	opts, err := solver.NewOptions(cfg, o.cfg.SoftPenalty)
	if err != nil {
		return err
	}
	opts.FixExisting = !run.ReplaceExisting

	snap, err := o.builder.Build(ctx, run.ScheduleID)
	if err != nil {
		return err
	}
	out.snap = snap

	model, err := solver.Build(snap, opts)
	if err != nil {
		if errors.Is(err, apperrors.ErrInfeasible) {
			out.solverStatus = solverStatus(models.SolverInfeasible)
		}
		return err
	}
	retained := make([]validator.Assignment, len(model.Retained()))
	for i, ex := range model.Retained() {
		retained[i] = validator.Assignment{
			EmployeeID: snap.Employees[ex.Employee].ID,
			ShiftID:    snap.Shifts[ex.Shift].ID,
			RoleID:     ex.RoleID,
		}
	}
	out.retainedCover = model.RetainedCoverage()
	if len(retained) > 0 || snap.StaleAssignments > 0 {
		logger.Warn("committed assignments kept outside the model",
			zap.Int("retained", len(retained)),
			zap.Int("out_of_scope", snap.StaleAssignments))
	}
	logger.Info("model built",
		zap.Int("variables", model.NumVariables()),
		zap.Int("constraints", model.NumConstraints()),
		zap.Uint("config_id", cfg.ID))

	sol := model.Solve(ctx)
	out.solution = sol
	out.solverStatus = solverStatus(sol.Status)
	logger.Info("solver finished",
		zap.String("solver_status", string(sol.Status)),
		zap.Duration("runtime", sol.Runtime),
		zap.Int("nodes", sol.Nodes),
		zap.Float64("objective", sol.ObjectiveValue))

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}

	switch sol.Status {
	case models.SolverInfeasible:
		return fmt.Errorf("%s: %w", sol.Message, apperrors.ErrInfeasible)
	case models.SolverNoSolutionFound:
		return fmt.Errorf("%s: %w", sol.Message, apperrors.ErrNoSolutionFound)
	case models.SolverError:
		return fmt.Errorf("solver error: %s", sol.Message)
	}

	proposed := make([]validator.Assignment, len(sol.Assignments))
	for i, a := range sol.Assignments {
		proposed[i] = validator.Assignment{EmployeeID: a.EmployeeID, ShiftID: a.ShiftID, RoleID: a.RoleID}
	}
	check, err := o.validator.ValidateProposal(ctx, run.ScheduleID, proposed, retained)
	if err != nil {
		return err
	}
	if !check.IsValid() {
		return fmt.Errorf("solution breaks hard rules: %s: %w", summarize(check.Errors), apperrors.ErrValidationFailure)
	}
	out.warnings = check.Warnings

	if err := o.persist(ctx, run, out, logger); err != nil {
		return err
	}
	logger.Info("run completed",
		zap.String("solver_status", string(sol.Status)),
		zap.Int("assignments", len(sol.Assignments)),
		zap.Int("warnings", len(out.warnings)))
	return nil
}

// loadConfig resolves the run's explicit config or the default one.
func (o *Orchestrator) loadConfig(ctx context.Context, run *models.SchedulingRun) (*models.OptimizationConfig, error) {
	var (
		cfg *models.OptimizationConfig
		err error
	)
	if run.ConfigID != nil {
		cfg, err = o.store.GetConfig(ctx, *run.ConfigID)
	} else {
		cfg, err = o.store.GetDefaultConfig(ctx)
	}
	if err != nil {
		return nil, err
	}
	if cfg.MaxRuntimeSeconds == 0 {
		cfg.MaxRuntimeSeconds = o.cfg.DefaultRuntimeSeconds
	}
	return cfg, nil
}

// persist writes the solution, the optional committed assignments and the
// terminal run metadata in one transaction.
func (o *Orchestrator) persist(ctx context.Context, run *models.SchedulingRun, out *outcome, logger *zap.Logger) error {
	sol := out.solution
	warnings, err := json.Marshal(nonNil(out.warnings))
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}

	return o.store.Transaction(ctx, func(tx repository.Store) error {
		if run.ApplyAssignments && run.ReplaceExisting {
			if err := tx.DeleteAssignmentsBySchedule(ctx, run.ScheduleID); err != nil {
				return err
			}
		}

		solutions := make([]models.SchedulingSolution, len(sol.Assignments))
		for i, a := range sol.Assignments {
			solutions[i] = models.SchedulingSolution{
				RunID:      run.ID,
				ShiftID:    a.ShiftID,
				EmployeeID: a.EmployeeID,
				RoleID:     a.RoleID,
				Score:      a.Score,
				IsSelected: true,
			}
		}
		if err := tx.CreateSolutions(ctx, solutions); err != nil {
			return err
		}

		if run.ApplyAssignments {
			created, err := commit(ctx, tx, run.ScheduleID, sol.Assignments)
			if err != nil {
				return err
			}
			logger.Info("assignments committed", zap.Int("created", created))
		}

		fields := map[string]any{
			"solver_status":       sol.Status,
			"completed_at":        time.Now(),
			"runtime_seconds":     sol.Runtime.Seconds(),
			"objective_value":     sol.ObjectiveValue,
			"total_assignments":   len(sol.Assignments),
			"coverage_percentage": coverage(out.snap, len(sol.Assignments)+out.retainedCover),
			"fairness_score":      fairness(out.snap, sol.Assignments),
			"warnings":            datatypes.JSON(warnings),
			"config_id":           out.config.ID,
		}
		if !math.IsInf(sol.MIPGap, 0) && !math.IsNaN(sol.MIPGap) {
			fields["mip_gap"] = sol.MIPGap
		}
		ok, err := tx.TransitionRun(ctx, run.ID, models.RunRunning, models.RunCompleted, fields)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %s is no longer %s: %w", run.ID, models.RunRunning, apperrors.ErrConflict)
		}
		return nil
	})
}

// commit creates the assignments that are not already committed for the same
// (shift, employee) and marks their shifts filled.
func commit(ctx context.Context, tx repository.Store, scheduleID uint, assignments []solver.Assignment) (int, error) {
	existing, err := tx.ListAssignmentsBySchedule(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	type key struct{ shift, employee uint }
	committed := make(map[key]struct{}, len(existing))
	for _, a := range existing {
		committed[key{a.ShiftID, a.EmployeeID}] = struct{}{}
	}

	var rows []models.ShiftAssignment
	var shiftIDs []uint
	seen := make(map[uint]struct{})
	for _, a := range assignments {
		if _, ok := seen[a.ShiftID]; !ok {
			seen[a.ShiftID] = struct{}{}
			shiftIDs = append(shiftIDs, a.ShiftID)
		}
		if _, ok := committed[key{a.ShiftID, a.EmployeeID}]; ok {
			continue
		}
		rows = append(rows, models.ShiftAssignment{
			ShiftID:    a.ShiftID,
			EmployeeID: a.EmployeeID,
			RoleID:     a.RoleID,
			Status:     models.AssignmentConfirmed,
		})
	}
	if err := tx.CreateAssignments(ctx, rows); err != nil {
		return 0, err
	}
	if _, err := tx.MarkShiftsFilled(ctx, shiftIDs); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// fail records the run as FAILED and returns cause. The write ignores ctx
// cancellation so an interrupted run is still closed out.
func (o *Orchestrator) fail(ctx context.Context, run *models.SchedulingRun, out *outcome, cause error, logger *zap.Logger) error {
	ctx = context.WithoutCancel(ctx)

	fields := map[string]any{
		"error_message": cause.Error(),
		"completed_at":  time.Now(),
	}
	if out.solverStatus != nil {
		fields["solver_status"] = *out.solverStatus
	}
	if out.solution != nil {
		fields["runtime_seconds"] = out.solution.Runtime.Seconds()
	}
	if out.config != nil {
		fields["config_id"] = out.config.ID
	}

	ok, err := o.store.TransitionRun(ctx, run.ID, models.RunRunning, models.RunFailed, fields)
	switch {
	case err != nil:
		logger.Error("failed to record run failure", zap.Error(err), zap.NamedError("cause", cause))
		return errors.Join(cause, err)
	case !ok:
		logger.Warn("run left RUNNING before its failure was recorded", zap.Error(cause))
	default:
		logger.Warn("run failed", zap.Error(cause))
	}
	return cause
}

func (o *Orchestrator) GetRun(ctx context.Context, runID uuid.UUID) (*models.SchedulingRun, error) {
	return o.store.GetRun(ctx, runID)
}

// ListRuns returns a schedule's runs, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, scheduleID uint) ([]models.SchedulingRun, error) {
	if _, err := o.store.GetSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	return o.store.ListRunsBySchedule(ctx, scheduleID)
}

func (o *Orchestrator) ListSolutions(ctx context.Context, runID uuid.UUID) ([]models.SchedulingSolution, error) {
	if _, err := o.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return o.store.ListSolutions(ctx, runID, false)
}

// PendingRunIDs lists runs that were submitted but never started, oldest first.
func (o *Orchestrator) PendingRunIDs(ctx context.Context) ([]uuid.UUID, error) {
	return o.store.ListRunIDsByStatus(ctx, models.RunPending)
}

// ApplySolution commits the selected assignments of a COMPLETED run. Without
// overwrite it refuses to touch shifts that already have committed
// assignments; with overwrite those are replaced, so re-applying is idempotent.
func (o *Orchestrator) ApplySolution(ctx context.Context, runID uuid.UUID, overwrite bool) (*ApplyResult, error) {
	var result ApplyResult
	err := o.store.Transaction(ctx, func(tx repository.Store) error {
		run, err := tx.LockRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunCompleted {
			return fmt.Errorf("run %s is %s, only %s runs can be applied: %w", runID, run.Status, models.RunCompleted, apperrors.ErrConflict)
		}

		solutions, err := tx.ListSolutions(ctx, runID, true)
		if err != nil {
			return err
		}
		var shiftIDs []uint
		seen := make(map[uint]struct{})
		for _, s := range solutions {
			if _, ok := seen[s.ShiftID]; !ok {
				seen[s.ShiftID] = struct{}{}
				shiftIDs = append(shiftIDs, s.ShiftID)
			}
		}

		shifts, err := tx.ListShiftsByIDs(ctx, shiftIDs)
		if err != nil {
			return err
		}
		// solutions on shifts since cancelled or deleted are skipped
		var live []uint
		applicable := make(map[uint]struct{}, len(shifts))
		for _, sh := range shifts {
			if sh.Status == models.ShiftCancelled {
				continue
			}
			applicable[sh.ID] = struct{}{}
			live = append(live, sh.ID)
		}

		existing, err := tx.ListAssignmentsByShifts(ctx, live)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if !overwrite {
				return fmt.Errorf("%d committed assignments exist on the run's shifts: %w", len(existing), apperrors.ErrConflict)
			}
			if err := tx.DeleteAssignmentsByShifts(ctx, live); err != nil {
				return err
			}
		}

		rows := make([]models.ShiftAssignment, 0, len(solutions))
		for _, s := range solutions {
			if _, ok := applicable[s.ShiftID]; !ok {
				continue
			}
			rows = append(rows, models.ShiftAssignment{
				ShiftID:    s.ShiftID,
				EmployeeID: s.EmployeeID,
				RoleID:     s.RoleID,
				Status:     models.AssignmentConfirmed,
			})
		}
		if err := tx.CreateAssignments(ctx, rows); err != nil {
			return err
		}
		updated, err := tx.MarkShiftsFilled(ctx, live)
		if err != nil {
			return err
		}

		result = ApplyResult{AssignmentsCreated: len(rows), ShiftsUpdated: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("solution applied",
		zap.String("run_id", runID.String()),
		zap.Bool("overwrite", overwrite),
		zap.Int("assignments_created", result.AssignmentsCreated),
		zap.Int64("shifts_updated", result.ShiftsUpdated))
	return &result, nil
}

// CancelRun cancels a run that has not started. Running runs cannot be
// cancelled; they end when the worker that owns them stops.
func (o *Orchestrator) CancelRun(ctx context.Context, runID uuid.UUID) (*models.SchedulingRun, error) {
	err := o.store.Transaction(ctx, func(tx repository.Store) error {
		run, err := tx.LockRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunPending {
			return fmt.Errorf("run %s is %s, only %s runs can be cancelled: %w", runID, run.Status, models.RunPending, apperrors.ErrConflict)
		}
		ok, err := tx.TransitionRun(ctx, runID, models.RunPending, models.RunCancelled, map[string]any{"completed_at": time.Now()})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %s changed status while cancelling: %w", runID, apperrors.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("run cancelled", zap.String("run_id", runID.String()))
	return o.store.GetRun(ctx, runID)
}

// DeleteRun removes a run and its solutions. A RUNNING run cannot be deleted.
func (o *Orchestrator) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	return o.store.Transaction(ctx, func(tx repository.Store) error {
		run, err := tx.LockRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status == models.RunRunning {
			return fmt.Errorf("run %s is still running: %w", runID, apperrors.ErrConflict)
		}
		return tx.DeleteRun(ctx, runID)
	})
}

func solverStatus(s models.SolverStatus) *models.SolverStatus {
	return &s
}

// coverage is the share of required head-count the assignments fill, in percent.
func coverage(snap *snapshot.Snapshot, assigned int) float64 {
	required := snap.TotalRequired()
	if required == 0 {
		return 100
	}
	return math.Min(100, 100*float64(assigned)/float64(required))
}

// fairness scores how evenly assigned hours spread over every assignable employee.
func fairness(snap *snapshot.Snapshot, assignments []solver.Assignment) float64 {
	loads := make([]float64, len(snap.Employees))
	for _, a := range assignments {
		ei, ok := snap.EmployeeIndex[a.EmployeeID]
		if !ok {
			continue
		}
		si, ok := snap.ShiftIndex[a.ShiftID]
		if !ok {
			continue
		}
		loads[ei] += snap.Durations[si]
	}
	return scheduler.FairnessScore(loads)
}

func summarize(vs []validator.Violation) string {
	const limit = 5
	msgs := make([]string, 0, limit)
	for i, v := range vs {
		if i == limit {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(vs)-limit))
			break
		}
		msgs = append(msgs, fmt.Sprintf("%s (employee %d): %s", v.Type, v.EmployeeID, v.Message))
	}
	return strings.Join(msgs, "; ")
}

func nonNil(vs []validator.Violation) []validator.Violation {
	if vs == nil {
		return []validator.Violation{}
	}
	return vs
}
