package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
	"github.com/arnavshah/shift-optimizer/pkg/models"
)

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Store backed by db.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

var _ Store = (*gormStore)(nil)

func dbError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, apperrors.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrDatabase, err)
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// ============================================================================
// Employees
// ============================================================================

func (s *gormStore) ListEmployees(ctx context.Context) ([]models.Employee, error) {
	var employees []models.Employee
	if err := s.db.WithContext(ctx).Preload("Roles").Order("id").Find(&employees).Error; err != nil {
		return nil, dbError("failed to list employees", err)
	}
	return employees, nil
}

// ============================================================================
// Schedules and shifts
// ============================================================================

func (s *gormStore) GetSchedule(ctx context.Context, id uint) (*models.WeeklySchedule, error) {
	var schedule models.WeeklySchedule
	if err := s.db.WithContext(ctx).First(&schedule, id).Error; err != nil {
		return nil, dbError(fmt.Sprintf("failed to get schedule %d", id), err)
	}
	return &schedule, nil
}

func (s *gormStore) GetShift(ctx context.Context, id uint) (*models.Shift, error) {
	var shift models.Shift
	if err := s.db.WithContext(ctx).First(&shift, id).Error; err != nil {
		return nil, dbError(fmt.Sprintf("failed to get shift %d", id), err)
	}
	return &shift, nil
}

func (s *gormStore) ListActiveShifts(ctx context.Context, scheduleID uint) ([]models.Shift, error) {
	var shifts []models.Shift
	err := s.db.WithContext(ctx).
		Where("schedule_id = ? AND status <> ?", scheduleID, models.ShiftCancelled).
		Order("start_at, id").
		Find(&shifts).Error
	if err != nil {
		return nil, dbError("failed to list shifts", err)
	}
	return shifts, nil
}

func (s *gormStore) ListShiftsByIDs(ctx context.Context, ids []uint) ([]models.Shift, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var shifts []models.Shift
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("start_at, id").Find(&shifts).Error; err != nil {
		return nil, dbError("failed to list shifts", err)
	}
	return shifts, nil
}

func (s *gormStore) ListTemplateRoles(ctx context.Context, templateIDs []uint) ([]models.TemplateRole, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	var roles []models.TemplateRole
	if err := s.db.WithContext(ctx).Where("template_id IN ?", templateIDs).Order("id").Find(&roles).Error; err != nil {
		return nil, dbError("failed to list template roles", err)
	}
	return roles, nil
}

// ============================================================================
// Time off and preferences
// ============================================================================

func (s *gormStore) ListApprovedTimeOff(ctx context.Context, from, to time.Time) ([]models.TimeOffRequest, error) {
	var requests []models.TimeOffRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND start_date <= ? AND end_date >= ?", models.TimeOffApproved, to, from).
		Order("employee_id, start_date").
		Find(&requests).Error
	if err != nil {
		return nil, dbError("failed to list time off", err)
	}
	return requests, nil
}

func (s *gormStore) ListPreferences(ctx context.Context, employeeIDs []uint) ([]models.EmployeePreference, error) {
	if len(employeeIDs) == 0 {
		return nil, nil
	}
	var prefs []models.EmployeePreference
	if err := s.db.WithContext(ctx).Where("employee_id IN ?", employeeIDs).Order("id").Find(&prefs).Error; err != nil {
		return nil, dbError("failed to list preferences", err)
	}
	return prefs, nil
}

// ============================================================================
// Committed assignments
// ============================================================================

func (s *gormStore) ListAssignmentsBySchedule(ctx context.Context, scheduleID uint) ([]models.ShiftAssignment, error) {
	var assignments []models.ShiftAssignment
	sub := s.db.Model(&models.Shift{}).Select("id").Where("schedule_id = ?", scheduleID)
	err := s.db.WithContext(ctx).Where("shift_id IN (?)", sub).Order("id").Find(&assignments).Error
	if err != nil {
		return nil, dbError("failed to list assignments", err)
	}
	return assignments, nil
}

func (s *gormStore) ListAssignmentsByShifts(ctx context.Context, shiftIDs []uint) ([]models.ShiftAssignment, error) {
	if len(shiftIDs) == 0 {
		return nil, nil
	}
	var assignments []models.ShiftAssignment
	if err := s.db.WithContext(ctx).Where("shift_id IN ?", shiftIDs).Order("id").Find(&assignments).Error; err != nil {
		return nil, dbError("failed to list assignments", err)
	}
	return assignments, nil
}

func (s *gormStore) CreateAssignments(ctx context.Context, assignments []models.ShiftAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(assignments, 200).Error; err != nil {
		return dbError("failed to create assignments", err)
	}
	return nil
}

func (s *gormStore) DeleteAssignmentsByShifts(ctx context.Context, shiftIDs []uint) error {
	if len(shiftIDs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("shift_id IN ?", shiftIDs).Delete(&models.ShiftAssignment{}).Error; err != nil {
		return dbError("failed to delete assignments", err)
	}
	return nil
}

func (s *gormStore) DeleteAssignmentsBySchedule(ctx context.Context, scheduleID uint) error {
	sub := s.db.Model(&models.Shift{}).Select("id").Where("schedule_id = ?", scheduleID)
	if err := s.db.WithContext(ctx).Where("shift_id IN (?)", sub).Delete(&models.ShiftAssignment{}).Error; err != nil {
		return dbError("failed to delete schedule assignments", err)
	}
	return nil
}

func (s *gormStore) MarkShiftsFilled(ctx context.Context, shiftIDs []uint) (int64, error) {
	if len(shiftIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Shift{}).
		Where("id IN ? AND status <> ?", shiftIDs, models.ShiftCancelled).
		Update("status", models.ShiftFilled)
	if res.Error != nil {
		return 0, dbError("failed to update shifts", res.Error)
	}
	return res.RowsAffected, nil
}

// ============================================================================
// Constraints and configs
// ============================================================================

func (s *gormStore) ListSystemConstraints(ctx context.Context) ([]models.SystemConstraint, error) {
	var rows []models.SystemConstraint
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, dbError("failed to list system constraints", err)
	}
	return rows, nil
}

func (s *gormStore) GetConfig(ctx context.Context, id uint) (*models.OptimizationConfig, error) {
	var cfg models.OptimizationConfig
	if err := s.db.WithContext(ctx).First(&cfg, id).Error; err != nil {
		return nil, dbError(fmt.Sprintf("failed to get optimization config %d", id), err)
	}
	return &cfg, nil
}

func (s *gormStore) GetDefaultConfig(ctx context.Context) (*models.OptimizationConfig, error) {
	var cfg models.OptimizationConfig
	if err := s.db.WithContext(ctx).Where("is_default = ?", true).Order("id desc").First(&cfg).Error; err != nil {
		return nil, dbError("failed to get default optimization config", err)
	}
	return &cfg, nil
}

// ============================================================================
// Runs and solutions
// ============================================================================

func (s *gormStore) CreateRun(ctx context.Context, run *models.SchedulingRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return dbError("failed to create run", err)
	}
	return nil
}

func (s *gormStore) GetRun(ctx context.Context, id uuid.UUID) (*models.SchedulingRun, error) {
	var run models.SchedulingRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, dbError(fmt.Sprintf("failed to get run %s", id), err)
	}
	return &run, nil
}

func (s *gormStore) LockRun(ctx context.Context, id uuid.UUID) (*models.SchedulingRun, error) {
	var run models.SchedulingRun
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&run, "id = ?", id).Error
	if err != nil {
		return nil, dbError(fmt.Sprintf("failed to lock run %s", id), err)
	}
	return &run, nil
}

func (s *gormStore) TransitionRun(ctx context.Context, id uuid.UUID, from, to models.RunStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now()}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.SchedulingRun{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, dbError("failed to transition run", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) ListRunsBySchedule(ctx context.Context, scheduleID uint) ([]models.SchedulingRun, error) {
	var runs []models.SchedulingRun
	if err := s.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).Order("created_at desc").Find(&runs).Error; err != nil {
		return nil, dbError("failed to list runs", err)
	}
	return runs, nil
}

func (s *gormStore) ListRunIDsByStatus(ctx context.Context, status models.RunStatus) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.SchedulingRun{}).
		Where("status = ?", status).
		Order("created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, dbError("failed to list runs by status", err)
	}
	return ids, nil
}

func (s *gormStore) DeleteRun(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Where("run_id = ?", id).Delete(&models.SchedulingSolution{}).Error; err != nil {
		return dbError("failed to delete run solutions", err)
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SchedulingRun{})
	if res.Error != nil {
		return dbError("failed to delete run", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (s *gormStore) CreateSolutions(ctx context.Context, solutions []models.SchedulingSolution) error {
	if len(solutions) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(solutions, 200).Error; err != nil {
		return dbError("failed to create solutions", err)
	}
	return nil
}

func (s *gormStore) ListSolutions(ctx context.Context, runID uuid.UUID, selectedOnly bool) ([]models.SchedulingSolution, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if selectedOnly {
		q = q.Where("is_selected = ?", true)
	}
	var solutions []models.SchedulingSolution
	if err := q.Order("shift_id, employee_id").Find(&solutions).Error; err != nil {
		return nil, dbError("failed to list solutions", err)
	}
	return solutions, nil
}
