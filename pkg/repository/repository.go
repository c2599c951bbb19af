// Package repository defines the collaborator contracts the optimization
// engine reads from and writes to, and a gorm-backed implementation.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arnavshah/shift-optimizer/pkg/models"
)

// EmployeeSource lists employees with their role ids.
type EmployeeSource interface {
	ListEmployees(ctx context.Context) ([]models.Employee, error)
}

// ShiftSource reads schedules, their shifts and template demand.
type ShiftSource interface {
	GetSchedule(ctx context.Context, id uint) (*models.WeeklySchedule, error)
	GetShift(ctx context.Context, id uint) (*models.Shift, error)
	// ListActiveShifts returns the non-cancelled shifts of a schedule ordered by start.
	ListActiveShifts(ctx context.Context, scheduleID uint) ([]models.Shift, error)
	ListShiftsByIDs(ctx context.Context, ids []uint) ([]models.Shift, error)
	ListTemplateRoles(ctx context.Context, templateIDs []uint) ([]models.TemplateRole, error)
}

// TimeOffSource lists approved time off.
type TimeOffSource interface {
	// ListApprovedTimeOff returns approved requests overlapping [from, to].
	ListApprovedTimeOff(ctx context.Context, from, to time.Time) ([]models.TimeOffRequest, error)
}

type PreferenceSource interface {
	ListPreferences(ctx context.Context, employeeIDs []uint) ([]models.EmployeePreference, error)
}

// AssignmentSource manages committed assignments.
type AssignmentSource interface {
	ListAssignmentsBySchedule(ctx context.Context, scheduleID uint) ([]models.ShiftAssignment, error)
	ListAssignmentsByShifts(ctx context.Context, shiftIDs []uint) ([]models.ShiftAssignment, error)
	CreateAssignments(ctx context.Context, assignments []models.ShiftAssignment) error
	DeleteAssignmentsByShifts(ctx context.Context, shiftIDs []uint) error
	DeleteAssignmentsBySchedule(ctx context.Context, scheduleID uint) error
	MarkShiftsFilled(ctx context.Context, shiftIDs []uint) (int64, error)
}

type ConstraintSource interface {
	ListSystemConstraints(ctx context.Context) ([]models.SystemConstraint, error)
}

type ConfigSource interface {
	GetConfig(ctx context.Context, id uint) (*models.OptimizationConfig, error)
	GetDefaultConfig(ctx context.Context) (*models.OptimizationConfig, error)
}

// RunStore persists scheduling runs and their solutions.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.SchedulingRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.SchedulingRun, error)
	// LockRun reads the run holding an exclusive row lock. Only meaningful inside Transaction.
	LockRun(ctx context.Context, id uuid.UUID) (*models.SchedulingRun, error)
	// TransitionRun moves a run from one status to another and reports whether the row matched.
	TransitionRun(ctx context.Context, id uuid.UUID, from, to models.RunStatus, fields map[string]any) (bool, error)
	ListRunsBySchedule(ctx context.Context, scheduleID uint) ([]models.SchedulingRun, error)
	ListRunIDsByStatus(ctx context.Context, status models.RunStatus) ([]uuid.UUID, error)
	DeleteRun(ctx context.Context, id uuid.UUID) error
	CreateSolutions(ctx context.Context, solutions []models.SchedulingSolution) error
	ListSolutions(ctx context.Context, runID uuid.UUID, selectedOnly bool) ([]models.SchedulingSolution, error)
}

// Store is every collaborator contract plus a transaction boundary.
type Store interface {
	EmployeeSource
	ShiftSource
	TimeOffSource
	PreferenceSource
	AssignmentSource
	ConstraintSource
	ConfigSource
	RunStore

	// Transaction runs fn against a Store bound to one database transaction.
	// Returning an error rolls everything back.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
