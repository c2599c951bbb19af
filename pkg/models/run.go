package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	// RunCancelled is only reachable from PENDING.
	RunCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

type SolverStatus string

const (
	SolverOptimal         SolverStatus = "OPTIMAL"
	SolverFeasible        SolverStatus = "FEASIBLE"
	SolverInfeasible      SolverStatus = "INFEASIBLE"
	SolverNoSolutionFound SolverStatus = "NO_SOLUTION_FOUND"
	SolverError           SolverStatus = "ERROR"
)

// HasSolution reports whether the status carries a usable assignment set
func (s SolverStatus) HasSolution() bool {
	return s == SolverOptimal || s == SolverFeasible
}

// SchedulingRun is one optimization request and its outcome.
// Only the orchestrator mutates it.
type SchedulingRun struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"run_id"`
	ScheduleID         uint           `gorm:"index;not null" json:"schedule_id"`
	ConfigID           *uint          `json:"config_id,omitempty"`
	Status             RunStatus      `gorm:"index;not null;default:PENDING" json:"status"`
	SolverStatus       *SolverStatus  `json:"solver_status,omitempty"`
	ApplyAssignments   bool           `gorm:"not null" json:"apply_assignments"`
	ReplaceExisting    bool           `gorm:"not null" json:"replace_existing"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	RuntimeSeconds     *float64       `json:"runtime_seconds,omitempty"`
	ObjectiveValue     *float64       `json:"objective_value,omitempty"`
	MIPGap             *float64       `gorm:"column:mip_gap" json:"mip_gap,omitempty"`
	TotalAssignments   int            `gorm:"not null" json:"total_assignments"`
	CoveragePercentage *float64       `json:"coverage_percentage,omitempty"`
	FairnessScore      *float64       `json:"fairness_score,omitempty"`
	Warnings           datatypes.JSON `json:"warnings,omitempty"`
	ErrorMessage       *string        `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (r *SchedulingRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// SchedulingSolution is one (shift, employee, role) choice of a run
type SchedulingSolution struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"solution_id"`
	RunID      uuid.UUID `gorm:"type:uuid;index;not null" json:"run_id"`
	ShiftID    uint      `gorm:"index;not null" json:"shift_id"`
	EmployeeID uint      `gorm:"not null" json:"employee_id"`
	RoleID     uint      `gorm:"not null" json:"role_id"`
	Score      float64   `gorm:"not null" json:"score"`
	IsSelected bool      `gorm:"not null" json:"is_selected"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *SchedulingSolution) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
