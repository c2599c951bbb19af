package models

import "time"

// Role is a capability tag an employee can hold and a shift can require
type Role struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Employee represents a person who can be assigned to shifts
type Employee struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"not null" json:"name"`
	Email      string    `json:"email,omitempty"`
	IsActive   bool      `gorm:"not null" json:"is_active"`
	HourlyRate float64   `json:"hourly_rate"`
	Roles      []Role    `gorm:"many2many:employee_roles" json:"roles,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoleIDs returns the ids of the roles the employee holds
func (e *Employee) RoleIDs() []uint {
	ids := make([]uint, 0, len(e.Roles))
	for _, r := range e.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}

// ShiftTemplate describes a recurring shift and its head-count demand per role
type ShiftTemplate struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	StartTime string         `gorm:"not null" json:"start_time"` // "15:04"
	EndTime   string         `gorm:"not null" json:"end_time"`
	Location  string         `json:"location,omitempty"`
	Roles     []TemplateRole `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE" json:"roles,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TemplateRole is the required head-count of one role on a template
type TemplateRole struct {
	ID            uint `gorm:"primaryKey" json:"id"`
	TemplateID    uint `gorm:"uniqueIndex:idx_template_role;not null" json:"template_id"`
	RoleID        uint `gorm:"uniqueIndex:idx_template_role;not null" json:"role_id"`
	RequiredCount int  `gorm:"not null" json:"required_count"`
}

type ScheduleStatus string

const (
	ScheduleDraft     ScheduleStatus = "DRAFT"
	SchedulePublished ScheduleStatus = "PUBLISHED"
)

// WeeklySchedule groups the shifts of one week
type WeeklySchedule struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	WeekStart time.Time      `gorm:"not null" json:"week_start"`
	Status    ScheduleStatus `gorm:"not null;default:DRAFT" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ShiftStatus string

const (
	ShiftOpen      ShiftStatus = "OPEN"
	ShiftFilled    ShiftStatus = "FILLED"
	ShiftCancelled ShiftStatus = "CANCELLED"
)

// Shift is a concrete, time-boxed slot on a schedule. StartAt and EndAt are
// absolute timestamps; an overnight shift ends on the day after Date.
type Shift struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	ScheduleID uint        `gorm:"index;not null" json:"schedule_id"`
	TemplateID *uint       `gorm:"index" json:"template_id,omitempty"`
	Date       time.Time   `gorm:"not null" json:"date"`
	StartAt    time.Time   `gorm:"not null" json:"start_at"`
	EndAt      time.Time   `gorm:"not null" json:"end_at"`
	Location   string      `json:"location,omitempty"`
	Status     ShiftStatus `gorm:"not null;default:OPEN" json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type TimeOffStatus string

const (
	TimeOffPending  TimeOffStatus = "PENDING"
	TimeOffApproved TimeOffStatus = "APPROVED"
	TimeOffRejected TimeOffStatus = "REJECTED"
)

// TimeOffRequest covers the calendar dates StartDate..EndDate inclusive
type TimeOffRequest struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	EmployeeID uint          `gorm:"index;not null" json:"employee_id"`
	StartDate  time.Time     `gorm:"not null" json:"start_date"`
	EndDate    time.Time     `gorm:"not null" json:"end_date"`
	Status     TimeOffStatus `gorm:"not null;default:PENDING" json:"status"`
	Reason     string        `json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// EmployeePreference is a standing shift preference. Any of template, day of
// week or time range may be unset; Weight is in [0,1].
type EmployeePreference struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EmployeeID uint      `gorm:"index;not null" json:"employee_id"`
	TemplateID *uint     `json:"template_id,omitempty"`
	DayOfWeek  *int      `json:"day_of_week,omitempty"` // 0 = Sunday
	StartTime  *string   `json:"start_time,omitempty"`  // "15:04"
	EndTime    *string   `json:"end_time,omitempty"`
	Weight     float64   `gorm:"not null" json:"weight"`
	CreatedAt  time.Time `json:"created_at"`
}

type AssignmentStatus string

const (
	AssignmentConfirmed AssignmentStatus = "CONFIRMED"
)

// ShiftAssignment is a committed (employee, shift, role) triple
type ShiftAssignment struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	ShiftID    uint             `gorm:"uniqueIndex:idx_shift_employee;not null" json:"shift_id"`
	EmployeeID uint             `gorm:"uniqueIndex:idx_shift_employee;index;not null" json:"employee_id"`
	RoleID     uint             `gorm:"not null" json:"role_id"`
	Status     AssignmentStatus `gorm:"not null;default:CONFIRMED" json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}

// OptimizationConfig holds objective weights and solver budgets
type OptimizationConfig struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"not null" json:"name"`
	WeightFairness    float64   `gorm:"not null" json:"weight_fairness"`
	WeightPreferences float64   `gorm:"not null" json:"weight_preferences"`
	WeightCost        float64   `gorm:"not null" json:"weight_cost"`
	WeightCoverage    float64   `gorm:"not null" json:"weight_coverage"`
	MaxRuntimeSeconds int       `gorm:"not null" json:"max_runtime_seconds"`
	MIPGap            float64   `gorm:"column:mip_gap;not null" json:"mip_gap"`
	IsDefault         bool      `gorm:"not null" json:"is_default"`
	CreatedAt         time.Time `json:"created_at"`
}
