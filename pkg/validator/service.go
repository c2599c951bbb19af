package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/repository"
	"github.com/arnavshah/shift-optimizer/pkg/scheduler"
)

// Source is the read side the service needs
type Source interface {
	repository.EmployeeSource
	repository.ShiftSource
	repository.TimeOffSource
	repository.AssignmentSource
	repository.ConstraintSource
}

// Service loads a fresh Domain from the store for every call.
type Service struct {
	src    Source
	logger *zap.Logger
}

func NewService(src Source, logger *zap.Logger) *Service {
	return &Service{src: src, logger: logger.Named("validator")}
}

// ValidateAssignment checks one assignment. When existing is nil the committed
// assignments of the shift's schedule are used.
func (s *Service) ValidateAssignment(ctx context.Context, a Assignment, existing []Assignment) (*Result, error) {
	if existing == nil {
		shift, err := s.src.GetShift(ctx, a.ShiftID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			// reported as a violation below
		case err != nil:
			return nil, err
		default:
			if existing, err = s.committed(ctx, shift.ScheduleID); err != nil {
				return nil, err
			}
		}
	}

	d, err := s.loadDomain(ctx, append([]Assignment{a}, existing...))
	if err != nil {
		return nil, err
	}
	res := ValidateAssignment(d, a, existing)
	return &res, nil
}

// ValidateWeeklySchedule checks a proposed assignment set for a schedule. When
// proposed is nil the schedule's committed assignments are checked.
func (s *Service) ValidateWeeklySchedule(ctx context.Context, scheduleID uint, proposed []Assignment) (*Result, error) {
	if proposed == nil {
		var err error
		if proposed, err = s.committed(ctx, scheduleID); err != nil {
			return nil, err
		}
	}
	return s.ValidateProposal(ctx, scheduleID, proposed, nil)
}

// ValidateProposal checks proposed together with the committed assignments in
// retained that stay in place alongside it.
func (s *Service) ValidateProposal(ctx context.Context, scheduleID uint, proposed, retained []Assignment) (*Result, error) {
	if _, err := s.src.GetSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}

	d, err := s.loadDomain(ctx, append(append([]Assignment(nil), proposed...), retained...))
	if err != nil {
		return nil, err
	}
	res := ValidateProposal(d, proposed, retained)
	s.logger.Debug("proposal validated",
		zap.Uint("schedule_id", scheduleID),
		zap.Int("assignments", len(proposed)),
		zap.Int("retained", len(retained)),
		zap.Int("errors", len(res.Errors)),
		zap.Int("warnings", len(res.Warnings)))
	return &res, nil
}

func (s *Service) committed(ctx context.Context, scheduleID uint) ([]Assignment, error) {
	rows, err := s.src.ListAssignmentsBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	out := make([]Assignment, len(rows))
	for i, r := range rows {
		out[i] = Assignment{EmployeeID: r.EmployeeID, ShiftID: r.ShiftID, RoleID: r.RoleID}
	}
	return out, nil
}

// loadDomain reads the shifts, time off and constraints the assignments refer
// to. Employees holds the referenced employees plus the roster, every active
// employee with at least one role.
func (s *Service) loadDomain(ctx context.Context, assignments []Assignment) (*Domain, error) {
	d := &Domain{
		Employees: make(map[uint]*models.Employee),
		Shifts:    make(map[uint]*models.Shift),
		TimeOff:   make(map[uint][]models.TimeOffRequest),
	}

	employeeIDs := make(map[uint]struct{})
	var shiftIDs []uint
	seenShift := make(map[uint]struct{})
	for _, a := range assignments {
		employeeIDs[a.EmployeeID] = struct{}{}
		if _, ok := seenShift[a.ShiftID]; !ok {
			seenShift[a.ShiftID] = struct{}{}
			shiftIDs = append(shiftIDs, a.ShiftID)
		}
	}

	employees, err := s.src.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	for i := range employees {
		e := &employees[i]
		if e.IsActive && len(e.Roles) > 0 {
			d.Roster = append(d.Roster, e.ID)
			d.Employees[e.ID] = e
			continue
		}
		if _, ok := employeeIDs[e.ID]; ok {
			d.Employees[e.ID] = e
		}
	}

	shifts, err := s.src.ListShiftsByIDs(ctx, shiftIDs)
	if err != nil {
		return nil, err
	}
	var from, to time.Time
	for i := range shifts {
		sh := &shifts[i]
		d.Shifts[sh.ID] = sh
		day := scheduler.CalendarDate(sh.Date)
		if from.IsZero() || day.Before(from) {
			from = day
		}
		if to.IsZero() || day.After(to) {
			to = day
		}
	}

	if len(shifts) > 0 {
		requests, err := s.src.ListApprovedTimeOff(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to load time off: %w", err)
		}
		for _, r := range requests {
			if _, ok := employeeIDs[r.EmployeeID]; ok {
				d.TimeOff[r.EmployeeID] = append(d.TimeOff[r.EmployeeID], r)
			}
		}
	}

	rows, err := s.src.ListSystemConstraints(ctx)
	if err != nil {
		return nil, err
	}
	d.Constraints = models.NewConstraintSet(rows)
	return d, nil
}
