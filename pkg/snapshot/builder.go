package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/arnavshah/shift-optimizer/pkg/apperrors"
	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/repository"
	"github.com/arnavshah/shift-optimizer/pkg/scheduler"
)

// Preference score component weights. A record matching on every field scores its full weight.
const (
	templateMatchWeight = 0.5
	dayMatchWeight      = 0.3
	timeMatchWeight     = 0.2
)

// Source is the read side the builder needs.
type Source interface {
	repository.EmployeeSource
	repository.ShiftSource
	repository.TimeOffSource
	repository.PreferenceSource
	repository.AssignmentSource
	repository.ConstraintSource
}

// Builder produces snapshots. It keeps no state between calls.
type Builder struct {
	src    Source
	logger *zap.Logger
}

func NewBuilder(src Source, logger *zap.Logger) *Builder {
	return &Builder{src: src, logger: logger.Named("snapshot")}
}

// Build reads the domain state of a schedule and returns its optimization problem.
// It fails with ErrNotFound for an unknown schedule and ErrInsufficientData when
// there is no assignable employee or no active shift.
func (b *Builder) Build(ctx context.Context, scheduleID uint) (*Snapshot, error) {
	if _, err := b.src.GetSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ScheduleID:    scheduleID,
		EmployeeIndex: make(map[uint]int),
		ShiftIndex:    make(map[uint]int),
	}

	if err := b.loadEmployees(ctx, snap); err != nil {
		return nil, err
	}
	if err := b.loadShifts(ctx, snap); err != nil {
		return nil, err
	}
	if len(snap.Employees) == 0 {
		return nil, fmt.Errorf("schedule %d has no employees with roles: %w", scheduleID, apperrors.ErrInsufficientData)
	}
	if len(snap.Shifts) == 0 {
		return nil, fmt.Errorf("schedule %d has no active shifts: %w", scheduleID, apperrors.ErrInsufficientData)
	}

	if err := b.loadExisting(ctx, snap); err != nil {
		return nil, err
	}
	if err := b.loadTimeOff(ctx, snap); err != nil {
		return nil, err
	}
	buildAvailability(snap)
	if err := b.loadPreferences(ctx, snap); err != nil {
		return nil, err
	}

	rows, err := b.src.ListSystemConstraints(ctx)
	if err != nil {
		return nil, err
	}
	snap.Constraints = models.NewConstraintSet(rows)

	buildDurations(snap)
	snap.Overlaps = overlapPairs(snap.Shifts)
	if rule, ok := snap.Constraints.Hard(models.MinRestHours); ok {
		snap.RestConflicts = restConflictPairs(snap.Shifts, rule.Value)
	}

	b.logger.Info("snapshot built",
		zap.Uint("schedule_id", scheduleID),
		zap.Int("employees", len(snap.Employees)),
		zap.Int("shifts", len(snap.Shifts)),
		zap.Int("overlaps", len(snap.Overlaps)),
		zap.Int("rest_conflicts", len(snap.RestConflicts)),
		zap.Int("existing_assignments", len(snap.Existing)),
		zap.Int("constraints", snap.Constraints.Len()))

	return snap, nil
}

func (b *Builder) loadEmployees(ctx context.Context, snap *Snapshot) error {
	employees, err := b.src.ListEmployees(ctx)
	if err != nil {
		return err
	}
	for i := range employees {
		e := &employees[i]
		if !e.IsActive || len(e.Roles) == 0 {
			continue
		}
		roleIDs := e.RoleIDs()
		sort.Slice(roleIDs, func(a, c int) bool { return roleIDs[a] < roleIDs[c] })
		roles := make(map[uint]struct{}, len(roleIDs))
		for _, id := range roleIDs {
			roles[id] = struct{}{}
		}
		snap.EmployeeIndex[e.ID] = len(snap.Employees)
		snap.Employees = append(snap.Employees, Employee{
			ID:         e.ID,
			Name:       e.Name,
			RoleIDs:    roleIDs,
			HourlyRate: e.HourlyRate,
			roles:      roles,
		})
	}
	return nil
}

func (b *Builder) loadShifts(ctx context.Context, snap *Snapshot) error {
	shifts, err := b.src.ListActiveShifts(ctx, snap.ScheduleID)
	if err != nil {
		return err
	}

	// One batch fetch for every referenced template.
	var templateIDs []uint
	seen := make(map[uint]struct{})
	for _, s := range shifts {
		if s.TemplateID == nil {
			continue
		}
		if _, ok := seen[*s.TemplateID]; !ok {
			seen[*s.TemplateID] = struct{}{}
			templateIDs = append(templateIDs, *s.TemplateID)
		}
	}
	templateRoles, err := b.src.ListTemplateRoles(ctx, templateIDs)
	if err != nil {
		return err
	}
	demand := make(map[uint][]RoleRequirement)
	for _, tr := range templateRoles {
		if tr.RequiredCount <= 0 {
			continue
		}
		demand[tr.TemplateID] = append(demand[tr.TemplateID], RoleRequirement{RoleID: tr.RoleID, RequiredCount: tr.RequiredCount})
	}
	for id := range demand {
		reqs := demand[id]
		sort.Slice(reqs, func(i, j int) bool { return reqs[i].RoleID < reqs[j].RoleID })
	}

	for _, s := range shifts {
		if s.Status == models.ShiftCancelled {
			continue
		}
		var reqs []RoleRequirement
		if s.TemplateID != nil {
			reqs = demand[*s.TemplateID]
		}
		snap.ShiftIndex[s.ID] = len(snap.Shifts)
		snap.Shifts = append(snap.Shifts, Shift{
			ID:           s.ID,
			TemplateID:   s.TemplateID,
			Date:         scheduler.CalendarDate(s.Date),
			Start:        s.StartAt.UTC(),
			End:          s.EndAt.UTC(),
			Location:     s.Location,
			Requirements: reqs,
		})
	}
	return nil
}

func (b *Builder) loadExisting(ctx context.Context, snap *Snapshot) error {
	assignments, err := b.src.ListAssignmentsBySchedule(ctx, snap.ScheduleID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		ei, okE := snap.EmployeeIndex[a.EmployeeID]
		si, okS := snap.ShiftIndex[a.ShiftID]
		if !okE || !okS {
			snap.StaleAssignments++
			continue
		}
		snap.Existing = append(snap.Existing, Existing{Employee: ei, Shift: si, RoleID: a.RoleID})
	}
	if snap.StaleAssignments > 0 {
		b.logger.Warn("ignoring committed assignments outside the optimization scope",
			zap.Uint("schedule_id", snap.ScheduleID),
			zap.Int("count", snap.StaleAssignments))
	}
	return nil
}

// loadTimeOff only asks for requests overlapping the schedule's own date span.
func (b *Builder) loadTimeOff(ctx context.Context, snap *Snapshot) error {
	minDate, maxDate := snap.Shifts[0].Date, snap.Shifts[0].Date
	for _, s := range snap.Shifts[1:] {
		if s.Date.Before(minDate) {
			minDate = s.Date
		}
		if s.Date.After(maxDate) {
			maxDate = s.Date
		}
	}

	requests, err := b.src.ListApprovedTimeOff(ctx, minDate, maxDate)
	if err != nil {
		return err
	}
	snap.TimeOff = make(map[uint][]DateRange)
	for _, r := range requests {
		if r.Status != models.TimeOffApproved {
			continue
		}
		snap.TimeOff[r.EmployeeID] = append(snap.TimeOff[r.EmployeeID], DateRange{
			From: scheduler.CalendarDate(r.StartDate),
			To:   scheduler.CalendarDate(r.EndDate),
		})
	}
	return nil
}

// OnTimeOff reports whether any of the ranges covers date
func OnTimeOff(ranges []DateRange, date time.Time) bool {
	for _, r := range ranges {
		if scheduler.DateInRange(date, r.From, r.To) {
			return true
		}
	}
	return false
}

func buildAvailability(snap *Snapshot) {
	snap.Availability = make([][]bool, len(snap.Employees))
	for ei, e := range snap.Employees {
		row := make([]bool, len(snap.Shifts))
		ranges := snap.TimeOff[e.ID]
		for si := range snap.Shifts {
			row[si] = !OnTimeOff(ranges, snap.Shifts[si].Date)
		}
		snap.Availability[ei] = row
	}
}

func (b *Builder) loadPreferences(ctx context.Context, snap *Snapshot) error {
	ids := make([]uint, len(snap.Employees))
	for i, e := range snap.Employees {
		ids[i] = e.ID
	}
	prefs, err := b.src.ListPreferences(ctx, ids)
	if err != nil {
		return err
	}
	byEmployee := make(map[uint][]models.EmployeePreference)
	for _, p := range prefs {
		byEmployee[p.EmployeeID] = append(byEmployee[p.EmployeeID], p)
	}

	snap.Preference = make([][]float64, len(snap.Employees))
	for ei, e := range snap.Employees {
		row := make([]float64, len(snap.Shifts))
		for si := range snap.Shifts {
			row[si] = PreferenceScore(byEmployee[e.ID], &snap.Shifts[si])
		}
		snap.Preference[ei] = row
	}
	return nil
}

// PreferenceScore is the best score any single record gives the shift, in [0,1].
func PreferenceScore(prefs []models.EmployeePreference, shift *Shift) float64 {
	best := 0.0
	for i := range prefs {
		p := &prefs[i]
		score := 0.0
		if p.TemplateID != nil && shift.TemplateID != nil && *p.TemplateID == *shift.TemplateID {
			score += templateMatchWeight
		}
		if p.DayOfWeek != nil && *p.DayOfWeek == int(shift.Date.Weekday()) {
			score += dayMatchWeight
		}
		if p.StartTime != nil && p.EndTime != nil && inTimeWindow(shift.Start, *p.StartTime, *p.EndTime) {
			score += timeMatchWeight
		}
		score *= p.Weight
		if score > best {
			best = score
		}
	}
	if best > 1 {
		return 1
	}
	return best
}

// inTimeWindow checks the clock time of t against [from, to). Windows may wrap midnight.
func inTimeWindow(t time.Time, from, to string) bool {
	f, err := time.Parse("15:04", from)
	if err != nil {
		return false
	}
	e, err := time.Parse("15:04", to)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	fm := f.Hour()*60 + f.Minute()
	em := e.Hour()*60 + e.Minute()
	if fm <= em {
		return minute >= fm && minute < em
	}
	return minute >= fm || minute < em
}

func buildDurations(snap *Snapshot) {
	snap.Durations = make([]float64, len(snap.Shifts))
	for i, s := range snap.Shifts {
		snap.Durations[i] = scheduler.DurationHours(s.Start, s.End)
	}
}

func overlapPairs(shifts []Shift) []Pair {
	var pairs []Pair
	for i := 0; i < len(shifts); i++ {
		for j := i + 1; j < len(shifts); j++ {
			if scheduler.Overlap(shifts[i].Start, shifts[i].End, shifts[j].Start, shifts[j].End) {
				pairs = append(pairs, Pair{A: i, B: j})
			}
		}
	}
	return pairs
}

func restConflictPairs(shifts []Shift, minRest float64) []Pair {
	var pairs []Pair
	for i := 0; i < len(shifts); i++ {
		for j := i + 1; j < len(shifts); j++ {
			gap := scheduler.RestGapHours(shifts[i].Start, shifts[i].End, shifts[j].Start, shifts[j].End)
			if gap < minRest {
				pairs = append(pairs, Pair{A: i, B: j})
			}
		}
	}
	return pairs
}

func sortDates(dates []time.Time) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
}
