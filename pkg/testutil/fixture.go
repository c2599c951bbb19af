// Package testutil seeds a throwaway sqlite database with scheduling data for tests.
package testutil

import (
	"path/filepath"
	"sort"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arnavshah/shift-optimizer/pkg/database"
	"github.com/arnavshah/shift-optimizer/pkg/models"
	"github.com/arnavshah/shift-optimizer/pkg/repository"
)

// Monday is the first day of every fixture schedule.
var Monday = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

// NewDB opens a migrated sqlite database in the test's temp dir.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Fixture is one schedule plus helpers to populate it.
type Fixture struct {
	t        *testing.T
	DB       *gorm.DB
	Store    repository.Store
	Schedule models.WeeklySchedule
}

func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	db := NewDB(t)
	f := &Fixture{t: t, DB: db, Store: repository.NewGormStore(db)}
	f.Schedule = models.WeeklySchedule{WeekStart: Monday, Status: models.ScheduleDraft}
	f.create(&f.Schedule)
	return f
}

func (f *Fixture) create(v any) {
	f.t.Helper()
	if err := f.DB.Create(v).Error; err != nil {
		f.t.Fatalf("failed to seed %T: %v", v, err)
	}
}

func (f *Fixture) Role(name string) models.Role {
	r := models.Role{Name: name}
	f.create(&r)
	return r
}

// Employee creates an active employee holding the given roles.
func (f *Fixture) Employee(name string, roles ...models.Role) models.Employee {
	e := models.Employee{Name: name, IsActive: true, Roles: roles}
	f.create(&e)
	return e
}

// Deactivate marks an employee inactive.
func (f *Fixture) Deactivate(e models.Employee) {
	f.t.Helper()
	if err := f.DB.Model(&models.Employee{}).Where("id = ?", e.ID).Update("is_active", false).Error; err != nil {
		f.t.Fatalf("failed to deactivate employee: %v", err)
	}
}

// Template creates a shift template requiring count heads per role id.
func (f *Fixture) Template(name string, demand map[uint]int) models.ShiftTemplate {
	tmpl := models.ShiftTemplate{Name: name, StartTime: "09:00", EndTime: "17:00"}
	f.create(&tmpl)

	roleIDs := make([]uint, 0, len(demand))
	for id := range demand {
		roleIDs = append(roleIDs, id)
	}
	sort.Slice(roleIDs, func(i, j int) bool { return roleIDs[i] < roleIDs[j] })
	for _, id := range roleIDs {
		tr := models.TemplateRole{TemplateID: tmpl.ID, RoleID: id, RequiredCount: demand[id]}
		f.create(&tr)
		tmpl.Roles = append(tmpl.Roles, tr)
	}
	return tmpl
}

// Shift creates a shift on Monday+day starting at startHour and lasting hours.
func (f *Fixture) Shift(tmpl models.ShiftTemplate, day int, startHour, hours float64) models.Shift {
	date := Monday.AddDate(0, 0, day)
	start := date.Add(time.Duration(startHour * float64(time.Hour)))
	end := start.Add(time.Duration(hours * float64(time.Hour)))
	templateID := tmpl.ID
	s := models.Shift{
		ScheduleID: f.Schedule.ID,
		TemplateID: &templateID,
		Date:       date,
		StartAt:    start,
		EndAt:      end,
		Status:     models.ShiftOpen,
	}
	f.create(&s)
	return s
}

// Cancel marks a shift cancelled.
func (f *Fixture) Cancel(s models.Shift) {
	f.t.Helper()
	if err := f.DB.Model(&models.Shift{}).Where("id = ?", s.ID).Update("status", models.ShiftCancelled).Error; err != nil {
		f.t.Fatalf("failed to cancel shift: %v", err)
	}
}

// TimeOff creates an approved request covering Monday+fromDay..Monday+toDay.
func (f *Fixture) TimeOff(e models.Employee, fromDay, toDay int) models.TimeOffRequest {
	r := models.TimeOffRequest{
		EmployeeID: e.ID,
		StartDate:  Monday.AddDate(0, 0, fromDay),
		EndDate:    Monday.AddDate(0, 0, toDay),
		Status:     models.TimeOffApproved,
	}
	f.create(&r)
	return r
}

func (f *Fixture) Preference(p models.EmployeePreference) models.EmployeePreference {
	f.create(&p)
	return p
}

func (f *Fixture) Constraint(ct models.ConstraintType, value float64, hard bool) models.SystemConstraint {
	c := models.SystemConstraint{Type: ct, Value: value, IsHard: hard}
	f.create(&c)
	return c
}

// Config creates an optimization config with balanced weights.
func (f *Fixture) Config(name string, isDefault bool) models.OptimizationConfig {
	c := models.OptimizationConfig{
		Name:              name,
		WeightFairness:    0.5,
		WeightPreferences: 0.5,
		WeightCoverage:    1,
		MaxRuntimeSeconds: 30,
		MIPGap:            0,
		IsDefault:         isDefault,
	}
	f.create(&c)
	return c
}

// Assign commits an assignment.
func (f *Fixture) Assign(s models.Shift, e models.Employee, r models.Role) models.ShiftAssignment {
	a := models.ShiftAssignment{ShiftID: s.ID, EmployeeID: e.ID, RoleID: r.ID, Status: models.AssignmentConfirmed}
	f.create(&a)
	return a
}
