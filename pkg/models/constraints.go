package models

// ConstraintType enumerates the system rules the engine understands
type ConstraintType string

const (
	MaxHoursPerWeek    ConstraintType = "MAX_HOURS_PER_WEEK"
	MinHoursPerWeek    ConstraintType = "MIN_HOURS_PER_WEEK"
	MaxShiftsPerWeek   ConstraintType = "MAX_SHIFTS_PER_WEEK"
	MinShiftsPerWeek   ConstraintType = "MIN_SHIFTS_PER_WEEK"
	MaxConsecutiveDays ConstraintType = "MAX_CONSECUTIVE_DAYS"
	MinRestHours       ConstraintType = "MIN_REST_HOURS"
)

// Valid reports whether t is one of the known constraint types
func (t ConstraintType) Valid() bool {
	switch t {
	case MaxHoursPerWeek, MinHoursPerWeek, MaxShiftsPerWeek, MinShiftsPerWeek, MaxConsecutiveDays, MinRestHours:
		return true
	}
	return false
}

// SystemConstraint is one configured rule. Hard rules must hold; soft rules are penalized.
type SystemConstraint struct {
	ID     uint           `gorm:"primaryKey" json:"id"`
	Type   ConstraintType `gorm:"uniqueIndex;not null" json:"type"`
	Value  float64        `gorm:"not null" json:"value"`
	IsHard bool           `gorm:"not null" json:"is_hard"`
}

// ConstraintRule is the threshold and hardness of one constraint type
type ConstraintRule struct {
	Value  float64
	IsHard bool
}

// ConstraintSet is an immutable snapshot of the active system constraints.
// Build one per run or per validation call.
type ConstraintSet struct {
	rules map[ConstraintType]ConstraintRule
}

// NewConstraintSet snapshots rows with a known type. Later rows win on duplicates.
func NewConstraintSet(rows []SystemConstraint) ConstraintSet {
	rules := make(map[ConstraintType]ConstraintRule, len(rows))
	for _, r := range rows {
		if !r.Type.Valid() {
			continue
		}
		rules[r.Type] = ConstraintRule{Value: r.Value, IsHard: r.IsHard}
	}
	return ConstraintSet{rules: rules}
}

// Lookup returns the rule for t and whether it is configured
func (c ConstraintSet) Lookup(t ConstraintType) (ConstraintRule, bool) {
	r, ok := c.rules[t]
	return r, ok
}

// Hard returns the rule for t only when it is configured as hard
func (c ConstraintSet) Hard(t ConstraintType) (ConstraintRule, bool) {
	r, ok := c.rules[t]
	if !ok || !r.IsHard {
		return ConstraintRule{}, false
	}
	return r, true
}

// Len is the number of configured rules
func (c ConstraintSet) Len() int {
	return len(c.rules)
}
