package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Result is the outcome of one checklist step or of a whole attempt.
type Result string

const (
	ResultApto        Result = "Apto"
	ResultCondicional Result = "Condicional"
	ResultRechazado   Result = "Rechazado"
)

// ResultPtr returns a pointer to r.
func ResultPtr(r Result) *Result { return &r }

// String renders nil as "unset".
func (r *Result) String() string {
	if r == nil {
		return "unset"
	}
	return string(*r)
}

// StepStatus is a step outcome; StepUnset means not yet inspected.
type StepStatus string

const (
	StepUnset       StepStatus = "Unset"
	StepApto        StepStatus = StepStatus(ResultApto)
	StepCondicional StepStatus = StepStatus(ResultCondicional)
	StepRechazado   StepStatus = StepStatus(ResultRechazado)
)

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepUnset, StepApto, StepCondicional, StepRechazado:
		return true
	}
	return false
}

// AttemptResult is the derived result of an attempt.
type AttemptResult string

const (
	AttemptApto        AttemptResult = "Apto"
	AttemptCondicional AttemptResult = "Condicional"
	AttemptRechazado   AttemptResult = "Rechazado"
	AttemptIncomplete  AttemptResult = "Incomplete"
)

// Result converts a complete attempt result into a Result. ok is false for Incomplete.
func (a AttemptResult) Result() (Result, bool) {
	if a == AttemptIncomplete || a == "" {
		return "", false
	}
	return Result(a), true
}

// StepDefinition is one configured checklist step of a workshop.
type StepDefinition struct {
	StepID string `json:"step_id" mapstructure:"step_id"`
	Order  int    `json:"order" mapstructure:"order"`
}

// Inspection is one physical inspection attempt of an application.
type Inspection struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ApplicationID uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:ux_inspection_attempt,priority:1" json:"application_id"`
	WorkshopID    string       `gorm:"size:64;not null" json:"workshop_id"`
	IsSecond      bool         `gorm:"not null;uniqueIndex:ux_inspection_attempt,priority:2" json:"is_second"`
	Steps         []StepResult `gorm:"foreignKey:InspectionID" json:"steps"`
	FinalizedAt   *time.Time   `json:"finalized_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// BeforeCreate is a GORM hook that populates the primary key.
func (i *Inspection) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// StepResult is the recorded outcome of one step within an attempt.
type StepResult struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"-"`
	InspectionID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_step_per_inspection,priority:1" json:"-"`
	StepID       string     `gorm:"size:64;not null;uniqueIndex:ux_step_per_inspection,priority:2" json:"step_id"`
	Position     int        `gorm:"not null" json:"order"`
	Status       StepStatus `gorm:"type:varchar(16);not null" json:"status"`
	Observations string     `gorm:"type:text" json:"observations,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BeforeCreate is a GORM hook that populates the primary key.
func (s *StepResult) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// DeriveAttemptResult returns Incomplete while any step is unset, otherwise
// the worst step outcome under Rechazado > Condicional > Apto. An attempt
// without steps is Incomplete.
func DeriveAttemptResult(steps []StepResult) AttemptResult {
	if len(steps) == 0 {
		return AttemptIncomplete
	}
	worst := AttemptApto
	for _, s := range steps {
		switch s.Status {
		case StepRechazado:
			worst = AttemptRechazado
		case StepCondicional:
			if worst != AttemptRechazado {
				worst = AttemptCondicional
			}
		case StepApto:
		default:
			return AttemptIncomplete
		}
	}
	return worst
}
