package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApplicationStatus describes the life-cycle state of an inspection application.
type ApplicationStatus string

const (
	ApplicationStatusPendiente         ApplicationStatus = "Pendiente"
	ApplicationStatusEnCurso           ApplicationStatus = "EnCurso"
	ApplicationStatusAInspeccionar     ApplicationStatus = "AInspeccionar"
	ApplicationStatusSegundaInspeccion ApplicationStatus = "SegundaInspeccion"
	ApplicationStatusEmitirCRT         ApplicationStatus = "EmitirCRT"
	ApplicationStatusCompletado        ApplicationStatus = "Completado"
	ApplicationStatusCancelado         ApplicationStatus = "Cancelado"
)

// IsTerminal reports whether no further transition may leave s.
func (s ApplicationStatus) IsTerminal() bool {
	return s == ApplicationStatusCompletado || s == ApplicationStatusCancelado
}

// Valid reports whether s is a known status.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationStatusPendiente, ApplicationStatusEnCurso, ApplicationStatusAInspeccionar,
		ApplicationStatusSegundaInspeccion, ApplicationStatusEmitirCRT,
		ApplicationStatusCompletado, ApplicationStatusCancelado:
		return true
	}
	return false
}

// Application is one vehicle's technical-inspection case.
type Application struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	WorkshopID   string            `gorm:"size:64;not null;index" json:"workshop_id"`
	LicensePlate string            `gorm:"size:16;not null;index" json:"license_plate"`
	OwnerRef     string            `gorm:"size:128" json:"owner_ref,omitempty"`
	Status       ApplicationStatus `gorm:"type:varchar(24);not null;index" json:"status"`
	Result       *Result           `gorm:"type:varchar(16)" json:"result"`
	Result2      *Result           `gorm:"column:result2;type:varchar(16)" json:"result2"`
	CancelReason string            `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// BeforeCreate is a GORM hook that populates the primary key and initial status.
func (a *Application) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = ApplicationStatusPendiente
	}
	return nil
}

// EligibleForSecondInspection is true iff the first attempt ended Condicional
// and no second result has been recorded.
func (a *Application) EligibleForSecondInspection() bool {
	return a.Result != nil && *a.Result == ResultCondicional && a.Result2 == nil
}

// StateString renders (status, result, result2) for error messages and logs.
func (a *Application) StateString() string {
	return "status=" + string(a.Status) + " result=" + a.Result.String() + " result2=" + a.Result2.String()
}

// StatusView is the read projection consumed by the certificate collaborator.
type StatusView struct {
	ApplicationID uuid.UUID         `json:"application_id"`
	WorkshopID    string            `json:"workshop_id"`
	Status        ApplicationStatus `json:"status"`
	Result        *Result           `json:"result"`
	Result2       *Result           `json:"result2"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// View projects the application onto its status view.
func (a *Application) View() StatusView {
	return StatusView{
		ApplicationID: a.ID,
		WorkshopID:    a.WorkshopID,
		Status:        a.Status,
		Result:        a.Result,
		Result2:       a.Result2,
		UpdatedAt:     a.UpdatedAt,
	}
}

// ApplicationFilter narrows application searches within one workshop.
type ApplicationFilter struct {
	WorkshopID        string
	Status            ApplicationStatus
	LicensePlate      string
	EligibleForSecond bool
	Limit             int
}
