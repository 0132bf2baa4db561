package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StickerStatus is the allocation state of a sticker (oblea).
type StickerStatus string

const (
	StickerDisponible   StickerStatus = "Disponible"
	StickerEnUso        StickerStatus = "EnUso"
	StickerNoDisponible StickerStatus = "NoDisponible"
)

// Valid reports whether s is a known sticker status.
func (s StickerStatus) Valid() bool {
	switch s {
	case StickerDisponible, StickerEnUso, StickerNoDisponible:
		return true
	}
	return false
}

// Sticker is one serially-numbered compliance sticker owned by a workshop.
// AssignedPlate is set exactly when the sticker is bound to a vehicle.
type Sticker struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	WorkshopID    string        `gorm:"size:64;not null;index:idx_stickers_pool,priority:1" json:"workshop_id"`
	Number        string        `gorm:"size:64;not null;uniqueIndex" json:"sticker_number"`
	Status        StickerStatus `gorm:"type:varchar(16);not null;index:idx_stickers_pool,priority:2" json:"status"`
	AssignedPlate *string       `gorm:"size:16" json:"assigned_license_plate"`
	IntakeSeq     int64         `gorm:"autoIncrement;not null;index:idx_stickers_pool,priority:3" json:"intake_seq"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// BeforeCreate is a GORM hook that populates the primary key and initial status.
func (s *Sticker) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StickerDisponible
	}
	return nil
}

// StateString renders the sticker state for error messages.
func (s *Sticker) StateString() string {
	plate := "none"
	if s.AssignedPlate != nil {
		plate = *s.AssignedPlate
	}
	return "status=" + string(s.Status) + " plate=" + plate
}
