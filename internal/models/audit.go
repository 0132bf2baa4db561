package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONB stores a free-form map in a postgres jsonb column.
type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(data, j)
}

const (
	ResourceApplication = "application"
	ResourceSticker     = "sticker"
)

// AuditEntry is one append-only record of a state change.
type AuditEntry struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ResourceType string    `gorm:"size:32;not null;index:idx_audit_resource,priority:1" json:"resource_type"`
	ResourceID   uuid.UUID `gorm:"type:uuid;not null;index:idx_audit_resource,priority:2" json:"resource_id"`
	WorkshopID   string    `gorm:"size:64;index" json:"workshop_id"`
	Action       string    `gorm:"size:64;not null" json:"action"`
	OldValues    JSONB     `gorm:"type:jsonb" json:"old_values,omitempty"`
	NewValues    JSONB     `gorm:"type:jsonb" json:"new_values,omitempty"`
	Actor        string    `gorm:"size:128" json:"actor,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate is a GORM hook that populates the primary key.
func (e *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
