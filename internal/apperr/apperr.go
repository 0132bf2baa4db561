// Package apperr defines the typed failures returned by the inspection core.
// Every error names the entity it concerns and the state observed when the
// operation was refused, so callers can render a precise message.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindInvalidFormat       Kind = "INVALID_FORMAT"
	KindInvalidStep         Kind = "INVALID_STEP"
	KindAlreadyFinalized    Kind = "ALREADY_FINALIZED"
	KindNoStickersAvailable Kind = "NO_STICKERS_AVAILABLE"
	KindIllegalTransition   Kind = "ILLEGAL_TRANSITION"
)

// Error is a typed failure. State holds the observed state of the entity
// (for example "status=EnUso" or "status=SegundaInspeccion result2=Apto").
type Error struct {
	Kind    Kind   `json:"code"`
	Entity  string `json:"entity"`
	ID      string `json:"id,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s[%s %s]: %s", e.Kind, e.Entity, e.ID, e.Message)
	if e.State != "" {
		msg += " (" + e.State + ")"
	}
	return msg
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: KindConflict}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Entity == "" || t.Entity == e.Entity)
}

func newError(kind Kind, entity, id, state, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Entity:  entity,
		ID:      id,
		State:   state,
		Message: fmt.Sprintf(format, args...),
	}
}

func NotFound(entity, id, format string, args ...any) *Error {
	return newError(KindNotFound, entity, id, "", format, args...)
}

func Conflict(entity, id, state, format string, args ...any) *Error {
	return newError(KindConflict, entity, id, state, format, args...)
}

func InvalidFormat(entity, id, format string, args ...any) *Error {
	return newError(KindInvalidFormat, entity, id, "", format, args...)
}

func InvalidStep(inspectionID, stepID string) *Error {
	return newError(KindInvalidStep, "inspection", inspectionID, "", "step %q is not configured for this workshop", stepID)
}

func AlreadyFinalized(entity, id, state, format string, args ...any) *Error {
	return newError(KindAlreadyFinalized, entity, id, state, format, args...)
}

func NoStickersAvailable(workshopID string, tried int) *Error {
	return newError(KindNoStickersAvailable, "workshop", workshopID, fmt.Sprintf("candidates_tried=%d", tried), "no stickers available")
}

func IllegalTransition(entity, id, state, format string, args ...any) *Error {
	return newError(KindIllegalTransition, entity, id, state, format, args...)
}

// As returns the typed error in err's chain, looking through pkg/errors wrappers.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err is not typed.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
