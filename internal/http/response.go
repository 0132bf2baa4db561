package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
)

// APIResponse is the envelope of every API response.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError describes a failed request. Details carries the entity id and
// observed state of typed failures, or the field errors of a bad payload.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// FieldError is one failed validation rule of a request payload.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

func errorResponse(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
	})
}

func badRequest(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

// bindError reports a payload that failed to decode or validate.
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
		errorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request payload", fields)
		return
	}
	badRequest(c, err.Error())
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidFormat, apperr.KindInvalidStep:
		return http.StatusBadRequest
	case apperr.KindConflict, apperr.KindAlreadyFinalized, apperr.KindNoStickersAvailable:
		return http.StatusConflict
	case apperr.KindIllegalTransition:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// fail renders err. Typed failures carry their entity and state; anything
// else is logged and reported as an internal error.
func (s *Server) fail(c *gin.Context, err error) {
	if e, typed := apperr.As(err); typed {
		errorResponse(c, statusFor(e.Kind), string(e.Kind), e.Message, gin.H{
			"entity": e.Entity,
			"id":     e.ID,
			"state":  e.State,
		})
		return
	}
	s.log.WithError(err).WithField("path", c.FullPath()).Errorf("request failed: %+v", err)
	errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
}
