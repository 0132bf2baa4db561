package http

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/service"
)

func (s *Server) createApplication(c *gin.Context) {
	var payload struct {
		LicensePlate string `json:"license_plate" binding:"required"`
		OwnerRef     string `json:"owner_ref" binding:"max=128"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		bindError(c, err)
		return
	}

	app, err := s.svc.Workflow.Create(c.Request.Context(), service.CreateApplicationInput{
		WorkshopID:   workshopOf(c),
		LicensePlate: payload.LicensePlate,
		OwnerRef:     payload.OwnerRef,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, app)
}

func (s *Server) listApplications(c *gin.Context) {
	filter := models.ApplicationFilter{
		WorkshopID:   workshopOf(c),
		Status:       models.ApplicationStatus(c.Query("status")),
		LicensePlate: c.Query("plate"),
	}
	if raw := c.Query("eligible_second"); raw != "" {
		eligible, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "eligible_second must be a boolean")
			return
		}
		filter.EligibleForSecond = eligible
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	apps, err := s.svc.Workflow.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, apps)
}

func (s *Server) getApplication(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	app, err := s.svc.Workflow.Get(c.Request.Context(), workshopOf(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, app)
}

func (s *Server) applicationStatus(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	view, err := s.svc.Workflow.Status(c.Request.Context(), workshopOf(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, view)
}

func (s *Server) applicationHistory(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	entries, err := s.svc.Workflow.History(c.Request.Context(), workshopOf(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, entries)
}

// applicationTransition adapts the workflow transitions that need nothing
// beyond the application id.
func (s *Server) applicationTransition(c *gin.Context, apply func(*gin.Context, string, uuid.UUID) (*models.Application, error)) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	app, err := apply(c, workshopOf(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, app)
}

func (s *Server) startApplication(c *gin.Context) {
	s.applicationTransition(c, func(c *gin.Context, ws string, id uuid.UUID) (*models.Application, error) {
		return s.svc.Workflow.Start(c.Request.Context(), ws, id)
	})
}

func (s *Server) dispatchApplication(c *gin.Context) {
	s.applicationTransition(c, func(c *gin.Context, ws string, id uuid.UUID) (*models.Application, error) {
		return s.svc.Workflow.Dispatch(c.Request.Context(), ws, id)
	})
}

func (s *Server) markIssued(c *gin.Context) {
	s.applicationTransition(c, func(c *gin.Context, ws string, id uuid.UUID) (*models.Application, error) {
		return s.svc.Workflow.MarkIssued(c.Request.Context(), ws, id)
	})
}

func (s *Server) cancelApplication(c *gin.Context) {
	var payload struct {
		Reason string `json:"reason" binding:"max=512"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			bindError(c, err)
			return
		}
	}
	s.applicationTransition(c, func(c *gin.Context, ws string, id uuid.UUID) (*models.Application, error) {
		return s.svc.Workflow.Cancel(c.Request.Context(), ws, id, payload.Reason)
	})
}

func (s *Server) beginSecondInspection(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	inspection, err := s.svc.Workflow.BeginSecondInspection(c.Request.Context(), workshopOf(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, inspection)
}

func (s *Server) getInspection(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	isSecond, valid := attempt(c)
	if !valid {
		return
	}
	inspection, err := s.svc.Workflow.Inspection(c.Request.Context(), workshopOf(c), id, isSecond)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{
		"inspection": inspection,
		"result":     models.DeriveAttemptResult(inspection.Steps),
	})
}

func (s *Server) recordStep(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	isSecond, valid := attempt(c)
	if !valid {
		return
	}
	var payload struct {
		Status       string `json:"status" binding:"required"`
		Observations string `json:"observations" binding:"max=2000"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		bindError(c, err)
		return
	}

	inspection, err := s.svc.Workflow.RecordStep(c.Request.Context(), workshopOf(c), id, isSecond,
		c.Param("stepId"), models.StepStatus(payload.Status), payload.Observations)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, inspection)
}

func (s *Server) completeAttempt(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	isSecond, valid := attempt(c)
	if !valid {
		return
	}
	app, err := s.svc.Workflow.CompleteAttempt(c.Request.Context(), workshopOf(c), id, isSecond)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, app)
}

func (s *Server) assignSticker(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var payload struct {
		Mode   string `json:"mode" binding:"omitempty,oneof=auto manual"`
		Prefix string `json:"prefix"`
		Code   string `json:"code"`
		Suffix string `json:"suffix"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			bindError(c, err)
			return
		}
	}

	var in service.AssignStickerInput
	if payload.Mode == service.AssignModeManual {
		in.Manual = &service.StickerNumberParts{Prefix: payload.Prefix, Code: payload.Code, Suffix: payload.Suffix}
	}
	sticker, err := s.svc.Workflow.AssignSticker(c.Request.Context(), workshopOf(c), id, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, sticker)
}

func (s *Server) discardSticker(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	sticker, err := s.svc.Workflow.DiscardSticker(c.Request.Context(), workshopOf(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, sticker)
}
