package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ortsistemas48/svt-backend/internal/models"
)

const defaultAvailableLimit = 50

func (s *Server) availableStickers(c *gin.Context) {
	limit := defaultAvailableLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	stickers, err := s.svc.Registry.Available(c.Request.Context(), workshopOf(c), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, stickers)
}

func (s *Server) provisionStickers(c *gin.Context) {
	var payload struct {
		Numbers []string `json:"numbers" binding:"required,min=1,max=1000"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		bindError(c, err)
		return
	}
	stickers, err := s.svc.Registry.Provision(c.Request.Context(), workshopOf(c), payload.Numbers)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, stickers)
}

func (s *Server) setStickerStatus(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var payload struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		bindError(c, err)
		return
	}
	sticker, err := s.svc.Registry.SetStatus(c.Request.Context(), id, workshopOf(c), models.StickerStatus(payload.Status))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, sticker)
}
