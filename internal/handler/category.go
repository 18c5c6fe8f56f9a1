package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/service"
)

type CategoryHandler struct {
	svc service.CategoryServicer
}

func NewCategoryHandler(svc service.CategoryServicer) *CategoryHandler {
	return &CategoryHandler{svc: svc}
}

type createCategoryRequest struct {
	Name                string `json:"name" binding:"required"`
	Description         string `json:"description"`
	Emoji               string `json:"emoji"`
	CategoryChannelID   string `json:"category_channel_id" binding:"required"`
	RequireVerification bool   `json:"require_verification"`
}

func (h *CategoryHandler) Create(c *gin.Context) {
	var req createCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	cat := &model.TicketCategory{
		Name:                req.Name,
		Description:         req.Description,
		Emoji:               req.Emoji,
		CategoryChannelID:   req.CategoryChannelID,
		RequireVerification: req.RequireVerification,
	}
	if err := h.svc.Create(c.Request.Context(), cat); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *CategoryHandler) List(c *gin.Context) {
	cats, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats, "total": len(cats)})
}

func (h *CategoryHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	cat, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

type updateCategoryRequest struct {
	Name                *string `json:"name,omitempty"`
	Description         *string `json:"description,omitempty"`
	Emoji               *string `json:"emoji,omitempty"`
	CategoryChannelID   *string `json:"category_channel_id,omitempty"`
	RequireVerification *bool   `json:"require_verification,omitempty"`
}

func (h *CategoryHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req updateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	changes := make(map[string]interface{})
	if req.Name != nil {
		changes["name"] = *req.Name
	}
	if req.Description != nil {
		changes["description"] = *req.Description
	}
	if req.Emoji != nil {
		changes["emoji"] = *req.Emoji
	}
	if req.CategoryChannelID != nil {
		changes["category_channel_id"] = *req.CategoryChannelID
	}
	if req.RequireVerification != nil {
		changes["require_verification"] = *req.RequireVerification
	}
	if len(changes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no changes"})
		return
	}
	cat, err := h.svc.Update(c.Request.Context(), id, changes)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *CategoryHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type addFieldRequest struct {
	Label       string `json:"label" binding:"required"`
	Placeholder string `json:"placeholder"`
	Required    bool   `json:"required"`
	ShortField  bool   `json:"short_field"`
	MinLength   *int   `json:"min_length,omitempty"`
	MaxLength   *int   `json:"max_length,omitempty"`
}

func (h *CategoryHandler) AddField(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req addFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	f := &model.TicketCategoryField{
		CategoryID:  id,
		Label:       req.Label,
		Placeholder: req.Placeholder,
		Required:    req.Required,
		ShortField:  req.ShortField,
		MinLength:   req.MinLength,
		MaxLength:   req.MaxLength,
	}
	if err := h.svc.AddField(c.Request.Context(), f); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *CategoryHandler) DeleteField(c *gin.Context) {
	fieldID, err := strconv.ParseUint(c.Param("fieldID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid field id"})
		return
	}
	if err := h.svc.DeleteField(c.Request.Context(), fieldID); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
