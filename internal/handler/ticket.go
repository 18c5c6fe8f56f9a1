package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticket-desk/internal/service"
	"github.com/psds-microservice/ticket-desk/internal/transcript"
)

type TicketHandler struct {
	svc  service.TicketServicer
	cats service.CategoryServicer
}

func NewTicketHandler(svc service.TicketServicer, cats service.CategoryServicer) *TicketHandler {
	return &TicketHandler{svc: svc, cats: cats}
}

func (h *TicketHandler) List(c *gin.Context) {
	filter := make(map[string]interface{})
	if v := c.Query("user_id"); v != "" {
		filter["user_id = ?"] = v
	}
	if v := c.Query("category_id"); v != "" {
		filter["category_id = ?"] = v
	}
	if v := c.Query("open"); v != "" {
		open := v == "true" || v == "1"
		filter["(closed_at IS NULL) = ?"] = open
	}

	limit := 0
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, total, err := h.svc.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tickets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
	})
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	t, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) Messages(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if _, err := h.svc.GetByID(c.Request.Context(), id); err != nil {
		writeWorkflowError(c, err)
		return
	}
	msgs, err := h.svc.MessagesByTicket(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": len(msgs)})
}

// Transcript отдаёт HTML-транскрипт тикета как скачиваемый файл.
// ?staff=1 — вариант для персонала.
func (h *TicketHandler) Transcript(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	t, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	catName := "unknown"
	if cat, err := h.cats.GetByID(c.Request.Context(), t.CategoryID); err == nil {
		catName = cat.Name
	}
	msgs, err := h.svc.MessagesByTicket(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	staff := c.Query("staff") == "1" || c.Query("staff") == "true"
	doc, err := transcript.Render(t, catName, msgs, transcript.Options{Staff: staff})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render transcript"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
	c.Data(http.StatusOK, "text/html; charset=utf-8", doc.HTML)
}
