package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticket-desk/internal/closure"
	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/intake"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/registry"
	"github.com/psds-microservice/ticket-desk/internal/service"
)

// EventHandler принимает вебхуки платформы от chat-gateway и диспатчит их
// в воркфлоу. Gateway переводит нажатия кнопок и системные события платформы
// в плоские JSON-события.
type EventHandler struct {
	intake    *intake.Service
	closure   *closure.Service
	registry  *registry.Registry
	tickets   service.TicketServicer
	botUserID string
}

func NewEventHandler(in *intake.Service, cl *closure.Service, reg *registry.Registry, tickets service.TicketServicer, botUserID string) *EventHandler {
	return &EventHandler{intake: in, closure: cl, registry: reg, tickets: tickets, botUserID: botUserID}
}

type eventUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type eventMessage struct {
	AuthorID          string     `json:"author_id"`
	AuthorDisplayName string     `json:"author_display_name"`
	AuthorAvatar      string     `json:"author_avatar"`
	Content           string     `json:"content"`
	SentAt            time.Time  `json:"sent_at"`
	EditedAt          *time.Time `json:"edited_at,omitempty"`
}

type eventEnvelope struct {
	Type          string `json:"type" binding:"required"`
	InteractionID string `json:"interaction_id"`
	ChannelID     string `json:"channel_id"`

	User       eventUser     `json:"user"`
	CategoryID uint64        `json:"category_id"`
	Message    *eventMessage `json:"message,omitempty"`

	// Закрытие: готовая причина либо запрос формы причины.
	Reason       string `json:"reason"`
	PromptReason bool   `json:"prompt_reason"`
}

func (h *EventHandler) Handle(c *gin.Context) {
	var ev eventEnvelope
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	switch ev.Type {
	case "ticket.open":
		h.ticketOpen(c, ev)
	case "ticket.close":
		h.ticketClose(c, ev)
	case "message.created":
		h.messageCreated(c, ev)
	case "message.updated":
		h.messageUpdated(c, ev)
	case "member.added":
		h.memberAdded(c, ev)
	case "member.removed":
		h.memberRemoved(c, ev)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
	}
}

func (h *EventHandler) ticketOpen(c *gin.Context, ev eventEnvelope) {
	if ev.User.ID == "" || ev.CategoryID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user.id and category_id are required"})
		return
	}
	t, err := h.intake.Open(c.Request.Context(), intake.OpenRequest{
		InteractionID: ev.InteractionID,
		UserID:        ev.User.ID,
		Username:      ev.User.Username,
		DisplayName:   ev.User.DisplayName,
		CategoryID:    ev.CategoryID,
	})
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *EventHandler) ticketClose(c *gin.Context, ev eventEnvelope) {
	if ev.ChannelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id is required"})
		return
	}
	res, err := h.closure.Close(c.Request.Context(), closure.Request{
		ChannelID:         ev.ChannelID,
		InteractionID:     ev.InteractionID,
		CloserID:          ev.User.ID,
		CloserDisplayName: ev.User.DisplayName,
		Reason:            ev.Reason,
		PromptReason:      ev.PromptReason,
	})
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, res.Ticket)
}

// messageCreated пишет сообщение в лог тикета. Сообщения вне каналов тикетов
// и сообщения самого бота игнорируются без ошибки.
func (h *EventHandler) messageCreated(c *gin.Context, ev eventEnvelope) {
	if ev.Message == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	entry := h.registry.Get(ev.ChannelID)
	if entry == nil || ev.Message.AuthorID == h.botUserID {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	msg := &model.TicketMessage{
		TicketID:    entry.Ticket.ID,
		AuthorID:    ev.Message.AuthorID,
		DisplayName: ev.Message.AuthorDisplayName,
		Avatar:      ev.Message.AuthorAvatar,
		Content:     ev.Message.Content,
		SentAt:      ev.Message.SentAt,
	}
	if err := h.tickets.AppendMessage(c.Request.Context(), msg); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *EventHandler) messageUpdated(c *gin.Context, ev eventEnvelope) {
	if ev.Message == nil || ev.Message.EditedAt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message with edited_at is required"})
		return
	}
	entry := h.registry.Get(ev.ChannelID)
	if entry == nil || ev.Message.AuthorID == h.botUserID {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	err := h.tickets.EditMessage(c.Request.Context(),
		entry.Ticket.ID, ev.Message.AuthorID, ev.Message.SentAt,
		ev.Message.Content, *ev.Message.EditedAt)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *EventHandler) memberAdded(c *gin.Context, ev eventEnvelope) {
	entry := h.registry.Get(ev.ChannelID)
	if entry == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	// interaction_id здесь — инициатор добавления (кто позвал участника).
	if err := h.tickets.AddMember(c.Request.Context(), entry.Ticket.ID, ev.User.ID, ev.InteractionID, time.Now()); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *EventHandler) memberRemoved(c *gin.Context, ev eventEnvelope) {
	entry := h.registry.Get(ev.ChannelID)
	if entry == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err := h.tickets.RemoveMember(c.Request.Context(), entry.Ticket.ID, ev.User.ID); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeWorkflowError переводит доменные ошибки в HTTP-статусы. Отмена и
// таймаут формы — не ошибки: событие обработано, тикет не создан/не закрыт.
func writeWorkflowError(c *gin.Context, err error) {
	switch {
	case errs.IsCancelled(err):
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	case errors.Is(err, errs.ErrCategoryNotFound),
		errors.Is(err, errs.ErrTicketNotFound),
		errors.Is(err, errs.ErrChannelNotTicket):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrVerificationFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "verification failed"})
	case errors.Is(err, errs.ErrProvisioningFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "channel provisioning failed"})
	case errors.Is(err, errs.ErrCategoryInUse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
