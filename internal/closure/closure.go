// Package closure закрывает тикет: фиксирует закрытие в базе, пишет
// синтетическое сообщение в лог, рендерит транскрипт, убирает тикет из
// реестра, разносит транскрипт по получателям и откладывает удаление канала.
// Результат закрытия определяется только durable-переходом (запись closed_at
// и закрывающее сообщение); ошибки рассылки его не отменяют.
package closure

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/kafka"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/platform"
	"github.com/psds-microservice/ticket-desk/internal/registry"
	"github.com/psds-microservice/ticket-desk/internal/schedule"
	"github.com/psds-microservice/ticket-desk/internal/transcript"
)

const noReason = "no reason provided"

// Store — подмножество service.TicketServicer, нужное закрытию.
type Store interface {
	Close(ctx context.Context, id uint64, at time.Time) error
	AppendMessage(ctx context.Context, m *model.TicketMessage) error
	MessagesByTicket(ctx context.Context, ticketID uint64) ([]model.TicketMessage, error)
}

// Categories — чтение категорий для заголовка транскрипта.
type Categories interface {
	GetByID(ctx context.Context, id uint64) (*model.TicketCategory, error)
}

// Deps — зависимости воркфлоу закрытия.
type Deps struct {
	Chat       platform.Chat
	Store      Store
	Categories Categories
	Registry   *registry.Registry
	Producer   kafka.TicketEventProducer

	BotUserID        string
	ArchiveChannelID string
	FormTimeout      time.Duration
	GraceDelay       time.Duration

	// Now подменяется в тестах; nil — time.Now.
	Now func() time.Time
}

type Service struct {
	Deps
}

func New(deps Deps) *Service {
	if deps.FormTimeout <= 0 {
		deps.FormTimeout = 60 * time.Second
	}
	if deps.GraceDelay <= 0 {
		deps.GraceDelay = 5 * time.Second
	}
	return &Service{Deps: deps}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Request — запрос на закрытие тикета.
type Request struct {
	ChannelID         string
	InteractionID     string
	CloserID          string
	CloserDisplayName string
	// Reason — готовая причина; при PromptReason запрашивается формой.
	Reason       string
	PromptReason bool
}

// Result — итог закрытия. Deletion — отложенное удаление канала; закрытие
// его не ждёт, но постановка наблюдаема (и отменяема) через Job.
type Result struct {
	Ticket   *model.Ticket
	Deletion *schedule.Job
}

// Close закрывает открытый тикет канала. Канал без открытого тикета (в том
// числе повторное закрытие) — errs.ErrChannelNotTicket. Отмена формы причины
// оставляет тикет открытым без side effects.
func (s *Service) Close(ctx context.Context, req Request) (*Result, error) {
	entry := s.Registry.Get(req.ChannelID)
	if entry == nil {
		return nil, errs.ErrChannelNotTicket
	}

	reason := strings.TrimSpace(req.Reason)
	if req.PromptReason {
		var err error
		reason, err = s.promptReason(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if !entry.BeginClose() {
		return nil, errs.ErrChannelNotTicket
	}
	t := entry.Ticket

	now := s.now()
	if err := s.Store.Close(ctx, t.ID, now); err != nil {
		if errors.Is(err, errs.ErrChannelNotTicket) {
			// База уже знает о закрытии — реестр отстал, чиним.
			s.Registry.Unregister(req.ChannelID)
			return nil, err
		}
		entry.AbortClose()
		return nil, err
	}
	closedAt := now
	t.ClosedAt = &closedAt

	if reason == "" {
		reason = noReason
	}
	closing := platform.Embed{
		Title: "Ticket closed",
		Fields: []platform.EmbedField{
			{Name: "Closed by", Value: closerName(req)},
			{Name: "Reason", Value: reason},
		},
	}
	if err := s.Store.AppendMessage(ctx, &model.TicketMessage{
		TicketID:    t.ID,
		AuthorID:    s.BotUserID,
		DisplayName: "Ticket Desk",
		Content:     transcript.EncodeEmbeds([]platform.Embed{closing}),
		SentAt:      now,
	}); err != nil {
		// Durable-переход не завершён; тикет уже не диспатчится.
		s.Registry.Unregister(req.ChannelID)
		log.Printf("closure: persist closing message for ticket %d: %v", t.ID, err)
		return nil, err
	}

	catName := s.categoryName(ctx, t.CategoryID)
	doc := s.renderTranscript(ctx, t, catName)

	s.Registry.Unregister(req.ChannelID)

	summary := s.summaryEmbed(t, catName, closerName(req), reason, doc)
	s.fanOut(ctx, t, req, summary, doc)

	if s.Producer != nil {
		s.Producer.ProduceTicketEvent(ctx, "ticket.closed", map[string]interface{}{
			"ticket_id":   t.ID,
			"channel_id":  t.ChannelID,
			"category_id": t.CategoryID,
			"user_id":     t.UserID,
			"reason":      reason,
		})
	}

	// Удаление канала отложено, чтобы автор успел увидеть подтверждение.
	channelID := t.ChannelID
	job := schedule.After(s.GraceDelay, func() error {
		return s.Chat.DeleteChannel(context.Background(), channelID)
	})
	go func() {
		if err := <-job.Err(); err != nil && !errors.Is(err, schedule.ErrCancelled) {
			log.Printf("closure: delete channel %s: %v", channelID, err)
		}
	}()

	return &Result{Ticket: t, Deletion: job}, nil
}

func closerName(req Request) string {
	if req.CloserDisplayName != "" {
		return req.CloserDisplayName
	}
	return req.CloserID
}

// promptReason запрашивает причину закрытия формой с теми же таймаутом и
// семантикой отмены, что и intake.
func (s *Service) promptReason(ctx context.Context, req Request) (string, error) {
	prompt := platform.Prompt{
		ID:            uuid.NewString(),
		InteractionID: req.InteractionID,
		UserID:        req.CloserID,
		Title:         "Close ticket",
		Inputs: []platform.PromptInput{{
			Key:         "reason",
			Label:       "Reason",
			Placeholder: "Why is this ticket being closed?",
			Required:    false,
			Short:       false,
			MaxLength:   500,
		}},
	}
	if err := s.Chat.ShowPrompt(ctx, prompt); err != nil {
		return "", fmt.Errorf("closure: show prompt: %w", err)
	}
	sub, err := s.Chat.AwaitSubmission(ctx, prompt.ID, req.CloserID, s.FormTimeout)
	if err != nil {
		return "", err
	}
	for _, a := range sub.Answers {
		if a.Key == "reason" {
			return strings.TrimSpace(a.Value), nil
		}
	}
	return "", nil
}

func (s *Service) categoryName(ctx context.Context, id uint64) string {
	cat, err := s.Categories.GetByID(ctx, id)
	if err != nil {
		log.Printf("closure: load category %d: %v", id, err)
		return fmt.Sprintf("category %d", id)
	}
	return cat.Name
}

// renderTranscript — шаг 3 закрытия. Ошибка генерации логируется и не
// останавливает закрытие: рассылка пойдёт без вложения.
func (s *Service) renderTranscript(ctx context.Context, t *model.Ticket, catName string) *transcript.Document {
	msgs, err := s.Store.MessagesByTicket(ctx, t.ID)
	if err != nil {
		log.Printf("closure: load messages for ticket %d: %v", t.ID, err)
		return nil
	}
	doc, err := transcript.Render(t, catName, msgs, transcript.Options{})
	if err != nil {
		log.Printf("closure: render transcript for ticket %d: %v", t.ID, err)
		return nil
	}
	return doc
}

func (s *Service) summaryEmbed(t *model.Ticket, catName, closer, reason string, doc *transcript.Document) platform.Embed {
	e := platform.Embed{
		Title: fmt.Sprintf("Ticket #%d closed", t.ID),
		Fields: []platform.EmbedField{
			{Name: "Category", Value: catName},
			{Name: "Requester", Value: fmt.Sprintf("%s (%s)", t.UserDisplayName, t.UserID)},
			{Name: "Closed by", Value: closer},
			{Name: "Reason", Value: reason},
			{Name: "Opened", Value: t.OpenedAt.UTC().Format(time.RFC3339)},
			{Name: "Closed", Value: t.ClosedAt.UTC().Format(time.RFC3339)},
		},
	}
	if doc != nil {
		e.Fields = append(e.Fields, platform.EmbedField{Name: "Messages", Value: fmt.Sprintf("%d", doc.MessageCount)})
	}
	return e
}

// fanOut — best-effort рассылка: каждый получатель изолирован, ошибки
// логируются и не влияют ни друг на друга, ни на итог закрытия.
func (s *Service) fanOut(ctx context.Context, t *model.Ticket, req Request, summary platform.Embed, doc *transcript.Document) {
	if s.ArchiveChannelID != "" {
		msg := platform.Message{Embeds: []platform.Embed{summary}}
		if doc != nil {
			msg.Attachments = []platform.Attachment{{Name: doc.FileName, ContentType: "text/html", Data: doc.HTML}}
		}
		if err := s.Chat.SendMessage(ctx, s.ArchiveChannelID, msg); err != nil {
			log.Printf("closure: archive transcript for ticket %d: %v", t.ID, err)
		}
		s.archiveStaffThread(ctx, t)
	}

	// Автору закрытие не дублируется, если он закрыл тикет сам.
	if req.CloserID != t.UserID {
		msg := platform.Message{Embeds: []platform.Embed{summary}}
		if doc != nil {
			msg.Attachments = []platform.Attachment{{Name: doc.FileName, ContentType: "text/html", Data: doc.HTML}}
		}
		if err := s.Chat.DirectMessage(ctx, t.UserID, msg); err != nil {
			log.Printf("closure: DM transcript for ticket %d to %s: %v", t.ID, t.UserID, err)
		}
	}
}

// archiveStaffThread постит отдельный staff-транскрипт, если тред есть и в
// нём что-то кроме стартового уведомления.
func (s *Service) archiveStaffThread(ctx context.Context, t *model.Ticket) {
	if t.StaffThreadID == nil {
		return
	}
	inbound, err := s.Chat.ChannelMessages(ctx, *t.StaffThreadID)
	if err != nil {
		log.Printf("closure: read staff thread %s for ticket %d: %v", *t.StaffThreadID, t.ID, err)
		return
	}
	if len(inbound) <= 1 {
		return
	}
	msgs := make([]model.TicketMessage, 0, len(inbound))
	for _, m := range inbound {
		msgs = append(msgs, model.TicketMessage{
			TicketID:    t.ID,
			AuthorID:    m.AuthorID,
			DisplayName: m.AuthorDisplayName,
			Avatar:      m.AuthorAvatar,
			Content:     m.Content,
			SentAt:      m.SentAt,
			EditedAt:    m.EditedAt,
		})
	}
	doc, err := transcript.Render(t, "staff thread", msgs, transcript.Options{Staff: true})
	if err != nil {
		log.Printf("closure: render staff transcript for ticket %d: %v", t.ID, err)
		return
	}
	msg := platform.Message{
		Content:     fmt.Sprintf("Staff thread transcript for ticket #%d", t.ID),
		Attachments: []platform.Attachment{{Name: doc.FileName, ContentType: "text/html", Data: doc.HTML}},
	}
	if err := s.Chat.SendMessage(ctx, s.ArchiveChannelID, msg); err != nil {
		log.Printf("closure: archive staff transcript for ticket %d: %v", t.ID, err)
	}
}
