// Package intake превращает выбор категории в открытый тикет: опционально
// собирает структурированную форму и токен верификации, затем провижинит
// канал, пишет тикет в базу и реестр и постит вступительное сообщение.
// До успешной отправки формы и верификации нет никаких side effects.
package intake

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/kafka"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/platform"
	"github.com/psds-microservice/ticket-desk/internal/provision"
	"github.com/psds-microservice/ticket-desk/internal/registry"
	"github.com/psds-microservice/ticket-desk/internal/transcript"
	"github.com/psds-microservice/ticket-desk/internal/verify"
)

// CloseButtonID — custom_id кнопки закрытия во вступительном сообщении.
const CloseButtonID = "ticket:close"

// BotDisplayName — имя, которым подписаны синтетические сообщения.
const BotDisplayName = "Ticket Desk"

const tokenInputKey = "verification_token"

// Границы длины токена верификации в форме.
const (
	tokenMinLength = 25
	tokenMaxLength = 40
)

// Categories — чтение категорий (подмножество service.CategoryServicer).
type Categories interface {
	GetByID(ctx context.Context, id uint64) (*model.TicketCategory, error)
}

// Store — запись тикетов (подмножество service.TicketServicer).
type Store interface {
	Create(ctx context.Context, t *model.Ticket) error
	SetStaffThread(ctx context.Context, id uint64, threadID string) error
	AppendMessage(ctx context.Context, m *model.TicketMessage) error
}

// Deps — зависимости воркфлоу.
type Deps struct {
	Chat        platform.Chat
	Verifier    verify.Verifier
	Categories  Categories
	Store       Store
	Registry    *registry.Registry
	Provisioner *provision.Provisioner
	Producer    kafka.TicketEventProducer

	BotUserID    string
	StaffRoleIDs []string
	FormTimeout  time.Duration

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
	return &Service{Deps: deps}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// OpenRequest — входящий запрос на открытие тикета.
type OpenRequest struct {
	InteractionID string
	UserID        string
	Username      string
	DisplayName   string
	CategoryID    uint64
}

// Open проводит intake от выбора категории до открытого тикета.
// Ошибки: errs.ErrCategoryNotFound, errs.ErrIntakeCancelled/ErrIntakeTimeout,
// errs.ErrVerificationFailed, errs.ErrProvisioningFailed,
// errs.ErrPersistenceFailed.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*model.Ticket, error) {
	cat, err := s.Categories.GetByID(ctx, req.CategoryID)
	if err != nil {
		return nil, err
	}

	// Быстрый путь: без верификации и без полей форма не показывается.
	var answers []platform.Answer
	var vres *verify.Result
	if cat.RequireVerification || len(cat.Fields) > 0 {
		answers, vres, err = s.collectForm(ctx, cat, req)
		if err != nil {
			return nil, err
		}
	}

	ch, err := s.Provisioner.Provision(ctx, cat, req.UserID, req.Username)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &model.Ticket{
		CategoryID:      cat.ID,
		ChannelID:       ch.ID,
		UserID:          req.UserID,
		UserUsername:    req.Username,
		UserDisplayName: req.DisplayName,
		OpenedAt:        now,
	}
	if err := s.Store.Create(ctx, t); err != nil {
		// Канал уже существует: компенсирующее удаление, чтобы не копить
		// сироты. Не удалось — остаётся ручная уборка, как и раньше.
		if derr := s.Chat.DeleteChannel(ctx, ch.ID); derr != nil {
			log.Printf("intake: compensate delete channel %s: %v", ch.ID, derr)
		}
		return nil, err
	}
	if _, err := s.Registry.Register(ch.ID, t); err != nil {
		log.Printf("intake: register ticket %d in channel %s: %v", t.ID, ch.ID, err)
		return nil, fmt.Errorf("%w: registry: %v", errs.ErrPersistenceFailed, err)
	}

	intro := s.introMessage(t, cat, answers, vres)
	if err := s.Chat.SendMessage(ctx, ch.ID, intro); err != nil {
		log.Printf("intake: intro message for ticket %d: %v", t.ID, err)
	}
	// Маркер открытия в логе: rich-only, рендер транскрипта отбросит его с края.
	if err := s.Store.AppendMessage(ctx, &model.TicketMessage{
		TicketID:    t.ID,
		AuthorID:    s.BotUserID,
		DisplayName: BotDisplayName,
		Content:     transcript.EncodeEmbeds(intro.Embeds),
		SentAt:      now,
	}); err != nil {
		log.Printf("intake: persist opening marker for ticket %d: %v", t.ID, err)
	}

	s.createStaffThread(ctx, t)

	if s.Producer != nil {
		s.Producer.ProduceTicketEvent(ctx, "ticket.opened", map[string]interface{}{
			"ticket_id":   t.ID,
			"channel_id":  t.ChannelID,
			"category_id": t.CategoryID,
			"user_id":     t.UserID,
		})
	}
	return t, nil
}

// collectForm показывает форму, ждёт коррелированную отправку и проверяет
// токен. Таймаут, отмена и отказ верификации возвращаются без side effects.
func (s *Service) collectForm(ctx context.Context, cat *model.TicketCategory, req OpenRequest) ([]platform.Answer, *verify.Result, error) {
	prompt := buildPrompt(cat, req)
	if err := s.Chat.ShowPrompt(ctx, prompt); err != nil {
		return nil, nil, fmt.Errorf("intake: show prompt: %w", err)
	}
	sub, err := s.Chat.AwaitSubmission(ctx, prompt.ID, req.UserID, s.FormTimeout)
	if err != nil {
		return nil, nil, err
	}

	byKey := make(map[string]string, len(sub.Answers))
	for _, a := range sub.Answers {
		byKey[a.Key] = a.Value
	}

	var token string
	var answers []platform.Answer
	for _, in := range prompt.Inputs {
		val := strings.TrimSpace(byKey[in.Key])
		if in.Key == tokenInputKey {
			token = val
		}
		// Остаются только отвеченные поля с непустой меткой, в порядке формы.
		if in.Label == "" || val == "" {
			continue
		}
		answers = append(answers, platform.Answer{Key: in.Key, Label: in.Label, Value: val})
	}

	if cat.RequireVerification {
		vres, err := s.Verifier.Lookup(ctx, token)
		if err != nil {
			return nil, nil, err
		}
		return answers, vres, nil
	}
	return answers, nil, nil
}

// buildPrompt собирает форму: сначала токен верификации (если требуется),
// затем поля категории в порядке создания.
func buildPrompt(cat *model.TicketCategory, req OpenRequest) platform.Prompt {
	p := platform.Prompt{
		ID:            uuid.NewString(),
		InteractionID: req.InteractionID,
		UserID:        req.UserID,
		Title:         cat.Name,
	}
	if cat.RequireVerification {
		p.Inputs = append(p.Inputs, platform.PromptInput{
			Key:         tokenInputKey,
			Label:       "Verification token",
			Placeholder: "tbx-XXXXXXXXXXXXXX-XXX",
			Required:    true,
			Short:       true,
			MinLength:   tokenMinLength,
			MaxLength:   tokenMaxLength,
		})
	}
	for _, f := range cat.Fields {
		in := platform.PromptInput{
			Key:         fmt.Sprintf("field_%d", f.ID),
			Label:       f.Label,
			Placeholder: f.Placeholder,
			Required:    f.Required,
			Short:       f.ShortField,
		}
		if f.MinLength != nil {
			in.MinLength = *f.MinLength
		}
		if f.MaxLength != nil {
			in.MaxLength = *f.MaxLength
		}
		p.Inputs = append(p.Inputs, in)
	}
	return p
}

// introMessage — вступительное сообщение: кнопка закрытия и ответы формы.
// Значение, похожее на токен верификации, подменяется сводкой, сырой токен
// в канал не попадает.
func (s *Service) introMessage(t *model.Ticket, cat *model.TicketCategory, answers []platform.Answer, vres *verify.Result) platform.Message {
	desc := cat.Description
	if desc == "" {
		desc = "Support will be with you shortly. Use the button below to close the ticket."
	}
	e := platform.Embed{
		Title:       fmt.Sprintf("Ticket #%d — %s", t.ID, cat.Name),
		Description: desc,
		Footer:      "Opened by " + t.UserDisplayName,
	}
	for _, a := range answers {
		value := a.Value
		if vres != nil && verify.TokenPattern.MatchString(a.Value) {
			value = vres.Summary()
		}
		e.Fields = append(e.Fields, platform.EmbedField{Name: a.Label, Value: value})
	}
	return platform.Message{
		Embeds:  []platform.Embed{e},
		Buttons: []platform.Button{{CustomID: CloseButtonID, Label: "Close ticket", Style: "danger"}},
	}
}

// createStaffThread — приватный тред для персонала. Любая ошибка здесь не
// фатальна: тикет уже открыт и остаётся валидным.
func (s *Service) createStaffThread(ctx context.Context, t *model.Ticket) {
	if len(s.StaffRoleIDs) == 0 {
		return
	}
	th, err := s.Chat.CreateThread(ctx, t.ChannelID, fmt.Sprintf("ticket-%d-staff", t.ID), true)
	if err != nil {
		log.Printf("intake: create staff thread for ticket %d: %v", t.ID, err)
		return
	}
	if err := s.Store.SetStaffThread(ctx, t.ID, th.ID); err != nil {
		log.Printf("intake: persist staff thread %s for ticket %d: %v", th.ID, t.ID, err)
	} else {
		threadID := th.ID
		t.StaffThreadID = &threadID
	}
	notice := platform.Message{
		Content:      fmt.Sprintf("New ticket #%d from %s.", t.ID, t.UserDisplayName),
		RoleMentions: s.StaffRoleIDs,
	}
	if err := s.Chat.SendMessage(ctx, th.ID, notice); err != nil {
		log.Printf("intake: staff notice for ticket %d: %v", t.ID, err)
	}
}
