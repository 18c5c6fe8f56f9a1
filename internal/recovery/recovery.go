// Package recovery сверяет открытые тикеты в базе с реальным состоянием
// платформы при старте: живые каналы возвращаются в реестр, тикеты без
// канала принудительно закрываются с синтетическим сообщением в логе.
package recovery

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/platform"
	"github.com/psds-microservice/ticket-desk/internal/registry"
	"github.com/psds-microservice/ticket-desk/internal/transcript"
)

// Store — подмножество service.TicketServicer, нужное recovery.
type Store interface {
	ListOpen(ctx context.Context) ([]model.Ticket, error)
	Close(ctx context.Context, id uint64, at time.Time) error
	AppendMessage(ctx context.Context, m *model.TicketMessage) error
}

type Deps struct {
	Chat     platform.Chat
	Store    Store
	Registry *registry.Registry

	BotUserID string

	// Now подменяется в тестах; nil — time.Now.
	Now func() time.Time
}

type Manager struct {
	Deps
}

func NewManager(deps Deps) *Manager {
	return &Manager{Deps: deps}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Run — последовательный и best-effort проход: сбой одного тикета не
// прерывает остальные. Принудительно закрываются только тикеты, чей канал
// заведомо отсутствует; транспортные ошибки пропускают тикет до следующего
// старта.
func (m *Manager) Run(ctx context.Context) error {
	open, err := m.Store.ListOpen(ctx)
	if err != nil {
		return err
	}
	var registered, forceClosed, skipped int
	for i := range open {
		t := &open[i]
		_, err := m.Chat.FetchChannel(ctx, t.ChannelID)
		switch {
		case err == nil:
			if _, rerr := m.Registry.Register(t.ChannelID, t); rerr != nil {
				log.Printf("recovery: register ticket %d: %v", t.ID, rerr)
				skipped++
				continue
			}
			registered++
		case errors.Is(err, platform.ErrChannelNotFound):
			if m.forceClose(ctx, t) {
				forceClosed++
			} else {
				skipped++
			}
		default:
			log.Printf("recovery: fetch channel %s for ticket %d: %v", t.ChannelID, t.ID, err)
			skipped++
		}
	}
	log.Printf("recovery: %d open tickets, %d registered, %d force-closed, %d skipped",
		len(open), registered, forceClosed, skipped)
	return nil
}

// forceClose закрывает тикет, канал которого исчез, пока процесс не работал.
// В лог дописывается минимальный маркер закрытия без причины: транскрипт
// остаётся полным несмотря на закрытие «мимо» сервиса.
func (m *Manager) forceClose(ctx context.Context, t *model.Ticket) bool {
	now := m.now()
	if err := m.Store.Close(ctx, t.ID, now); err != nil {
		log.Printf("recovery: force-close ticket %d: %v", t.ID, err)
		return false
	}
	closedAt := now
	t.ClosedAt = &closedAt
	marker := transcript.EncodeEmbeds([]platform.Embed{{Title: "Ticket closed"}})
	if err := m.Store.AppendMessage(ctx, &model.TicketMessage{
		TicketID:    t.ID,
		AuthorID:    m.BotUserID,
		DisplayName: "Ticket Desk",
		Content:     marker,
		SentAt:      now,
	}); err != nil {
		log.Printf("recovery: closing marker for ticket %d: %v", t.ID, err)
	}
	log.Printf("recovery: ticket %d force-closed, channel %s is gone", t.ID, t.ChannelID)
	return true
}
