package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"gorm.io/gorm"
)

// TicketServicer — интерфейс хранилища тикетов (Dependency Inversion:
// воркфлоу и тесты работают с абстракцией, не с GORM).
type TicketServicer interface {
	Create(ctx context.Context, t *model.Ticket) error
	GetByID(ctx context.Context, id uint64) (*model.Ticket, error)
	List(ctx context.Context, filter map[string]interface{}, limit, offset int) ([]model.Ticket, int64, error)
	ListOpen(ctx context.Context) ([]model.Ticket, error)
	Close(ctx context.Context, id uint64, at time.Time) error
	SetStaffThread(ctx context.Context, id uint64, threadID string) error
	AppendMessage(ctx context.Context, m *model.TicketMessage) error
	EditMessage(ctx context.Context, ticketID uint64, authorID string, sentAt time.Time, content string, editedAt time.Time) error
	MessagesByTicket(ctx context.Context, ticketID uint64) ([]model.TicketMessage, error)
	AddMember(ctx context.Context, ticketID uint64, userID, addedBy string, at time.Time) error
	RemoveMember(ctx context.Context, ticketID uint64, userID string) error
}

type TicketService struct {
	db *gorm.DB
}

func NewTicketService(db *gorm.DB) *TicketService {
	return &TicketService{db: db}
}

// persistErr заворачивает ошибку записи в доменную errs.ErrPersistenceFailed.
func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", errs.ErrPersistenceFailed, op, err)
}

func (s *TicketService) Create(ctx context.Context, t *model.Ticket) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return persistErr("create ticket", err)
	}
	return nil
}

func (s *TicketService) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TicketService) List(ctx context.Context, filter map[string]interface{}, limit, offset int) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	for k, v := range filter {
		tx = tx.Where(k, v)
	}
	// Count total before pagination
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if err := tx.Order("opened_at DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListOpen возвращает все тикеты без отметки закрытия (для recovery).
func (s *TicketService) ListOpen(ctx context.Context) ([]model.Ticket, error) {
	var items []model.Ticket
	if err := s.db.WithContext(ctx).Where("closed_at IS NULL").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Close ставит отметку закрытия. Уже закрытый тикет не перезаписывается.
func (s *TicketService) Close(ctx context.Context, id uint64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("id = ? AND closed_at IS NULL", id).
		Update("closed_at", at)
	if res.Error != nil {
		return persistErr("close ticket", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrChannelNotTicket
	}
	return nil
}

func (s *TicketService) SetStaffThread(ctx context.Context, id uint64, threadID string) error {
	if err := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("id = ?", id).
		Update("staff_thread_id", threadID).Error; err != nil {
		return persistErr("set staff thread", err)
	}
	return nil
}

func (s *TicketService) AppendMessage(ctx context.Context, m *model.TicketMessage) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return persistErr("append message", err)
	}
	return nil
}

// EditMessage обновляет содержимое сообщения. Платформенный id сообщений не
// хранится, корреляция по (ticket, author, sent_at).
func (s *TicketService) EditMessage(ctx context.Context, ticketID uint64, authorID string, sentAt time.Time, content string, editedAt time.Time) error {
	if err := s.db.WithContext(ctx).Model(&model.TicketMessage{}).
		Where("ticket_id = ? AND author_id = ? AND sent_at = ?", ticketID, authorID, sentAt).
		Updates(map[string]interface{}{"content": content, "edited_at": editedAt}).Error; err != nil {
		return persistErr("edit message", err)
	}
	return nil
}

// MessagesByTicket — лог сообщений в каноническом порядке транскрипта
// (sent_at по возрастанию, id как детерминированный tie-break).
func (s *TicketService) MessagesByTicket(ctx context.Context, ticketID uint64) ([]model.TicketMessage, error) {
	var items []model.TicketMessage
	if err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("sent_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *TicketService) AddMember(ctx context.Context, ticketID uint64, userID, addedBy string, at time.Time) error {
	// Повторное добавление снимает флаг removed у существующей записи.
	var existing model.TicketMember
	err := s.db.WithContext(ctx).
		Where("ticket_id = ? AND user_id = ?", ticketID, userID).
		First(&existing).Error
	switch {
	case err == nil:
		if err := s.db.WithContext(ctx).Model(&existing).
			Updates(map[string]interface{}{"removed": false, "added_by": addedBy, "added_at": at}).Error; err != nil {
			return persistErr("re-add member", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		m := &model.TicketMember{TicketID: ticketID, UserID: userID, AddedBy: addedBy, AddedAt: at}
		if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
			return persistErr("add member", err)
		}
		return nil
	default:
		return err
	}
}

func (s *TicketService) RemoveMember(ctx context.Context, ticketID uint64, userID string) error {
	if err := s.db.WithContext(ctx).Model(&model.TicketMember{}).
		Where("ticket_id = ? AND user_id = ?", ticketID, userID).
		Update("removed", true).Error; err != nil {
		return persistErr("remove member", err)
	}
	return nil
}
