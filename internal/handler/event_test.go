package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticket-desk/internal/closure"
	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/handler"
	"github.com/psds-microservice/ticket-desk/internal/intake"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/platform/platformtest"
	"github.com/psds-microservice/ticket-desk/internal/provision"
	"github.com/psds-microservice/ticket-desk/internal/registry"
)

type memStore struct {
	mu       sync.Mutex
	nextID   uint64
	tickets  map[uint64]*model.Ticket
	messages []model.TicketMessage
	members  []model.TicketMember
}

func newMemStore() *memStore {
	return &memStore{tickets: make(map[uint64]*model.Ticket)}
}

func (s *memStore) Create(_ context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	s.tickets[t.ID] = t
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uint64) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, errs.ErrTicketNotFound
	}
	return t, nil
}

func (s *memStore) List(_ context.Context, _ map[string]interface{}, _, _ int) ([]model.Ticket, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for _, t := range s.tickets {
		out = append(out, *t)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) ListOpen(_ context.Context) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for _, t := range s.tickets {
		if t.Open() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) Close(_ context.Context, id uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || !t.Open() {
		return errs.ErrChannelNotTicket
	}
	closed := at
	t.ClosedAt = &closed
	return nil
}

func (s *memStore) SetStaffThread(_ context.Context, id uint64, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickets[id]; ok {
		t.StaffThreadID = &threadID
	}
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, m *model.TicketMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = uint64(len(s.messages) + 1)
	s.messages = append(s.messages, *m)
	return nil
}

func (s *memStore) EditMessage(_ context.Context, ticketID uint64, authorID string, sentAt time.Time, content string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		m := &s.messages[i]
		if m.TicketID == ticketID && m.AuthorID == authorID && m.SentAt.Equal(sentAt) {
			m.Content = content
			edited := editedAt
			m.EditedAt = &edited
		}
	}
	return nil
}

func (s *memStore) MessagesByTicket(_ context.Context, ticketID uint64) ([]model.TicketMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TicketMessage
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) AddMember(_ context.Context, ticketID uint64, userID, addedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, model.TicketMember{TicketID: ticketID, UserID: userID, AddedBy: addedBy, AddedAt: at})
	return nil
}

func (s *memStore) RemoveMember(_ context.Context, ticketID uint64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.members {
		if s.members[i].TicketID == ticketID && s.members[i].UserID == userID {
			s.members[i].Removed = true
		}
	}
	return nil
}

type memCats struct {
	cats map[uint64]*model.TicketCategory
}

func (s *memCats) GetByID(_ context.Context, id uint64) (*model.TicketCategory, error) {
	cat, ok := s.cats[id]
	if !ok {
		return nil, errs.ErrCategoryNotFound
	}
	return cat, nil
}

func (s *memCats) List(_ context.Context) ([]model.TicketCategory, error) { return nil, nil }
func (s *memCats) Create(_ context.Context, _ *model.TicketCategory) error {
	return nil
}
func (s *memCats) Update(_ context.Context, _ uint64, _ map[string]interface{}) (*model.TicketCategory, error) {
	return nil, errs.ErrCategoryNotFound
}
func (s *memCats) Delete(_ context.Context, _ uint64) error { return nil }
func (s *memCats) AddField(_ context.Context, _ *model.TicketCategoryField) error {
	return nil
}
func (s *memCats) DeleteField(_ context.Context, _ uint64) error { return nil }

type fixture struct {
	router *gin.Engine
	chat   *platformtest.FakeChat
	store  *memStore
	reg    *registry.Registry
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)
	chat := platformtest.NewFakeChat()
	chat.AddChannel("support-cat", "support")
	store := newMemStore()
	cats := &memCats{cats: map[uint64]*model.TicketCategory{
		1: {ID: 1, Name: "General", CategoryChannelID: "support-cat"},
	}}
	reg := registry.New()

	intakeSvc := intake.New(intake.Deps{
		Chat:        chat,
		Categories:  cats,
		Store:       store,
		Registry:    reg,
		Provisioner: provision.New(chat),
		BotUserID:   "bot-1",
		FormTimeout: time.Second,
	})
	closureSvc := closure.New(closure.Deps{
		Chat:             chat,
		Store:            store,
		Categories:       cats,
		Registry:         reg,
		BotUserID:        "bot-1",
		ArchiveChannelID: "archive",
		FormTimeout:      time.Second,
		GraceDelay:       time.Millisecond,
	})

	events := handler.NewEventHandler(intakeSvc, closureSvc, reg, store, "bot-1")
	r := gin.New()
	r.POST("/api/v1/events", events.Handle)
	return &fixture{router: r, chat: chat, store: store, reg: reg}
}

func (f *fixture) post(t *testing.T, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestEventTicketOpen(t *testing.T) {
	f := newFixture()

	w := f.post(t, map[string]interface{}{
		"type":        "ticket.open",
		"category_id": 1,
		"user":        map[string]string{"id": "u1", "username": "neo", "display_name": "Neo"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var created model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || created.ChannelID == "" {
		t.Fatalf("unexpected ticket payload: %+v", created)
	}
	if f.reg.Get(created.ChannelID) == nil {
		t.Fatal("opened ticket must be registered")
	}
}

func TestEventTicketOpenUnknownCategory(t *testing.T) {
	f := newFixture()

	w := f.post(t, map[string]interface{}{
		"type":        "ticket.open",
		"category_id": 42,
		"user":        map[string]string{"id": "u1"},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestEventUnknownType(t *testing.T) {
	f := newFixture()

	w := f.post(t, map[string]interface{}{"type": "ticket.reopen"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestEventTicketCloseRoundTrip(t *testing.T) {
	f := newFixture()

	w := f.post(t, map[string]interface{}{
		"type":        "ticket.open",
		"category_id": 1,
		"user":        map[string]string{"id": "u1", "username": "neo", "display_name": "Neo"},
	})
	var created model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = f.post(t, map[string]interface{}{
		"type":       "ticket.close",
		"channel_id": created.ChannelID,
		"user":       map[string]string{"id": "staff-1", "display_name": "Mod"},
		"reason":     "resolved",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d, body %s", w.Code, w.Body.String())
	}
	if f.reg.Get(created.ChannelID) != nil {
		t.Fatal("closed ticket must leave the registry")
	}

	// Повторное закрытие того же канала.
	w = f.post(t, map[string]interface{}{
		"type":       "ticket.close",
		"channel_id": created.ChannelID,
		"user":       map[string]string{"id": "staff-1"},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("second close status = %d", w.Code)
	}
}

func TestEventMessageCreated(t *testing.T) {
	f := newFixture()

	w := f.post(t, map[string]interface{}{
		"type":        "ticket.open",
		"category_id": 1,
		"user":        map[string]string{"id": "u1", "username": "neo", "display_name": "Neo"},
	})
	var created model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	before := len(f.store.messages)

	w = f.post(t, map[string]interface{}{
		"type":       "message.created",
		"channel_id": created.ChannelID,
		"message": map[string]interface{}{
			"author_id":           "u1",
			"author_display_name": "Neo",
			"content":             "my payment failed",
			"sent_at":             time.Now().UTC().Format(time.RFC3339),
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.store.messages) != before+1 {
		t.Fatalf("message not appended: %d -> %d", before, len(f.store.messages))
	}
}

func TestEventMessageCreatedIgnored(t *testing.T) {
	f := newFixture()

	// Канал без тикета.
	w := f.post(t, map[string]interface{}{
		"type":       "message.created",
		"channel_id": "random-channel",
		"message": map[string]interface{}{
			"author_id": "u1",
			"content":   "hello",
			"sent_at":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(f.store.messages) != 0 {
		t.Fatal("message in a non-ticket channel must be ignored")
	}

	// Сообщение самого бота в канале тикета.
	w = f.post(t, map[string]interface{}{
		"type":        "ticket.open",
		"category_id": 1,
		"user":        map[string]string{"id": "u1", "username": "neo", "display_name": "Neo"},
	})
	var created model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	before := len(f.store.messages)
	f.post(t, map[string]interface{}{
		"type":       "message.created",
		"channel_id": created.ChannelID,
		"message": map[string]interface{}{
			"author_id": "bot-1",
			"content":   "echo",
			"sent_at":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if len(f.store.messages) != before {
		t.Fatal("bot message must be ignored")
	}
}

func TestEventMemberAddedRemoved(t *testing.T) {
	f := newFixture()

	w := f.post(t, map[string]interface{}{
		"type":        "ticket.open",
		"category_id": 1,
		"user":        map[string]string{"id": "u1", "username": "neo", "display_name": "Neo"},
	})
	var created model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = f.post(t, map[string]interface{}{
		"type":           "member.added",
		"channel_id":     created.ChannelID,
		"interaction_id": "staff-1",
		"user":           map[string]string{"id": "u2"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("member.added status = %d", w.Code)
	}
	if len(f.store.members) != 1 || f.store.members[0].UserID != "u2" {
		t.Fatalf("member not tracked: %+v", f.store.members)
	}

	f.post(t, map[string]interface{}{
		"type":       "member.removed",
		"channel_id": created.ChannelID,
		"user":       map[string]string{"id": "u2"},
	})
	if !f.store.members[0].Removed {
		t.Fatal("member removal must set the removed flag")
	}
}
