package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/platform"
	"github.com/psds-microservice/ticket-desk/internal/platform/platformtest"
	"github.com/psds-microservice/ticket-desk/internal/provision"
	"github.com/psds-microservice/ticket-desk/internal/registry"
	"github.com/psds-microservice/ticket-desk/internal/verify"
)

type fakeCategories struct {
	cats map[uint64]*model.TicketCategory
}

func (f *fakeCategories) GetByID(_ context.Context, id uint64) (*model.TicketCategory, error) {
	cat, ok := f.cats[id]
	if !ok {
		return nil, errs.ErrCategoryNotFound
	}
	return cat, nil
}

type fakeStore struct {
	tickets   []*model.Ticket
	messages  []model.TicketMessage
	threads   map[uint64]string
	createErr error
}

func (f *fakeStore) Create(_ context.Context, t *model.Ticket) error {
	if f.createErr != nil {
		return f.createErr
	}
	t.ID = uint64(len(f.tickets) + 1)
	f.tickets = append(f.tickets, t)
	return nil
}

func (f *fakeStore) SetStaffThread(_ context.Context, id uint64, threadID string) error {
	if f.threads == nil {
		f.threads = make(map[uint64]string)
	}
	f.threads[id] = threadID
	return nil
}

func (f *fakeStore) AppendMessage(_ context.Context, m *model.TicketMessage) error {
	f.messages = append(f.messages, *m)
	return nil
}

type fakeVerifier struct {
	res    *verify.Result
	err    error
	tokens []string
}

func (f *fakeVerifier) Lookup(_ context.Context, token string) (*verify.Result, error) {
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

const rawToken = "tbx-12345678901234-abc"

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(chat *platformtest.FakeChat, store *fakeStore, ver *fakeVerifier, cats map[uint64]*model.TicketCategory) (*Service, *registry.Registry) {
	chat.AddChannel("support-cat", "support")
	reg := registry.New()
	svc := New(Deps{
		Chat:        chat,
		Verifier:    ver,
		Categories:  &fakeCategories{cats: cats},
		Store:       store,
		Registry:    reg,
		Provisioner: provision.New(chat),
		BotUserID:   "bot-1",
		FormTimeout: time.Second,
		Now:         func() time.Time { return fixedNow },
	})
	return svc, reg
}

func plainCategory() *model.TicketCategory {
	return &model.TicketCategory{ID: 1, Name: "General", CategoryChannelID: "support-cat"}
}

func billingCategory() *model.TicketCategory {
	return &model.TicketCategory{
		ID:                  2,
		Name:                "Billing",
		CategoryChannelID:   "support-cat",
		RequireVerification: true,
		Fields: []model.TicketCategoryField{
			{ID: 10, CategoryID: 2, Label: "Describe issue", Required: true},
		},
	}
}

func TestOpenFastPathSkipsForm(t *testing.T) {
	chat := platformtest.NewFakeChat()
	store := &fakeStore{}
	svc, reg := newFixture(chat, store, nil, map[uint64]*model.TicketCategory{1: plainCategory()})

	tk, err := svc.Open(context.Background(), OpenRequest{
		UserID: "u1", Username: "Neo", DisplayName: "Neo", CategoryID: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(chat.Prompts) != 0 {
		t.Fatalf("category without fields must not show a form, got %d prompts", len(chat.Prompts))
	}
	if len(chat.Created) != 1 {
		t.Fatalf("expected 1 created channel, got %d", len(chat.Created))
	}
	if tk.ClosedAt != nil {
		t.Fatal("freshly opened ticket must have nil ClosedAt")
	}
	if reg.Get(tk.ChannelID) == nil {
		t.Fatalf("ticket not registered for channel %s", tk.ChannelID)
	}
	if len(chat.Sent) == 0 {
		t.Fatal("intro message not sent")
	}
	intro := chat.Sent[0].Msg
	if len(intro.Buttons) != 1 || intro.Buttons[0].CustomID != CloseButtonID {
		t.Fatalf("intro must carry the close button, got %+v", intro.Buttons)
	}
	if len(store.messages) != 1 || !strings.Contains(store.messages[0].Content, "[embed]") {
		t.Fatalf("opening marker not persisted: %+v", store.messages)
	}
}

func TestOpenUnknownCategory(t *testing.T) {
	chat := platformtest.NewFakeChat()
	svc, _ := newFixture(chat, &fakeStore{}, nil, map[uint64]*model.TicketCategory{})

	_, err := svc.Open(context.Background(), OpenRequest{UserID: "u1", CategoryID: 99})
	if !errors.Is(err, errs.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
}

func TestOpenFormTimeoutLeavesNoSideEffects(t *testing.T) {
	chat := platformtest.NewFakeChat()
	chat.AwaitErr = errs.ErrIntakeTimeout
	store := &fakeStore{}
	svc, reg := newFixture(chat, store, &fakeVerifier{}, map[uint64]*model.TicketCategory{2: billingCategory()})

	_, err := svc.Open(context.Background(), OpenRequest{UserID: "u1", Username: "neo", CategoryID: 2})
	if !errs.IsCancelled(err) {
		t.Fatalf("expected cancelled/timeout, got %v", err)
	}
	if len(chat.Created) != 0 || len(store.tickets) != 0 || reg.Count() != 0 {
		t.Fatalf("timeout must leave no side effects: channels=%d tickets=%d registry=%d",
			len(chat.Created), len(store.tickets), reg.Count())
	}
}

func TestOpenVerificationRejected(t *testing.T) {
	chat := platformtest.NewFakeChat()
	chat.SubmitAnswers = []platform.Answer{
		{Key: "verification_token", Value: rawToken},
		{Key: "field_10", Value: "charged twice"},
	}
	store := &fakeStore{}
	ver := &fakeVerifier{err: fmt.Errorf("%w: token rejected", errs.ErrVerificationFailed)}
	svc, reg := newFixture(chat, store, ver, map[uint64]*model.TicketCategory{2: billingCategory()})

	_, err := svc.Open(context.Background(), OpenRequest{UserID: "u1", Username: "neo", CategoryID: 2})
	if !errors.Is(err, errs.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if len(ver.tokens) != 1 || ver.tokens[0] != rawToken {
		t.Fatalf("verifier saw tokens %v", ver.tokens)
	}
	if len(chat.Created) != 0 || len(store.tickets) != 0 || reg.Count() != 0 {
		t.Fatal("rejected verification must leave no side effects")
	}
}

func TestOpenBillingVerified(t *testing.T) {
	chat := platformtest.NewFakeChat()
	chat.SubmitAnswers = []platform.Answer{
		{Key: "verification_token", Value: rawToken},
		{Key: "field_10", Value: "charged twice"},
	}
	store := &fakeStore{}
	ver := &fakeVerifier{res: &verify.Result{
		Status: "Complete",
		Items:  []verify.Item{{Name: "VIP", Quantity: 2}, {Name: "Crate Key", Quantity: 1}},
	}}
	svc, reg := newFixture(chat, store, ver, map[uint64]*model.TicketCategory{2: billingCategory()})

	tk, err := svc.Open(context.Background(), OpenRequest{
		UserID: "u1", Username: "neo", DisplayName: "Neo", CategoryID: 2,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(chat.Prompts) != 1 {
		t.Fatalf("expected 1 prompt, got %d", len(chat.Prompts))
	}
	if got := chat.Prompts[0].Inputs[0].Key; got != "verification_token" {
		t.Fatalf("token input must come first, got %q", got)
	}
	if tk.ClosedAt != nil || reg.Get(tk.ChannelID) == nil {
		t.Fatal("ticket must be open and registered")
	}

	intro := chat.Sent[0].Msg
	if len(intro.Embeds) != 1 {
		t.Fatalf("expected 1 intro embed, got %d", len(intro.Embeds))
	}
	var sawField, sawSummary bool
	for _, f := range intro.Embeds[0].Fields {
		if f.Name == "Describe issue" && f.Value == "charged twice" {
			sawField = true
		}
		if f.Name == "Verification token" && f.Value == "Status: Complete\nItems: 2x VIP, Crate Key" {
			sawSummary = true
		}
		if strings.Contains(f.Value, rawToken) {
			t.Fatalf("raw token leaked into intro field %q", f.Name)
		}
	}
	if !sawField || !sawSummary {
		t.Fatalf("intro fields incomplete: %+v", intro.Embeds[0].Fields)
	}
}

func TestOpenPersistFailureDeletesChannel(t *testing.T) {
	chat := platformtest.NewFakeChat()
	store := &fakeStore{createErr: fmt.Errorf("%w: insert ticket", errs.ErrPersistenceFailed)}
	svc, reg := newFixture(chat, store, nil, map[uint64]*model.TicketCategory{1: plainCategory()})

	_, err := svc.Open(context.Background(), OpenRequest{UserID: "u1", Username: "neo", CategoryID: 1})
	if !errors.Is(err, errs.ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}
	if len(chat.Created) != 1 || len(chat.Deleted) != 1 {
		t.Fatalf("orphan channel must be deleted: created=%d deleted=%d", len(chat.Created), len(chat.Deleted))
	}
	if reg.Count() != 0 {
		t.Fatal("failed open must not register the ticket")
	}
}

func TestOpenCreatesStaffThread(t *testing.T) {
	chat := platformtest.NewFakeChat()
	store := &fakeStore{}
	svc, _ := newFixture(chat, store, nil, map[uint64]*model.TicketCategory{1: plainCategory()})
	svc.StaffRoleIDs = []string{"role-staff"}

	tk, err := svc.Open(context.Background(), OpenRequest{
		UserID: "u1", Username: "neo", DisplayName: "Neo", CategoryID: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(chat.Threads) != 1 {
		t.Fatalf("expected 1 staff thread, got %d", len(chat.Threads))
	}
	if tk.StaffThreadID == nil || *tk.StaffThreadID != chat.Threads[0].ID {
		t.Fatalf("staff thread id not recorded on ticket: %v", tk.StaffThreadID)
	}
	if store.threads[tk.ID] != chat.Threads[0].ID {
		t.Fatal("staff thread id not persisted")
	}
	var notice *platformtest.SentMessage
	for i := range chat.Sent {
		if chat.Sent[i].Target == chat.Threads[0].ID {
			notice = &chat.Sent[i]
		}
	}
	if notice == nil || len(notice.Msg.RoleMentions) != 1 {
		t.Fatalf("staff notice with role mention not sent: %+v", notice)
	}
}

func TestOpenStaffThreadFailureIsNotFatal(t *testing.T) {
	chat := platformtest.NewFakeChat()
	chat.ThreadErr = errors.New("threads unavailable")
	store := &fakeStore{}
	svc, reg := newFixture(chat, store, nil, map[uint64]*model.TicketCategory{1: plainCategory()})
	svc.StaffRoleIDs = []string{"role-staff"}

	tk, err := svc.Open(context.Background(), OpenRequest{UserID: "u1", Username: "neo", CategoryID: 1})
	if err != nil {
		t.Fatalf("Open must succeed without the staff thread: %v", err)
	}
	if tk.StaffThreadID != nil {
		t.Fatal("staff thread id must stay nil")
	}
	if reg.Get(tk.ChannelID) == nil {
		t.Fatal("ticket must still be registered")
	}
}
