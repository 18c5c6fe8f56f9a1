package registry

import (
	"testing"

	"github.com/psds-microservice/ticket-desk/internal/model"
)

func TestRegisterRejectsDuplicateChannel(t *testing.T) {
	r := New()
	if _, err := r.Register("chan-1", &model.Ticket{ID: 1}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := r.Register("chan-1", &model.Ticket{ID: 2}); err == nil {
		t.Fatal("expected error for duplicate channel")
	}
	if got := r.Get("chan-1").Ticket.ID; got != 1 {
		t.Fatalf("registry overwritten: ticket %d", got)
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}

func TestUnregisterFreesChannel(t *testing.T) {
	r := New()
	if _, err := r.Register("chan-1", &model.Ticket{ID: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Unregister("chan-1")
	if r.Get("chan-1") != nil {
		t.Fatal("entry still present after unregister")
	}
	// канал можно занять заново
	if _, err := r.Register("chan-1", &model.Ticket{ID: 2}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestBeginCloseIsExclusive(t *testing.T) {
	r := New()
	e, err := r.Register("chan-1", &model.Ticket{ID: 1})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !e.BeginClose() {
		t.Fatal("first BeginClose returned false")
	}
	if e.BeginClose() {
		t.Fatal("second BeginClose succeeded while closing")
	}
	e.AbortClose()
	if !e.BeginClose() {
		t.Fatal("BeginClose after AbortClose returned false")
	}
}
