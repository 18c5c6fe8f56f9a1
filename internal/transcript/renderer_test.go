package transcript

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/model"
	"github.com/psds-microservice/ticket-desk/internal/platform"
)

func ts(sec int) time.Time {
	return time.Date(2026, 3, 14, 12, 0, sec, 0, time.UTC)
}

func marker(title string) string {
	return EncodeEmbeds([]platform.Embed{{Title: title}})
}

func sampleTicket() *model.Ticket {
	closed := ts(50)
	return &model.Ticket{
		ID:              7,
		ChannelID:       "chan-7",
		UserID:          "u-1",
		UserUsername:    "alice",
		UserDisplayName: "Alice",
		OpenedAt:        ts(0),
		ClosedAt:        &closed,
	}
}

func TestSplitEmbedsRoundTrip(t *testing.T) {
	in := []platform.Embed{{
		Title:       "Ticket opened",
		Description: "hello",
		Fields:      []platform.EmbedField{{Name: "Describe issue", Value: "it broke"}},
		Footer:      "footer",
	}}
	content := "before " + EncodeEmbeds(in) + " after"
	plain, embeds := SplitEmbeds(content)
	if plain != "before  after" {
		t.Fatalf("plain = %q", plain)
	}
	if len(embeds) != 1 || embeds[0].Title != "Ticket opened" || len(embeds[0].Fields) != 1 {
		t.Fatalf("embeds = %+v", embeds)
	}
	if !RichOnly(EncodeEmbeds(in)) {
		t.Fatal("embed-only content must be RichOnly")
	}
	if RichOnly(content) {
		t.Fatal("content with plain text must not be RichOnly")
	}
}

func TestRenderDropsSyntheticBookendsOnly(t *testing.T) {
	msgs := []model.TicketMessage{
		{ID: 1, TicketID: 7, AuthorID: "bot", DisplayName: "Ticket Desk", Content: marker("Ticket opened"), SentAt: ts(0)},
		{ID: 2, TicketID: 7, AuthorID: "u-1", DisplayName: "Alice", Content: "hello " + marker("rich"), SentAt: ts(10)},
		{ID: 3, TicketID: 7, AuthorID: "u-2", DisplayName: "Bob", Content: "hi there", SentAt: ts(20)},
		{ID: 4, TicketID: 7, AuthorID: "bot", DisplayName: "Ticket Desk", Content: marker("Ticket closed"), SentAt: ts(30)},
	}
	doc, err := Render(sampleTicket(), "Billing", msgs, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if doc.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", doc.MessageCount)
	}
	html := string(doc.HTML)
	if strings.Contains(html, "Ticket opened") || strings.Contains(html, "Ticket closed") {
		t.Fatal("synthetic bookends leaked into transcript")
	}
	// сообщение с rich-блоком и текстом — не маркер, остаётся
	if !strings.Contains(html, "hello") || !strings.Contains(html, "hi there") {
		t.Fatal("regular messages missing")
	}
	if strings.Index(html, "hello") > strings.Index(html, "hi there") {
		t.Fatal("messages out of ascending order")
	}
}

func TestRenderKeepsNonSyntheticEdges(t *testing.T) {
	msgs := []model.TicketMessage{
		{ID: 1, DisplayName: "Alice", Content: "first plain", SentAt: ts(0)},
		{ID: 2, DisplayName: "Bob", Content: "last plain", SentAt: ts(10)},
	}
	doc, err := Render(sampleTicket(), "Billing", msgs, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if doc.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", doc.MessageCount)
	}
}

func TestRenderOrdersByTimestamp(t *testing.T) {
	msgs := []model.TicketMessage{
		{ID: 3, DisplayName: "C", Content: "third", SentAt: ts(30)},
		{ID: 1, DisplayName: "A", Content: "first", SentAt: ts(10)},
		{ID: 2, DisplayName: "B", Content: "second", SentAt: ts(20)},
	}
	doc, err := Render(sampleTicket(), "Billing", msgs, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := string(doc.HTML)
	i1, i2, i3 := strings.Index(html, "first"), strings.Index(html, "second"), strings.Index(html, "third")
	if !(i1 < i2 && i2 < i3) {
		t.Fatalf("order broken: %d %d %d", i1, i2, i3)
	}
}

func TestRenderDeterministic(t *testing.T) {
	edited := ts(15)
	msgs := []model.TicketMessage{
		{ID: 1, DisplayName: "Alice", Avatar: "https://cdn/a.png", Content: "**hi**", SentAt: ts(10), EditedAt: &edited},
		{ID: 2, DisplayName: "Bob", Content: "bye " + marker("note"), SentAt: ts(20)},
	}
	a, err := Render(sampleTicket(), "Billing", msgs, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	b, err := Render(sampleTicket(), "Billing", msgs, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(a.HTML, b.HTML) {
		t.Fatal("renders of identical input differ")
	}
	if !strings.Contains(string(a.HTML), "(edited)") {
		t.Fatal("edited indicator missing")
	}
	if !strings.Contains(string(a.HTML), "<strong>hi</strong>") {
		t.Fatal("markdown subset not applied")
	}
}

func TestRenderStaffMode(t *testing.T) {
	msgs := []model.TicketMessage{
		{ID: 1, DisplayName: "Mod", Content: "internal note", SentAt: ts(5)},
	}
	doc, err := Render(sampleTicket(), "Billing", msgs, Options{Staff: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if doc.FileName != "ticket-7-staff.html" {
		t.Fatalf("file name = %q", doc.FileName)
	}
	if !strings.Contains(string(doc.HTML), "STAFF ONLY") {
		t.Fatal("staff marker missing")
	}
}
