// Package platformtest — программируемый in-memory Chat для тестов воркфлоу.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/platform"
)

// SentMessage — записанный вызов SendMessage или DirectMessage.
// Target — id канала либо id пользователя соответственно.
type SentMessage struct {
	Target string
	Msg    platform.Message
}

// FakeChat реализует platform.Chat поверх карт в памяти. Поведение
// программируется полями до вызова, все вызовы записываются.
// Создавать через NewFakeChat.
type FakeChat struct {
	mu sync.Mutex

	// Существующие каналы по id. FetchChannel незнакомого id возвращает
	// platform.ErrChannelNotFound.
	Channels map[string]*platform.Channel
	// Права по id канала для ChannelOverwrites.
	Overwrites map[string][]platform.PermissionOverwrite
	// История по id канала для ChannelMessages.
	History map[string][]platform.InboundMessage

	// Ответы формы: AwaitSubmission возвращает их, коррелируя отправку с
	// переданными promptID и userID. AwaitErr имеет приоритет над ответами.
	SubmitAnswers []platform.Answer
	AwaitErr      error

	// Подставные ошибки отдельных методов.
	FetchErrs map[string]error
	CreateErr error
	DeleteErr error
	SendErr   error
	DMErr     error
	ThreadErr error
	PromptErr error

	// Записанные вызовы.
	Created []platform.CreateChannelRequest
	Deleted []string
	Sent    []SentMessage
	DMs     []SentMessage
	Prompts []platform.Prompt
	Threads []*platform.Channel

	nextID int
}

func NewFakeChat() *FakeChat {
	return &FakeChat{
		Channels:   make(map[string]*platform.Channel),
		Overwrites: make(map[string][]platform.PermissionOverwrite),
		History:    make(map[string][]platform.InboundMessage),
		FetchErrs:  make(map[string]error),
	}
}

// AddChannel регистрирует существующий канал.
func (f *FakeChat) AddChannel(id, name string) *platform.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &platform.Channel{ID: id, Name: name}
	f.Channels[id] = ch
	return ch
}

func (f *FakeChat) FetchChannel(_ context.Context, channelID string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FetchErrs[channelID]; err != nil {
		return nil, err
	}
	ch, ok := f.Channels[channelID]
	if !ok {
		return nil, platform.ErrChannelNotFound
	}
	return ch, nil
}

func (f *FakeChat) CreateChannel(_ context.Context, req platform.CreateChannelRequest) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.Created = append(f.Created, req)
	f.nextID++
	ch := &platform.Channel{ID: fmt.Sprintf("chan-%d", f.nextID), Name: req.Name, ParentID: req.ParentID}
	f.Channels[ch.ID] = ch
	return ch, nil
}

func (f *FakeChat) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Deleted = append(f.Deleted, channelID)
	delete(f.Channels, channelID)
	return nil
}

func (f *FakeChat) ChannelOverwrites(_ context.Context, channelID string) ([]platform.PermissionOverwrite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Overwrites[channelID], nil
}

func (f *FakeChat) ChannelMessages(_ context.Context, channelID string) ([]platform.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.History[channelID], nil
}

func (f *FakeChat) SendMessage(_ context.Context, channelID string, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, SentMessage{Target: channelID, Msg: msg})
	return nil
}

func (f *FakeChat) DirectMessage(_ context.Context, userID string, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DMErr != nil {
		return f.DMErr
	}
	f.DMs = append(f.DMs, SentMessage{Target: userID, Msg: msg})
	return nil
}

func (f *FakeChat) CreateThread(_ context.Context, channelID, name string, _ bool) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ThreadErr != nil {
		return nil, f.ThreadErr
	}
	f.nextID++
	th := &platform.Channel{ID: fmt.Sprintf("thread-%d", f.nextID), Name: name, ParentID: channelID}
	f.Channels[th.ID] = th
	f.Threads = append(f.Threads, th)
	return th, nil
}

func (f *FakeChat) ShowPrompt(_ context.Context, prompt platform.Prompt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PromptErr != nil {
		return f.PromptErr
	}
	f.Prompts = append(f.Prompts, prompt)
	return nil
}

func (f *FakeChat) AwaitSubmission(_ context.Context, promptID, userID string, _ time.Duration) (*platform.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AwaitErr != nil {
		return nil, f.AwaitErr
	}
	return &platform.Submission{
		PromptID: promptID,
		UserID:   userID,
		Answers:  append([]platform.Answer(nil), f.SubmitAnswers...),
	}, nil
}
