// Package platform описывает границу с чат-платформой: плоские неизменяемые
// записи (каналы, сообщения, формы) и интерфейс Chat, за которым живёт
// chat-gateway. Воркфлоу не знают ничего про конкретный протокол платформы.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrChannelNotFound — канал не существует (удалён или никогда не создавался).
// Отличается от транспортных ошибок: recovery закрывает тикет только по ней.
var ErrChannelNotFound = errors.New("channel not found")

// Биты прав в permission overwrite. Платформо-нейтральные: gateway
// транслирует их в права конкретной платформы.
const (
	PermRead  int64 = 1 << 0
	PermWrite int64 = 1 << 1
)

// Типы целей permission overwrite.
const (
	TargetRole   = "role"
	TargetMember = "member"
)

// Channel — канал или тред.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// PermissionOverwrite — одна запись контроля доступа канала.
type PermissionOverwrite struct {
	TargetID   string `json:"target_id"`
	TargetType string `json:"target_type"`
	Allow      int64  `json:"allow"`
	Deny       int64  `json:"deny"`
}

// CreateChannelRequest — параметры создания канала.
type CreateChannelRequest struct {
	Name       string                `json:"name"`
	ParentID   string                `json:"parent_id,omitempty"`
	Overwrites []PermissionOverwrite `json:"overwrites,omitempty"`
}

// EmbedField — пара заголовок/значение внутри rich-блока.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed — rich-блок сообщения. Для воркфлоу это непрозрачный
// презентационный объект; он же сериализуется в лог сообщений тикета.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      string       `json:"footer,omitempty"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
}

// Button — интерактивное действие в сообщении.
type Button struct {
	CustomID string `json:"custom_id"`
	Label    string `json:"label"`
	Style    string `json:"style,omitempty"`
}

// Attachment — файл, прикладываемый к сообщению.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Message — исходящее сообщение.
type Message struct {
	Content      string       `json:"content,omitempty"`
	Embeds       []Embed      `json:"embeds,omitempty"`
	Buttons      []Button     `json:"buttons,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	RoleMentions []string     `json:"role_mentions,omitempty"`
}

// InboundMessage — сообщение, прочитанное из канала или треда.
type InboundMessage struct {
	ID                string     `json:"id"`
	AuthorID          string     `json:"author_id"`
	AuthorDisplayName string     `json:"author_display_name"`
	AuthorAvatar      string     `json:"author_avatar,omitempty"`
	Content           string     `json:"content,omitempty"`
	SentAt            time.Time  `json:"sent_at"`
	EditedAt          *time.Time `json:"edited_at,omitempty"`
}

// PromptInput — одно текстовое поле структурированной формы.
type PromptInput struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required"`
	Short       bool   `json:"short"`
	MinLength   int    `json:"min_length,omitempty"`
	MaxLength   int    `json:"max_length,omitempty"`
}

// Prompt — структурированная форма. Коррелируется по ID и пользователю:
// засчитывается только отправка той же формы тем же пользователем.
type Prompt struct {
	ID            string        `json:"id"`
	InteractionID string        `json:"interaction_id"`
	UserID        string        `json:"user_id"`
	Title         string        `json:"title"`
	Inputs        []PromptInput `json:"inputs"`
}

// Answer — ответ на одно поле формы.
type Answer struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Submission — отправленная форма.
type Submission struct {
	PromptID string   `json:"prompt_id"`
	UserID   string   `json:"user_id"`
	Answers  []Answer `json:"answers"`
}

// Chat — операции чат-платформы, которые нужны жизненному циклу тикетов.
// AwaitSubmission блокируется до отправки формы, отмены или таймаута;
// отмена и таймаут возвращаются как errs.ErrIntakeCancelled и
// errs.ErrIntakeTimeout соответственно.
type Chat interface {
	FetchChannel(ctx context.Context, channelID string) (*Channel, error)
	CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	ChannelOverwrites(ctx context.Context, channelID string) ([]PermissionOverwrite, error)
	ChannelMessages(ctx context.Context, channelID string) ([]InboundMessage, error)
	SendMessage(ctx context.Context, channelID string, msg Message) error
	DirectMessage(ctx context.Context, userID string, msg Message) error
	CreateThread(ctx context.Context, channelID, name string, private bool) (*Channel, error)
	ShowPrompt(ctx context.Context, prompt Prompt) error
	AwaitSubmission(ctx context.Context, promptID, userID string, timeout time.Duration) (*Submission, error)
}
