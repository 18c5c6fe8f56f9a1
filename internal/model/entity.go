package model

import "time"

// TicketCategory — настраиваемый тип тикета: куда провижинить канал,
// требуется ли верификация покупки и какие поля собирает форма.
type TicketCategory struct {
	ID                  uint64 `gorm:"primaryKey" json:"id"`
	Name                string `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description         string `gorm:"type:text" json:"description,omitempty"`
	Emoji               string `gorm:"type:varchar(64)" json:"emoji,omitempty"`
	CategoryChannelID   string `gorm:"type:varchar(32);not null" json:"category_channel_id"`
	RequireVerification bool   `json:"require_verification"`

	// Поля формы, отсортированные по возрастанию id (порядок создания).
	Fields []TicketCategoryField `gorm:"foreignKey:CategoryID" json:"fields,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TicketCategoryField — одно поле формы категории.
type TicketCategoryField struct {
	ID          uint64 `gorm:"primaryKey" json:"id"`
	CategoryID  uint64 `gorm:"index;not null" json:"category_id"`
	Label       string `gorm:"type:varchar(255);not null" json:"label"`
	Placeholder string `gorm:"type:varchar(255)" json:"placeholder,omitempty"`
	Required    bool   `json:"required"`
	ShortField  bool   `json:"short_field"`
	MinLength   *int   `json:"min_length,omitempty"`
	MaxLength   *int   `json:"max_length,omitempty"`
}

// Ticket — тикет поддержки, привязанный 1:1 к каналу, пока открыт.
// Открыт ⇔ ClosedAt == nil. Строки никогда не удаляются физически.
type Ticket struct {
	ID         uint64 `gorm:"primaryKey" json:"id"`
	CategoryID uint64 `gorm:"index;not null" json:"category_id"`
	ChannelID  string `gorm:"type:varchar(32);index;not null" json:"channel_id"`

	// Снапшот автора на момент создания, повторно не резолвится.
	UserID          string `gorm:"type:varchar(32);index;not null" json:"user_id"`
	UserUsername    string `gorm:"type:varchar(255);not null" json:"user_username"`
	UserDisplayName string `gorm:"type:varchar(255);not null" json:"user_display_name"`

	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `gorm:"index" json:"closed_at,omitempty"`
	StaffThreadID *string    `gorm:"type:varchar(32)" json:"staff_thread_id,omitempty"`
}

// Open сообщает, открыт ли тикет.
func (t *Ticket) Open() bool { return t.ClosedAt == nil }

// TicketMessage — запись append-only лога сообщений тикета.
// Порядок по SentAt — канонический порядок транскрипта. Content может
// содержать сериализованные rich-блоки во внутристрочном маркере [embed].
type TicketMessage struct {
	ID          uint64     `gorm:"primaryKey" json:"id"`
	TicketID    uint64     `gorm:"index;not null" json:"ticket_id"`
	AuthorID    string     `gorm:"type:varchar(32);not null" json:"author_id"`
	DisplayName string     `gorm:"type:varchar(255);not null" json:"display_name"`
	Avatar      string     `gorm:"type:varchar(512)" json:"avatar,omitempty"`
	Content     string     `gorm:"type:text" json:"content,omitempty"`
	SentAt      time.Time  `gorm:"index" json:"sent_at"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
}

// TicketMember — участник, добавленный в тикет после создания (не автор).
// Вместо физического удаления ставится флаг Removed, история сохраняется.
type TicketMember struct {
	ID       uint64    `gorm:"primaryKey" json:"id"`
	TicketID uint64    `gorm:"index;not null" json:"ticket_id"`
	UserID   string    `gorm:"type:varchar(32);not null" json:"user_id"`
	AddedBy  string    `gorm:"type:varchar(32);not null" json:"added_by"`
	AddedAt  time.Time `json:"added_at"`
	Removed  bool      `json:"removed"`
}
