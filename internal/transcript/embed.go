// Package transcript превращает лог сообщений тикета в самодостаточный
// HTML-документ: детерминированный рендер, внутристрочные rich-блоки,
// ограниченное подмножество разметки с экранированием.
package transcript

import (
	"encoding/json"
	"strings"

	"github.com/psds-microservice/ticket-desk/internal/platform"
)

// Внутристрочный маркер сериализованных rich-блоков в content сообщения.
const (
	embedOpen  = "[embed]"
	embedClose = "[/embed]"
)

// EncodeEmbeds сериализует rich-блоки в содержимое сообщения лога.
// Обратная операция — SplitEmbeds.
func EncodeEmbeds(embeds []platform.Embed) string {
	var b strings.Builder
	for _, e := range embeds {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		b.WriteString(embedOpen)
		b.Write(data)
		b.WriteString(embedClose)
	}
	return b.String()
}

// SplitEmbeds извлекает rich-блоки и возвращает остаток простого текста
// плюс блоки в порядке появления. Блок с битым JSON отбрасывается целиком,
// его содержимое не протекает в текст.
func SplitEmbeds(content string) (string, []platform.Embed) {
	var embeds []platform.Embed
	var plain strings.Builder
	rest := content
	for {
		i := strings.Index(rest, embedOpen)
		if i < 0 {
			plain.WriteString(rest)
			break
		}
		j := strings.Index(rest[i+len(embedOpen):], embedClose)
		if j < 0 {
			plain.WriteString(rest)
			break
		}
		plain.WriteString(rest[:i])
		raw := rest[i+len(embedOpen) : i+len(embedOpen)+j]
		var e platform.Embed
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			embeds = append(embeds, e)
		}
		rest = rest[i+len(embedOpen)+j+len(embedClose):]
	}
	return plain.String(), embeds
}

// RichOnly — состоит ли сообщение только из rich-блоков. Такие сообщения —
// служебные маркеры открытия/закрытия тикета; рендер выбрасывает их с
// краёв транскрипта.
func RichOnly(content string) bool {
	plain, embeds := SplitEmbeds(content)
	return len(embeds) > 0 && strings.TrimSpace(plain) == ""
}
