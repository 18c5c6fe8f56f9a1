package transcript

import (
	"regexp"
	"strconv"
	"strings"
)

// RenderMarkdown переводит ограниченное подмножество разметки в безопасный
// HTML: жирный, курсив, подчёркивание, зачёркивание, блочный и строчный код,
// цитата, плейсхолдеры упоминаний, переводы строк. Весь литеральный текст
// экранируется до подстановок; неизвестная разметка не проходит. Функция
// идемпотентна: применение к собственному результату не меняет видимый текст.
// Уже отрендеренные фрагменты узнаются по точной форме вывода и защищаются
// целиком, всё прочее с '<' экранируется.
func RenderMarkdown(s string) string {
	p := &protector{}
	keep := func(m string) string { return m }

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	// NUL зарезервирован под плейсхолдеры защищённых фрагментов
	s = strings.ReplaceAll(s, "\x00", "")

	// Фрагменты повторного прохода. Код узнаётся по интерьеру без сырого '<'
	// (рендер всегда экранирует содержимое кода), упоминание — только @id/#id.
	s = protectRe(p, s, renderedPreRe, keep)
	s = protectRe(p, s, renderedCodeRe, keep)
	s = protectRe(p, s, renderedMentionRe, keep)
	s = protectRe(p, s, renderedBrRe, keep)

	// Код извлекается до экранирования: внутри нет ни разметки, ни цитат.
	s = protectRe(p, s, fencedRe, func(m string) string {
		inner := fencedRe.FindStringSubmatch(m)[1]
		return "<pre><code>" + escapeText(inner) + "</code></pre>"
	})
	s = protectRe(p, s, inlineCodeRe, func(m string) string {
		inner := inlineCodeRe.FindStringSubmatch(m)[1]
		return "<code>" + escapeText(inner) + "</code>"
	})

	// Парные строчные теги собственного вывода, от внутренних к внешним.
	// Строго после извлечения кода: сырой тег в backticks — литеральный текст.
	for {
		changed := false
		for _, re := range renderedPairRes {
			next := protectRe(p, s, re, keep)
			if next != s {
				changed = true
				s = next
			}
		}
		if !changed {
			break
		}
	}

	// Упоминания пользователей и каналов — обобщённые плейсхолдеры.
	s = protectRe(p, s, userMentionRe, func(m string) string {
		id := userMentionRe.FindStringSubmatch(m)[1]
		return `<span class="mention">@` + id + `</span>`
	})
	s = protectRe(p, s, channelMentionRe, func(m string) string {
		id := channelMentionRe.FindStringSubmatch(m)[1]
		return `<span class="mention">#` + id + `</span>`
	})

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		quoted := false
		switch {
		case strings.HasPrefix(line, "> "):
			quoted = true
			line = line[2:]
		case line == ">":
			quoted = true
			line = ""
		}
		line = escapeText(line)
		line = boldRe.ReplaceAllString(line, "<strong>$1</strong>")
		line = underlineRe.ReplaceAllString(line, "<u>$1</u>")
		line = italicStarRe.ReplaceAllString(line, "<em>$1</em>")
		line = italicUnderRe.ReplaceAllString(line, "<em>$1</em>")
		line = strikeRe.ReplaceAllString(line, "<s>$1</s>")
		if quoted {
			line = "<blockquote>" + line + "</blockquote>"
		}
		lines[i] = line
	}
	s = strings.Join(lines, "<br>")

	return p.restore(s)
}

var (
	renderedPreRe     = regexp.MustCompile(`<pre><code>[^<]*</code></pre>`)
	renderedCodeRe    = regexp.MustCompile(`<code>[^<]*</code>`)
	renderedMentionRe = regexp.MustCompile(`<span class="mention">[@#][0-9]+</span>`)
	renderedBrRe      = regexp.MustCompile(`<br>`)

	// Интерьер без '<': вложенные пары сворачиваются циклом защиты.
	renderedPairRes = []*regexp.Regexp{
		regexp.MustCompile(`<strong>[^<]*</strong>`),
		regexp.MustCompile(`<em>[^<]*</em>`),
		regexp.MustCompile(`<u>[^<]*</u>`),
		regexp.MustCompile(`<s>[^<]*</s>`),
		regexp.MustCompile(`<blockquote>[^<]*</blockquote>`),
	}

	fencedRe         = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9]*\n)?(.*?)```")
	inlineCodeRe     = regexp.MustCompile("`([^`\n]+)`")
	userMentionRe    = regexp.MustCompile(`<@!?([0-9]+)>`)
	channelMentionRe = regexp.MustCompile(`<#([0-9]+)>`)

	boldRe        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underlineRe   = regexp.MustCompile(`__(.+?)__`)
	italicStarRe  = regexp.MustCompile(`\*([^*]+)\*`)
	italicUnderRe = regexp.MustCompile(`_([^_]+)_`)
	strikeRe      = regexp.MustCompile(`~~(.+?)~~`)

	// Сущности, которые экранирование не удваивает.
	entityRe = regexp.MustCompile(`^&(amp|lt|gt|quot|#[0-9]{1,6});`)
)

// escapeText экранирует литеральный текст, не удваивая уже существующие
// сущности.
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		switch s[i] {
		case '&':
			if entityRe.MatchString(s[i:]) {
				b.WriteByte('&')
			} else {
				b.WriteString("&amp;")
			}
			i++
		case '<':
			b.WriteString("&lt;")
			i++
		case '>':
			b.WriteString("&gt;")
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

// protector временно заменяет фрагменты на NUL-плейсхолдеры, чтобы
// экранирование и подстановки их не трогали.
type protector struct {
	values []string
}

func (p *protector) add(v string) string {
	p.values = append(p.values, v)
	return "\x00" + strconv.Itoa(len(p.values)-1) + "\x00"
}

func (p *protector) restore(s string) string {
	for i := len(p.values) - 1; i >= 0; i-- {
		s = strings.ReplaceAll(s, "\x00"+strconv.Itoa(i)+"\x00", p.values[i])
	}
	return s
}

func protectRe(p *protector, s string, re *regexp.Regexp, render func(string) string) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		return p.add(render(m))
	})
}
