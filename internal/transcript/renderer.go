package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/psds-microservice/ticket-desk/internal/errs"
	"github.com/psds-microservice/ticket-desk/internal/model"
)

// Options — режим рендеринга транскрипта.
type Options struct {
	// Staff — транскрипт по содержимому staff-треда, а не основного канала.
	Staff bool
}

// Document — готовый транскрипт: самодостаточный HTML без внешних скриптов.
// Для одинакового лога сообщений рендер байт-в-байт одинаков.
type Document struct {
	FileName     string
	HTML         []byte
	MessageCount int
}

var docTmpl = template.Must(template.New("transcript").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>{{.Title}}</title>
  <style>
    body{font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial; margin:0; color:#dcddde; background:#36393f}
    .header{padding:18px 24px; background:#2f3136; border-bottom:1px solid #202225}
    .header h1{font-size:18px; margin:0 0 8px 0; color:#ffffff}
    .meta{display:flex; flex-wrap:wrap; gap:8px}
    .pill{display:inline-block; padding:3px 10px; border-radius:999px; font-size:12px; background:#202225; color:#b9bbbe}
    .staff{background:#5c2b2b; color:#f0b5b5}
    .log{max-width:960px; margin:0 auto; padding:16px 24px}
    .msg{display:flex; gap:14px; padding:10px 0; border-bottom:1px solid #32353b}
    .msg:last-child{border-bottom:none}
    .avatar{width:40px; height:40px; border-radius:50%; flex:none; background:#202225; object-fit:cover}
    .avatar.stub{display:flex; align-items:center; justify-content:center; color:#72767d; font-size:16px}
    .head{display:flex; gap:8px; align-items:baseline}
    .name{font-weight:600; color:#ffffff; font-size:14px}
    .ts{font-size:11px; color:#72767d}
    .edited{font-size:10px; color:#72767d; font-style:italic}
    .content{font-size:14px; line-height:1.45; word-wrap:break-word}
    .content code{background:#2f3136; padding:2px 5px; border-radius:4px; font-size:85%}
    .content pre{background:#2f3136; padding:8px; border-radius:6px; overflow-x:auto}
    .content pre code{background:none; padding:0}
    .content blockquote{border-left:4px solid #4f545c; margin:2px 0; padding:0 8px; color:#b9bbbe; display:inline-block}
    .mention{background:#3b405a; color:#c9cdfb; border-radius:3px; padding:0 3px}
    .embed{border-left:4px solid #4f545c; background:#2f3136; border-radius:4px; padding:10px 12px; margin-top:6px; max-width:520px}
    .embed .etitle{font-weight:600; color:#ffffff; font-size:14px; margin-bottom:4px}
    .embed .edesc{font-size:13px; color:#dcddde; margin-bottom:6px}
    .embed .efield{margin-bottom:6px}
    .embed .efield .fname{font-weight:600; font-size:12px; color:#ffffff}
    .embed .efield .fvalue{font-size:13px; color:#dcddde; white-space:pre-wrap}
    .embed .efooter{font-size:11px; color:#72767d; margin-top:4px}
    .embed .ethumb{float:right; max-width:64px; max-height:64px; border-radius:4px}
    .footer{text-align:center; font-size:11px; color:#72767d; padding:14px}
  </style>
</head>
<body>
  <div class="header">
    <h1>{{.Title}}</h1>
    <div class="meta">
      <span class="pill">Category: {{.Category}}</span>
      <span class="pill">Requester: {{.Requester}} ({{.RequesterID}})</span>
      <span class="pill">Opened: {{.Opened}}</span>
      {{if .Closed}}<span class="pill">Closed: {{.Closed}}</span>{{end}}
      <span class="pill">Messages: {{.Count}}</span>
      {{if .Staff}}<span class="pill staff">STAFF ONLY</span>{{end}}
    </div>
  </div>
  <div class="log">
    {{range .Messages}}<div class="msg">
      {{if .Avatar}}<img class="avatar" src="{{.Avatar}}" alt=""/>{{else}}<div class="avatar stub">@</div>{{end}}
      <div>
        <div class="head">
          <span class="name">{{.Name}}</span>
          <span class="ts">{{.Timestamp}}</span>
          {{if .Edited}}<span class="edited">(edited)</span>{{end}}
        </div>
        {{if .Content}}<div class="content">{{.Content}}</div>{{end}}
        {{range .Embeds}}<div class="embed">
          {{if .Thumbnail}}<img class="ethumb" src="{{.Thumbnail}}" alt=""/>{{end}}
          {{if .Title}}<div class="etitle">{{.Title}}</div>{{end}}
          {{if .Description}}<div class="edesc">{{.Description}}</div>{{end}}
          {{range .Fields}}<div class="efield"><div class="fname">{{.Name}}</div><div class="fvalue">{{.Value}}</div></div>{{end}}
          {{if .Footer}}<div class="efooter">{{.Footer}}</div>{{end}}
        </div>{{end}}
      </div>
    </div>
    {{end}}
  </div>
  <div class="footer">Ticket #{{.TicketID}} transcript</div>
</body>
</html>`))

type fieldView struct {
	Name  string
	Value template.HTML
}

type embedView struct {
	Title       string
	Description template.HTML
	Fields      []fieldView
	Footer      string
	Thumbnail   string
}

type msgView struct {
	Avatar    string
	Name      string
	Timestamp string
	Edited    bool
	Content   template.HTML
	Embeds    []embedView
}

type docData struct {
	Title       string
	TicketID    uint64
	Category    string
	Requester   string
	RequesterID string
	Opened      string
	Closed      string
	Staff       bool
	Count       int
	Messages    []msgView
}

func formatStamp(t time.Time) string {
	return t.UTC().Format("02 Jan 2006 15:04:05 UTC")
}

// Render строит транскрипт из лога сообщений. Сообщения сортируются по
// sent_at (канонический порядок); крайние синтетические rich-only маркеры
// (записи открытия/закрытия) отбрасываются, всё остальное сохраняется.
func Render(t *model.Ticket, categoryName string, msgs []model.TicketMessage, opts Options) (*Document, error) {
	ordered := make([]model.TicketMessage, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].SentAt.Equal(ordered[j].SentAt) {
			return ordered[i].SentAt.Before(ordered[j].SentAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	if len(ordered) > 0 && RichOnly(ordered[0].Content) {
		ordered = ordered[1:]
	}
	if len(ordered) > 0 && RichOnly(ordered[len(ordered)-1].Content) {
		ordered = ordered[:len(ordered)-1]
	}

	data := docData{
		TicketID:    t.ID,
		Category:    categoryName,
		Requester:   t.UserDisplayName,
		RequesterID: t.UserID,
		Opened:      formatStamp(t.OpenedAt),
		Staff:       opts.Staff,
		Count:       len(ordered),
	}
	if opts.Staff {
		data.Title = fmt.Sprintf("Ticket #%d — staff thread", t.ID)
	} else {
		data.Title = fmt.Sprintf("Ticket #%d — %s", t.ID, categoryName)
	}
	if t.ClosedAt != nil {
		data.Closed = formatStamp(*t.ClosedAt)
	}

	for _, m := range ordered {
		plain, embeds := SplitEmbeds(m.Content)
		mv := msgView{
			Avatar:    m.Avatar,
			Name:      m.DisplayName,
			Timestamp: formatStamp(m.SentAt),
			Edited:    m.EditedAt != nil,
			Content:   template.HTML(RenderMarkdown(plain)),
		}
		for _, e := range embeds {
			ev := embedView{
				Title:       e.Title,
				Description: template.HTML(RenderMarkdown(e.Description)),
				Footer:      e.Footer,
				Thumbnail:   e.Thumbnail,
			}
			for _, f := range e.Fields {
				ev.Fields = append(ev.Fields, fieldView{
					Name:  f.Name,
					Value: template.HTML(RenderMarkdown(f.Value)),
				})
			}
			mv.Embeds = append(mv.Embeds, ev)
		}
		data.Messages = append(data.Messages, mv)
	}

	var buf bytes.Buffer
	if err := docTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTranscriptFailed, err)
	}

	name := fmt.Sprintf("ticket-%d.html", t.ID)
	if opts.Staff {
		name = fmt.Sprintf("ticket-%d-staff.html", t.ID)
	}
	return &Document{FileName: name, HTML: buf.Bytes(), MessageCount: len(ordered)}, nil
}
