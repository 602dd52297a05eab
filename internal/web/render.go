package web

import (
	"bytes"
	"embed"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"time"

	appLog "signupboard/internal/log"
	"signupboard/internal/ui"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

// pages holds one template set per page; each set shares base.html.
type pages struct {
	index   *template.Template
	confirm *template.Template
}

type indexData struct {
	ui.View
	// RefreshAfter is how many seconds the browser waits before re-fetching
	// the board so an expired message disappears.
	RefreshAfter int
}

type confirmData struct {
	Prompt   string
	Activity string
	Email    string
}

func mustParsePages(loc *time.Location) *pages {
	funcs := template.FuncMap{
		"formatSession": func(t time.Time) string {
			return t.In(loc).Format("Mon Jan 2, 3:04 PM")
		},
		"unregisterURL": func(activity, email string) template.URL {
			q := url.Values{"activity": {activity}, "email": {email}}
			return template.URL("/unregister?" + q.Encode())
		},
	}
	parse := func(page string) *template.Template {
		return template.Must(template.New("base.html").Funcs(funcs).ParseFS(embeddedTemplates, "templates/base.html", "templates/"+page))
	}
	return &pages{
		index:   parse("index.html"),
		confirm: parse("confirm.html"),
	}
}

func (p *pages) renderIndex(w http.ResponseWriter, v ui.View, now time.Time) {
	data := indexData{View: v}
	if v.Message.Visible() {
		data.RefreshAfter = max(1, int(math.Ceil(v.Message.HideAt.Sub(now).Seconds())))
	}
	render(w, p.index, data)
}

func (p *pages) renderConfirm(w http.ResponseWriter, d confirmData) {
	render(w, p.confirm, d)
}

// render executes into a buffer first so a template error never leaves a
// half-written page behind a 200.
func render(w http.ResponseWriter, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base.html", data); err != nil {
		appLog.Error("template render failed", err, "template", t.Name())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
