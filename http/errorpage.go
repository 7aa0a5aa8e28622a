package http

import (
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

var pageFuncs = template.FuncMap{
	"bytes": func(n int64) string { return humanize.Bytes(uint64(max(n, 0))) },
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return humanize.Time(t)
	},
}

var pageTemplates = template.Must(template.New("pages").Funcs(pageFuncs).Parse(`
{{define "head"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
{{if .NoIndex}}<meta name="robots" content="noindex, nofollow">{{end}}
<title>{{.Title}}</title>
</head>
<body>
{{end}}

{{define "foot"}}<hr><center>stowdrive</center>
</body>
</html>
{{end}}

{{define "error"}}{{template "head" .}}<center><h1>{{.Title}}</h1></center>
{{template "foot" .}}{{end}}

{{define "listing"}}{{template "head" .}}<h1>{{.Title}}</h1>
{{with .Description}}<p>{{.}}</p>{{end}}
{{if .Entries}}<table>
<tr><th>Name</th><th>Size</th><th>Modified</th></tr>
{{range .Entries}}<tr><td><a href="{{.Href}}">{{.Name}}</a></td><td>{{if not .Dir}}{{bytes .Size}}{{end}}</td><td>{{ago .Modified}}</td></tr>
{{end}}</table>{{end}}
{{template "foot" .}}{{end}}
`))

type pageEntry struct {
	Name     string
	Href     string
	Dir      bool
	Size     int64
	Modified time.Time
}

type pageData struct {
	Title       string
	Description string
	NoIndex     bool
	Entries     []pageEntry
}

func writeErrorPage(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	title := strconv.Itoa(status) + " " + http.StatusText(status)
	_ = pageTemplates.ExecuteTemplate(w, "error", pageData{Title: title, NoIndex: true})
}

func writeListingPage(w http.ResponseWriter, r *http.Request, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if data.NoIndex {
		w.Header().Set("X-Robots-Tag", "noindex")
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_ = pageTemplates.ExecuteTemplate(w, "listing", data)
}
