// Package index renders the browsable HTML index pages stored next to every
// uploaded directory.
package index

import (
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/ethpandaops/uploadoor/pkg/classify"
)

// ModifiedLayout is the UTC timestamp layout used in file rows.
const ModifiedLayout = "2006-01-02 15:04:05"

// IconPath is the URL path the icons are served from.
const IconPath = "/apaxy/icons/"

// ParentDirName is the display name of the synthetic parent directory row.
const ParentDirName = "Parent directory"

var (
	pageStartTmpl = template.Must(template.New("start").Parse(`
<html>
 <head>
  <title>Index of {{.Prefix}}</title>
 </head>
 <body>
  <h1>Index of {{.Prefix}}</h1>
  <table cellspacing="2">
  <tr><th></th><th>Name</th><th>Last Modified</th><th>Size</th></tr>
`))

	fileRowTmpl = template.Must(template.New("file").Parse(`
  <tr><td><img src="{{.IconPath}}{{.Icon}}"></td><td><a href="{{.Href}}">{{.Filename}}</a></td><td>{{.Modified}}</td><td>{{.Size}}</td></tr>
`))

	dirRowTmpl = template.Must(template.New("dir").Parse(`
  <tr><td><img src="{{.IconPath}}{{.Icon}}"></td><td><a href="{{.Href}}">{{.DisplayName}}</a></td><td>-</td><td>-</td></tr>
`))

	pageEndTmpl = template.Must(template.New("end").Parse(`  </table>
 </body>
</html>
`))
)

// FileRecord describes one file row of an index page.
type FileRecord struct {
	Name            string
	Modified        time.Time
	Size            int64
	ContentType     string
	ContentEncoding string
}

type pageStartData struct {
	Prefix string
}

type fileRowData struct {
	IconPath string
	Icon     string
	Href     template.URL
	Filename string
	Modified string
	Size     string
}

type dirRowData struct {
	IconPath    string
	Icon        string
	Href        template.URL
	DisplayName string
}

// PageStart renders the header of the index page for prefix.
func PageStart(prefix string) string {
	return execute(pageStartTmpl, pageStartData{Prefix: prefix})
}

// FileRow renders a row linking to a file, with its icon, modification time
// and human-readable size.
func FileRow(rec FileRecord) string {
	return execute(fileRowTmpl, fileRowData{
		IconPath: IconPath,
		Icon:     classify.IconForType(rec.ContentType),
		Href:     escapePath(rec.Name),
		Filename: rec.Name,
		Modified: rec.Modified.UTC().Format(ModifiedLayout),
		Size:     FormatSize(rec.Size),
	})
}

// DirRow renders a row linking to location/index.html.
func DirRow(location, displayName string) string {
	return execute(dirRowTmpl, dirRowData{
		IconPath:    IconPath,
		Icon:        classify.IconFolder,
		Href:        escapePath(location) + "/" + FileName,
		DisplayName: displayName,
	})
}

// escapePath percent-encodes every segment of a slash separated path. Colons
// are encoded too so a name like "host:8080" is never read as a URL scheme.
func escapePath(p string) template.URL {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(url.PathEscape(seg), ":", "%3A")
	}

	//nolint:gosec // Every segment is percent-encoded above.
	return template.URL(strings.Join(segments, "/"))
}

// PageEnd renders the closing markup of an index page.
func PageEnd() string {
	return execute(pageEndTmpl, nil)
}

// execute runs one of the package templates. They are parsed at init and
// only ever fed the structs above, so an execution error is a bug.
func execute(t *template.Template, data any) string {
	var sb strings.Builder

	if err := t.Execute(&sb, data); err != nil {
		panic("index: rendering " + t.Name() + ": " + err.Error())
	}

	return sb.String()
}
