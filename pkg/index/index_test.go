package index

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/uploadoor/pkg/classify"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want string
	}{
		{name: "zero", in: 0, want: "  0 B"},
		{name: "bytes", in: 512, want: "512 B"},
		{name: "just below KiB", in: 1023, want: "1023 B"},
		{name: "one KiB", in: 1024, want: "1.0 KiB"},
		{name: "fractional KiB", in: 1536, want: "1.5 KiB"},
		{name: "one MiB", in: 1 << 20, want: "1.0 MiB"},
		{name: "one GiB", in: 1 << 30, want: "1.0 GiB"},
		{name: "one EiB", in: 1 << 60, want: "1.0 EiB"},
		{name: "max int64", in: math.MaxInt64, want: "8.0 EiB"},
		{name: "negative bytes", in: -5, want: " -5 B"},
		{name: "negative KiB", in: -2048, want: "-2.0 KiB"},
		{name: "min int64", in: math.MinInt64, want: "-8.0 EiB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatSize(tt.in))
		})
	}
}

func TestPageStart(t *testing.T) {
	html := PageStart("test_prefix")

	assert.Contains(t, html, "<title>Index of test_prefix</title>")
	assert.Contains(t, html, "<h1>Index of test_prefix</h1>")
}

func TestFileRow(t *testing.T) {
	modified := time.Date(2024, 3, 1, 12, 30, 45, 0, time.FixedZone("CET", 3600))

	html := FileRow(FileRecord{
		Name:        "test_filename.log",
		Modified:    modified,
		Size:        1024,
		ContentType: classify.TypeTextPlain,
	})

	assert.Contains(t, html, `<a href="test_filename.log">test_filename.log</a>`)
	assert.Contains(t, html, "2024-03-01 11:30:45", "modified time is rendered in UTC")
	assert.Contains(t, html, "1.0 KiB")
	assert.Contains(t, html, IconPath+classify.IconText)
}

func TestFileRow_Href(t *testing.T) {
	tests := []struct {
		name string
		file string
		want string
	}{
		{name: "plain", file: "run_tests.log", want: `<a href="run_tests.log">run_tests.log</a>`},
		{name: "timestamped", file: "2024-01-01T10:00:00.log", want: `<a href="2024-01-01T10%3A00%3A00.log">2024-01-01T10:00:00.log</a>`},
		{name: "scheme like", file: "javascript:alert(1)", want: `<a href="javascript%3Aalert%281%29">javascript:alert(1)</a>`},
		{name: "space", file: "my file.txt", want: `<a href="my%20file.txt">my file.txt</a>`},
		{name: "percent", file: "50%.txt", want: `<a href="50%25.txt">50%.txt</a>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := FileRow(FileRecord{Name: tt.file})

			assert.Contains(t, html, tt.want)
			assert.NotContains(t, html, "ZgotmplZ")
		})
	}
}

func TestFileRow_EscapesName(t *testing.T) {
	html := FileRow(FileRecord{Name: "<script>.dat"})

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, IconPath+classify.IconBlank)
}

func TestDirRow(t *testing.T) {
	tests := []struct {
		name        string
		location    string
		displayName string
		want        string
	}{
		{name: "parent", location: "/run1/logs", displayName: ParentDirName, want: `<a href="/run1/logs/index.html">Parent directory</a>`},
		{name: "container root", location: "", displayName: ParentDirName, want: `<a href="/index.html">Parent directory</a>`},
		{name: "child", location: "sub", displayName: "sub", want: `<a href="sub/index.html">sub</a>`},
		{name: "colon child", location: "host:8080", displayName: "host:8080", want: `<a href="host%3A8080/index.html">host:8080</a>`},
		{name: "colon parent", location: "/ci/node:1", displayName: ParentDirName, want: `<a href="/ci/node%3A1/index.html">Parent directory</a>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := DirRow(tt.location, tt.displayName)

			assert.Contains(t, html, tt.want)
			assert.Contains(t, html, IconPath+classify.IconFolder)
			assert.NotContains(t, html, "ZgotmplZ")
		})
	}
}

func TestPage_Empty(t *testing.T) {
	page := NewPage("p")
	out := string(page.Bytes())

	start := PageStart("p")
	end := PageEnd()

	assert.Equal(t, start+end, out)
	assert.Equal(t, 0, page.Len())
	assert.Equal(t, "p", page.Prefix())
}

func TestPage_RowsInInsertionOrder(t *testing.T) {
	page := NewPage("run1")
	page.Add(FileRow(FileRecord{Name: "b.txt"}))
	page.Add(FileRow(FileRecord{Name: "a.txt"}))

	out := string(page.Bytes())

	require.Equal(t, 2, page.Len())
	assert.Less(t, strings.Index(out, "b.txt"), strings.Index(out, "a.txt"))
	assert.True(t, strings.HasPrefix(out, PageStart("run1")))
	assert.True(t, strings.HasSuffix(out, PageEnd()))
}
