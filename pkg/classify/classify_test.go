package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncoding(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "filename.txt", want: ""},
		{name: "filename", want: ""},
		{name: "filename.log", want: ""},
		{name: "filename.gzip", want: ""},
		{name: "filename.txt.gz", want: EncodingGzip},
		{name: "filename.gz", want: EncodingGzip},
		{name: "filename.log.gz", want: EncodingGzip},
		{name: "var/log/messages.1.gz", want: EncodingGzip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encoding(tt.name))
		})
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		// Compressed.
		{name: "filename.txt.gz", want: TypeTextPlain},
		{name: "filename.log.gz", want: TypeTextPlain},
		{name: "filename.conf.gz", want: TypeTextPlain},
		{name: "filename.sh.gz", want: TypeTextPlain},
		{name: "filename.html.gz", want: TypeTextHTML},
		{name: "filename.dat.gz", want: ""},
		{name: "messages.1.gz", want: TypeTextPlain},
		{name: "SMlog.1.gz", want: TypeTextPlain},
		{name: "var/log/messages.1.gz", want: TypeTextPlain},
		{name: "var/log/SMlog.1.gz", want: TypeTextPlain},

		// Uncompressed.
		{name: "filename.txt", want: TypeTextPlain},
		{name: "filename.log", want: TypeTextPlain},
		{name: "filename.conf", want: TypeTextPlain},
		{name: "filename.sh", want: TypeTextPlain},
		{name: "filename.html", want: TypeTextHTML},
		{name: "filename.dat", want: ""},
		{name: "messages", want: TypeTextPlain},
		{name: "SMlog", want: TypeTextPlain},
		{name: "var/log/messages", want: TypeTextPlain},
		{name: "var/log/SMlog", want: TypeTextPlain},

		// Rotation suffixes and case.
		{name: "daemon.log.1", want: TypeTextPlain},
		{name: "daemon.log.2024-01-01.gz", want: TypeTextPlain},
		{name: "REPORT.HTML", want: TypeTextHTML},

		// Degenerate names never panic.
		{name: "", want: ""},
		{name: "gz", want: ""},
		{name: "1.gz", want: ""},
		{name: "dir/", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentType(tt.name))
		})
	}
}

func TestIcon(t *testing.T) {
	assert.Equal(t, IconText, Icon("run_tests.log"))
	assert.Equal(t, IconHTML, Icon("report.html.gz"))
	assert.Equal(t, IconBlank, Icon("core.dat"))
	assert.Equal(t, IconBlank, Icon("no-extension"))
}
