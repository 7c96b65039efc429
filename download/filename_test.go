package download

import (
	"testing"

	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameFromDisposition(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{name: "quoted", header: `attachment; filename="report.pdf"`, want: "report.pdf", wantOK: true},
		{name: "percent-encoded UTF-8", header: `attachment; filename*=UTF-8''%E5%86%99%E7%9C%9F.jpg`, want: "写真.jpg", wantOK: true},
		{name: "quoted with UTF-8 prefix", header: `attachment; filename="UTF-8''%E5%86%99%E7%9C%9F.jpg";`, want: "写真.jpg", wantOK: true},
		{name: "quoted percent-encoded", header: `attachment; filename="%E5%86%99%E7%9C%9F.jpg";`, want: "写真.jpg", wantOK: true},
		{name: "lowercase prefix", header: `attachment; filename="utf-8''%E5%86%99%E7%9C%9F.jpg"`, want: "写真.jpg", wantOK: true},
		{name: "literal percent sign", header: `attachment; filename="100% done.txt"`, want: "100% done.txt", wantOK: true},
		{name: "raw UTF-8", header: `attachment; filename="写真.jpg"`, want: "写真.jpg", wantOK: true},
		{name: "Latin-1 bytes", header: "attachment; filename=\"caf\xe9.txt\"", want: "café.txt", wantOK: true},
		{name: "malformed parameters", header: `attachment; filename="notes.txt"; junk`, want: "notes.txt", wantOK: true},
		{name: "no file name", header: "inline", wantOK: false},
		{name: "empty", header: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FilenameFromDisposition(tt.header)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a_b_c_d_e_f_g_h_i_j", Sanitize(`a\b/c:d*e?f"g<h>i|j`))
	assert.Equal(t, "plain name.tar.zst", Sanitize("plain name.tar.zst"))
}

func TestParseShareURL(t *testing.T) {
	target, err := ParseShareURL("https://46.gigafile.nu/1017-b1c2d3e4", nil)
	require.NoError(t, err)
	assert.Equal(t, "1017-b1c2d3e4", target.FileID)
	assert.Equal(t, "https://46.gigafile.nu/download.php?file=1017-b1c2d3e4", target.DirectURL)

	for _, invalid := range []string{
		"",
		"/home/me/movie.mkv",
		"https://gigafile.nu/1017-b1c2d3e4",
		"https://46.gigafile.nu/UPPER",
		"https://46.gigafile.nu/1017-b1c2d3e4/extra",
		"ftp://46.gigafile.nu/1017-b1c2d3e4",
	} {
		_, err := ParseShareURL(invalid, nil)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument, invalid)
	}
}
