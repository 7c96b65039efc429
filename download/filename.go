package download

import (
	"mime"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	dispositionPattern = regexp.MustCompile(`filename="(.+?)"`)

	unsafeChars = strings.NewReplacer(
		`\`, "_",
		"/", "_",
		":", "_",
		"*", "_",
		"?", "_",
		`"`, "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
)

// FilenameFromDisposition extracts the file name from a Content-Disposition
// header value. RFC 2231 encoded names are decoded, as are percent-encoded
// quoted names with or without a UTF-8'' prefix. Raw header bytes that are
// not valid UTF-8 are read as Latin-1.
func FilenameFromDisposition(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return decodeName(name), true
		}
	}

	if m := dispositionPattern.FindStringSubmatch(header); m != nil {
		return decodeName(m[1]), true
	}
	return "", false
}

const utf8Prefix = "UTF-8''"

func decodeName(name string) string {
	if len(name) > len(utf8Prefix) && strings.EqualFold(name[:len(utf8Prefix)], utf8Prefix) {
		name = name[len(utf8Prefix):]
	}
	if strings.Contains(name, "%") {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	return decodeLatin1(name)
}

func decodeLatin1(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	runes := make([]rune, 0, len(s))
	for i := 0; i < len(s); i++ {
		runes = append(runes, rune(s[i]))
	}
	return string(runes)
}

// Sanitize replaces characters that are not allowed in file names on common
// file systems with underscores.
func Sanitize(name string) string {
	return unsafeChars.Replace(name)
}
