package download

import (
	"regexp"
	"strings"

	"github.com/bitrise-io/gfile/internal/errs"
)

// DefaultSharePattern matches share page URLs. The first group is the file id.
var DefaultSharePattern = regexp.MustCompile(`^https?://\d+?\.gigafile\.nu/([a-z0-9-]+)$`)

// Target is a parsed share URL.
type Target struct {
	ShareURL  string
	FileID    string
	DirectURL string
}

// ParseShareURL validates shareURL against pattern and derives the direct
// download URL from it.
func ParseShareURL(shareURL string, pattern *regexp.Regexp) (Target, error) {
	if pattern == nil {
		pattern = DefaultSharePattern
	}
	m := pattern.FindStringSubmatch(shareURL)
	if m == nil || m[1] == "" {
		return Target{}, errs.InvalidArgument("not a share URL: %s", shareURL)
	}

	id := m[1]
	base := strings.TrimSuffix(shareURL, id)
	return Target{
		ShareURL:  shareURL,
		FileID:    id,
		DirectURL: base + "download.php?file=" + id,
	}, nil
}
