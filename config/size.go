package config

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/docker/go-units"
)

// <integer><unit>? with unit one of B,K,M,G,T,P,E,Z,Y and an optional iB/B tail.
var sizePattern = regexp.MustCompile(`(?i)^(\d+)\s*(?:(b)|([kmgtpezy])(?:i?b)?)?$`)

// ParseSize parses a byte size such as "100MB", "1KiB", "512k" or "4096".
// Units are base 1024 and case-insensitive; a bare integer is bytes.
func ParseSize(s string) (int64, error) {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, errs.InvalidArgument("size %q: expected <integer>[B|K|M|G|T|P|E|Z|Y]", s)
	}

	digits, unit := m[1], strings.ToLower(m[3])
	switch unit {
	case "":
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, errs.InvalidArgument("size %q: %w", s, err)
		}
		return n, nil
	case "e", "z", "y":
		return parseLargeUnit(s, digits, unit)
	default:
		n, err := units.RAMInBytes(digits + unit)
		if err != nil {
			return 0, errs.InvalidArgument("size %q: %w", s, err)
		}
		if n < 0 {
			return 0, errs.InvalidArgument("size %q overflows int64", s)
		}
		return n, nil
	}
}

// parseLargeUnit handles the units go-units does not know about. Z and Y only
// fit into int64 for zero.
func parseLargeUnit(s, digits, unit string) (int64, error) {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, errs.InvalidArgument("size %q: %w", s, err)
	}
	if n == 0 {
		return 0, nil
	}
	if unit != "e" || n > math.MaxInt64>>60 {
		return 0, errs.InvalidArgument("size %q overflows int64", s)
	}
	return n << 60, nil
}

// HumanSize formats a byte count for log lines.
func HumanSize(n int64) string {
	return units.BytesSize(float64(n))
}
