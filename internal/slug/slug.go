package slug

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// FromRiotID derives the unique, URL-safe slug for a roster entry from
// its identity string and region. Deterministic for a given input.
func FromRiotID(riotID, region string) string {
	base := strings.ToLower(strings.TrimSpace(riotID + "-" + region))
	base = strings.ReplaceAll(base, "#", "-")
	base = nonAlnum.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")

	if base == "" {
		return fmt.Sprintf("player-%d", time.Now().UnixMilli())
	}
	return base
}
