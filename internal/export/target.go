package export

import (
	"fmt"
	"strings"
)

// Target names where an export goes: a direct download or one platform
// placement such as "instagram-stories".
type Target struct {
	Download  bool
	Platform  string
	Placement string
}

func (t Target) String() string {
	if t.Download {
		return "download"
	}
	return t.Platform + "-" + t.Placement
}

// ParseTarget parses the wire form of a target. Platform targets must name
// an explicit placement; whether the pair exists is decided later at the
// platform spec registry, never by defaulting here.
func ParseTarget(raw string) (Target, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "download" {
		return Target{Download: true}, nil
	}
	platform, placement, ok := strings.Cut(raw, "-")
	if !ok || platform == "" || placement == "" {
		return Target{}, fmt.Errorf("invalid export target %q: want download or <platform>-<placement>", raw)
	}
	return Target{Platform: platform, Placement: placement}, nil
}
