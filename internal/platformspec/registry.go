package platformspec

import (
	"fmt"
	"strings"
)

// Spec captures the technical constraints one platform placement enforces.
type Spec struct {
	AspectRatios       []string `json:"aspect_ratios"`
	MaxDurationSeconds int      `json:"max_duration_seconds"`
	MaxFileSizeMB      int      `json:"max_file_size_mb"`
	RecommendedCodec   string   `json:"recommended_codec"`
	RecommendedBitrate string   `json:"recommended_bitrate"`
}

// UnknownPlatformError reports a lookup for a platform/placement pair the
// registry does not carry. Exports never silently default past it.
type UnknownPlatformError struct {
	Platform  string
	Placement string
}

func (e *UnknownPlatformError) Error() string {
	return fmt.Sprintf("no platform spec for %s/%s", e.Platform, e.Placement)
}

type key struct {
	platform  string
	placement string
}

// Registry is the process-wide read-only table of platform specs. It is
// built once at startup and never mutated, so it is safe to share without
// locking; changing a spec means shipping a new table.
type Registry struct {
	table map[key]Spec
}

// New builds the registry with the shipped placement table.
func New() *Registry {
	r := &Registry{table: make(map[key]Spec)}
	add := func(platform, placement string, spec Spec) {
		r.table[key{platform, placement}] = spec
	}

	add("instagram", "feed", Spec{
		AspectRatios:       []string{"1:1", "4:5"},
		MaxDurationSeconds: 60,
		MaxFileSizeMB:      30,
		RecommendedCodec:   "h264",
		RecommendedBitrate: "3500kbps",
	})
	add("instagram", "stories", Spec{
		AspectRatios:       []string{"9:16"},
		MaxDurationSeconds: 60,
		MaxFileSizeMB:      30,
		RecommendedCodec:   "h264",
		RecommendedBitrate: "3500kbps",
	})
	add("instagram", "reels", Spec{
		AspectRatios:       []string{"9:16"},
		MaxDurationSeconds: 90,
		MaxFileSizeMB:      250,
		RecommendedCodec:   "h264",
		RecommendedBitrate: "5000kbps",
	})
	add("facebook", "feed", Spec{
		AspectRatios:       []string{"1:1", "4:5", "16:9"},
		MaxDurationSeconds: 240,
		MaxFileSizeMB:      150,
		RecommendedCodec:   "h264",
		RecommendedBitrate: "4000kbps",
	})
	add("facebook", "stories", Spec{
		AspectRatios:       []string{"9:16"},
		MaxDurationSeconds: 120,
		MaxFileSizeMB:      150,
		RecommendedCodec:   "h264",
		RecommendedBitrate: "4000kbps",
	})
	add("tiktok", "feed", Spec{
		AspectRatios:       []string{"9:16"},
		MaxDurationSeconds: 600,
		MaxFileSizeMB:      287,
		RecommendedCodec:   "h264",
		RecommendedBitrate: "6000kbps",
	})
	add("youtube", "shorts", Spec{
		AspectRatios:       []string{"9:16"},
		MaxDurationSeconds: 60,
		MaxFileSizeMB:      256,
		RecommendedCodec:   "h264",
		RecommendedBitrate: "8000kbps",
	})
	add("linkedin", "feed", Spec{
		AspectRatios:       []string{"1:1", "16:9"},
		MaxDurationSeconds: 600,
		MaxFileSizeMB:      200,
		RecommendedCodec:   "h264",
		RecommendedBitrate: "5000kbps",
	})

	return r
}

// Resolve looks up one placement spec.
func (r *Registry) Resolve(platform, placement string) (Spec, error) {
	k := key{strings.ToLower(platform), strings.ToLower(placement)}
	spec, ok := r.table[k]
	if !ok {
		return Spec{}, &UnknownPlatformError{Platform: platform, Placement: placement}
	}
	return spec, nil
}

// RequiredFormats resolves the aspect-ratio set for a placement. An explicit
// override list for the platform replaces the default set entirely.
func (r *Registry) RequiredFormats(platform, placement string, overrides map[string][]string) ([]string, error) {
	spec, err := r.Resolve(platform, placement)
	if err != nil {
		return nil, err
	}
	if formats, ok := overrides[strings.ToLower(platform)]; ok && len(formats) > 0 {
		return formats, nil
	}
	return spec.AspectRatios, nil
}
