package export

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

const renditionWidth = 1080

// buildRenditions crops the preview image to every required aspect ratio and
// returns encoded JPEGs keyed by ratio. Video previews are skipped; the
// render backend already produces them in the requested format.
func buildRenditions(media []byte, ratios []string) (map[string][]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(media))
	if err != nil {
		return nil, fmt.Errorf("decode preview: %w", err)
	}

	out := make(map[string][]byte, len(ratios))
	for _, ratio := range ratios {
		w, h, err := parseRatio(ratio)
		if err != nil {
			return nil, err
		}
		height := renditionWidth * h / w
		cropped := imaging.Fill(src, renditionWidth, height, imaging.Center, imaging.Lanczos)

		buf := &bytes.Buffer{}
		if err := imaging.Encode(buf, cropped, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			return nil, fmt.Errorf("encode %s rendition: %w", ratio, err)
		}
		out[ratio] = buf.Bytes()
	}
	return out, nil
}

// parseRatio splits "4:5" into its integer parts.
func parseRatio(ratio string) (int, int, error) {
	parts := strings.SplitN(ratio, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed aspect ratio %q", ratio)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("malformed aspect ratio %q", ratio)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("malformed aspect ratio %q", ratio)
	}
	return w, h, nil
}

// ratioKey turns "9:16" into a filename-safe "9x16".
func ratioKey(ratio string) string {
	return strings.ReplaceAll(ratio, ":", "x")
}
