package export

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

const (
	sheetThumbWidth = 300
	sheetColumns    = 3
)

// buildContactSheet composes the decodable archive entries into a single
// thumbnail grid. Entries that do not decode as images (video files) are
// skipped; nil is returned when nothing decoded.
func buildContactSheet(entries [][]byte) []byte {
	var thumbs []image.Image
	maxThumbHeight := 0
	for _, body := range entries {
		src, _, err := image.Decode(bytes.NewReader(body))
		if err != nil {
			continue
		}
		if src.Bounds().Dx() == 0 || src.Bounds().Dy() == 0 {
			continue
		}
		height := src.Bounds().Dy() * sheetThumbWidth / src.Bounds().Dx()
		if height == 0 {
			height = sheetThumbWidth
		}
		thumb := image.NewRGBA(image.Rect(0, 0, sheetThumbWidth, height))
		draw.CatmullRom.Scale(thumb, thumb.Bounds(), src, src.Bounds(), draw.Over, nil)
		thumbs = append(thumbs, thumb)
		if height > maxThumbHeight {
			maxThumbHeight = height
		}
	}
	if len(thumbs) == 0 {
		return nil
	}

	cols := sheetColumns
	if len(thumbs) < cols {
		cols = len(thumbs)
	}
	rows := (len(thumbs) + cols - 1) / cols

	sheet := image.NewRGBA(image.Rect(0, 0, cols*sheetThumbWidth, rows*maxThumbHeight))
	for i, thumb := range thumbs {
		x := (i % cols) * sheetThumbWidth
		y := (i / cols) * maxThumbHeight
		draw.Copy(sheet, image.Pt(x, y), thumb, thumb.Bounds(), draw.Over, nil)
	}

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, sheet, &jpeg.Options{Quality: 85}); err != nil {
		return nil
	}
	return buf.Bytes()
}
