package favicon

import (
	"bytes"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"

	"github.com/sitedock/sitedock/internal/shared/types"
)

const (
	iconSize = 64
	gridSize = 8
	cellSize = iconSize / gridSize
)

// palette holds the foreground colors a generated icon can take. Muted tones
// so generated icons read as placeholders next to real favicons.
var palette = []color.NRGBA{
	{R: 0x4a, G: 0x6f, B: 0xa5, A: 0xff},
	{R: 0x5f, G: 0x8a, B: 0x5e, A: 0xff},
	{R: 0xa5, G: 0x6f, B: 0x4a, A: 0xff},
	{R: 0x7a, G: 0x5a, B: 0x92, A: 0xff},
	{R: 0x9a, G: 0x4a, B: 0x5f, A: 0xff},
	{R: 0x4a, G: 0x8a, B: 0x95, A: 0xff},
}

// Generate builds the deterministic fallback icon for a site: a monochrome
// symmetric pattern seeded by the site's initial letter and host pattern, so
// the same site always gets the same icon across runs.
func Generate(entry *types.SiteEntry) []byte {
	seed := seedFor(entry)

	fg := palette[seed%uint64(len(palette))]
	bg := color.NRGBA{R: 0xf2, G: 0xf2, B: 0xf2, A: 0xff}

	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))

	bits := seed
	for row := 0; row < gridSize; row++ {
		// Mirror the left half so the pattern reads as a glyph.
		for col := 0; col < gridSize/2; col++ {
			on := bits&1 == 1
			bits = rotate(bits)
			fillCell(img, row, col, on, fg, bg)
			fillCell(img, row, gridSize-1-col, on, fg, bg)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func seedFor(entry *types.SiteEntry) uint64 {
	h := fnv.New64a()
	name := entry.Name
	if name == "" {
		name = entry.Host()
	}
	if len(name) > 0 {
		h.Write([]byte{name[0]})
	}
	h.Write([]byte(entry.Pattern))
	return h.Sum64()
}

func rotate(v uint64) uint64 {
	return v>>1 | v<<63
}

func fillCell(img *image.NRGBA, row, col int, on bool, fg, bg color.NRGBA) {
	c := bg
	if on {
		c = fg
	}
	for y := row * cellSize; y < (row+1)*cellSize; y++ {
		for x := col * cellSize; x < (col+1)*cellSize; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}
