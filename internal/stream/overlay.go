package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/detection"
)

var (
	personColor = color.RGBA{0, 255, 0, 255}
	otherColor  = color.RGBA{255, 165, 0, 255}
)

// Overlay draws the most recent detection boxes onto served frames. A frame
// is rendered once, with the boxes current at its first render, and cached
// by capture id; boxes set later apply from the next capture.
type Overlay struct {
	mu          sync.Mutex
	boxes       []detection.BoundingBox
	personClass int
	quality     int

	cached  bool
	cacheID uint64
	cache   []byte
}

// NewOverlay returns an Overlay encoding at the given JPEG quality.
func NewOverlay(personClass, quality int) *Overlay {
	if quality <= 0 {
		quality = 85
	}
	return &Overlay{personClass: personClass, quality: quality}
}

// SetBoxes replaces the boxes drawn on subsequent frames.
func (o *Overlay) SetBoxes(boxes []detection.BoundingBox) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.boxes = boxes
}

// Render implements Renderer.
func (o *Overlay) Render(s Snapshot) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cached && o.cacheID == s.ID {
		return o.cache
	}
	out := o.draw(s.JPEG, o.boxes)
	o.cache, o.cacheID, o.cached = out, s.ID, true
	return out
}

func (o *Overlay) draw(jpegData []byte, boxes []detection.BoundingBox) []byte {
	if len(boxes) == 0 {
		return jpegData
	}
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return jpegData
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, b := range boxes {
		c := otherColor
		if b.Category == o.personClass {
			c = personColor
		}
		drawBox(rgba, b.X1, b.Y1, b.X2-b.X1, b.Y2-b.Y1, c, 2)
		drawLabel(rgba, b.X1, b.Y1-14, fmt.Sprintf("%s %.0f%%", b.Label(), b.Score*100), c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: o.quality}); err != nil {
		return jpegData
	}
	return buf.Bytes()
}

func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	r := img.Bounds()
	set := func(px, py int) {
		if image.Pt(px, py).In(r) {
			img.SetRGBA(px, py, c)
		}
	}
	for t := 0; t < thickness; t++ {
		for i := x; i <= x+w; i++ {
			set(i, y+t)
			set(i, y+h-t)
		}
		for j := y; j <= y+h; j++ {
			set(x+t, j)
			set(x+w-t, j)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 0 {
		y = 0
	}
	if x < 0 {
		x = 0
	}

	bg := image.Rect(x, y, x+len(label)*7+4, y+14).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(color.RGBA{0, 0, 0, 180}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + 11)},
	}
	d.DrawString(label)
}
