package display

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"feedwatch/models"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Landscape frame size of the 2.13" panel
const (
	FrameWidth  = 250
	FrameHeight = 122
)

const (
	white = uint8(255)
	black = uint8(0)
)

// Compose draws the two-panel status frame: morning on the left, evening on
// the right, each with a bowl that is filled once fed.
func Compose(state models.FeedingState, stale bool, loc *time.Location) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, FrameWidth, FrameHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.Gray{Y: white}}, image.Point{}, draw.Src)

	line(img, FrameWidth/2, 0, FrameWidth/2, FrameHeight-1, black)
	drawPanel(img, 0, "MORNING", state.Morning, loc)
	drawPanel(img, FrameWidth/2+1, "EVENING", state.Evening, loc)

	if stale {
		fillRect(img, FrameWidth-58, 0, FrameWidth-1, 15, black)
		text(img, FrameWidth-55, 12, "OFFLINE", white)
	}
	return img
}

func drawPanel(img *image.Gray, x0 int, title string, e models.FeedingEvent, loc *time.Location) {
	text(img, x0+8, 14, title, black)

	// bowl
	bx0, by0, bx1, by1 := x0+14, 40, x0+110, 84
	line(img, bx0, by0, bx1, by0, black)
	line(img, bx0, by0, bx0+12, by1, black)
	line(img, bx1, by0, bx1-12, by1, black)
	line(img, bx0+12, by1, bx1-12, by1, black)
	if e.Fed() {
		for y := by0 + 8; y < by1; y++ {
			inset := (y - by0) * 12 / (by1 - by0)
			line(img, bx0+inset+1, y, bx1-inset-1, y, black)
		}
		circle(img, bx0+30, by0-2, 6, black, true)
		circle(img, bx0+48, by0-4, 7, black, true)
		circle(img, bx0+66, by0-2, 6, black, true)
	}

	text(img, x0+8, 108, StatusLabel(e, loc), black)
}

// StatusLabel is the text shown under a bowl
func StatusLabel(e models.FeedingEvent, loc *time.Location) string {
	if !e.Fed() {
		return "Not fed"
	}
	return "Fed at " + e.OccurredAt.In(loc).Format("15:04")
}

func text(img *image.Gray, x, y int, s string, fg uint8) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{Y: fg}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func fillRect(img *image.Gray, x0, y0, x1, y1 int, c uint8) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if image.Pt(x, y).In(img.Rect) {
				img.SetGray(x, y, color.Gray{Y: c})
			}
		}
	}
}

// line is Bresenham's
func line(img *image.Gray, x0, y0, x1, y1 int, c uint8) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		if image.Pt(x0, y0).In(img.Rect) {
			img.SetGray(x0, y0, color.Gray{Y: c})
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func circle(img *image.Gray, cx, cy, r int, c uint8, fill bool) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			d := x*x + y*y
			if d > r*r || (!fill && d < (r-1)*(r-1)) {
				continue
			}
			if p := image.Pt(cx+x, cy+y); p.In(img.Rect) {
				img.SetGray(p.X, p.Y, color.Gray{Y: c})
			}
		}
	}
}

// toPortrait rotates a landscape frame into the panel's native orientation
func toPortrait(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, h, w))
	for y := 0; y < w; y++ {
		for x := 0; x < h; x++ {
			dst.SetGray(x, y, src.GrayAt(b.Min.X+y, b.Min.Y+h-1-x))
		}
	}
	return dst
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
