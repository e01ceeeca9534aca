package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Scene is everything the overlay shows: committed pairs followed by the
// working points, flattened in placement order.
type Scene struct {
	Points    []entity.Point
	Distances []float64
	Hidden    bool
	Revision  uint64
}

// NewScene flattens committed pairs and the working buffer.
func NewScene(pairs []entity.PointPair, working []entity.Point, revision uint64) Scene {
	sc := Scene{
		Points:    make([]entity.Point, 0, 2*len(pairs)+len(working)),
		Distances: make([]float64, 0, len(pairs)),
		Revision:  revision,
	}
	for _, pp := range pairs {
		sc.Points = append(sc.Points, pp.Point1, pp.Point2)
		sc.Distances = append(sc.Distances, pp.Distance)
	}
	sc.Points = append(sc.Points, working...)
	return sc
}

// SceneFor builds the overlay of the surface visible in s. The overlay is
// hidden while the video plays.
func SceneFor(s entity.Session) Scene {
	surface := s.Mode.VisibleSurface()
	sc := NewScene(s.Calibration.OnSurface(surface).Pairs, s.Working, s.Revision)
	sc.Hidden = s.Playback.Playing
	return sc
}

// LineLabel is the text drawn at the middle of pair n (1-based).
func LineLabel(n int, distance float64, recorded bool) string {
	if !recorded {
		return fmt.Sprintf("line%d", n)
	}
	return fmt.Sprintf("line%d = %s(m)", n, strconv.FormatFloat(distance, 'f', -1, 64))
}

// Style holds sizes in native pixels.
type Style struct {
	MarkerRadius int
	LineWidth    int
	TextScale    int
	LabelPadding int
}

// StyleFor scales marker, line and text sizes with the surface height so a
// 1080p frame looks like the interactive canvas.
func StyleFor(size entity.Size) Style {
	scale := int(math.Round(float64(size.Height) / 540))
	if scale < 1 {
		scale = 1
	}
	return Style{
		MarkerRadius: 5 * scale,
		LineWidth:    scale,
		TextScale:    scale,
		LabelPadding: 4 * scale,
	}
}

var palette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 240, B: 240, A: 255},
	{R: 240, G: 50, B: 230, A: 255},
	{R: 210, G: 245, B: 60, A: 255},
}

// PairColor is the marker and line color of pair n (0-based).
func PairColor(n int) color.RGBA {
	return palette[n%len(palette)]
}

var (
	labelBackground = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelText       = color.RGBA{A: 255}
)

type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Clear makes dst fully transparent.
func (r *Renderer) Clear(dst draw.Image) {
	draw.Draw(dst, dst.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

// Paint draws sc over whatever dst already holds. A trailing unpaired point
// only gets its marker.
func (r *Renderer) Paint(dst draw.Image, sc Scene) {
	if sc.Hidden {
		return
	}
	b := dst.Bounds()
	st := StyleFor(entity.Size{Width: b.Dx(), Height: b.Dy()})

	for i, p := range sc.Points {
		c := PairColor(i / 2)
		fillCircle(dst, p, st.MarkerRadius, c)
		if i%2 == 0 {
			continue
		}
		prev := sc.Points[i-1]
		strokeLine(dst, prev, p, st.LineWidth, c)

		pair := (i - 1) / 2
		recorded := pair < len(sc.Distances)
		var d float64
		if recorded {
			d = sc.Distances[pair]
		}
		r.drawLabel(dst, prev.Midpoint(p), LineLabel(pair+1, d, recorded), st)
	}
}

func (r *Renderer) drawLabel(dst draw.Image, center entity.Point, text string, st Style) {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	textW := d.MeasureString(text).Ceil()
	textH := face.Metrics().Height.Ceil()

	// Render at 1x into a scratch image, then scale into place.
	w := textW + 2*st.LabelPadding/st.TextScale
	h := textH + 2*st.LabelPadding/st.TextScale
	scratch := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(scratch, scratch.Bounds(), image.NewUniform(labelBackground), image.Point{}, draw.Src)
	d.Dst = scratch
	d.Src = image.NewUniform(labelText)
	d.Dot = fixed.P((w-textW)/2, (h-textH)/2+face.Metrics().Ascent.Ceil())
	d.DrawString(text)

	sw, sh := w*st.TextScale, h*st.TextScale
	x0 := int(math.Round(center.X)) - sw/2
	y0 := int(math.Round(center.Y)) - sh/2
	target := image.Rect(x0, y0, x0+sw, y0+sh)
	xdraw.NearestNeighbor.Scale(dst, target, scratch, scratch.Bounds(), draw.Over, nil)
}

func fillCircle(dst draw.Image, center entity.Point, radius int, c color.Color) {
	cx, cy := int(math.Round(center.X)), int(math.Round(center.Y))
	b := dst.Bounds()
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			pt := image.Pt(cx+dx, cy+dy)
			if pt.In(b) {
				dst.Set(pt.X, pt.Y, c)
			}
		}
	}
}

// strokeLine stamps a width x width square along the segment.
func strokeLine(dst draw.Image, from, to entity.Point, width int, c color.Color) {
	if width < 1 {
		width = 1
	}
	steps := int(math.Ceil(math.Max(math.Abs(to.X-from.X), math.Abs(to.Y-from.Y))))
	b := dst.Bounds()
	half := width / 2
	for i := 0; i <= steps; i++ {
		t := 0.0
		if steps > 0 {
			t = float64(i) / float64(steps)
		}
		x := int(math.Round(from.X + t*(to.X-from.X)))
		y := int(math.Round(from.Y + t*(to.Y-from.Y)))
		for oy := -half; oy < width-half; oy++ {
			for ox := -half; ox < width-half; ox++ {
				pt := image.Pt(x+ox, y+oy)
				if pt.In(b) {
					dst.Set(pt.X, pt.Y, c)
				}
			}
		}
	}
}
