package entity

import "math"

// Point is a location in the native pixel space of a surface (not display pixels).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the native pixel size of a surface.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Rect is the on-screen rectangle a surface is displayed in.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Surface identifies which image the operator is pointing at.
type Surface string

const (
	SurfaceVideo Surface = "video"
	SurfaceBEV   Surface = "bev"
)

// ToNativePixels maps a pointer position inside rect to native pixels of a
// surface whose decoded size is native. The same mapping serves the video
// surface and the bird's-eye image.
func ToNativePixels(pointerX, pointerY float64, rect Rect, native Size) (Point, error) {
	if rect.Width == 0 || rect.Height == 0 || native.Empty() {
		return Point{}, ErrEmptyDisplayRect
	}
	scaleX := float64(native.Width) / rect.Width
	scaleY := float64(native.Height) / rect.Height
	return Point{
		X: (pointerX - rect.Left) * scaleX,
		Y: (pointerY - rect.Top) * scaleY,
	}, nil
}

// Distance returns the euclidean pixel distance between two points.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Midpoint returns the point halfway between p and q.
func (p Point) Midpoint(q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}
