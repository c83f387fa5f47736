package geometry

// Rect is an axis-aligned rectangle, the footprint of a node box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains checks if a point is inside the rect.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// IsEmpty checks if the rect has zero or negative area.
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// MaxX returns the right boundary.
func (r Rect) MaxX() float64 { return r.X + r.Width }

// MaxY returns the bottom boundary.
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// Union returns the smallest rect containing both rects.
func (r Rect) Union(other Rect) Rect {
	if r.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return r
	}

	minX := min(r.X, other.X)
	minY := min(r.Y, other.Y)
	maxX := max(r.MaxX(), other.MaxX())
	maxY := max(r.MaxY(), other.MaxY())

	return Rect{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}
}

// Center returns the center point of the rect.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Clamped returns the rect with width/height raised to at least minSize.
// Routing must stay defined even for degenerate boxes.
func (r Rect) Clamped(minSize float64) Rect {
	if r.Width < minSize {
		r.Width = minSize
	}
	if r.Height < minSize {
		r.Height = minSize
	}
	return r
}

// AnchorPoint returns the midpoint of the given side.
func (r Rect) AnchorPoint(side Side) Point {
	switch side {
	case SideTop:
		return Point{X: r.X + r.Width/2, Y: r.Y}
	case SideRight:
		return Point{X: r.MaxX(), Y: r.Y + r.Height/2}
	case SideBottom:
		return Point{X: r.X + r.Width/2, Y: r.MaxY()}
	default:
		return Point{X: r.X, Y: r.Y + r.Height/2}
	}
}
