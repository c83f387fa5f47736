package geometry

import (
	"encoding/json"
	"testing"
)

func TestRectAnchorPoint(t *testing.T) {
	r := Rect{X: 100, Y: 50, Width: 150, Height: 60}

	cases := []struct {
		side Side
		want Point
	}{
		{SideTop, Point{175, 50}},
		{SideRight, Point{250, 80}},
		{SideBottom, Point{175, 110}},
		{SideLeft, Point{100, 80}},
	}

	for _, c := range cases {
		got := r.AnchorPoint(c.side)
		if !got.Equals(c.want) {
			t.Errorf("AnchorPoint(%s) = (%.1f, %.1f), want (%.1f, %.1f)",
				c.side, got.X, got.Y, c.want.X, c.want.Y)
		}
	}
}

func TestRectClamped(t *testing.T) {
	r := Rect{X: 10, Y: 10, Width: -5, Height: 0}
	clamped := r.Clamped(1)
	if clamped.Width != 1 || clamped.Height != 1 {
		t.Errorf("Clamped size = %.1fx%.1f, want 1x1", clamped.Width, clamped.Height)
	}

	r = Rect{X: 0, Y: 0, Width: 100, Height: 40}
	if r.Clamped(1) != r {
		t.Errorf("Clamped changed an already-valid rect")
	}
}

func TestRectUnionAndContains(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rect{X: 20, Y: 20, Width: 5, Height: 5}
	u := a.Union(b)
	if u.X != 0 || u.Y != 0 || u.MaxX() != 25 || u.MaxY() != 25 {
		t.Errorf("Union = %+v", u)
	}
	if !u.Contains(15, 15) {
		t.Errorf("Union should contain interior point")
	}
}

func TestSegmentOrientation(t *testing.T) {
	cases := []struct {
		name string
		seg  Segment
		want Orientation
	}{
		{"horizontal", Segment{Point{0, 5}, Point{10, 5}}, OrientHorizontal},
		{"vertical", Segment{Point{3, 0}, Point{3, 8}}, OrientVertical},
		{"diagonal", Segment{Point{0, 0}, Point{4, 4}}, OrientDiagonal},
		{"degenerate", Segment{Point{2, 2}, Point{2, 2}}, OrientDegenerate},
	}

	for _, c := range cases {
		if got := c.seg.Orientation(); got != c.want {
			t.Errorf("%s: Orientation() = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestSegmentCross(t *testing.T) {
	h := Segment{Point{0, 5}, Point{10, 5}}
	v := Segment{Point{4, 0}, Point{4, 10}}

	p, ok := h.Cross(v)
	if !ok {
		t.Fatalf("expected crossing")
	}
	if !p.Equals(Point{4, 5}) {
		t.Errorf("crossing at (%.1f, %.1f), want (4, 5)", p.X, p.Y)
	}

	// Symmetric
	p2, ok := v.Cross(h)
	if !ok || !p2.Equals(p) {
		t.Errorf("Cross is not symmetric")
	}
}

func TestSegmentCrossMisses(t *testing.T) {
	h := Segment{Point{0, 5}, Point{10, 5}}

	cases := []struct {
		name  string
		other Segment
	}{
		{"vertical left of range", Segment{Point{-2, 0}, Point{-2, 10}}},
		{"vertical above range", Segment{Point{4, 6}, Point{4, 10}}},
		{"parallel horizontal", Segment{Point{0, 7}, Point{10, 7}}},
		{"diagonal", Segment{Point{0, 0}, Point{10, 10}}},
		{"touching at endpoint", Segment{Point{0, 5}, Point{0, 10}}},
	}

	for _, c := range cases {
		if _, ok := h.Cross(c.other); ok {
			t.Errorf("%s: unexpected crossing", c.name)
		}
	}
}

func TestPathSegments(t *testing.T) {
	points := []Point{{0, 0}, {10, 0}, {10, 10}}
	segs := PathSegments(points)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Orientation() != OrientHorizontal || segs[1].Orientation() != OrientVertical {
		t.Errorf("unexpected orientations: %s, %s", segs[0].Orientation(), segs[1].Orientation())
	}

	if PathSegments([]Point{{1, 1}}) != nil {
		t.Errorf("single point should yield no segments")
	}
}

func TestFingerprintStability(t *testing.T) {
	src := Anchor{Box: Rect{0, 0, 150, 60}, Side: SideRight}
	dst := Anchor{Box: Rect{200, 200, 150, 60}, Side: SideLeft}
	wps := []Point{{180, 30}, {180, 230}}

	a := FingerprintOf(src, dst, wps)
	b := FingerprintOf(src, dst, wps)
	if a != b {
		t.Errorf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	src := Anchor{Box: Rect{0, 0, 150, 60}, Side: SideRight}
	dst := Anchor{Box: Rect{200, 200, 150, 60}, Side: SideLeft}

	base := FingerprintOf(src, dst, nil)

	moved := dst
	moved.Box.X += 1
	if FingerprintOf(src, moved, nil) == base {
		t.Errorf("moving a box did not change the fingerprint")
	}

	turned := dst
	turned.Side = SideTop
	if FingerprintOf(src, turned, nil) == base {
		t.Errorf("changing an anchor side did not change the fingerprint")
	}

	if FingerprintOf(src, dst, []Point{{100, 100}}) == base {
		t.Errorf("adding a waypoint did not change the fingerprint")
	}
}

func TestFingerprintJSONRoundTrip(t *testing.T) {
	f := Fingerprint(0xdeadbeefcafe0123)
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Fingerprint
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != f {
		t.Errorf("round trip changed fingerprint: %s -> %s", f, back)
	}
}
