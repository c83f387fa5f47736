package geometry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
)

// Fingerprint is a stable key derived from everything that affects a routing
// result: both anchors, their node boxes, and the current waypoints.
// Equal fingerprints must yield identical routing results.
type Fingerprint uint64

// Anchor is the attachment of an edge end to one side of a node box.
type Anchor struct {
	Box  Rect `json:"box"`
	Side Side `json:"side"`
}

// Point returns the anchor's position on the box boundary.
func (a Anchor) Point() Point {
	return a.Box.AnchorPoint(a.Side)
}

// FingerprintOf computes the fingerprint for an edge's routing inputs.
// FNV-1a over a fixed-order binary encoding of the geometry.
func FingerprintOf(src, dst Anchor, waypoints []Point) Fingerprint {
	h := fnv.New64a()
	buf := make([]byte, 8)

	writeFloat := func(f float64) {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		h.Write(buf)
	}
	writeAnchor := func(a Anchor) {
		writeFloat(a.Box.X)
		writeFloat(a.Box.Y)
		writeFloat(a.Box.Width)
		writeFloat(a.Box.Height)
		binary.LittleEndian.PutUint64(buf, uint64(a.Side))
		h.Write(buf)
	}

	writeAnchor(src)
	writeAnchor(dst)
	binary.LittleEndian.PutUint64(buf, uint64(len(waypoints)))
	h.Write(buf)
	for _, p := range waypoints {
		writeFloat(p.X)
		writeFloat(p.Y)
	}

	return Fingerprint(h.Sum64())
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// MarshalJSON encodes the fingerprint as a hex string. A raw uint64 would
// lose precision once it round-trips through a JSON number.
func (f Fingerprint) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	*f = Fingerprint(v)
	return nil
}
