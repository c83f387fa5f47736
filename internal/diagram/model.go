package diagram

import (
	"fmt"

	"github.com/gridline/gridline/engine-go/internal/geometry"
)

// Diagram is the wire and persistence shape of one diagram: nodes plus the
// orthogonal edges between them.
type Diagram struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	OwnerID   string `json:"ownerId"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type Node struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Box returns the node's bounding rectangle in diagram coordinates.
func (n Node) Box() geometry.Rect {
	return geometry.Rect{X: n.X, Y: n.Y, Width: n.Width, Height: n.Height}
}

type Edge struct {
	ID         string           `json:"id"`
	SourceID   string           `json:"sourceId"`
	TargetID   string           `json:"targetId"`
	SourceSide string           `json:"sourceSide"`
	TargetSide string           `json:"targetSide"`
	Waypoints  []geometry.Point `json:"waypoints,omitempty"`
}

// Anchors resolves the edge's endpoints against the given node set.
func (e Edge) Anchors(nodes map[string]Node) (src, dst geometry.Anchor, err error) {
	srcNode, ok := nodes[e.SourceID]
	if !ok {
		return src, dst, fmt.Errorf("edge %s: source node %s not found", e.ID, e.SourceID)
	}
	dstNode, ok := nodes[e.TargetID]
	if !ok {
		return src, dst, fmt.Errorf("edge %s: target node %s not found", e.ID, e.TargetID)
	}

	src = geometry.Anchor{Box: srcNode.Box(), Side: geometry.ParseSide(e.SourceSide)}
	dst = geometry.Anchor{Box: dstNode.Box(), Side: geometry.ParseSide(e.TargetSide)}
	return src, dst, nil
}

// NodeIndex builds an id lookup for anchor resolution.
func (d *Diagram) NodeIndex() map[string]Node {
	idx := make(map[string]Node, len(d.Nodes))
	for _, n := range d.Nodes {
		idx[n.ID] = n
	}
	return idx
}
