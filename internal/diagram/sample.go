package diagram

import (
	"time"

	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/typeid"
)

// NewSampleDiagram builds the playground diagram served to anonymous
// sessions: a small pipeline with one user waypoint so every interactive
// feature has something to act on.
func NewSampleDiagram(diagramID string) *Diagram {
	now := time.Now().UTC().Format(time.RFC3339)

	ingestID := typeid.NewNodeID()
	parseID := typeid.NewNodeID()
	storeID := typeid.NewNodeID()
	alertID := typeid.NewNodeID()

	return &Diagram{
		ID:    diagramID,
		Title: "Playground",
		Nodes: []Node{
			{ID: ingestID, Label: "Ingest", X: 40, Y: 40, Width: 150, Height: 60},
			{ID: parseID, Label: "Parse", X: 300, Y: 40, Width: 150, Height: 60},
			{ID: storeID, Label: "Store", X: 300, Y: 240, Width: 150, Height: 60},
			{ID: alertID, Label: "Alert", X: 560, Y: 140, Width: 150, Height: 60},
		},
		Edges: []Edge{
			{
				ID:         typeid.NewEdgeID(),
				SourceID:   ingestID,
				TargetID:   parseID,
				SourceSide: "right",
				TargetSide: "left",
			},
			{
				ID:         typeid.NewEdgeID(),
				SourceID:   parseID,
				TargetID:   storeID,
				SourceSide: "bottom",
				TargetSide: "top",
			},
			{
				ID:         typeid.NewEdgeID(),
				SourceID:   parseID,
				TargetID:   alertID,
				SourceSide: "right",
				TargetSide: "left",
				Waypoints:  []geometry.Point{{X: 510, Y: 70}, {X: 510, Y: 170}},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
