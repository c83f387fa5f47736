package diagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gridline/gridline/engine-go/internal/db"
	"github.com/gridline/gridline/engine-go/internal/geometry"
	"github.com/gridline/gridline/engine-go/internal/typeid"
)

var (
	ErrNotFound  = errors.New("diagram not found")
	ErrForbidden = errors.New("forbidden")
)

type Service struct {
	queries *db.Queries
}

func NewService(queries *db.Queries) *Service {
	return &Service{queries: queries}
}

func (s *Service) Create(ctx context.Context, title, ownerID string) (*Diagram, error) {
	row, err := s.queries.CreateDiagram(ctx, db.CreateDiagramParams{
		ID:      typeid.NewDiagramID(),
		OwnerID: ownerID,
		Title:   title,
	})
	if err != nil {
		return nil, fmt.Errorf("create diagram: %w", err)
	}
	return dbDiagramToDiagram(row, nil, nil), nil
}

// Get loads the full diagram with its nodes and edges.
func (s *Service) Get(ctx context.Context, diagramID, userID string) (*Diagram, error) {
	row, err := s.queries.GetDiagram(ctx, diagramID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get diagram: %w", err)
	}
	if row.OwnerID != userID {
		return nil, ErrForbidden
	}

	nodes, err := s.queries.ListNodes(ctx, diagramID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	edges, err := s.queries.ListEdges(ctx, diagramID)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}

	return dbDiagramToDiagram(row, nodes, edges), nil
}

func (s *Service) List(ctx context.Context, userID string) ([]Diagram, error) {
	rows, err := s.queries.ListDiagramsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list diagrams: %w", err)
	}

	out := make([]Diagram, len(rows))
	for i, row := range rows {
		out[i] = *dbDiagramToDiagram(row, nil, nil)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, diagramID, userID string) error {
	row, err := s.queries.GetDiagram(ctx, diagramID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get diagram: %w", err)
	}
	if row.OwnerID != userID {
		return ErrForbidden
	}
	return s.queries.DeleteDiagram(ctx, diagramID)
}

// SaveNode upserts one node's geometry after a move or resize.
func (s *Service) SaveNode(ctx context.Context, diagramID string, n Node) error {
	err := s.queries.UpsertNode(ctx, db.UpsertNodeParams{
		ID:        n.ID,
		DiagramID: diagramID,
		Label:     n.Label,
		X:         n.X,
		Y:         n.Y,
		Width:     n.Width,
		Height:    n.Height,
	})
	if err != nil {
		return fmt.Errorf("save node: %w", err)
	}
	return s.queries.TouchDiagram(ctx, diagramID)
}

// SaveEdge upserts one edge including its waypoints.
func (s *Service) SaveEdge(ctx context.Context, diagramID string, e Edge) error {
	waypoints, err := json.Marshal(e.Waypoints)
	if err != nil {
		return fmt.Errorf("marshal waypoints: %w", err)
	}
	err = s.queries.UpsertEdge(ctx, db.UpsertEdgeParams{
		ID:         e.ID,
		DiagramID:  diagramID,
		SourceID:   e.SourceID,
		TargetID:   e.TargetID,
		SourceSide: e.SourceSide,
		TargetSide: e.TargetSide,
		Waypoints:  waypoints,
	})
	if err != nil {
		return fmt.Errorf("save edge: %w", err)
	}
	return s.queries.TouchDiagram(ctx, diagramID)
}

// SaveWaypoints persists an edge's waypoint list only. Hot path for drag
// sessions; never stores virtual bends.
func (s *Service) SaveWaypoints(ctx context.Context, diagramID, edgeID string, waypoints []geometry.Point) error {
	data, err := json.Marshal(waypoints)
	if err != nil {
		return fmt.Errorf("marshal waypoints: %w", err)
	}
	if err := s.queries.UpdateEdgeWaypoints(ctx, edgeID, data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("save waypoints: %w", err)
	}
	return s.queries.TouchDiagram(ctx, diagramID)
}

func (s *Service) DeleteNode(ctx context.Context, diagramID, nodeID string) error {
	if err := s.queries.DeleteNode(ctx, nodeID); err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return s.queries.TouchDiagram(ctx, diagramID)
}

func (s *Service) DeleteEdge(ctx context.Context, diagramID, edgeID string) error {
	if err := s.queries.DeleteEdge(ctx, edgeID); err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return s.queries.TouchDiagram(ctx, diagramID)
}

func dbDiagramToDiagram(d db.Diagram, nodes []db.Node, edges []db.Edge) *Diagram {
	out := &Diagram{
		ID:        d.ID,
		Title:     d.Title,
		OwnerID:   d.OwnerID,
		Nodes:     make([]Node, 0, len(nodes)),
		Edges:     make([]Edge, 0, len(edges)),
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339),
	}

	for _, n := range nodes {
		out.Nodes = append(out.Nodes, Node{
			ID: n.ID, Label: n.Label,
			X: n.X, Y: n.Y, Width: n.Width, Height: n.Height,
		})
	}
	for _, e := range edges {
		edge := Edge{
			ID:         e.ID,
			SourceID:   e.SourceID,
			TargetID:   e.TargetID,
			SourceSide: e.SourceSide,
			TargetSide: e.TargetSide,
		}
		// Waypoints are stored as a JSON array; an unreadable value is
		// treated as no waypoints rather than a load failure.
		_ = json.Unmarshal(e.Waypoints, &edge.Waypoints)
		out.Edges = append(out.Edges, edge)
	}
	return out
}
