package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries is the hand-written data access layer over the pool.
type Queries struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

type User struct {
	ID          string
	Email       string
	Password    string
	DisplayName string
	CreatedAt   time.Time
}

type Diagram struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Node struct {
	ID        string
	DiagramID string
	Label     string
	X         float64
	Y         float64
	Width     float64
	Height    float64
}

type Edge struct {
	ID         string
	DiagramID  string
	SourceID   string
	TargetID   string
	SourceSide string
	TargetSide string
	Waypoints  json.RawMessage
}

// --- Users ---

type CreateUserParams struct {
	ID          string
	Email       string
	Password    string
	DisplayName string
}

func (q *Queries) CreateUser(ctx context.Context, p CreateUserParams) (User, error) {
	row := q.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password, display_name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, email, password, display_name, created_at`,
		p.ID, p.Email, p.Password, p.DisplayName)
	return scanUser(row)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.pool.QueryRow(ctx,
		`SELECT id, email, password, display_name, created_at
		 FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.pool.QueryRow(ctx,
		`SELECT id, email, password, display_name, created_at
		 FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.DisplayName, &u.CreatedAt)
	return u, err
}

// --- Diagrams ---

type CreateDiagramParams struct {
	ID      string
	OwnerID string
	Title   string
}

func (q *Queries) CreateDiagram(ctx context.Context, p CreateDiagramParams) (Diagram, error) {
	row := q.pool.QueryRow(ctx,
		`INSERT INTO diagrams (id, owner_id, title)
		 VALUES ($1, $2, $3)
		 RETURNING id, owner_id, title, created_at, updated_at`,
		p.ID, p.OwnerID, p.Title)
	return scanDiagram(row)
}

func (q *Queries) GetDiagram(ctx context.Context, id string) (Diagram, error) {
	row := q.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM diagrams WHERE id = $1`, id)
	return scanDiagram(row)
}

func (q *Queries) ListDiagramsForUser(ctx context.Context, ownerID string) ([]Diagram, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM diagrams WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Diagram
	for rows.Next() {
		d, err := scanDiagram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queries) TouchDiagram(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE diagrams SET updated_at = now() WHERE id = $1`, id)
	return err
}

func (q *Queries) DeleteDiagram(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM diagrams WHERE id = $1`, id)
	return err
}

func scanDiagram(row pgx.Row) (Diagram, error) {
	var d Diagram
	err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// --- Nodes ---

type UpsertNodeParams struct {
	ID        string
	DiagramID string
	Label     string
	X         float64
	Y         float64
	Width     float64
	Height    float64
}

func (q *Queries) UpsertNode(ctx context.Context, p UpsertNodeParams) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO diagram_nodes (id, diagram_id, label, x, y, width, height)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET label = $3, x = $4, y = $5, width = $6, height = $7`,
		p.ID, p.DiagramID, p.Label, p.X, p.Y, p.Width, p.Height)
	return err
}

func (q *Queries) ListNodes(ctx context.Context, diagramID string) ([]Node, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, diagram_id, label, x, y, width, height
		 FROM diagram_nodes WHERE diagram_id = $1 ORDER BY id`, diagramID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.DiagramID, &n.Label, &n.X, &n.Y, &n.Width, &n.Height); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteNode(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM diagram_nodes WHERE id = $1`, id)
	return err
}

// --- Edges ---

type UpsertEdgeParams struct {
	ID         string
	DiagramID  string
	SourceID   string
	TargetID   string
	SourceSide string
	TargetSide string
	Waypoints  json.RawMessage
}

func (q *Queries) UpsertEdge(ctx context.Context, p UpsertEdgeParams) error {
	if len(p.Waypoints) == 0 {
		p.Waypoints = json.RawMessage(`[]`)
	}
	_, err := q.pool.Exec(ctx,
		`INSERT INTO diagram_edges (id, diagram_id, source_id, target_id, source_side, target_side, waypoints)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET source_id = $3, target_id = $4, source_side = $5, target_side = $6, waypoints = $7`,
		p.ID, p.DiagramID, p.SourceID, p.TargetID, p.SourceSide, p.TargetSide, p.Waypoints)
	return err
}

// UpdateEdgeWaypoints persists only the waypoint list, the hot write on the
// interactive path.
func (q *Queries) UpdateEdgeWaypoints(ctx context.Context, edgeID string, waypoints json.RawMessage) error {
	if len(waypoints) == 0 {
		waypoints = json.RawMessage(`[]`)
	}
	tag, err := q.pool.Exec(ctx,
		`UPDATE diagram_edges SET waypoints = $2 WHERE id = $1`, edgeID, waypoints)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("edge %s: %w", edgeID, pgx.ErrNoRows)
	}
	return nil
}

func (q *Queries) ListEdges(ctx context.Context, diagramID string) ([]Edge, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, diagram_id, source_id, target_id, source_side, target_side, waypoints
		 FROM diagram_edges WHERE diagram_id = $1 ORDER BY id`, diagramID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.DiagramID, &e.SourceID, &e.TargetID, &e.SourceSide, &e.TargetSide, &e.Waypoints); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteEdge(ctx context.Context, id string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM diagram_edges WHERE id = $1`, id)
	return err
}
