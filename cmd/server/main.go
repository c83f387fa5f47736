package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gridline/gridline/engine-go/internal/auth"
	"github.com/gridline/gridline/engine-go/internal/config"
	"github.com/gridline/gridline/engine-go/internal/db"
	"github.com/gridline/gridline/engine-go/internal/diagram"
	"github.com/gridline/gridline/engine-go/internal/engine"
	"github.com/gridline/gridline/engine-go/internal/geometry"
	mw "github.com/gridline/gridline/engine-go/internal/middleware"
	"github.com/gridline/gridline/engine-go/internal/session"
)

// The playground diagram allows anonymous access and is never persisted.
const playgroundDiagramID = "diag_playground"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.CreateSchema(ctx, pool); err != nil {
		slog.Error("create schema", "error", err)
		os.Exit(1)
	}

	queries := db.New(pool)

	authService := auth.NewService(queries, cfg.JWTSecret)
	authHandler := auth.NewHandler(authService)

	diagramService := diagram.NewService(queries)
	diagramHandler := diagram.NewHandler(diagramService)

	engineCfg := engine.DefaultConfig()
	engineCfg.DebounceTime = time.Duration(cfg.RouteDebounceMs) * time.Millisecond
	engineCfg.Jetty = cfg.RouteJetty
	engineCfg.TaskTimeout = time.Duration(cfg.RouteTaskTimeoutMs) * time.Millisecond
	engineCfg.WorkerReadyTimeout = time.Duration(cfg.WorkerReadyTimeoutMs) * time.Millisecond

	// Diagram loader for the session hub
	loadDiagram := func(diagramID string) (*diagram.Diagram, error) {
		if diagramID == playgroundDiagramID {
			return diagram.NewSampleDiagram(diagramID), nil
		}

		row, err := queries.GetDiagram(context.Background(), diagramID)
		if err != nil {
			return nil, err
		}
		nodes, err := queries.ListNodes(context.Background(), diagramID)
		if err != nil {
			return nil, err
		}
		edges, err := queries.ListEdges(context.Background(), diagramID)
		if err != nil {
			return nil, err
		}

		d := &diagram.Diagram{
			ID:      row.ID,
			Title:   row.Title,
			OwnerID: row.OwnerID,
		}
		for _, n := range nodes {
			d.Nodes = append(d.Nodes, diagram.Node{
				ID: n.ID, Label: n.Label,
				X: n.X, Y: n.Y, Width: n.Width, Height: n.Height,
			})
		}
		for _, e := range edges {
			edge := diagram.Edge{
				ID:         e.ID,
				SourceID:   e.SourceID,
				TargetID:   e.TargetID,
				SourceSide: e.SourceSide,
				TargetSide: e.TargetSide,
			}
			if err := json.Unmarshal(e.Waypoints, &edge.Waypoints); err != nil {
				slog.Warn("unreadable waypoints, using default route", "edge", e.ID, "error", err)
			}
			d.Edges = append(d.Edges, edge)
		}
		return d, nil
	}

	saveNode := func(diagramID string, n diagram.Node) error {
		if diagramID == playgroundDiagramID {
			return nil
		}
		return diagramService.SaveNode(context.Background(), diagramID, n)
	}

	saveWaypoints := func(diagramID, edgeID string, waypoints []geometry.Point) error {
		if diagramID == playgroundDiagramID {
			return nil
		}
		return diagramService.SaveWaypoints(context.Background(), diagramID, edgeID, waypoints)
	}

	hub := session.NewHub(engineCfg, loadDiagram, saveNode, saveWaypoints)
	go hub.Run()

	r := mux.NewRouter()

	// Global middleware
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS(cfg.AllowedOrigins))

	// Auth routes (public)
	r.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Protected API routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authService.AuthMiddleware)

	api.HandleFunc("/diagrams", diagramHandler.List).Methods("GET")
	api.HandleFunc("/diagrams", diagramHandler.Create).Methods("POST")
	api.HandleFunc("/diagrams/{diagramId}", diagramHandler.Get).Methods("GET")
	api.HandleFunc("/diagrams/{diagramId}", diagramHandler.Delete).Methods("DELETE")
	api.HandleFunc("/diagrams/{diagramId}/nodes", diagramHandler.SaveNode).Methods("PUT")
	api.HandleFunc("/diagrams/{diagramId}/nodes/{nodeId}", diagramHandler.DeleteNode).Methods("DELETE")
	api.HandleFunc("/diagrams/{diagramId}/edges", diagramHandler.SaveEdge).Methods("PUT")
	api.HandleFunc("/diagrams/{diagramId}/edges/{edgeId}", diagramHandler.DeleteEdge).Methods("DELETE")

	// Engine surface for open rooms: stats, per-edge state, explicit
	// processing and runtime config.
	engineHandler := engine.NewHandler(hub)
	api.HandleFunc("/diagrams/{diagramId}/engine/stats", engineHandler.Stats).Methods("GET")
	api.HandleFunc("/diagrams/{diagramId}/engine/config", engineHandler.GetConfig).Methods("GET")
	api.HandleFunc("/diagrams/{diagramId}/engine/config", engineHandler.UpdateConfig).Methods("PUT")
	api.HandleFunc("/diagrams/{diagramId}/engine/process", engineHandler.ProcessBatch).Methods("POST")
	api.HandleFunc("/diagrams/{diagramId}/engine/edges/{edgeId}", engineHandler.EdgeInfo).Methods("GET")
	api.HandleFunc("/diagrams/{diagramId}/engine/edges/{edgeId}/process", engineHandler.ProcessEdge).Methods("POST")

	// WebSocket endpoint
	r.HandleFunc("/ws/diagram/{diagramId}", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, hub, authService, queries, cfg.AllowedOrigins)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")
		hub.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request, hub *session.Hub, authSvc *auth.Service, queries *db.Queries, allowedOrigins string) {
	diagramID := mux.Vars(r)["diagramId"]

	var userID string
	var displayName string

	if diagramID == playgroundDiagramID {
		// Anonymous user for the playground
		userID = "anon-" + uuid.New().String()[:8]
		displayName = "Anonymous"
	} else {
		// Auth via query param for real diagrams
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		var err error
		userID, err = authSvc.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		row, err := queries.GetDiagram(r.Context(), diagramID)
		if err != nil {
			http.Error(w, "diagram not found", http.StatusNotFound)
			return
		}
		if row.OwnerID != userID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		user, err := authSvc.GetUser(r.Context(), userID)
		if err != nil {
			http.Error(w, "user not found", http.StatusInternalServerError)
			return
		}
		displayName = user.DisplayName
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(allowedOrigins),
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := session.NewClient(hub, conn, userID, displayName, diagramID, clientID)

	hub.Register(client)

	ctx := r.Context()
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}

// originPatterns strips schemes from the configured origin list; the
// websocket library matches on host patterns.
func originPatterns(allowedOrigins string) []string {
	var patterns []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
