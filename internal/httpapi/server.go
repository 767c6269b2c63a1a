// Package httpapi is the stateless HTTP façade the browser extension
// talks to: tab ingestion, cluster snapshots, the visualization view,
// a recommendations pass-through, and entity re-enrichment.
package httpapi

import (
	"net/http"
	"strings"

	"tabgraph/internal/cluster"
	"tabgraph/internal/graph"
	"tabgraph/internal/ingestion"
	"tabgraph/internal/llm"
	"tabgraph/internal/visualization"
	"tabgraph/internal/worker"
)

const version = "0.1.0"

// Server wires the ingestion pipeline, cluster engine, graph store and
// supporting components onto the fixed HTTP surface.
type Server struct {
	pipeline     *ingestion.Pipeline
	engine       *cluster.Engine
	store        graph.Store
	assembler    *visualization.Assembler
	worker       *worker.Worker
	recommender  llm.Provider
	recommenderModel string
	allowedOrigins map[string]bool

	mux *http.ServeMux
}

// New builds a Server. allowedOrigins lists the origins granted CORS
// access, such as the browser extension origin; http://localhost:* and
// http://127.0.0.1:* origins are always allowed without being listed.
func New(pipeline *ingestion.Pipeline, engine *cluster.Engine, store graph.Store, assembler *visualization.Assembler, w *worker.Worker, recommender llm.Provider, recommenderModel string, allowedOrigins []string) *Server {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	s := &Server{
		pipeline:         pipeline,
		engine:           engine,
		store:            store,
		assembler:        assembler,
		worker:           w,
		recommender:      recommender,
		recommenderModel: recommenderModel,
		allowedOrigins:   origins,
		mux:              http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/tabs/ingest", s.handleIngest)
	s.mux.HandleFunc("POST /api/tabs/delete", s.handleDeleteTabs)
	s.mux.HandleFunc("GET /api/tabs/clusters", s.handleClusters)
	s.mux.HandleFunc("GET /api/graph/visualization", s.handleVisualization)
	s.mux.HandleFunc("GET /api/recommendations", s.handleRecommendations)
	s.mux.HandleFunc("POST /api/entities/re-enrich", s.handleReEnrich)
}

// ServeHTTP satisfies http.Handler, applying CORS before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if s.allowedOrigins[origin] || strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}
