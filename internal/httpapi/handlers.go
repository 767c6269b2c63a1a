package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tabgraph/internal/cluster"
	"tabgraph/internal/ingestion"
	"tabgraph/internal/llm"
	"tabgraph/internal/queue"
	"tabgraph/internal/visualization"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version,
		"timestamp": time.Now().UTC(),
	})
}

type ingestTabRequest struct {
	ID              int64     `json:"id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	FaviconURL      string    `json:"favicon_url"`
	Summary         string    `json:"summary"`
	WindowID        *int64    `json:"window_id"`
	GroupID         *int64    `json:"group_id"`
	Important       bool      `json:"important"`
	OpenedAt        time.Time `json:"opened_at"`
	LastAccessed    time.Time `json:"last_accessed"`
	CachedEmbedding []float32 `json:"cached_embedding"`
	CachedEntities  []string  `json:"cached_entities"`
}

type ingestRequest struct {
	Tabs      []ingestTabRequest `json:"tabs"`
	Timestamp time.Time          `json:"timestamp"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if len(req.Tabs) == 0 {
		respondError(w, http.StatusUnprocessableEntity, errors.New("tabs must not be empty"))
		return
	}

	batch := make([]ingestion.InputTab, len(req.Tabs))
	for i, t := range req.Tabs {
		if t.ID == 0 || t.URL == "" {
			respondError(w, http.StatusUnprocessableEntity, fmt.Errorf("tab %d missing id or url", i))
			return
		}
		batch[i] = ingestion.InputTab{
			ID:              t.ID,
			URL:             t.URL,
			Title:           t.Title,
			FaviconURL:      t.FaviconURL,
			Summary:         t.Summary,
			WindowID:        t.WindowID,
			GroupID:         t.GroupID,
			Important:       t.Important,
			OpenedAt:        t.OpenedAt,
			LastAccessed:    t.LastAccessed,
			CachedEmbedding: t.CachedEmbedding,
			CachedEntities:  t.CachedEntities,
		}
	}

	result, err := s.pipeline.Ingest(r.Context(), batch, req.Timestamp)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	tabData := make([]map[string]any, len(result.TabData))
	for i, t := range result.TabData {
		tabData[i] = map[string]any{"id": t.ID, "embedding": t.Embedding, "entities": t.Entities}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         result.Status,
		"processed":      result.Processed,
		"important_tabs": result.ImportantTabs,
		"session_id":     result.SessionID,
		"tab_data":       tabData,
	})
}

type deleteTabsRequest struct {
	TabIDs []int64 `json:"tab_ids"`
}

func (s *Server) handleDeleteTabs(w http.ResponseWriter, r *http.Request) {
	var req deleteTabsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}

	ctx := r.Context()
	for _, id := range req.TabIDs {
		s.engine.Detach(ctx, id)
		if err := s.store.RemoveTab(ctx, id); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if _, err := s.store.RemoveOrphanedEntities(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted": len(req.TabIDs)})
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	all := s.engine.GetAllClusters()
	out := make([]map[string]any, 0, len(all))
	for _, c := range all {
		if c.TabCount() < 2 {
			continue
		}
		out = append(out, clusterSummary(c))
	}
	respondJSON(w, http.StatusOK, map[string]any{"clusters": out})
}

func clusterSummary(c cluster.Cluster) map[string]any {
	titles := make([]string, 0, len(c.Tabs))
	for _, t := range c.Tabs {
		titles = append(titles, t.Title)
	}
	return map[string]any{
		"id":              c.ID,
		"name":            c.Name,
		"color":           c.Color,
		"tab_count":       c.TabCount(),
		"shared_entities": c.SharedEntities,
		"tab_titles":      titles,
		"created_at":      c.CreatedAt,
	}
}

func (s *Server) handleVisualization(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := visualization.Filters{
		IncludeSingletons: q.Get("include_singletons") == "true",
	}
	if v, err := strconv.Atoi(q.Get("min_cluster_size")); err == nil && v > 0 {
		filters.MinClusterSize = v
	}
	if v, err := strconv.Atoi(q.Get("time_range_hours")); err == nil && v > 0 {
		filters.RecencyWindow = time.Duration(v) * time.Hour
	}

	view, err := s.assembler.Assemble(r.Context(), s.engine.GetAllClusters(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if s.recommender == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("recommendations are not configured"))
		return
	}

	clusters := s.engine.GetAllClusters()
	var context strings.Builder
	for _, c := range clusters {
		if c.TabCount() < 2 {
			continue
		}
		fmt.Fprintf(&context, "- %s (%d tabs): %s\n", c.Name, c.TabCount(), strings.Join(c.SharedEntities, ", "))
	}

	resp, err := s.recommender.Complete(r.Context(), llm.CompletionRequest{
		Model: s.recommenderModel,
		Messages: []llm.Message{{
			Role: "user",
			Content: "Given these open browser tab groups, suggest what the user might want to do next " +
				"(e.g. tabs to close, topics to research further, or a cluster worth renaming):\n\n" + context.String(),
		}},
		Temperature: 0.5,
		MaxTokens:   400,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"recommendation": resp.Content})
}

type reEnrichRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleReEnrich(w http.ResponseWriter, r *http.Request) {
	var req reEnrichRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}

	ctx := r.Context()
	clusters := s.engine.GetAllClusters()
	var tasks []queue.EnrichmentTask
	seen := make(map[string]bool)

	for _, c := range clusters {
		for _, t := range c.Tabs {
			for _, name := range t.Entities {
				entity, found, err := s.store.GetEntityByName(ctx, name, "Concept")
				if err != nil || !found {
					continue
				}
				key := fmt.Sprintf("%d:%d", entity.ID, t.ID)
				if seen[key] {
					continue
				}
				if !req.Force {
					if _, ok, err := s.store.GetEntityTabContext(ctx, entity.ID, t.ID); err == nil && ok {
						continue
					}
				}
				seen[key] = true
				tasks = append(tasks, queue.EnrichmentTask{
					EntityID:   entity.ID,
					EntityName: entity.Name,
					TabID:      t.ID,
					TabURL:     t.URL,
					TabTitle:   t.Title,
					TabSummary: t.Summary,
				})
			}
		}
	}

	// Detached from the request context: re-enrichment continues after
	// the HTTP response is sent, like the background worker's own runs.
	go s.worker.RunBatch(context.WithoutCancel(ctx), tasks)

	respondJSON(w, http.StatusAccepted, map[string]any{"status": "scheduled", "entity_tab_pairs": len(tasks)})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
