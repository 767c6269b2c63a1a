// Package visualization assembles the node/edge graph view a browser
// extension renders: clusters, their tabs, the entities those tabs
// reference, and a bounded set of entity-entity relationship edges
// drawn from the triplet store.
package visualization

import (
	"context"
	"sort"
	"strconv"
	"time"

	"tabgraph/internal/cluster"
	"tabgraph/internal/graph"
)

const defaultMaxRelationshipEdges = 200

// NodeType distinguishes the three node kinds in the view.
type NodeType string

const (
	NodeCluster NodeType = "cluster"
	NodeTab     NodeType = "tab"
	NodeEntity  NodeType = "entity"
)

// EdgeType distinguishes the three edge kinds in the view.
type EdgeType string

const (
	EdgeContains   EdgeType = "contains"   // cluster -> tab, high layout weight
	EdgeReferences EdgeType = "references" // tab -> entity, low layout weight
	EdgeRelated    EdgeType = "related"    // entity -> entity, from the triplet store
)

type Node struct {
	ID    string
	Type  NodeType
	Label string

	// Cluster fields
	Color    string
	TabCount int

	// Tab fields
	URL          string
	DisplayLabel string
	Summary      string
	ClusterID    string

	// Entity fields
	Description string
	TabContexts map[int64]string
}

type Edge struct {
	Type       EdgeType
	Source     string
	Target     string
	Weight     float64
	Predicate  string
	Confidence float64
}

// View is the full assembled graph.
type View struct {
	Nodes []Node
	Edges []Edge
}

// Filters bound the view's size and recency.
type Filters struct {
	IncludeSingletons bool
	MinClusterSize    int
	RecencyWindow     time.Duration
	MaxRelationships  int
}

// Assembler builds a View from the live cluster engine and the graph
// store's entity/relationship/triplet tables.
type Assembler struct {
	store graph.Store
}

func New(store graph.Store) *Assembler {
	return &Assembler{store: store}
}

// Assemble gathers one cluster/tab/entity node per live object, then
// prunes relationship edges to at most Filters.MaxRelationships,
// exactly the "gather, augment, prune to a limit" shape used
// throughout this service's read paths.
func (a *Assembler) Assemble(ctx context.Context, clusters []cluster.Cluster, filters Filters) (View, error) {
	if filters.MinClusterSize <= 0 {
		filters.MinClusterSize = 2
	}
	if filters.MaxRelationships <= 0 {
		filters.MaxRelationships = defaultMaxRelationshipEdges
	}

	var view View
	entitySeen := make(map[string]bool)
	var entityIDs []int64

	for _, c := range clusters {
		size := c.TabCount()
		if !filters.IncludeSingletons && size < filters.MinClusterSize {
			continue
		}
		view.Nodes = append(view.Nodes, Node{
			ID:       c.ID,
			Type:     NodeCluster,
			Label:    c.Name,
			Color:    string(c.Color),
			TabCount: size,
		})

		for _, t := range c.Tabs {
			if filters.RecencyWindow > 0 && time.Since(t.LastAccessed) > filters.RecencyWindow {
				continue
			}
			tabNodeID := tabNodeID(t.ID)
			view.Nodes = append(view.Nodes, Node{
				ID:           tabNodeID,
				Type:         NodeTab,
				Label:        t.Title,
				URL:          t.URL,
				DisplayLabel: t.DisplayLabel,
				Summary:      t.Summary,
				Color:        string(c.Color),
				ClusterID:    c.ID,
			})
			view.Edges = append(view.Edges, Edge{Type: EdgeContains, Source: c.ID, Target: tabNodeID, Weight: 1.0})

			for _, name := range t.Entities {
				ent, found, err := a.store.GetEntityByName(ctx, name, "Concept")
				if err != nil || !found {
					continue
				}
				entNodeID := entityNodeID(ent.ID)
				view.Edges = append(view.Edges, Edge{Type: EdgeReferences, Source: tabNodeID, Target: entNodeID, Weight: 0.2})
				if entitySeen[entNodeID] {
					continue
				}
				entitySeen[entNodeID] = true
				entityIDs = append(entityIDs, ent.ID)

				contexts := make(map[int64]string)
				if desc, ok, err := a.store.GetEntityTabContext(ctx, ent.ID, t.ID); err == nil && ok {
					contexts[t.ID] = desc
				}
				view.Nodes = append(view.Nodes, Node{
					ID:          entNodeID,
					Type:        NodeEntity,
					Label:       ent.Name,
					Description: ent.WebDescription,
					TabContexts: contexts,
				})
			}
		}
	}

	triplets, err := a.relationshipEdges(ctx, entityIDs, filters.MaxRelationships)
	if err != nil {
		return view, err
	}
	view.Edges = append(view.Edges, triplets...)

	return view, nil
}

// relationshipEdges draws up to max entity-entity edges from the
// triplet store for the entities present in the view, highest
// confidence first.
func (a *Assembler) relationshipEdges(ctx context.Context, entityIDs []int64, max int) ([]Edge, error) {
	var all []Edge
	for _, id := range entityIDs {
		triplets, err := a.store.GetTripletsForEntity(ctx, id, true)
		if err != nil {
			return nil, err
		}
		for _, t := range triplets {
			if !t.IsCurrent {
				continue
			}
			all = append(all, Edge{
				Type:       EdgeRelated,
				Source:     entityNodeID(t.SubjectID),
				Target:     entityNodeID(t.ObjectID),
				Weight:     t.Confidence,
				Predicate:  t.Predicate,
				Confidence: t.Confidence,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Confidence > all[j].Confidence })
	if len(all) > max {
		all = all[:max]
	}
	return all, nil
}

func tabNodeID(id int64) string    { return "tab:" + strconv.FormatInt(id, 10) }
func entityNodeID(id int64) string { return "entity:" + strconv.FormatInt(id, 10) }
