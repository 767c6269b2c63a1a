// Package graph persists the knowledge graph: entities, tabs, the edges
// between them, tab-tab Jaccard relationships, and temporal triplets.
package graph

import "time"

// Tab is a single open browser tab as tracked by the knowledge graph.
type Tab struct {
	ID            int64
	URL           string
	Title         string
	FaviconURL    string
	Summary       string
	Label         string
	DisplayLabel  string
	Source        string
	Embedding     []float32
	WindowID      *int64
	GroupID       *int64
	Important     bool
	OpenedAt      time.Time
	ClosedAt      *time.Time
	LastAccessed  time.Time
	Active        bool
}

// Entity is a knowledge-graph node extracted from one or more tabs,
// unique on (Name, EntityType).
type Entity struct {
	ID              int64
	Name            string
	EntityType      string
	Description     string
	CreatedAt       time.Time
	WebDescription  string
	RelatedConcepts []string
	SourceURL       string
	IsEnriched      bool
	EnrichedAt      *time.Time
	Embedding       []float32
}

// EntityTabContext is a per-(entity,tab) contextual description written
// by the enrichment worker, preserving page-specific meaning even when
// an entity's global fields drift toward whichever tab was enriched last.
type EntityTabContext struct {
	EntityID   int64
	TabID      int64
	Description string
	EnrichedAt time.Time
}

// TabRelationship is a materialized Jaccard-similarity edge between two
// tabs that share entities. TabID1 is always < TabID2.
type TabRelationship struct {
	TabID1               int64
	TabID2               int64
	SharedEntityCount    int
	SharedEntities       []string
	RelationshipStrength float64
	FirstConnected       time.Time
	LastUpdated          time.Time
}

// Triplet is a temporal subject-predicate-object fact extracted about
// the entities in the graph.
type Triplet struct {
	ID           int64
	SubjectID    int64
	SubjectName  string
	Predicate    string
	ObjectID     int64
	ObjectName   string
	StartTime    *time.Time
	EndTime      *time.Time
	IsCurrent    bool
	Confidence   float64
	Source       string
	CreatedAt    time.Time
}
