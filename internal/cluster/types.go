// Package cluster implements the online, centroid-based tab clustering
// engine: assigning tabs to clusters by hybrid embedding/entity
// similarity, eagerly recomputing centroids on every add and remove to
// avoid "ghost clusters" whose centroid no longer reflects their
// members, and deferring expensive LLM naming to batch boundaries.
package cluster

import (
	"time"

	"tabgraph/internal/graph"
)

// Color is one of the nine Chrome Tab Group colors a cluster can be
// painted. The palette is never reclaimed: the round-robin index only
// advances, so a long-running engine eventually repeats colors across
// unrelated clusters rather than reassigning a freed one.
type Color string

const (
	ColorGrey   Color = "grey"
	ColorBlue   Color = "blue"
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorPink   Color = "pink"
	ColorPurple Color = "purple"
	ColorCyan   Color = "cyan"
	ColorOrange Color = "orange"
)

// palette is iterated round-robin by Engine.nextColor.
var palette = []Color{ColorGrey, ColorBlue, ColorRed, ColorYellow, ColorGreen, ColorPink, ColorPurple, ColorCyan, ColorOrange}

// Tab is the clustering engine's view of a browser tab: the subset of
// graph.Tab fields the similarity math and graph writes need, plus the
// entities and embedding computed earlier in the ingest pipeline.
type Tab struct {
	ID           int64
	URL          string
	Title        string
	FaviconURL   string
	Summary      string
	Label        string
	DisplayLabel string
	Source       string
	Entities     []string
	Embedding    []float32
	WindowID     *int64
	GroupID      *int64
	Important    bool
	OpenedAt     time.Time
	LastAccessed time.Time
}

// Cluster is a live, in-memory group of semantically related tabs. The
// clustering engine is the sole owner of Cluster state; callers read it
// through Engine's accessor methods rather than mutating it directly.
type Cluster struct {
	ID                  string
	Name                string
	Color               Color
	Tabs                []Tab
	SharedEntities       []string
	Confidence          float64
	CreatedAt           time.Time
	TabsAddedSinceNaming int
	CentroidEmbedding   []float32
}

// TabCount returns the number of tabs currently in the cluster.
func (c *Cluster) TabCount() int { return len(c.Tabs) }

// shouldRegenerateName reports whether enough tabs have been added
// since the cluster was last named to warrant a rename.
func (c *Cluster) shouldRegenerateName(threshold int) bool {
	return c.TabsAddedSinceNaming >= threshold
}

// markForDeletion reports whether the cluster has fallen below the
// minimum viable size and should be dropped from the engine.
func (c *Cluster) markForDeletion(minSize int) bool {
	return c.TabCount() < minSize
}

func (c *Cluster) addTab(tab Tab) bool {
	for _, t := range c.Tabs {
		if t.ID == tab.ID {
			return false
		}
	}
	c.Tabs = append(c.Tabs, tab)
	c.TabsAddedSinceNaming++
	return true
}

func (c *Cluster) removeTab(tabID int64) bool {
	for i, t := range c.Tabs {
		if t.ID == tabID {
			c.Tabs = append(c.Tabs[:i], c.Tabs[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cluster) tabTitles() []string {
	out := make([]string, len(c.Tabs))
	for i, t := range c.Tabs {
		out[i] = t.Title
	}
	return out
}

// toGraphTab renders an engine Tab back into the persistence shape.
func toGraphTab(t Tab) graph.Tab {
	return graph.Tab{
		ID:           t.ID,
		URL:          t.URL,
		Title:        t.Title,
		FaviconURL:   t.FaviconURL,
		Summary:      t.Summary,
		Label:        t.Label,
		DisplayLabel: t.DisplayLabel,
		Source:       t.Source,
		Embedding:    t.Embedding,
		WindowID:     t.WindowID,
		GroupID:      t.GroupID,
		Important:    t.Important,
		OpenedAt:     t.OpenedAt,
		LastAccessed: t.LastAccessed,
	}
}
