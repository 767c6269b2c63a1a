package graph

const entitySelect = `
	SELECT entities.id, entities.name, entities.entity_type, entities.description, entities.created_at,
		entities.web_description, entities.related_concepts, entities.source_url,
		entities.is_enriched, entities.enriched_at, entities.embedding
	FROM entities`

// row is the subset of pgx.Row/pgx.Rows scanning needs.
type row interface {
	Scan(dest ...any) error
}

func scanEntity(r row) (Entity, error) {
	var e Entity
	var related []string
	var embedding []float32
	if err := r.Scan(&e.ID, &e.Name, &e.EntityType, &e.Description, &e.CreatedAt,
		&e.WebDescription, &related, &e.SourceURL, &e.IsEnriched, &e.EnrichedAt, &embedding); err != nil {
		return Entity{}, err
	}
	e.RelatedConcepts = related
	e.Embedding = embedding
	return e, nil
}

func scanTab(r row) (Tab, error) {
	var t Tab
	var embedding []float32
	if err := r.Scan(&t.ID, &t.URL, &t.Title, &t.FaviconURL, &t.Summary, &t.Label, &t.DisplayLabel, &t.Source,
		&embedding, &t.WindowID, &t.GroupID, &t.Important, &t.OpenedAt, &t.ClosedAt, &t.LastAccessed, &t.Active); err != nil {
		return Tab{}, err
	}
	t.Embedding = embedding
	return t, nil
}

func scanRelationships(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]TabRelationship, error) {
	var out []TabRelationship
	for rows.Next() {
		var rel TabRelationship
		var shared []string
		if err := rows.Scan(&rel.TabID1, &rel.TabID2, &rel.SharedEntityCount, &shared,
			&rel.RelationshipStrength, &rel.FirstConnected, &rel.LastUpdated); err != nil {
			return nil, err
		}
		rel.SharedEntities = shared
		out = append(out, rel)
	}
	return out, rows.Err()
}

// embeddingJSON and jsonStrings let pgx encode []float32/[]string directly
// into JSONB columns without a manual json.Marshal round trip; pgx's
// built-in JSON codec handles any Go value passed for a jsonb parameter.
func embeddingJSON(v []float32) any {
	if v == nil {
		return nil
	}
	return v
}

func jsonStrings(v []string) any {
	if v == nil {
		return []string{}
	}
	return v
}
