package graph

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by a pgxpool.Pool, with the schema
// created on construction the way the rest of this codebase bootstraps
// its Postgres-backed stores.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresPool dials Postgres with conservative pool defaults and a
// short ping to fail fast on misconfiguration.
func OpenPostgresPool(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// NewPostgresStore wraps pool as a Store, creating the schema if absent.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			web_description TEXT NOT NULL DEFAULT '',
			related_concepts JSONB NOT NULL DEFAULT '[]'::jsonb,
			source_url TEXT NOT NULL DEFAULT '',
			is_enriched BOOLEAN NOT NULL DEFAULT false,
			enriched_at TIMESTAMPTZ,
			embedding JSONB,
			UNIQUE(name, entity_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type)`,

		`CREATE TABLE IF NOT EXISTS triplets (
			id BIGSERIAL PRIMARY KEY,
			subject_id BIGINT NOT NULL REFERENCES entities(id),
			subject_name TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object_id BIGINT NOT NULL REFERENCES entities(id),
			object_name TEXT NOT NULL,
			start_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			is_current BOOLEAN NOT NULL DEFAULT true,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_triplets_subject ON triplets(subject_id)`,
		`CREATE INDEX IF NOT EXISTS idx_triplets_object ON triplets(object_id)`,
		`CREATE INDEX IF NOT EXISTS idx_triplets_predicate ON triplets(predicate)`,

		`CREATE TABLE IF NOT EXISTS tabs (
			id BIGINT PRIMARY KEY,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			favicon_url TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			display_label TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			embedding JSONB,
			window_id BIGINT,
			group_id BIGINT,
			important BOOLEAN NOT NULL DEFAULT false,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at TIMESTAMPTZ,
			last_accessed TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_active BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tabs_url ON tabs(url)`,
		`CREATE INDEX IF NOT EXISTS idx_tabs_opened_at ON tabs(opened_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tabs_is_active ON tabs(is_active)`,

		`CREATE TABLE IF NOT EXISTS tab_entities (
			tab_id BIGINT NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
			entity_id BIGINT NOT NULL REFERENCES entities(id),
			first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tab_id, entity_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tab_entities_tab ON tab_entities(tab_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tab_entities_entity ON tab_entities(entity_id)`,

		`CREATE TABLE IF NOT EXISTS entity_tab_contexts (
			entity_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			tab_id BIGINT NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
			description TEXT NOT NULL,
			enriched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (entity_id, tab_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_tab_contexts_entity ON entity_tab_contexts(entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entity_tab_contexts_tab ON entity_tab_contexts(tab_id)`,

		`CREATE TABLE IF NOT EXISTS tab_relationships (
			tab_id_1 BIGINT NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
			tab_id_2 BIGINT NOT NULL REFERENCES tabs(id) ON DELETE CASCADE,
			shared_entity_count INT NOT NULL DEFAULT 0,
			shared_entities JSONB NOT NULL DEFAULT '[]'::jsonb,
			relationship_strength DOUBLE PRECISION NOT NULL DEFAULT 0.0,
			first_connected TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tab_id_1, tab_id_2),
			CHECK (tab_id_1 < tab_id_2)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tab_rel_tab1 ON tab_relationships(tab_id_1)`,
		`CREATE INDEX IF NOT EXISTS idx_tab_rel_tab2 ON tab_relationships(tab_id_2)`,
		`CREATE INDEX IF NOT EXISTS idx_tab_rel_strength ON tab_relationships(relationship_strength)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) UpsertTab(ctx context.Context, t Tab) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tabs (id, url, title, favicon_url, summary, label, display_label,
			source, embedding, window_id, group_id, important, opened_at, last_accessed, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,true)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			favicon_url = EXCLUDED.favicon_url,
			summary = EXCLUDED.summary,
			label = EXCLUDED.label,
			display_label = EXCLUDED.display_label,
			source = EXCLUDED.source,
			embedding = COALESCE(EXCLUDED.embedding, tabs.embedding),
			window_id = EXCLUDED.window_id,
			group_id = EXCLUDED.group_id,
			important = EXCLUDED.important,
			last_accessed = EXCLUDED.last_accessed,
			is_active = true
	`, t.ID, t.URL, t.Title, t.FaviconURL, t.Summary, t.Label, t.DisplayLabel,
		t.Source, embeddingJSON(t.Embedding), t.WindowID, t.GroupID, t.Important, t.OpenedAt, t.LastAccessed)
	return err
}

func (s *PostgresStore) GetTab(ctx context.Context, id int64) (Tab, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, url, title, favicon_url, summary, label, display_label, source,
			embedding, window_id, group_id, important, opened_at, closed_at, last_accessed, is_active
		FROM tabs WHERE id=$1`, id)
	t, err := scanTab(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tab{}, false, nil
	}
	if err != nil {
		return Tab{}, false, err
	}
	return t, true, nil
}

func (s *PostgresStore) ListActiveTabs(ctx context.Context) ([]Tab, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, title, favicon_url, summary, label, display_label, source,
			embedding, window_id, group_id, important, opened_at, closed_at, last_accessed, is_active
		FROM tabs WHERE is_active ORDER BY opened_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tab
	for rows.Next() {
		t, err := scanTab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CloseTab(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE tabs SET is_active=false, closed_at=now() WHERE id=$1`, id)
	return err
}

func (s *PostgresStore) RemoveTab(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tabs WHERE id=$1`, id)
	return err
}

func (s *PostgresStore) UpdateTabSummary(ctx context.Context, id int64, summary string) error {
	_, err := s.pool.Exec(ctx, `UPDATE tabs SET summary=$2 WHERE id=$1`, id, summary)
	return err
}

func (s *PostgresStore) UpdateTabEmbedding(ctx context.Context, id int64, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE tabs SET embedding=$2 WHERE id=$1`, id, embeddingJSON(embedding))
	return err
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, e Entity) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO entities (name, entity_type, description, web_description, related_concepts, source_url)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (name, entity_type) DO UPDATE SET name = entities.name
		RETURNING id
	`, e.Name, e.EntityType, e.Description, e.WebDescription, jsonStrings(e.RelatedConcepts), e.SourceURL).Scan(&id)
	return id, err
}

func (s *PostgresStore) GetEntity(ctx context.Context, id int64) (Entity, bool, error) {
	row := s.pool.QueryRow(ctx, entitySelect+` WHERE id=$1`, id)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, false, nil
	}
	if err != nil {
		return Entity{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) GetEntityByName(ctx context.Context, name, entityType string) (Entity, bool, error) {
	row := s.pool.QueryRow(ctx, entitySelect+` WHERE name=$1 AND entity_type=$2`, name, entityType)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, false, nil
	}
	if err != nil {
		return Entity{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) GetEntitiesByNames(ctx context.Context, names []string) ([]Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, entitySelect+` WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RemoveEntity(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id=$1`, id)
	return err
}

func (s *PostgresStore) GetOrphanedEntities(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.id FROM entities e
		LEFT JOIN tab_entities te ON te.entity_id = e.id
		WHERE te.entity_id IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RemoveOrphanedEntities(ctx context.Context) (int, error) {
	ids, err := s.GetOrphanedEntities(ctx)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) LinkTabToEntity(ctx context.Context, tabID, entityID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tab_entities (tab_id, entity_id) VALUES ($1,$2)
		ON CONFLICT (tab_id, entity_id) DO UPDATE SET last_seen = now()
	`, tabID, entityID)
	return err
}

func (s *PostgresStore) GetEntitiesForTab(ctx context.Context, tabID int64) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, entitySelect+`
		JOIN tab_entities te ON te.entity_id = entities.id
		WHERE te.tab_id = $1`, tabID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTabsForEntity(ctx context.Context, entityID int64) ([]Tab, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.url, t.title, t.favicon_url, t.summary, t.label, t.display_label, t.source,
			t.embedding, t.window_id, t.group_id, t.important, t.opened_at, t.closed_at, t.last_accessed, t.is_active
		FROM tabs t
		JOIN tab_entities te ON te.tab_id = t.id
		WHERE te.entity_id = $1`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tab
	for rows.Next() {
		t, err := scanTab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateEntityEnrichment(ctx context.Context, entityID int64, webDescription string, relatedConcepts []string, sourceURL string, entityType string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE entities SET web_description=$2, related_concepts=$3, source_url=$4,
			entity_type=COALESCE(NULLIF($5, ''), entity_type),
			is_enriched=true, enriched_at=now()
		WHERE id=$1`, entityID, webDescription, jsonStrings(relatedConcepts), sourceURL, entityType)
	return err
}

func (s *PostgresStore) UpdateEntityEmbedding(ctx context.Context, entityID int64, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE entities SET embedding=$2 WHERE id=$1`, entityID, embeddingJSON(embedding))
	return err
}

func (s *PostgresStore) SaveEntityTabContext(ctx context.Context, entityID, tabID int64, description string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_tab_contexts (entity_id, tab_id, description) VALUES ($1,$2,$3)
		ON CONFLICT (entity_id, tab_id) DO UPDATE SET description=EXCLUDED.description, enriched_at=now()
	`, entityID, tabID, description)
	return err
}

func (s *PostgresStore) GetEntityTabContext(ctx context.Context, entityID, tabID int64) (string, bool, error) {
	var desc string
	err := s.pool.QueryRow(ctx, `SELECT description FROM entity_tab_contexts WHERE entity_id=$1 AND tab_id=$2`, entityID, tabID).Scan(&desc)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return desc, true, nil
}

func (s *PostgresStore) NeedsEnrichment(ctx context.Context, entityID int64, cacheTTL time.Duration) (bool, error) {
	var isEnriched bool
	var enrichedAt *time.Time
	err := s.pool.QueryRow(ctx, `SELECT is_enriched, enriched_at FROM entities WHERE id=$1`, entityID).Scan(&isEnriched, &enrichedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !isEnriched || enrichedAt == nil {
		return true, nil
	}
	return time.Since(*enrichedAt) > cacheTTL, nil
}

func (s *PostgresStore) GetEntitiesNeedingEnrichment(ctx context.Context, limit int) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, entitySelect+` WHERE NOT is_enriched ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertTabRelationship(ctx context.Context, rel TabRelationship) error {
	a, b := rel.TabID1, rel.TabID2
	if a > b {
		a, b = b, a
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tab_relationships (tab_id_1, tab_id_2, shared_entity_count, shared_entities, relationship_strength)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (tab_id_1, tab_id_2) DO UPDATE SET
			shared_entity_count = EXCLUDED.shared_entity_count,
			shared_entities = EXCLUDED.shared_entities,
			relationship_strength = EXCLUDED.relationship_strength,
			last_updated = now()
	`, a, b, rel.SharedEntityCount, jsonStrings(rel.SharedEntities), rel.RelationshipStrength)
	return err
}

func (s *PostgresStore) GetTabRelationships(ctx context.Context, tabID int64) ([]TabRelationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tab_id_1, tab_id_2, shared_entity_count, shared_entities, relationship_strength, first_connected, last_updated
		FROM tab_relationships WHERE tab_id_1=$1 OR tab_id_2=$1`, tabID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func (s *PostgresStore) GetAllTabRelationships(ctx context.Context) ([]TabRelationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tab_id_1, tab_id_2, shared_entity_count, shared_entities, relationship_strength, first_connected, last_updated
		FROM tab_relationships`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func (s *PostgresStore) AddTriplet(ctx context.Context, t Triplet) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO triplets (subject_id, subject_name, predicate, object_id, object_name,
			start_time, end_time, is_current, confidence, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, t.SubjectID, t.SubjectName, t.Predicate, t.ObjectID, t.ObjectName,
		t.StartTime, t.EndTime, t.IsCurrent, t.Confidence, t.Source).Scan(&id)
	return id, err
}

func (s *PostgresStore) GetTripletsForEntity(ctx context.Context, entityID int64, asSubject bool) ([]Triplet, error) {
	col := "object_id"
	if asSubject {
		col = "subject_id"
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject_id, subject_name, predicate, object_id, object_name,
			start_time, end_time, is_current, confidence, source, created_at
		FROM triplets WHERE `+col+` = $1 ORDER BY created_at DESC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Triplet
	for rows.Next() {
		var t Triplet
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.SubjectName, &t.Predicate, &t.ObjectID, &t.ObjectName,
			&t.StartTime, &t.EndTime, &t.IsCurrent, &t.Confidence, &t.Source, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
