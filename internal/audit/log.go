// Package audit writes an append-only, disposable record of each
// completed ingest call to ClickHouse: counts and timing useful for
// understanding pipeline behavior over time, entirely separate from
// the graph store's transactional schema. Losing this log loses
// history, never correctness.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// IngestRecord is one row of the audit log.
type IngestRecord struct {
	Timestamp           time.Time
	TabCount            int
	EmbeddingCacheHits   int
	EmbeddingCacheMisses int
	EntityCacheHits      int
	EntityCacheMisses    int
	ClustersCreated      int
	ClustersRenamed      int
	ClustersDeleted      int
	Duration             time.Duration
}

// Log appends IngestRecords to ClickHouse. A nil *Log is valid and
// every method becomes a no-op, so audit logging can be disabled
// outright without conditionals at every call site.
type Log struct {
	conn driver.Conn
}

// Open dials ClickHouse and ensures the audit table exists.
func Open(ctx context.Context, dsn string) (*Log, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: parsing dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: opening connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("audit: pinging clickhouse: %w", err)
	}
	l := &Log{conn: conn}
	if err := l.initSchema(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) initSchema(ctx context.Context) error {
	return l.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ingest_audit (
			ts                     DateTime64(3),
			tab_count              UInt32,
			embedding_cache_hits   UInt32,
			embedding_cache_misses UInt32,
			entity_cache_hits      UInt32,
			entity_cache_misses    UInt32,
			clusters_created       UInt32,
			clusters_renamed       UInt32,
			clusters_deleted       UInt32,
			duration_ms            UInt64
		) ENGINE = MergeTree()
		ORDER BY ts
	`)
}

// Record appends one IngestRecord. Errors are the caller's to log and
// ignore; audit writes never affect the ingest response.
func (l *Log) Record(ctx context.Context, r IngestRecord) error {
	if l == nil {
		return nil
	}
	return l.conn.Exec(ctx, `
		INSERT INTO ingest_audit (ts, tab_count, embedding_cache_hits, embedding_cache_misses,
			entity_cache_hits, entity_cache_misses, clusters_created, clusters_renamed,
			clusters_deleted, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Timestamp, r.TabCount, r.EmbeddingCacheHits, r.EmbeddingCacheMisses,
		r.EntityCacheHits, r.EntityCacheMisses, r.ClustersCreated, r.ClustersRenamed,
		r.ClustersDeleted, uint64(r.Duration.Milliseconds()))
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.conn.Close()
}
