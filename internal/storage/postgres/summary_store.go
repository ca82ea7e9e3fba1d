// Package postgres records one summary row per completed session.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitegraph/internal/pipeline"
)

const defaultTable = "crawl_summaries"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool used for summary rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// SummaryStore writes session summaries into Postgres.
type SummaryStore struct {
	pool  pool
	table string
}

var _ pipeline.ResultHandler = (*SummaryStore)(nil)

// NewSummaryStore connects a pool using cfg.
func NewSummaryStore(ctx context.Context, cfg Config) (*SummaryStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SummaryStore{pool: p, table: table}, nil
}

// NewSummaryStoreWithPool wraps an existing pool (used by tests).
func NewSummaryStoreWithPool(p pool, table string) (*SummaryStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SummaryStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *SummaryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable. It serves as a readiness check.
func (s *SummaryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Handle inserts the summary row for result. A repeated session id updates
// the existing row.
func (s *SummaryStore) Handle(ctx context.Context, result pipeline.Result) error {
	if result.SessionID == "" {
		return errors.New("session id is required")
	}
	paths := make([]string, 0, len(result.Paths))
	for _, p := range result.Paths {
		paths = append(paths, p.Path)
	}
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("marshal paths: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	session_id,
	url,
	domain,
	crawled_at,
	duration_ms,
	pages_crawled,
	links_found,
	unique_paths,
	enriched_paths,
	is_demo,
	page_limit,
	remaining_pages,
	paths
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (session_id) DO UPDATE SET
	crawled_at = EXCLUDED.crawled_at,
	duration_ms = EXCLUDED.duration_ms,
	pages_crawled = EXCLUDED.pages_crawled,
	links_found = EXCLUDED.links_found,
	unique_paths = EXCLUDED.unique_paths,
	enriched_paths = EXCLUDED.enriched_paths,
	paths = EXCLUDED.paths`, s.table)

	args := []any{
		result.SessionID,
		result.URL,
		result.Domain,
		result.CrawledAt,
		result.DurationMillis,
		result.TotalPagesCrawled,
		result.TotalLinksFound,
		result.UniquePathsFound,
		len(result.Enrichment),
		result.Gating.IsDemo,
		result.Gating.PageLimit,
		result.Gating.RemainingPages,
		pathsJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}
