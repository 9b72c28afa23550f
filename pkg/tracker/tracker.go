package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexroute-ai/lexroute/pkg/models"
)

// Tracker records and queries token usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Query returns usage records since a given time, optionally filtered by provider.
	Query(ctx context.Context, provider string, since time.Time) ([]models.UsageRecord, error)
	// ProviderTokensSince returns total tokens spent through one provider since a given time.
	ProviderTokensSince(ctx context.Context, provider string, since time.Time) (int64, error)
	// TokensSince returns total tokens spent across all providers since a given time.
	TokensSince(ctx context.Context, since time.Time) (int64, error)
	// Summary returns aggregated usage grouped by provider, model and operation type.
	Summary(ctx context.Context, provider string) ([]models.UsageSummary, error)
	// Aggregate returns usage since a given time rolled up along one dimension:
	// provider, model or operation.
	Aggregate(ctx context.Context, since time.Time, groupBy string) ([]models.UsageSummary, error)
	// Costs returns aggregated spend grouped by provider and model since a given time.
	Costs(ctx context.Context, since time.Time) ([]models.CostReport, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	operation_type TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	consensus INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_provider_time ON usage_records(provider, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_operation ON usage_records(operation_type);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	// Add error_kind column to usage_records if missing.
	if !columnExists(db, "usage_records", "error_kind") {
		if _, err := db.Exec(`ALTER TABLE usage_records ADD COLUMN error_kind TEXT NOT NULL DEFAULT ''`); err != nil {
			db.Close()
			return nil, fmt.Errorf("add error_kind column: %w", err)
		}
	}

	return &SQLiteTracker{db: db}, nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (request_id, provider, model, operation_type, prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, cache_hit, consensus, error_kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.Model, rec.OperationType,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostUSD, rec.LatencyMS, rec.CacheHit, rec.Consensus, rec.ErrorKind, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Query returns usage records since a given time, newest first. An empty
// provider returns records for all providers.
func (t *SQLiteTracker) Query(ctx context.Context, provider string, since time.Time) ([]models.UsageRecord, error) {
	query := `SELECT id, request_id, provider, model, operation_type, prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, cache_hit, consensus, error_kind, created_at
	 FROM usage_records WHERE created_at >= ?`
	args := []any{since}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Provider, &r.Model, &r.OperationType,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.CostUSD, &r.LatencyMS, &r.CacheHit, &r.Consensus, &r.ErrorKind, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ProviderTokensSince returns total tokens spent through one provider since a
// given time. Cache hits and failed requests carry zero tokens and do not count.
func (t *SQLiteTracker) ProviderTokensSince(ctx context.Context, provider string, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE provider = ? AND created_at >= ?`,
		provider, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("provider tokens: %w", err)
	}
	return total, nil
}

// TokensSince returns total tokens spent across all providers since a given time.
func (t *SQLiteTracker) TokensSince(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE created_at >= ?`,
		since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total tokens: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by provider, model and operation type.
func (t *SQLiteTracker) Summary(ctx context.Context, provider string) ([]models.UsageSummary, error) {
	query := `SELECT provider, model, operation_type, COUNT(*),
		SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), SUM(cost_usd),
		SUM(cache_hit), SUM(CASE WHEN error_kind != '' THEN 1 ELSE 0 END)
	 FROM usage_records`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` GROUP BY provider, model, operation_type ORDER BY provider, model, operation_type`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Provider, &s.Model, &s.OperationType, &s.RequestCount,
			&s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens, &s.EstimatedCost,
			&s.CacheHits, &s.Failures); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Aggregate returns usage since a given time rolled up along one dimension:
// "provider", "model" or "operation". Only the grouped column is populated on
// the returned summaries; the dimension is whitelisted before it reaches the
// query.
func (t *SQLiteTracker) Aggregate(ctx context.Context, since time.Time, groupBy string) ([]models.UsageSummary, error) {
	var col string
	switch groupBy {
	case "provider":
		col = "provider"
	case "model":
		col = "model"
	case "operation":
		col = "operation_type"
	default:
		return nil, fmt.Errorf("aggregate: unknown dimension %q", groupBy)
	}

	query := fmt.Sprintf(`SELECT %[1]s, COUNT(*),
		SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), SUM(cost_usd),
		SUM(cache_hit), SUM(CASE WHEN error_kind != '' THEN 1 ELSE 0 END)
	 FROM usage_records WHERE created_at >= ?
	 GROUP BY %[1]s ORDER BY SUM(total_tokens) DESC`, col)

	rows, err := t.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		var key string
		if err := rows.Scan(&key, &s.RequestCount,
			&s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens, &s.EstimatedCost,
			&s.CacheHits, &s.Failures); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		switch groupBy {
		case "provider":
			s.Provider = key
		case "model":
			s.Model = key
		case "operation":
			s.OperationType = key
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Costs returns aggregated spend grouped by provider and model, highest first.
func (t *SQLiteTracker) Costs(ctx context.Context, since time.Time) ([]models.CostReport, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT provider, model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), SUM(cost_usd)
		 FROM usage_records WHERE created_at >= ?
		 GROUP BY provider, model ORDER BY SUM(cost_usd) DESC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("costs: %w", err)
	}
	defer rows.Close()

	var reports []models.CostReport
	for rows.Next() {
		var r models.CostReport
		if err := rows.Scan(&r.Provider, &r.Model, &r.RequestCount,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.EstimatedCost); err != nil {
			return nil, fmt.Errorf("scan cost report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
