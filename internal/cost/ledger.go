// Package cost implements the append-only SQLite cost ledger, grounded on
// original_source/agentic.py's _init_cost_db / _record_cost.
package cost

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// Ledger records one "costs" row per completed API call.
type Ledger struct {
	db *sql.DB
}

// Open creates the costs table if absent and returns a Ledger backed by
// the SQLite file at path. An empty path disables recording.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return &Ledger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cost: create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cost: open %s: %w", path, err)
	}
	const ddl = `CREATE TABLE IF NOT EXISTS costs (
		timestamp INTEGER,
		session_id TEXT,
		model TEXT,
		input_tokens INTEGER,
		output_tokens INTEGER,
		cache_read_tokens INTEGER,
		cache_write_tokens INTEGER,
		cost_usd REAL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("cost: create table: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// CostRates is [input_per_mtok, output_per_mtok, cache_read_per_mtok].
type CostRates []float64

// Record inserts one cost row and returns the USD amount it represents.
// A nil db (path was "") or empty rates makes this a no-op returning 0.
func (l *Ledger) Record(sessionID, model string, usage models.Usage, rates CostRates) float64 {
	if l.db == nil || len(rates) == 0 {
		return 0
	}

	var inputRate, outputRate, cacheRate float64
	if len(rates) > 0 {
		inputRate = rates[0]
	}
	if len(rates) > 1 {
		outputRate = rates[1]
	}
	if len(rates) > 2 {
		cacheRate = rates[2]
	}

	costUSD := float64(usage.InputTokens)*inputRate/1_000_000 +
		float64(usage.OutputTokens)*outputRate/1_000_000 +
		float64(usage.CacheReadTokens)*cacheRate/1_000_000

	_, err := l.db.Exec(
		`INSERT INTO costs VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), sessionID, model,
		usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens, usage.CacheWriteTokens,
		costUSD,
	)
	if err != nil {
		return costUSD
	}
	return costUSD
}

// Rows returns every recorded cost row, oldest first, for the /cost
// HTTP endpoint.
func (l *Ledger) Rows() ([]models.CostRow, error) {
	if l.db == nil {
		return nil, nil
	}
	rows, err := l.db.Query(`SELECT timestamp, session_id, model, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost_usd FROM costs ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CostRow
	for rows.Next() {
		var r models.CostRow
		if err := rows.Scan(&r.Timestamp, &r.SessionID, &r.Model, &r.InputTokens, &r.OutputTokens, &r.CacheReadTokens, &r.CacheWriteTokens, &r.CostUSD); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
