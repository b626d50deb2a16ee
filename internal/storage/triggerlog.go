package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/keshon/behavior-sim/internal/behavior"
)

const triggerSchema = `
CREATE TABLE IF NOT EXISTS trigger_log (
	id            TEXT PRIMARY KEY,
	agent_id      TEXT NOT NULL,
	message_id    TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	trigger_type  TEXT NOT NULL,
	weight        REAL NOT NULL,
	detected_text TEXT NOT NULL DEFAULT '',
	at_unix_ns    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS trigger_log_agent_cat_at ON trigger_log (agent_id, category, at_unix_ns);
CREATE INDEX IF NOT EXISTS trigger_log_at ON trigger_log (at_unix_ns);
`

// TriggerLog is the append-only trigger history kept in SQLite.
type TriggerLog struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenTriggerLog opens (creating if needed) the SQLite database at path.
// ":memory:" gives a private in-memory log.
func OpenTriggerLog(path string, logger zerolog.Logger) (*TriggerLog, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open trigger log: %w", err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY and keeps :memory: on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(triggerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trigger log schema: %w", err)
	}
	return &TriggerLog{db: db, logger: logger.With().Str("component", "triggerlog").Logger()}, nil
}

func (l *TriggerLog) Close() error {
	return l.db.Close()
}

// Append writes all entries in one transaction.
func (l *TriggerLog) Append(ctx context.Context, entries []behavior.TriggerLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trigger_log
		(id, agent_id, message_id, category, trigger_type, weight, detected_text, at_unix_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.AgentID, e.MessageID, string(e.Category),
			string(e.Type), e.Weight, e.DetectedText, unixNano(e.At)); err != nil {
			return fmt.Errorf("append trigger %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Since returns the rows of agentID/c at or after since, oldest first.
func (l *TriggerLog) Since(ctx context.Context, agentID string, c behavior.Category, since time.Time) ([]behavior.TriggerLogEntry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, agent_id, message_id, category, trigger_type, weight, detected_text, at_unix_ns
		FROM trigger_log WHERE agent_id = ? AND category = ? AND at_unix_ns >= ?
		ORDER BY at_unix_ns, id`, agentID, string(c), unixNano(since))
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []behavior.TriggerLogEntry
	for rows.Next() {
		var (
			e        behavior.TriggerLogEntry
			cat, typ string
			at       int64
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.MessageID, &cat, &typ, &e.Weight, &e.DetectedText, &at); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		e.Category = behavior.Category(cat)
		e.Type = behavior.TriggerType(typ)
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read triggers: %w", err)
	}
	return out, nil
}

// CountByType counts rows of agentID/c per trigger type at or after since.
func (l *TriggerLog) CountByType(ctx context.Context, agentID string, c behavior.Category, since time.Time) (map[behavior.TriggerType]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT trigger_type, COUNT(*) FROM trigger_log
		WHERE agent_id = ? AND category = ? AND at_unix_ns >= ?
		GROUP BY trigger_type`, agentID, string(c), unixNano(since))
	if err != nil {
		return nil, fmt.Errorf("count triggers: %w", err)
	}
	defer rows.Close()

	out := make(map[behavior.TriggerType]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[behavior.TriggerType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read counts: %w", err)
	}
	return out, nil
}

// PhaseKey names one agent's profile.
type PhaseKey struct {
	AgentID  string
	Category behavior.Category
}

// Prune deletes rows older than before and reports how many went. A profile
// listed in keep with a phase started earlier than before only loses rows
// older than that start, so phase requirements keep counting them.
func (l *TriggerLog) Prune(ctx context.Context, before time.Time, keep map[PhaseKey]time.Time) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT agent_id, category FROM trigger_log WHERE at_unix_ns < ?`, unixNano(before))
	if err != nil {
		return 0, fmt.Errorf("prune triggers: %w", err)
	}
	var keys []PhaseKey
	for rows.Next() {
		var k PhaseKey
		var cat string
		if err := rows.Scan(&k.AgentID, &cat); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan prune key: %w", err)
		}
		k.Category = behavior.Category(cat)
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("prune triggers: %w", err)
	}

	var total int64
	for _, k := range keys {
		cutoff := before
		if start, ok := keep[k]; ok && start.Before(cutoff) {
			cutoff = start
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM trigger_log WHERE agent_id = ? AND category = ? AND at_unix_ns < ?`,
			k.AgentID, string(k.Category), unixNano(cutoff))
		if err != nil {
			return 0, fmt.Errorf("prune triggers of %s: %w", k.AgentID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("prune triggers: %w", err)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return total, nil
}

// DeleteAgent drops every row of agentID.
func (l *TriggerLog) DeleteAgent(ctx context.Context, agentID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM trigger_log WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("delete triggers of %s: %w", agentID, err)
	}
	return nil
}

var (
	minNano = time.Unix(0, math.MinInt64)
	maxNano = time.Unix(0, math.MaxInt64)
)

// unixNano clamps t into the range UnixNano can represent; the zero time
// maps to the smallest value.
func unixNano(t time.Time) int64 {
	switch {
	case t.Before(minNano):
		return math.MinInt64
	case t.After(maxNano):
		return math.MaxInt64
	}
	return t.UnixNano()
}
