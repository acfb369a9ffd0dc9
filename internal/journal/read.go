package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
)

// Entry is a stored event.
type Entry struct {
	ID  string `json:"id"`
	Run string `json:"run"`
	engine.Event
}

// Query filters a read. Zero fields match everything.
type Query struct {
	Run        string
	InstanceID int64
	Schema     string
}

// Read returns the matching events ordered by run, seq ASC, id ASC.
// It returns an empty slice, not nil, when nothing matches.
func (s *Store) Read(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Run != "" {
		where = append(where, "run = ?")
		args = append(args, q.Run)
	}
	if q.InstanceID != 0 {
		where = append(where, "instance_id = ?")
		args = append(args, q.InstanceID)
	}
	if q.Schema != "" {
		where = append(where, "schema_name = ?")
		args = append(args, q.Schema)
	}

	query := `
		SELECT id, run, seq, kind, instance_id, schema_name, client_id, version, state, metadata
		FROM events`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY run COLLATE BINARY ASC, seq ASC, id COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// ReadRun returns the events of the current run.
func (s *Store) ReadRun(ctx context.Context) ([]Entry, error) {
	return s.Read(ctx, Query{Run: s.run})
}

// Runs lists the stored run ids, oldest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT run FROM events ORDER BY run COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e       Entry
		kind    string
		version int64
		state   string
		meta    string
	)
	if err := rows.Scan(&e.ID, &e.Run, &e.Seq, &kind, &e.InstanceID, &e.Schema, &e.ClientID, &version, &state, &meta); err != nil {
		return Entry{}, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = engine.EventKind(kind)
	e.Version = uint64(version)

	var err error
	if e.Values, err = unmarshalValues(state); err != nil {
		return Entry{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	if e.Metadata, err = unmarshalMetadata(meta); err != nil {
		return Entry{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	return e, nil
}
