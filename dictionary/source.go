package dictionary

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Source produces one dictionary table.
type Source interface {
	Name() string
	Load(ctx context.Context, policy MergePolicy) (*Table, error)
}

// SourceFor picks the source type from the file extension: .db, .sqlite
// and .sqlite3 are SQLite databases, anything else is JSON.
func SourceFor(path string) Source {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return SQLiteFile{Path: path}
	}
	return JSONFile{Path: path}
}

// SourcesFor maps SourceFor over paths.
func SourcesFor(paths []string) []Source {
	out := make([]Source, len(paths))
	for i, p := range paths {
		out[i] = SourceFor(p)
	}
	return out
}

// JSONFile reads a table of the form {"reading": {"surface": weight}}.
// Object order is preserved, so ties rank in file order. A weight given
// as {"cost": c} counts as -c; any other non-numeric weight counts as 1.
type JSONFile struct {
	Path string
}

func (f JSONFile) Name() string { return f.Path }

func (f JSONFile) Load(ctx context.Context, policy MergePolicy) (*Table, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	t, err := ReadJSON(ctx, bufio.NewReader(file), policy)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	return t, nil
}

// ReadJSON parses a JSON dictionary from r.
func ReadJSON(ctx context.Context, r io.Reader, policy MergePolicy) (*Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	t := NewTable(policy)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for n := 0; dec.More(); n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		reading, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		if err := expectDelim(dec, '{'); err != nil {
			return nil, fmt.Errorf("reading %q: %w", reading, err)
		}
		for dec.More() {
			surface, err := stringToken(dec)
			if err != nil {
				return nil, err
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, fmt.Errorf("reading %q: %w", reading, err)
			}
			t.Add(reading, surface, parseWeight(raw))
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return t, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected string key, got %v", tok)
	}
	return s, nil
}

func parseWeight(raw json.RawMessage) int {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return int(i)
		}
		if f, err := num.Float64(); err == nil {
			return int(math.Round(f))
		}
	}
	// An entry object carries a cost; a missing or non-numeric cost is 0.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		var cost float64
		if c, ok := obj["cost"]; ok {
			_ = json.Unmarshal(c, &cost)
		}
		return -int(math.Round(cost))
	}
	return 1
}

// WriteJSON writes t in the JSON dictionary format, preserving order.
func WriteJSON(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("{")
	for i, reading := range t.order {
		if i > 0 {
			bw.WriteString(",")
		}
		key, _ := json.Marshal(reading)
		bw.WriteString("\n  ")
		bw.Write(key)
		bw.WriteString(": {")
		for j, c := range t.entries[reading].cands {
			if j > 0 {
				bw.WriteString(", ")
			}
			s, _ := json.Marshal(c.Surface)
			bw.Write(s)
			fmt.Fprintf(bw, ": %d", c.Weight)
		}
		bw.WriteString("}")
	}
	bw.WriteString("\n}\n")
	return bw.Flush()
}

// SQLiteFile reads a table from an SQLite database holding
// entries(reading TEXT, surface TEXT, weight INTEGER), in rowid order.
type SQLiteFile struct {
	Path string
}

func (f SQLiteFile) Name() string { return f.Path }

func (f SQLiteFile) Load(ctx context.Context, policy MergePolicy) (*Table, error) {
	// Opening a missing path would create an empty database.
	if _, err := os.Stat(f.Path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", f.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `SELECT reading, surface, weight FROM entries ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", f.Path, err)
	}
	defer func() { _ = rows.Close() }()

	t := NewTable(policy)
	for rows.Next() {
		var reading, surface string
		var weight int
		if err := rows.Scan(&reading, &surface, &weight); err != nil {
			return nil, fmt.Errorf("scan %s: %w", f.Path, err)
		}
		t.Add(reading, surface, weight)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return t, nil
}

// SaveSQLite writes t to a new SQLite database at path.
func SaveSQLite(ctx context.Context, path string, t *Table) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, `CREATE TABLE entries (
		reading TEXT NOT NULL,
		surface TEXT NOT NULL,
		weight  INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (reading, surface, weight) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, reading := range t.order {
		for _, c := range t.entries[reading].cands {
			if _, err := stmt.ExecContext(ctx, reading, c.Surface, c.Weight); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert %q: %w", reading, err)
			}
		}
	}
	return tx.Commit()
}

// Static is an in-memory source, mainly for embedding small tables.
type Static struct {
	Label   string
	Entries map[string]map[string]int
	// Order lists readings in the order they should be discovered; readings
	// missing from Order are added afterwards in sorted order.
	Order []string
}

func (s Static) Name() string { return s.Label }

func (s Static) Load(_ context.Context, policy MergePolicy) (*Table, error) {
	t := NewTable(policy)
	seen := make(map[string]bool, len(s.Entries))
	add := func(reading string) {
		if seen[reading] {
			return
		}
		seen[reading] = true
		cands := s.Entries[reading]
		for _, surface := range sortedKeys(cands) {
			t.Add(reading, surface, cands[surface])
		}
	}
	for _, reading := range s.Order {
		if _, ok := s.Entries[reading]; ok {
			add(reading)
		}
	}
	for _, reading := range sortedKeys(s.Entries) {
		add(reading)
	}
	return t, nil
}
