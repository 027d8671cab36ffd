package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // pure Go sqlite driver
)

// SqliteStore keeps each document as a JSON body plus a flattened
// (field, value) side table so field-equality and wildcard-suffix filters
// stay index lookups regardless of document shape.
type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening store at %s: %w", path, err)
	}

	// The driver is single-writer, keep the pool from fighting itself.
	db.SetMaxOpenConns(1)

	store := &SqliteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error migrating store: %w", err)
	}

	return store, nil
}

func (s *SqliteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		body TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
	CREATE TABLE IF NOT EXISTS document_keys (
		collection TEXT NOT NULL,
		doc_id INTEGER NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_keys_lookup ON document_keys(collection, field, value);
	CREATE INDEX IF NOT EXISTS idx_keys_doc ON document_keys(doc_id);
	CREATE TABLE IF NOT EXISTS aliases (
		alias TEXT PRIMARY KEY,
		collection TEXT NOT NULL
	);`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) IndexMany(ctx context.Context, collection string, docs []any) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting index transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertDocuments(ctx, tx, collection, docs); err != nil {
		return err
	}

	return tx.Commit()
}

// Replace swaps a collection's content for the given documents in one
// transaction. A failed replace leaves the previous content in place.
func (s *SqliteStore) Replace(ctx context.Context, collection string, docs []any) error {
	resolved, err := s.resolve(ctx, collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_keys WHERE collection = ?`, resolved); err != nil {
		return fmt.Errorf("error clearing keys in %s: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, resolved); err != nil {
		return fmt.Errorf("error clearing %s: %w", collection, err)
	}

	if err := insertDocuments(ctx, tx, resolved, docs); err != nil {
		return err
	}

	return tx.Commit()
}

func insertDocuments(ctx context.Context, tx *sql.Tx, collection string, docs []any) error {
	insertDoc, err := tx.PrepareContext(ctx, `INSERT INTO documents (collection, body) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer insertDoc.Close()

	insertKey, err := tx.PrepareContext(ctx, `INSERT INTO document_keys (collection, doc_id, field, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertKey.Close()

	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("error marshalling document for %s: %w", collection, err)
		}

		result, err := insertDoc.ExecContext(ctx, collection, string(body))
		if err != nil {
			return fmt.Errorf("error indexing into %s: %w", collection, err)
		}

		docID, err := result.LastInsertId()
		if err != nil {
			return err
		}

		for field, values := range flattenDocument(body) {
			for _, value := range values {
				if _, err := insertKey.ExecContext(ctx, collection, docID, field, value); err != nil {
					return fmt.Errorf("error indexing keys into %s: %w", collection, err)
				}
			}
		}
	}

	return nil
}

func (s *SqliteStore) Search(ctx context.Context, collection string, query Query, size, from int) ([]json.RawMessage, error) {
	resolved, err := s.resolve(ctx, collection)
	if err != nil {
		return nil, err
	}

	sqlQuery, args := buildSearch(resolved, query, size, from)
	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("error searching %s: %w", collection, err)
	}
	defer rows.Close()

	var results []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		results = append(results, json.RawMessage(body))
	}

	return results, rows.Err()
}

func (s *SqliteStore) Uniques(ctx context.Context, collection string, fields ...string) ([]map[string]string, error) {
	resolved, err := s.resolve(ctx, collection)
	if err != nil {
		return nil, err
	}

	var selects, joins []string
	args := []any{}
	for i, field := range fields {
		k := "k" + strconv.Itoa(i)
		selects = append(selects, k+".value")
		joins = append(joins, fmt.Sprintf(
			"JOIN document_keys %s ON %s.doc_id = d.doc_id AND %s.field = ?", k, k, k))
		args = append(args, field)
	}
	args = append(args, resolved)

	sqlQuery := fmt.Sprintf(
		"SELECT DISTINCT %s FROM documents d %s WHERE d.collection = ?",
		strings.Join(selects, ", "), strings.Join(joins, " "))

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing uniques for %s: %w", collection, err)
	}
	defer rows.Close()

	var results []map[string]string
	for rows.Next() {
		values := make([]any, len(fields))
		for i := range values {
			values[i] = new(string)
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}

		tuple := make(map[string]string, len(fields))
		for i, field := range fields {
			tuple[field] = *(values[i].(*string))
		}
		results = append(results, tuple)
	}

	return results, rows.Err()
}

func (s *SqliteStore) DeleteByFilter(ctx context.Context, collection string, must ...Filter) (int64, error) {
	resolved, err := s.resolve(ctx, collection)
	if err != nil {
		return 0, err
	}

	where, args := buildFilters("d", must)
	args = append([]any{resolved}, args...)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Documents go first: the filter subqueries read document_keys, so the
	// key rows have to outlive the document delete that depends on them.
	match := "SELECT d.doc_id FROM documents d WHERE d.collection = ?" + where
	result, err := tx.ExecContext(ctx,
		"DELETE FROM documents WHERE doc_id IN ("+match+")", args...)
	if err != nil {
		return 0, fmt.Errorf("error deleting from %s: %w", collection, err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM document_keys WHERE collection = ? AND doc_id NOT IN (SELECT doc_id FROM documents)",
		resolved); err != nil {
		return 0, fmt.Errorf("error deleting keys from %s: %w", collection, err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, tx.Commit()
}

// PointAlias flips the alias to a freshly built collection. With dropOld
// set, the previously aliased collection's documents are pruned once the
// alias has moved.
func (s *SqliteStore) PointAlias(ctx context.Context, alias, collection string, dropOld bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT collection FROM aliases WHERE alias = ?`, alias).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO aliases (alias, collection) VALUES (?, ?)
		 ON CONFLICT(alias) DO UPDATE SET collection = excluded.collection`,
		alias, collection); err != nil {
		return fmt.Errorf("error pointing alias %s: %w", alias, err)
	}

	if dropOld && previous != "" && previous != collection {
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_keys WHERE collection = ?`, previous); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, previous); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SqliteStore) resolve(ctx context.Context, collection string) (string, error) {
	var resolved string
	err := s.db.QueryRowContext(ctx, `SELECT collection FROM aliases WHERE alias = ?`, collection).Scan(&resolved)
	if err == sql.ErrNoRows {
		return collection, nil
	}
	if err != nil {
		return "", fmt.Errorf("error resolving alias %s: %w", collection, err)
	}
	return resolved, nil
}

func buildSearch(collection string, query Query, size, from int) (string, []any) {
	args := []any{collection}

	where, whereArgs := buildFilters("d", query.Must)
	args = append(args, whereArgs...)

	if len(query.Should) > 0 {
		var ors []string
		for _, filter := range query.Should {
			clause, clauseArgs := filterClause("d", filter)
			ors = append(ors, clause)
			args = append(args, clauseArgs...)
		}
		where += " AND (" + strings.Join(ors, " OR ") + ")"
	}

	for _, filter := range query.MustNot {
		clause, clauseArgs := filterClause("d", filter)
		where += " AND NOT " + clause
		args = append(args, clauseArgs...)
	}

	sqlQuery := "SELECT d.body FROM documents d WHERE d.collection = ?" + where + " ORDER BY d.doc_id"
	if size > 0 {
		sqlQuery += " LIMIT " + strconv.Itoa(size)
	}
	if from > 0 {
		sqlQuery += " OFFSET " + strconv.Itoa(from)
	}

	return sqlQuery, args
}

func buildFilters(docAlias string, filters []Filter) (string, []any) {
	var where string
	var args []any
	for _, filter := range filters {
		clause, clauseArgs := filterClause(docAlias, filter)
		where += " AND " + clause
		args = append(args, clauseArgs...)
	}
	return where, args
}

func filterClause(docAlias string, filter Filter) (string, []any) {
	if filter.Wildcard {
		pattern := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(filter.Value)
		pattern = strings.ReplaceAll(pattern, "*", "%")
		return fmt.Sprintf(
			`EXISTS (SELECT 1 FROM document_keys k WHERE k.doc_id = %s.doc_id AND k.field = ? AND k.value LIKE ? ESCAPE '\')`,
			docAlias), []any{filter.Field, pattern}
	}

	return fmt.Sprintf(
		`EXISTS (SELECT 1 FROM document_keys k WHERE k.doc_id = %s.doc_id AND k.field = ? AND k.value = ?)`,
		docAlias), []any{filter.Field, filter.Value}
}

// flattenDocument walks the JSON body and emits dotted field paths with
// scalar values. Array elements collapse onto their parent path, which makes
// "products.name" match any product in the document, the same contract the
// search engine used to give us.
func flattenDocument(body []byte) map[string][]string {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil
	}

	fields := map[string][]string{}
	var walk func(prefix string, node any)
	walk = func(prefix string, node any) {
		switch value := node.(type) {
		case map[string]any:
			for key, child := range value {
				path := key
				if prefix != "" {
					path = prefix + "." + key
				}
				walk(path, child)
			}
		case []any:
			for _, child := range value {
				walk(prefix, child)
			}
		case string:
			fields[prefix] = append(fields[prefix], value)
		case float64:
			fields[prefix] = append(fields[prefix], strconv.FormatFloat(value, 'f', -1, 64))
		case bool:
			fields[prefix] = append(fields[prefix], strconv.FormatBool(value))
		}
	}
	walk("", root)

	return fields
}
