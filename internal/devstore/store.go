package devstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUnknownCollection reports a request against a collection the
	// schema does not provision.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrRecordNotFound reports that no record with the given id exists
	// in the collection.
	ErrRecordNotFound = errors.New("record not found")
)

// knownCollections mirrors the provisioning schema of the estimation
// system: one collection per entity kind.
var knownCollections = map[string]bool{
	"rooms":        true,
	"participants": true,
	"votes":        true,
}

const recordIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func newRecordID() string {
	b := make([]byte, 15)
	for i := range b {
		b[i] = recordIDAlphabet[rand.IntN(len(recordIDAlphabet))]
	}
	return string(b)
}

// Store persists schemaless records per collection, each serialized as a
// JSON document keyed by a 15-character id.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the record database at path. Use
// ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record db: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS records (
			id         TEXT NOT NULL,
			collection TEXT NOT NULL,
			data       TEXT NOT NULL,
			created    TEXT NOT NULL,
			updated    TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func checkCollection(collection string) error {
	if !knownCollections[collection] {
		return fmt.Errorf("%q: %w", collection, ErrUnknownCollection)
	}
	return nil
}

// Create mints an id, stores the record, and returns it with the id set.
func (s *Store) Create(collection string, fields map[string]any) (map[string]any, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	record := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record["id"] = newRecordID()

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(
		`INSERT INTO records (id, collection, data, created, updated) VALUES (?, ?, ?, ?, ?)`,
		record["id"], collection, string(data), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return record, nil
}

// Get returns the record by id.
func (s *Store) Get(collection, id string) (map[string]any, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRow(
		`SELECT data FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("decode record %s/%s: %w", collection, id, err)
	}
	return record, nil
}

// Update merges patch into the stored record and returns the merged
// result. The id field is immutable and ignored if present in the patch.
func (s *Store) Update(collection, id string, patch map[string]any) (map[string]any, error) {
	record, err := s.Get(collection, id)
	if err != nil {
		return nil, err
	}

	for k, v := range patch {
		if k == "id" {
			continue
		}
		record[k] = v
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(
		`UPDATE records SET data = ?, updated = ? WHERE collection = ? AND id = ?`,
		string(data), now, collection, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return record, nil
}

// Delete removes the record and returns its final contents, which the
// caller needs to emit the deletion event.
func (s *Store) Delete(collection, id string) (map[string]any, error) {
	record, err := s.Get(collection, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(
		`DELETE FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	); err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	return record, nil
}

// List returns the collection's records, oldest first, optionally narrowed
// by filter.
func (s *Store) List(collection string, filter *Filter) ([]map[string]any, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT data FROM records WHERE collection = ? ORDER BY rowid`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []map[string]any{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if filter != nil && !filter.Matches(record) {
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
