package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/weavel-fastllm/fastllm/errors"
)

const sampleUpsertQuery = `
	INSERT INTO samples (name, content, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET content = excluded.content`

// UpsertSample inserts a sample or replaces its content when the name exists.
func (s *Store) UpsertSample(sm *Sample) error {
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = nowUTC()
	}
	content, err := marshalJSONMap(sm.Content)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(sampleUpsertQuery, sm.Name, content, formatTime(sm.CreatedAt)); err != nil {
		return fmt.Errorf("failed to upsert sample %s: %w", sm.Name, err)
	}
	return nil
}

// GetSample returns the sample with the given name, or ErrNotFound.
func (s *Store) GetSample(name string) (*Sample, error) {
	row := s.db.QueryRow(`SELECT name, content, created_at FROM samples WHERE name = ?`, name)
	sm, err := scanSample(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "sample %s", name)
	}
	return sm, err
}

// ListSamples returns all samples ordered by name.
func (s *Store) ListSamples() ([]*Sample, error) {
	rows, err := s.db.Query(`SELECT name, content, created_at FROM samples ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	var samples []*Sample
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// SyncSamples makes the stored set match the declared set exactly. Declared
// samples are upserted and anything not declared is removed.
func (s *Store) SyncSamples(declared []*Sample) error {
	for _, sm := range declared {
		if err := s.UpsertSample(sm); err != nil {
			return err
		}
	}

	if len(declared) == 0 {
		if _, err := s.db.Exec(`DELETE FROM samples`); err != nil {
			return fmt.Errorf("failed to clear samples: %w", err)
		}
		return nil
	}

	names := make([]string, 0, len(declared))
	args := make([]any, 0, len(declared))
	for _, sm := range declared {
		names = append(names, "?")
		args = append(args, sm.Name)
	}
	query := fmt.Sprintf(`DELETE FROM samples WHERE name NOT IN (%s)`, strings.Join(names, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to prune samples: %w", err)
	}
	return nil
}

func scanSample(row interface{ Scan(...any) error }) (*Sample, error) {
	var sm Sample
	var content sql.NullString
	var createdAt string
	if err := row.Scan(&sm.Name, &content, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sample: %w", err)
	}
	var err error
	sm.Content, err = unmarshalJSONMap(content)
	if err != nil {
		return nil, err
	}
	sm.CreatedAt = parseTime(createdAt)
	return &sm, nil
}
