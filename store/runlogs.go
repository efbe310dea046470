package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

const runLogInsertQuery = `
	INSERT INTO run_logs (version_id, inputs, raw_output, parsed_outputs, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// CreateRunLog appends one run log row.
func (s *Store) CreateRunLog(r *RunLog) error {
	return execRunLogInsert(s.db, r)
}

// ListRunLogsByVersion returns a version's run logs ordered by creation time.
func (s *Store) ListRunLogsByVersion(versionID string) ([]*RunLog, error) {
	rows, err := s.db.Query(
		`SELECT version_id, inputs, raw_output, parsed_outputs, error, created_at
		 FROM run_logs WHERE version_id = ? ORDER BY created_at`,
		versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs for version %s: %w", versionID, err)
	}
	defer rows.Close()

	var logs []*RunLog
	for rows.Next() {
		var r RunLog
		var inputs, parsed, errText sql.NullString
		var createdAt string
		if err := rows.Scan(&r.VersionID, &inputs, &r.RawOutput, &parsed, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}

		r.Inputs, err = unmarshalJSONMap(inputs)
		if err != nil {
			return nil, err
		}
		if parsed.Valid && parsed.String != "" {
			if err := json.Unmarshal([]byte(parsed.String), &r.ParsedOutputs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal parsed outputs: %w", err)
			}
		}
		if errText.Valid {
			r.Error = &errText.String
		}
		r.CreatedAt = parseTime(createdAt)
		logs = append(logs, &r)
	}
	return logs, rows.Err()
}

func execRunLogInsert(e execer, r *RunLog) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = nowUTC()
	}

	inputs, err := marshalJSONMap(r.Inputs)
	if err != nil {
		return err
	}

	var parsed any
	if r.ParsedOutputs != nil {
		raw, err := json.Marshal(r.ParsedOutputs)
		if err != nil {
			return fmt.Errorf("failed to marshal parsed outputs: %w", err)
		}
		parsed = string(raw)
	}

	var inputsArg any
	if inputs != "" {
		inputsArg = inputs
	}

	_, err = e.Exec(
		runLogInsertQuery,
		r.VersionID,
		inputsArg,
		r.RawOutput,
		parsed,
		nullableString(r.Error),
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run log for version %s: %w", r.VersionID, err)
	}
	return nil
}
