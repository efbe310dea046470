package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/weavel-fastllm/fastllm/errors"
)

// Query constants
const (
	versionInsertQuery = `
		INSERT INTO versions (id, module_id, from_id, status, model, parsing_mode, output_fields, is_published, is_deployed, candidate_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	versionSelectColumns = `id, module_id, from_id, status, model, parsing_mode, output_fields, is_published, is_deployed, candidate_id, created_at`
)

// CreateVersion inserts a version row.
func (s *Store) CreateVersion(v *Version) error {
	return execVersionInsert(s.db, v)
}

// GetVersion returns the version with the given id, or ErrNotFound.
func (s *Store) GetVersion(id string) (*Version, error) {
	row := s.db.QueryRow(
		`SELECT `+versionSelectColumns+` FROM versions WHERE id = ?`, id)
	return scanVersion(row)
}

// ListVersionsByModule returns a module's versions ordered by creation time.
func (s *Store) ListVersionsByModule(moduleID string) ([]*Version, error) {
	rows, err := s.db.Query(
		`SELECT `+versionSelectColumns+` FROM versions WHERE module_id = ? ORDER BY created_at`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for module %s: %w", moduleID, err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

// ListVersionIDs returns every version id known locally, ordered by creation
// time. The reconciler's idempotence guard filters remote adds against this.
func (s *Store) ListVersionIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM versions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list version ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan version id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateVersionStatus sets the lifecycle status of one version.
func (s *Store) UpdateVersionStatus(id string, status VersionStatus) error {
	if !status.Valid() {
		return errors.Wrapf(errors.ErrInvalidInput, "version status %q", status)
	}
	res, err := s.db.Exec(`UPDATE versions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update version status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewNotFoundError("version %s", id)
	}
	return nil
}

// ListCandidatesToSave returns candidate versions the backend has not yet
// assigned a candidate id, ordered by creation time. These are the rows
// GET_VERSIONS_TO_SAVE ships for server-side persistence.
func (s *Store) ListCandidatesToSave() ([]*Version, error) {
	rows, err := s.db.Query(
		`SELECT `+versionSelectColumns+` FROM versions WHERE status = ? AND candidate_id IS NULL ORDER BY created_at`,
		string(StatusCandidate))
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate versions: %w", err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

// SetCandidateID records the server-assigned candidate id for a version.
func (s *Store) SetCandidateID(id string, candidateID int64) error {
	res, err := s.db.Exec(`UPDATE versions SET candidate_id = ? WHERE id = ?`, candidateID, id)
	if err != nil {
		return fmt.Errorf("failed to set candidate id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewNotFoundError("version %s", id)
	}
	return nil
}

// BulkInsertVersionGroup inserts versions plus their prompts and run logs in
// a single transaction. Either the whole group lands or none of it does; the
// changelog replay depends on that atomicity.
func (s *Store) BulkInsertVersionGroup(versions []*Version, prompts []*Prompt, runLogs []*RunLog) error {
	if len(versions) == 0 && len(prompts) == 0 && len(runLogs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin bulk insert: %w", err)
	}

	for _, v := range versions {
		if err := execVersionInsert(tx, v); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, p := range prompts {
		if err := execPromptInsert(tx, p); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, r := range runLogs {
		if err := execRunLogInsert(tx, r); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk insert: %w", err)
	}

	if s.logger != nil {
		s.logger.Debugw("Bulk-inserted version group",
			"versions", len(versions),
			"prompts", len(prompts),
			"run_logs", len(runLogs),
		)
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func execVersionInsert(e execer, v *Version) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = nowUTC()
	}
	if !v.Status.Valid() {
		return errors.Wrapf(errors.ErrInvalidInput, "version status %q", v.Status)
	}

	var outputFields any
	if v.OutputFields != nil {
		raw, err := json.Marshal(v.OutputFields)
		if err != nil {
			return fmt.Errorf("failed to marshal output fields: %w", err)
		}
		outputFields = string(raw)
	}

	_, err := e.Exec(
		versionInsertQuery,
		v.ID,
		v.ModuleID,
		nullableString(v.FromID),
		string(v.Status),
		v.Model,
		nullableString(v.ParsingMode),
		outputFields,
		v.IsPublished,
		v.IsDeployed,
		nullableInt(v.CandidateID),
		formatTime(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert version %s: %w", v.ID, err)
	}
	return nil
}

func scanVersion(row interface{ Scan(...any) error }) (*Version, error) {
	var v Version
	var fromID, parsingMode, outputFields sql.NullString
	var candidateID sql.NullInt64
	var status, createdAt string

	err := row.Scan(&v.ID, &v.ModuleID, &fromID, &status, &v.Model, &parsingMode,
		&outputFields, &v.IsPublished, &v.IsDeployed, &candidateID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "version")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	v.Status = VersionStatus(status)
	if fromID.Valid {
		v.FromID = &fromID.String
	}
	if parsingMode.Valid {
		v.ParsingMode = &parsingMode.String
	}
	if outputFields.Valid && outputFields.String != "" {
		if err := json.Unmarshal([]byte(outputFields.String), &v.OutputFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output fields: %w", err)
		}
	}
	if candidateID.Valid {
		v.CandidateID = &candidateID.Int64
	}
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}

func collectVersions(rows *sql.Rows) ([]*Version, error) {
	var versions []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
