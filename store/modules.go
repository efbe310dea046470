package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/weavel-fastllm/fastllm/errors"
)

// Query constants
const (
	moduleInsertQuery = `
		INSERT INTO modules (id, name, used_in_local_source, is_deployed, created_at)
		VALUES (?, ?, ?, ?, ?)`

	moduleSelectColumns = `id, name, used_in_local_source, is_deployed, created_at`

	moduleExistsQuery = `
		SELECT EXISTS(SELECT 1 FROM modules WHERE id = ?)`

	moduleRemapQuery = `
		UPDATE modules SET id = ? WHERE id = ?`
)

// CreateModule inserts a module row.
func (s *Store) CreateModule(m *Module) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	_, err := s.db.Exec(
		moduleInsertQuery,
		m.ID,
		m.Name,
		m.UsedInLocalSource,
		m.IsDeployed,
		formatTime(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert module %q: %w", m.Name, err)
	}
	return nil
}

// GetModuleByName returns the module with the given name, or ErrNotFound.
func (s *Store) GetModuleByName(name string) (*Module, error) {
	row := s.db.QueryRow(
		`SELECT `+moduleSelectColumns+` FROM modules WHERE name = ?`, name)
	return scanModule(row)
}

// GetModuleByID returns the module with the given id, or ErrNotFound.
func (s *Store) GetModuleByID(id string) (*Module, error) {
	row := s.db.QueryRow(
		`SELECT `+moduleSelectColumns+` FROM modules WHERE id = ?`, id)
	return scanModule(row)
}

// ModuleExists checks if a module with the given id exists.
func (s *Store) ModuleExists(id string) bool {
	var exists bool
	err := s.db.QueryRow(moduleExistsQuery, id).Scan(&exists)
	return err == nil && exists
}

// ListModules returns all modules ordered by name.
func (s *Store) ListModules() ([]*Module, error) {
	rows, err := s.db.Query(
		`SELECT ` + moduleSelectColumns + ` FROM modules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var modules []*Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// ListLocalModules returns modules flagged as present in local source,
// ordered by name. This is the LIST_MODULES reply set.
func (s *Store) ListLocalModules() ([]*Module, error) {
	rows, err := s.db.Query(
		`SELECT ` + moduleSelectColumns + ` FROM modules WHERE used_in_local_source = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list local modules: %w", err)
	}
	defer rows.Close()

	var modules []*Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// SetUsageByNames toggles used_in_local_source for every module named in
// names. A nil or empty list is a no-op.
func (s *Store) SetUsageByNames(names []string, used bool) error {
	if len(names) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(names))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(names)+1)
	args = append(args, used)
	for _, name := range names {
		args = append(args, name)
	}

	_, err := s.db.Exec(
		`UPDATE modules SET used_in_local_source = ? WHERE name IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to update module usage: %w", err)
	}
	return nil
}

// RemapModuleID rewrites a local module identifier to its remote counterpart.
// versions.module_id follows via ON UPDATE CASCADE, so every referencing row
// ends up pointing at the new id. Returns ErrReconcileConflict when the new
// id already names a different local row.
func (s *Store) RemapModuleID(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	if s.ModuleExists(newID) {
		return errors.Wrapf(errors.ErrReconcileConflict,
			"module id %s already present, cannot unify %s", newID, oldID)
	}

	res, err := s.db.Exec(moduleRemapQuery, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to remap module id %s -> %s: %w", oldID, newID, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewNotFoundError("module %s", oldID)
	}

	if s.logger != nil {
		s.logger.Debugw("Remapped module id", "old_id", oldID, "new_id", newID)
	}
	return nil
}

func scanModule(row interface{ Scan(...any) error }) (*Module, error) {
	var m Module
	var createdAt string
	err := row.Scan(&m.ID, &m.Name, &m.UsedInLocalSource, &m.IsDeployed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "module")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan module: %w", err)
	}
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}
