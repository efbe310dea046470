package store

import (
	"fmt"
)

const promptInsertQuery = `
	INSERT INTO prompts (version_id, role, step, content)
	VALUES (?, ?, ?, ?)`

// CreatePrompt inserts one prompt row.
func (s *Store) CreatePrompt(p *Prompt) error {
	return execPromptInsert(s.db, p)
}

// ListPromptsByVersion returns a version's prompts ordered by step.
func (s *Store) ListPromptsByVersion(versionID string) ([]*Prompt, error) {
	rows, err := s.db.Query(
		`SELECT version_id, role, step, content FROM prompts WHERE version_id = ? ORDER BY step`,
		versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts for version %s: %w", versionID, err)
	}
	defer rows.Close()

	var prompts []*Prompt
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.VersionID, &p.Role, &p.Step, &p.Content); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, &p)
	}
	return prompts, rows.Err()
}

func execPromptInsert(e execer, p *Prompt) error {
	_, err := e.Exec(promptInsertQuery, p.VersionID, p.Role, p.Step, p.Content)
	if err != nil {
		return fmt.Errorf("failed to insert prompt for version %s: %w", p.VersionID, err)
	}
	return nil
}
