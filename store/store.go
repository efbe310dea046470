// Package store provides the SQLite-backed local cache of prompt modules,
// versions, prompts, run logs, and sample inputs. It is the capability
// boundary the sync engine reads and writes; schema lives in db/sqlite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// VersionStatus labels a version's lifecycle state.
type VersionStatus string

const (
	StatusBroken    VersionStatus = "broken"
	StatusWorking   VersionStatus = "working"
	StatusCandidate VersionStatus = "candidate"
)

// Valid reports whether s is one of the known statuses.
func (s VersionStatus) Valid() bool {
	switch s {
	case StatusBroken, StatusWorking, StatusCandidate:
		return true
	}
	return false
}

// Module is a named prompt unit. Rows are never hard-deleted; presence in
// local source is tracked by the used_in_local_source flag.
type Module struct {
	ID                string    `json:"uuid"`
	Name              string    `json:"name"`
	UsedInLocalSource bool      `json:"used_in_local_source"`
	IsDeployed        bool      `json:"is_deployed"`
	CreatedAt         time.Time `json:"created_at"`
}

// Version is one concrete (model, prompt-set, parsing-mode) configuration of
// a module. The id is stable once assigned; server-side ids replace local
// ones only through the reconciler's unification step.
type Version struct {
	ID           string        `json:"uuid"`
	ModuleID     string        `json:"module_uuid"`
	FromID       *string       `json:"from_uuid"`
	Status       VersionStatus `json:"status"`
	Model        string        `json:"model"`
	ParsingMode  *string       `json:"parsing_mode"`
	OutputFields []string      `json:"output_fields"`
	IsPublished  bool          `json:"is_published"`
	IsDeployed   bool          `json:"is_deployed"`
	CandidateID  *int64        `json:"candidate_id"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Prompt is one ordered template within a version.
type Prompt struct {
	VersionID string `json:"version_uuid"`
	Role      string `json:"role"`
	Step      int    `json:"step"`
	Content   string `json:"content"`
}

// RunLog records one execution of a version: resolved inputs, accumulated
// outputs, and the error text when the run failed. Append-only.
type RunLog struct {
	VersionID     string            `json:"version_uuid"`
	Inputs        map[string]any    `json:"inputs"`
	RawOutput     string            `json:"raw_output"`
	ParsedOutputs map[string]string `json:"parsed_outputs"`
	Error         *string           `json:"error"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Sample is a named input mapping declared in local source, used to populate
// a run when the peer names it instead of sending literal inputs.
type Sample struct {
	Name      string         `json:"name"`
	Content   map[string]any `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store wraps the SQLite cache with typed operations.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// New creates a store over an opened database.
func New(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying handle for callers that manage transactions of
// their own, such as migrations in tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func marshalJSONMap(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal map: %w", err)
	}
	return string(raw), nil
}

func unmarshalJSONMap(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal map: %w", err)
	}
	return m, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}
