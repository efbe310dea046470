package api

import "github.com/weavel-fastllm/fastllm/store"

// Changelog subjects.
const (
	SubjectModule        = "module"
	SubjectModuleVersion = "module_version"
)

// Changelog actions. Only ADD has a local effect today; the rest are
// reserved by the backend and accepted without one.
const (
	ActionAdd    = "ADD"
	ActionDelete = "DEL"
	ActionChange = "CHG"
	ActionFix    = "FIX"
)

// Snapshot is the backend's full view of a project: every module, version,
// prompt, and run log it knows about. Changelog identifiers resolve against
// it.
type Snapshot struct {
	Modules  []*store.Module  `json:"modules"`
	Versions []*store.Version `json:"versions"`
	Prompts  []*store.Prompt  `json:"prompts"`
	RunLogs  []*store.RunLog  `json:"run_logs"`
}

// ChangelogEntry is one remote-authored change batch. Level drives the local
// project-version bump: 1 is module-level (major), 2 is version-level
// (minor), anything else is fine-grained (patch).
type ChangelogEntry struct {
	Level           int            `json:"level"`
	PreviousVersion string         `json:"previous_version"`
	Logs            []ChangelogLog `json:"logs"`
}

// ChangelogLog is one (subject, action, identifiers) record within an entry.
type ChangelogLog struct {
	Subject     string   `json:"subject"`
	Action      string   `json:"action"`
	Identifiers []string `json:"identifiers"`
}
