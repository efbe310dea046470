package devsync

import "github.com/weavel-fastllm/fastllm/store"

// Task kinds exchanged with the backend gateway.
//
// The gateway drives the session: it sends a task, the client answers with
// one reply frame, or for runs with a stream of result frames. A task's
// correlation_id and runner_id, when present, come back verbatim on every
// frame tied to it, including streamed partials.

// TaskKind identifies an inbound task. The set is closed: unknown kinds are
// logged and dropped without a reply.
type TaskKind string

const (
	TaskRunModule               TaskKind = "RUN_LLM_MODULE"
	TaskEvalModule              TaskKind = "EVAL_LLM_MODULE"
	TaskListModules             TaskKind = "LIST_MODULES"
	TaskListVersions            TaskKind = "LIST_VERSIONS"
	TaskListSamples             TaskKind = "LIST_SAMPLES"
	TaskGetPrompts              TaskKind = "GET_PROMPTS"
	TaskGetRunLogs              TaskKind = "GET_RUN_LOGS"
	TaskChangeVersionStatus     TaskKind = "CHANGE_VERSION_STATUS"
	TaskGetVersionToSave        TaskKind = "GET_VERSION_TO_SAVE"
	TaskGetVersionsToSave       TaskKind = "GET_VERSIONS_TO_SAVE"
	TaskUpdateCandidateVersions TaskKind = "UPDATE_CANDIDATE_VERSION_ID"
)

// Kinds the client pushes to the gateway.
const (
	MsgUpdateResultRun  = "UPDATE_RESULT_RUN"
	MsgUpdateResultEval = "UPDATE_RESULT_EVAL"
	MsgLocalUpdateAlert = "LOCAL_UPDATE_ALERT"
)

// Task is the inbound message envelope. Fields beyond the common trio are
// populated per kind.
type Task struct {
	Type          TaskKind `json:"type"`
	CorrelationID *string  `json:"correlation_id,omitempty"`
	RunnerID      *string  `json:"runner_id,omitempty"`

	ModuleUUID  string `json:"module_uuid,omitempty"`
	VersionUUID string `json:"version_uuid,omitempty"`
	Status      string `json:"status,omitempty"`

	// Run payload. VersionUUID doubles as the run's existing version; empty
	// means the run creates one first.
	ModuleName  string         `json:"module_name,omitempty"`
	SampleName  string         `json:"sample_name,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	FromUUID    string         `json:"from_uuid,omitempty"`
	Prompts     []store.Prompt `json:"prompts,omitempty"`
	Model       string         `json:"model,omitempty"`
	ParsingType string         `json:"parsing_type,omitempty"`
	OutputKeys  []string       `json:"output_keys,omitempty"`

	Candidates []CandidateRef `json:"candidates,omitempty"`
}

// CandidateRef pairs a local version with its server-assigned candidate id.
type CandidateRef struct {
	UUID               string `json:"uuid"`
	CandidateVersionID int64  `json:"candidate_version_id"`
}

// echo stamps the request's correlation and runner ids onto a response frame.
func echo(task *Task, payload map[string]any) map[string]any {
	if task.CorrelationID != nil {
		payload["correlation_id"] = *task.CorrelationID
	}
	if task.RunnerID != nil {
		payload["runner_id"] = *task.RunnerID
	}
	return payload
}
