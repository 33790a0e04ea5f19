package proto

import "time"

// State is an orchestrator state.
type State string

// RunStatus is the final status of a run.
type RunStatus string

// Run statuses. A finished run is always DONE or FAILED.
const (
	StatusRunning RunStatus = "RUNNING"
	StatusDone    RunStatus = "DONE"
	StatusFailed  RunStatus = "FAILED"
)

// Transition is one logged state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// IterationRecord captures one write-run-review cycle.
type IterationRecord struct {
	Number     int               `json:"number"`
	PlanDelta  []string          `json:"plan_delta"`
	Directive  string            `json:"directive,omitempty"`
	SnapshotID string            `json:"snapshot_id"`
	Files      map[string]string `json:"files"`
	Result     *ExecutionResult  `json:"result,omitempty"`
	Diagnosis  *Diagnosis        `json:"diagnosis,omitempty"`
}

// RunRecord is the append-only history of a run.
type RunRecord struct {
	ID          string            `json:"id"`
	Requirement string            `json:"requirement"`
	Mesh        *MeshDescriptor   `json:"mesh,omitempty"`
	Plan        *GenerationPlan   `json:"plan,omitempty"`
	Iterations  []IterationRecord `json:"iterations"`
	Status      RunStatus         `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Transitions []Transition      `json:"transitions"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at,omitempty"`
}

// LastIteration returns the most recent iteration, or nil.
func (r *RunRecord) LastIteration() *IterationRecord {
	if len(r.Iterations) == 0 {
		return nil
	}
	return &r.Iterations[len(r.Iterations)-1]
}
