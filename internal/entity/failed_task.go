package entity

import (
	"encoding/json"
	"time"
)

// FailedTask mirrors the `failed_tasks` table: a unit of work that kept
// failing after every retry.
type FailedTask struct {
	TaskID        string          `json:"task_id"`
	Kind          TaskKind        `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	FailureReason string          `json:"failure_reason"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failed_at"`
	// DeadLetterCount counts how often the same task ID was dead-lettered.
	DeadLetterCount int `json:"dead_letter_count"`
}

// Task rebuilds a fresh queueable task from the failure record.
func (f *FailedTask) Task() Task {
	return Task{ID: f.TaskID, Kind: f.Kind, Payload: f.Payload}
}
