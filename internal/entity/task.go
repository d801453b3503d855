package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind names a unit of work understood by the audit engine.
type TaskKind string

const (
	TaskInitialize TaskKind = "initialize"
	TaskCheckPage  TaskKind = "check-page"
	TaskCheckLink  TaskKind = "check-link"
	// TaskCheckPageLink is the per-occurrence link check scheduled by older
	// releases. It is still executed when found in a queue.
	TaskCheckPageLink TaskKind = "check-page-link"
)

// Task is one queued unit of work. Payload holds one of the *Payload types
// below, JSON encoded, so re-delivery never depends on in-process state.
type Task struct {
	ID             string          `json:"id"`
	Kind           TaskKind        `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	NotBefore      time.Time       `json:"not_before"`
	Attempt        int             `json:"attempt"`
}

type InitializePayload struct {
	AuditID string `json:"id"`
}

type CheckPagePayload struct {
	AuditID string `json:"id"`
	PageID  string `json:"pageID"`
}

type CheckLinkPayload struct {
	AuditID string `json:"id"`
	URL     string `json:"url"`
}

type CheckPageLinkPayload struct {
	AuditID string `json:"id"`
	PageID  string `json:"pageID"`
	LinkID  string `json:"linkID"`
}

// NewTask builds a task with an encoded payload.
func NewTask(id string, kind TaskKind, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return Task{ID: id, Kind: kind, Payload: raw}, nil
}

// DecodePayload decodes the task payload into v.
func (t Task) DecodePayload(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", t.Kind, err)
	}
	return nil
}
