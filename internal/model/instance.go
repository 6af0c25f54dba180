package model

import (
	"encoding/json"
	"time"
)

// InstanceStatus represents the current status of a task instance
type InstanceStatus string

const (
	InstanceStatusPending    InstanceStatus = "pending"
	InstanceStatusReady      InstanceStatus = "ready"
	InstanceStatusInProgress InstanceStatus = "in_progress"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusMissed     InstanceStatus = "missed"
	InstanceStatusSkipped    InstanceStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusMissed, InstanceStatusSkipped:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows from -> to.
// The engine itself only performs pending->ready and {ready,in_progress}->missed;
// the remaining edges are user-driven and arrive as external input.
func CanTransition(from, to InstanceStatus) bool {
	switch from {
	case InstanceStatusPending:
		return to == InstanceStatusReady || to == InstanceStatusSkipped
	case InstanceStatusReady:
		return to == InstanceStatusInProgress || to == InstanceStatusMissed || to == InstanceStatusSkipped
	case InstanceStatusInProgress:
		return to == InstanceStatusCompleted || to == InstanceStatusMissed
	}
	return false
}

// Instance is one concrete, time-bound materialization of a cadence
// occurrence. Instances are never deleted by the engine; terminal states are
// retained for audit. CadenceID is empty for ad hoc instances.
type Instance struct {
	ID           string          `json:"id"`
	WorkspaceID  string          `json:"workspace_id"`
	CadenceID    string          `json:"cadence_id,omitempty"`
	Name         string          `json:"name"`
	Status       InstanceStatus  `json:"status"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	DueAt        time.Time       `json:"due_at"`
	SubmissionID string          `json:"submission_id,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CompletedBy  string          `json:"completed_by,omitempty"`
	AssignedTo   []string        `json:"assigned_to,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
