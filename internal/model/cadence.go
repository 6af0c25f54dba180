package model

import (
	"time"
)

// Cadence is a recurring task definition bound to a form. Deactivating a
// cadence stops future generation but leaves existing instances untouched.
type Cadence struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	FormID      string         `json:"form_id"`
	Name        string         `json:"name"`
	Schedule    ScheduleConfig `json:"schedule"`
	IsActive    bool           `json:"is_active"`
	AssignedTo  []string       `json:"assigned_to,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
