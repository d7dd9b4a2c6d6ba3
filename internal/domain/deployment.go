package domain

import "time"

// Lifecycle status values shared by deployments and steps. Deployments use
// pending/running/completed/failed/cancelled; steps use
// pending/running/completed/failed/skipped.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// TerminalStatus reports whether a status permits no further transitions.
func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Deployment captures one orchestrated run of a step plan for a single
// modpack target, owned by one user. The step plan is fixed at creation.
type Deployment struct {
	ID              string
	OwnerID         string
	TargetURL       string
	Name            string
	Status          string
	Error           string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Steps           []Step
}

// Step is one named unit of work inside a deployment plan. Order indices form
// a contiguous 0..N-1 sequence within a deployment.
type Step struct {
	ID           string
	DeploymentID string
	Name         string
	Description  string
	Status       string
	OrderIndex   int
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Logs         []string
}

// DeploymentStatusUpdate captures mutable deployment fields.
type DeploymentStatusUpdate struct {
	DeploymentID    string
	Status          string
	Error           string
	CompletedAt     *time.Time
	DurationSeconds *int64
}

// StepStatusUpdate captures mutable step fields.
type StepStatusUpdate struct {
	StepID      string
	Status      string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Logs        []string
}

// DeploymentFilter narrows owner-scoped list queries.
type DeploymentFilter struct {
	Status string
	Query  string
	Limit  int
	Offset int
}
