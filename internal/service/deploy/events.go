package deploy

import "time"

// Event names delivered to the owning user's sessions.
const (
	EventDeploymentStatus   = "deployment-status"
	EventStepUpdate         = "step-update"
	EventDeploymentComplete = "deployment-complete"
	EventDeploymentError    = "deployment-error"
)

// Broadcaster delivers a named event to one user's active sessions. Delivery
// is best effort and at most once; implementations must not block the
// orchestrator beyond a short bounded call.
type Broadcaster interface {
	DeliverToUser(userID, event string, payload any)
}

// StatusEvent reports a deployment-level transition.
type StatusEvent struct {
	DeploymentID    string          `json:"deployment_id"`
	Status          string          `json:"status"`
	Error           string          `json:"error,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationSeconds *int64          `json:"duration_seconds,omitempty"`
	Connection      *ConnectionInfo `json:"connection,omitempty"`
}

// StepEvent reports a step-level transition.
type StepEvent struct {
	DeploymentID string     `json:"deployment_id"`
	StepID       string     `json:"step_id"`
	Name         string     `json:"name"`
	OrderIndex   int        `json:"order_index"`
	Status       string     `json:"status"`
	Logs         []string   `json:"logs,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ConnectionInfo describes how to reach the provisioned server once a
// deployment completes. The fields are descriptive only.
type ConnectionInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}
