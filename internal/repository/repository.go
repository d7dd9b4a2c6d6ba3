package repository

import (
	"context"
	"time"

	"github.com/pterodeploy/pterodeploy/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// DeploymentRepository stores deployments and their step plans. All
// user-facing reads are scoped by owning user.
type DeploymentRepository interface {
	// CreateDeployment inserts the deployment together with its full step
	// plan in one transaction.
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	// GetDeployment returns the deployment with its steps in order-index
	// order, or ErrNotFound when it does not exist under the given owner.
	GetDeployment(ctx context.Context, id, ownerID string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, ownerID string, filter domain.DeploymentFilter) ([]domain.Deployment, error)
	// ClaimDeployment atomically transitions a deployment from one status to
	// another and reports whether the transition happened. This is the
	// mutual-exclusion point for concurrent start signals. A non-nil
	// startedAt is recorded with the transition.
	ClaimDeployment(ctx context.Context, id, fromStatus, toStatus string, startedAt *time.Time) (bool, error)
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	UpdateStepStatus(ctx context.Context, update domain.StepStatusUpdate) error
}
