package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pterodeploy/pterodeploy/internal/domain"
	"github.com/pterodeploy/pterodeploy/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateDeployment inserts a deployment and its full step plan atomically.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create deployment: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const depQuery = `INSERT INTO deployments
		(id, owner_id, target_url, name, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, depQuery,
		deployment.ID, deployment.OwnerID, deployment.TargetURL, deployment.Name,
		deployment.Status, deployment.Error, deployment.CreatedAt, deployment.UpdatedAt); err != nil {
		return err
	}

	const stepQuery = `INSERT INTO deployment_steps
		(id, deployment_id, name, description, status, order_index, logs)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, step := range deployment.Steps {
		logs := step.Logs
		if logs == nil {
			logs = []string{}
		}
		if _, err := tx.Exec(ctx, stepQuery,
			step.ID, step.DeploymentID, step.Name, step.Description,
			step.Status, step.OrderIndex, logs); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetDeployment returns a deployment with its steps, scoped to the owner.
func (r *Repository) GetDeployment(ctx context.Context, id, ownerID string) (*domain.Deployment, error) {
	const query = `SELECT id, owner_id, target_url, name, status, error,
			started_at, completed_at, duration_seconds, created_at, updated_at
		FROM deployments WHERE id = $1 AND owner_id = $2`
	row := r.pool.QueryRow(ctx, query, id, ownerID)
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.OwnerID, &d.TargetURL, &d.Name, &d.Status, &d.Error,
		&d.StartedAt, &d.CompletedAt, &d.DurationSeconds, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	steps, err := r.listSteps(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	d.Steps = steps
	return &d, nil
}

func (r *Repository) listSteps(ctx context.Context, deploymentID string) ([]domain.Step, error) {
	const query = `SELECT id, deployment_id, name, description, status, order_index,
			started_at, completed_at, logs
		FROM deployment_steps WHERE deployment_id = $1 ORDER BY order_index ASC`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make([]domain.Step, 0)
	for rows.Next() {
		var s domain.Step
		if err := rows.Scan(&s.ID, &s.DeploymentID, &s.Name, &s.Description, &s.Status,
			&s.OrderIndex, &s.StartedAt, &s.CompletedAt, &s.Logs); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// ListDeployments returns the owner's deployments, newest first, without
// their step plans.
func (r *Repository) ListDeployments(ctx context.Context, ownerID string, filter domain.DeploymentFilter) ([]domain.Deployment, error) {
	const query = `SELECT id, owner_id, target_url, name, status, error,
			started_at, completed_at, duration_seconds, created_at, updated_at
		FROM deployments
		WHERE owner_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR name ILIKE '%' || $3 || '%')
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, query, ownerID, filter.Status, filter.Query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.TargetURL, &d.Name, &d.Status, &d.Error,
			&d.StartedAt, &d.CompletedAt, &d.DurationSeconds, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// ClaimDeployment performs a guarded status transition. The WHERE clause on
// the current status makes the check-then-transition atomic, which is what
// serializes concurrent start signals for the same deployment.
func (r *Repository) ClaimDeployment(ctx context.Context, id, fromStatus, toStatus string, startedAt *time.Time) (bool, error) {
	const query = `UPDATE deployments
		SET status = $3, started_at = COALESCE($4, started_at), updated_at = NOW()
		WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, query, id, fromStatus, toStatus, startedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateDeploymentStatus persists mutable deployment fields.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments
		SET status = $2,
		    error = $3,
		    completed_at = COALESCE($4, completed_at),
		    duration_seconds = COALESCE($5, duration_seconds),
		    updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, update.DeploymentID, update.Status, update.Error,
		update.CompletedAt, update.DurationSeconds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStepStatus persists mutable step fields.
func (r *Repository) UpdateStepStatus(ctx context.Context, update domain.StepStatusUpdate) error {
	const query = `UPDATE deployment_steps
		SET status = $2,
		    started_at = COALESCE($3, started_at),
		    completed_at = COALESCE($4, completed_at),
		    logs = COALESCE($5, logs)
		WHERE id = $1`
	var logs []string
	if update.Logs != nil {
		logs = update.Logs
	}
	tag, err := r.pool.Exec(ctx, query, update.StepID, update.Status,
		update.StartedAt, update.CompletedAt, logs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
