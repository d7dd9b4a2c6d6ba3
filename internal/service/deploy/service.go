package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/pterodeploy/pterodeploy/internal/domain"
	"github.com/pterodeploy/pterodeploy/internal/repository"
	"github.com/pterodeploy/pterodeploy/internal/service/plan"
	"github.com/pterodeploy/pterodeploy/pkg/config"
)

// Sentinel errors returned by deployment operations.
var (
	ErrEmptyTarget     = errors.New("deploy: target descriptor required")
	ErrNotPending      = errors.New("deploy: deployment is not pending")
	ErrAlreadyTerminal = errors.New("deploy: deployment already terminal")
	ErrNotRunningHere  = errors.New("deploy: deployment is not running in this process")
)

const persistTimeout = 5 * time.Second

// Service owns the deployment state machine. It sequences step execution,
// persists every transition, and broadcasts progress to the owning user.
// Each started deployment runs in its own goroutine; the PENDING-only claim
// in the repository is the sole guard against a second concurrent start.
type Service struct {
	deployments repository.DeploymentRepository
	broadcaster Broadcaster
	worker      Worker
	logger      *slog.Logger
	cfg         config.APIConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	baseCtx context.Context
	stop    context.CancelFunc
}

// New returns a deployment service. Runs started by the service are children
// of the service lifetime and stop when Close is called.
func New(deployments repository.DeploymentRepository, broadcaster Broadcaster, worker Worker, logger *slog.Logger, cfg config.APIConfig) *Service {
	baseCtx, stop := context.WithCancel(context.Background())
	s := &Service{
		deployments: deployments,
		broadcaster: broadcaster,
		worker:      worker,
		logger:      logger,
		cfg:         cfg,
		cancels:     make(map[string]context.CancelFunc),
		baseCtx:     baseCtx,
		stop:        stop,
	}
	s.initMetrics()
	return s
}

// Close cancels all in-flight runs. Each run stops at its next inter-step
// checkpoint and persists a cancelled terminal state.
func (s *Service) Close() {
	s.stop()
}

// Create validates the target, derives the step plan, and persists the
// deployment with all steps in pending state. Execution does not begin until
// an explicit start signal.
func (s *Service) Create(ctx context.Context, ownerID, targetURL, name string) (*domain.Deployment, error) {
	target := strings.TrimSpace(targetURL)
	if target == "" {
		return nil, ErrEmptyTarget
	}
	templates, err := plan.Build(target)
	if err != nil {
		if errors.Is(err, plan.ErrEmptyTarget) {
			return nil, ErrEmptyTarget
		}
		return nil, err
	}

	displayName := strings.TrimSpace(name)
	if displayName == "" {
		displayName = plan.DeriveName(target)
	}
	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		TargetURL: target,
		Name:      displayName,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, tpl := range templates {
		deployment.Steps = append(deployment.Steps, domain.Step{
			ID:           uuid.NewString(),
			DeploymentID: deployment.ID,
			Name:         tpl.Name,
			Description:  tpl.Description,
			Status:       domain.StatusPending,
			OrderIndex:   i,
		})
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}
	s.logger.Info("deployment created",
		"deployment_id", deployment.ID, "owner_id", ownerID, "steps", len(deployment.Steps))
	return deployment, nil
}

// Get returns one deployment with its steps, scoped to the owner.
func (s *Service) Get(ctx context.Context, ownerID, deploymentID string) (*domain.Deployment, error) {
	return s.deployments.GetDeployment(ctx, deploymentID, ownerID)
}

// List returns the owner's deployments with optional status and name filters.
func (s *Service) List(ctx context.Context, ownerID string, filter domain.DeploymentFilter) ([]domain.Deployment, error) {
	return s.deployments.ListDeployments(ctx, ownerID, filter)
}

// Start begins asynchronous execution of a pending deployment owned by the
// caller. A deployment that is not pending is rejected without mutation.
func (s *Service) Start(ctx context.Context, ownerID, deploymentID string) error {
	deployment, err := s.deployments.GetDeployment(ctx, deploymentID, ownerID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	claimed, err := s.deployments.ClaimDeployment(ctx, deployment.ID, domain.StatusPending, domain.StatusRunning, &now)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrNotPending
	}
	deployment.Status = domain.StatusRunning
	deployment.StartedAt = &now
	s.broadcaster.DeliverToUser(deployment.OwnerID, EventDeploymentStatus, StatusEvent{
		DeploymentID: deployment.ID,
		Status:       domain.StatusRunning,
		StartedAt:    &now,
	})

	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.cancels[deployment.ID] = cancel
	s.mu.Unlock()
	go s.run(runCtx, deployment)

	s.logger.Info("deployment started", "deployment_id", deployment.ID, "owner_id", ownerID)
	return nil
}

// Cancel stops a pending or running deployment owned by the caller. A
// running deployment stops at the next inter-step checkpoint; the in-flight
// unit of work is not interrupted.
func (s *Service) Cancel(ctx context.Context, ownerID, deploymentID string) error {
	deployment, err := s.deployments.GetDeployment(ctx, deploymentID, ownerID)
	if err != nil {
		return err
	}
	switch deployment.Status {
	case domain.StatusPending:
		claimed, err := s.deployments.ClaimDeployment(ctx, deployment.ID, domain.StatusPending, domain.StatusCancelled, nil)
		if err != nil {
			return err
		}
		if !claimed {
			// lost the race with a concurrent start or cancel
			return ErrNotPending
		}
		deployment.StartedAt = nil
		s.finishCancelled(deployment)
		return nil
	case domain.StatusRunning:
		s.mu.Lock()
		cancel, ok := s.cancels[deployment.ID]
		s.mu.Unlock()
		if !ok {
			return ErrNotRunningHere
		}
		cancel()
		s.logger.Info("deployment cancellation requested", "deployment_id", deployment.ID)
		return nil
	default:
		return ErrAlreadyTerminal
	}
}

// run drives one deployment's step sequence to a terminal state. Execution
// failures are absorbed into persisted state and never escape this loop.
func (s *Service) run(ctx context.Context, deployment *domain.Deployment) {
	defer s.release(deployment.ID)

	// The plan is deterministic, so rebuilding it recovers the per-step
	// effort estimates that are never persisted.
	templates, err := plan.Build(deployment.TargetURL)
	if err != nil {
		s.finishFailed(deployment, "", fmt.Errorf("rebuild plan: %w", err))
		return
	}

	work := s.worker.BeginRun(len(deployment.Steps))
	for i := range deployment.Steps {
		if ctx.Err() != nil {
			s.finishCancelled(deployment)
			return
		}
		step := &deployment.Steps[i]
		effort := 1
		if i < len(templates) {
			effort = templates[i].Effort
		}
		if err := s.executeStep(ctx, deployment, step, work, effort); err != nil {
			s.finishFailed(deployment, step.Name, err)
			return
		}
	}
	s.finishCompleted(deployment)
}

func (s *Service) release(deploymentID string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[deploymentID]; ok {
		cancel()
		delete(s.cancels, deploymentID)
	}
	s.mu.Unlock()
}

func (s *Service) finishCompleted(deployment *domain.Deployment) {
	now := time.Now().UTC()
	duration := durationSince(deployment.StartedAt, now)
	s.persistDeployment(domain.DeploymentStatusUpdate{
		DeploymentID:    deployment.ID,
		Status:          domain.StatusCompleted,
		CompletedAt:     &now,
		DurationSeconds: &duration,
	})
	connection := s.connectionInfo(deployment)
	s.broadcaster.DeliverToUser(deployment.OwnerID, EventDeploymentComplete, StatusEvent{
		DeploymentID:    deployment.ID,
		Status:          domain.StatusCompleted,
		CompletedAt:     &now,
		DurationSeconds: &duration,
		Connection:      &connection,
	})
	s.recordOutcome(domain.StatusCompleted)
	s.logger.Info("deployment completed",
		"deployment_id", deployment.ID, "duration_seconds", duration)
}

func (s *Service) finishFailed(deployment *domain.Deployment, stepName string, cause error) {
	now := time.Now().UTC()
	duration := durationSince(deployment.StartedAt, now)
	summary := cause.Error()
	if stepName != "" {
		summary = fmt.Sprintf("step %q failed: %v", stepName, cause)
	}
	s.persistDeployment(domain.DeploymentStatusUpdate{
		DeploymentID:    deployment.ID,
		Status:          domain.StatusFailed,
		Error:           summary,
		CompletedAt:     &now,
		DurationSeconds: &duration,
	})
	s.broadcaster.DeliverToUser(deployment.OwnerID, EventDeploymentError, StatusEvent{
		DeploymentID:    deployment.ID,
		Status:          domain.StatusFailed,
		Error:           summary,
		CompletedAt:     &now,
		DurationSeconds: &duration,
	})
	s.recordOutcome(domain.StatusFailed)
	s.logger.Warn("deployment failed",
		"deployment_id", deployment.ID, "step", stepName, "error", cause)
}

func (s *Service) finishCancelled(deployment *domain.Deployment) {
	now := time.Now().UTC()
	duration := durationSince(deployment.StartedAt, now)
	s.persistDeployment(domain.DeploymentStatusUpdate{
		DeploymentID:    deployment.ID,
		Status:          domain.StatusCancelled,
		CompletedAt:     &now,
		DurationSeconds: &duration,
	})
	s.broadcaster.DeliverToUser(deployment.OwnerID, EventDeploymentStatus, StatusEvent{
		DeploymentID:    deployment.ID,
		Status:          domain.StatusCancelled,
		CompletedAt:     &now,
		DurationSeconds: &duration,
	})
	s.recordOutcome(domain.StatusCancelled)
	s.logger.Info("deployment cancelled", "deployment_id", deployment.ID)
}

// persistDeployment writes terminal or intermediate deployment state with a
// bounded context of its own, so a cancelled run can still record its fate.
func (s *Service) persistDeployment(update domain.DeploymentStatusUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.deployments.UpdateDeploymentStatus(ctx, update); err != nil {
		s.logger.Warn("update deployment status failed",
			"deployment_id", update.DeploymentID, "status", update.Status, "error", err)
	}
}

func (s *Service) connectionInfo(deployment *domain.Deployment) ConnectionInfo {
	host := slugify(deployment.Name)
	if host == "" {
		host = deployment.ID
	}
	if suffix := strings.TrimPrefix(s.cfg.ConnectionDomain, "."); suffix != "" {
		host = host + "." + suffix
	}
	port := s.cfg.ServerPort
	if port <= 0 {
		port = 25565
	}
	return ConnectionInfo{Host: host, Port: port}
}

func durationSince(started *time.Time, now time.Time) int64 {
	if started == nil || now.Before(*started) {
		return 0
	}
	return int64(now.Sub(*started) / time.Second)
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
