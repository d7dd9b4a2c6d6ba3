package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/pterodeploy/pterodeploy/internal/domain"
)

// executeStep drives a single step from pending through running to a terminal
// status, persisting and broadcasting each transition. The returned error is
// the unit-of-work failure, if any; persistence problems are logged and
// swallowed so the run loop keeps sole control of deployment state.
func (s *Service) executeStep(ctx context.Context, deployment *domain.Deployment, step *domain.Step, work RunWork, effort int) error {
	started := time.Now().UTC()
	step.Status = domain.StatusRunning
	step.StartedAt = &started
	s.persistStep(domain.StepStatusUpdate{
		StepID:    step.ID,
		Status:    step.Status,
		StartedAt: &started,
	})
	s.broadcastStep(deployment.OwnerID, *step)

	logs, workErr := work.Execute(ctx, *step, effort)

	completed := time.Now().UTC()
	step.CompletedAt = &completed
	step.Logs = logs
	if workErr != nil {
		step.Status = domain.StatusFailed
		step.Logs = append(step.Logs, fmt.Sprintf("step failed: %v", workErr))
	} else {
		step.Status = domain.StatusCompleted
	}
	s.persistStep(domain.StepStatusUpdate{
		StepID:      step.ID,
		Status:      step.Status,
		CompletedAt: &completed,
		Logs:        step.Logs,
	})
	s.broadcastStep(deployment.OwnerID, *step)
	return workErr
}

func (s *Service) persistStep(update domain.StepStatusUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.deployments.UpdateStepStatus(ctx, update); err != nil {
		s.logger.Warn("update step status failed",
			"step_id", update.StepID, "status", update.Status, "error", err)
	}
}

func (s *Service) broadcastStep(ownerID string, step domain.Step) {
	s.broadcaster.DeliverToUser(ownerID, EventStepUpdate, StepEvent{
		DeploymentID: step.DeploymentID,
		StepID:       step.ID,
		Name:         step.Name,
		OrderIndex:   step.OrderIndex,
		Status:       step.Status,
		Logs:         step.Logs,
		StartedAt:    step.StartedAt,
		CompletedAt:  step.CompletedAt,
	})
}
