package deploy

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pterodeploy/pterodeploy/internal/domain"
)

// Worker supplies the unit of work behind deployment steps.
type Worker interface {
	// BeginRun is invoked once per deployment, before the first step
	// executes, and fixes the outcome of the whole run. The failing step, if
	// any, is decided here rather than re-rolled per step.
	BeginRun(stepCount int) RunWork
}

// RunWork executes the work for the steps of one run, in order-index order.
// The returned log lines are attached to the step; a non-nil error marks the
// step, and with it the deployment, failed. The orchestrator acts on
// cancellation only between steps, so bounded implementations may ignore ctx.
type RunWork interface {
	Execute(ctx context.Context, step domain.Step, effort int) ([]string, error)
}

// Simulator is the reference Worker. Each step burns effort*unit of wall
// clock; a run fails with the configured probability, at a step index chosen
// before execution begins.
type Simulator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64
	effortUnit  time.Duration
}

// NewSimulator builds a Simulator. A zero seed falls back to the wall clock;
// fixing it makes run outcomes reproducible.
func NewSimulator(seed int64, failureRate float64, effortUnit time.Duration) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if effortUnit <= 0 {
		effortUnit = 100 * time.Millisecond
	}
	return &Simulator{
		rng:         rand.New(rand.NewSource(seed)),
		failureRate: failureRate,
		effortUnit:  effortUnit,
	}
}

// BeginRun decides the run outcome and returns its work.
func (s *Simulator) BeginRun(stepCount int) RunWork {
	s.mu.Lock()
	defer s.mu.Unlock()
	failAt := -1
	if stepCount > 0 && s.rng.Float64() < s.failureRate {
		failAt = s.rng.Intn(stepCount)
	}
	return &simulatedRun{failAt: failAt, effortUnit: s.effortUnit}
}

type simulatedRun struct {
	failAt     int
	effortUnit time.Duration
}

func (r *simulatedRun) Execute(_ context.Context, step domain.Step, effort int) ([]string, error) {
	if effort < 1 {
		effort = 1
	}
	time.Sleep(time.Duration(effort) * r.effortUnit)
	if step.OrderIndex == r.failAt {
		return []string{fmt.Sprintf("%s: simulated work aborted", step.Name)},
			fmt.Errorf("simulated failure during %q", step.Name)
	}
	return []string{
		fmt.Sprintf("%s: %s", step.Name, step.Description),
		fmt.Sprintf("%s: finished after %d effort units", step.Name, effort),
	}, nil
}
