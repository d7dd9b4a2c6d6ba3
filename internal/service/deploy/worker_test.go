package deploy

import (
	"context"
	"testing"
	"time"

	"github.com/pterodeploy/pterodeploy/internal/domain"
)

func runSimulated(t *testing.T, work RunWork, stepCount int) []int {
	t.Helper()
	var failed []int
	for i := 0; i < stepCount; i++ {
		step := domain.Step{ID: "s", Name: "Step", OrderIndex: i}
		if _, err := work.Execute(context.Background(), step, 1); err != nil {
			failed = append(failed, i)
		}
	}
	return failed
}

func TestSimulatorNeverFailsAtRateZero(t *testing.T) {
	sim := NewSimulator(42, 0, time.Nanosecond)
	for run := 0; run < 20; run++ {
		work := sim.BeginRun(7)
		if failed := runSimulated(t, work, 7); len(failed) != 0 {
			t.Fatalf("run %d failed at steps %v with failure rate 0", run, failed)
		}
	}
}

func TestSimulatorAlwaysFailsOnceAtRateOne(t *testing.T) {
	sim := NewSimulator(42, 1, time.Nanosecond)
	for run := 0; run < 20; run++ {
		work := sim.BeginRun(7)
		failed := runSimulated(t, work, 7)
		if len(failed) != 1 {
			t.Fatalf("run %d failed at steps %v, want exactly one failure", run, failed)
		}
		if failed[0] < 0 || failed[0] >= 7 {
			t.Fatalf("run %d failed at out-of-range index %d", run, failed[0])
		}
	}
}

func TestSimulatorSeedIsReproducible(t *testing.T) {
	outcomes := func(seed int64) [][]int {
		sim := NewSimulator(seed, 0.5, time.Nanosecond)
		var all [][]int
		for run := 0; run < 10; run++ {
			all = append(all, runSimulated(t, sim.BeginRun(7), 7))
		}
		return all
	}
	first := outcomes(1234)
	second := outcomes(1234)
	for i := range first {
		if len(first[i]) != len(second[i]) {
			t.Fatalf("run %d differs between identical seeds: %v vs %v", i, first[i], second[i])
		}
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Fatalf("run %d differs between identical seeds: %v vs %v", i, first[i], second[i])
			}
		}
	}
}

func TestSimulatorFailureIsFixedBeforeExecution(t *testing.T) {
	sim := NewSimulator(7, 1, time.Nanosecond)
	work := sim.BeginRun(7)
	first := runSimulated(t, work, 7)
	second := runSimulated(t, work, 7)
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Fatalf("failing index moved within one run: %v vs %v", first, second)
	}
}
