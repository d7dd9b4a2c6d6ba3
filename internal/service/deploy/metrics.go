package deploy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	outcomeOnce  sync.Once
	outcomeTotal *prometheus.CounterVec
)

func (s *Service) initMetrics() {
	outcomeOnce.Do(func() {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pterodeploy",
			Subsystem: "deploy",
			Name:      "runs_finished_total",
			Help:      "Count of deployments reaching a terminal state",
		}, []string{"status"})
		if err := prometheus.Register(counter); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					counter = existing
				}
			}
		}
		outcomeTotal = counter
	})
}

func (s *Service) recordOutcome(status string) {
	if outcomeTotal == nil {
		return
	}
	outcomeTotal.WithLabelValues(status).Inc()
}
