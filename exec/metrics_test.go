package exec_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mslade/fabricexec-go/exec"
)

func TestMetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := exec.NewMetrics(registry)

	metrics.WorkerStarted()
	metrics.QueueAdd(3)
	metrics.QueueAdd(-1)
	metrics.ObserveJob("test.action", "success", 5*time.Millisecond)
	metrics.IncProcedures()
	metrics.IncRollbacks()
	metrics.IncRollbackFailures()
	metrics.IncCommitFailures()
	metrics.WorkerStopped()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := map[string]bool{}
	for _, family := range families {
		found[family.GetName()] = true
	}
	for _, want := range []string{
		"fabricexec_active_workers",
		"fabricexec_queue_depth",
		"fabricexec_job_duration_ms",
		"fabricexec_jobs_total",
		"fabricexec_procedures_total",
		"fabricexec_rollbacks_total",
		"fabricexec_commit_failures_total",
	} {
		if !found[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	// Metrics are optional; every method must be nil-safe.
	var metrics *exec.Metrics
	metrics.WorkerStarted()
	metrics.WorkerStopped()
	metrics.QueueAdd(1)
	metrics.ObserveJob("a", "success", time.Millisecond)
	metrics.IncProcedures()
	metrics.IncRollbacks()
	metrics.IncRollbackFailures()
	metrics.IncCommitFailures()
}
