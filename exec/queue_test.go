package exec_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mslade/fabricexec-go/exec"
)

func makeJobs(t *testing.T, n int) []*exec.Job {
	t.Helper()
	p := exec.NewProcedure(uuid.Nil, nil)
	jobs := make([]*exec.Job, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, newTestJob(t, p, exec.ActionSpec{Action: constAction(i), FQN: "test.queued"}))
	}
	return jobs
}

func TestJobQueueFIFO(t *testing.T) {
	queue := exec.NewJobQueue(0)
	jobs := makeJobs(t, 3)
	queue.Schedule(jobs)

	for i, want := range jobs {
		got := queue.Get()
		if !got.Equal(want) {
			t.Errorf("Get #%d returned wrong job", i)
		}
		queue.Done()
	}
	if queue.Len() != 0 {
		t.Errorf("queue length = %d, want 0", queue.Len())
	}
}

func TestJobQueueGetBlocksUntilScheduled(t *testing.T) {
	queue := exec.NewJobQueue(0)
	jobs := makeJobs(t, 1)

	got := make(chan *exec.Job, 1)
	go func() { got <- queue.Get() }()

	select {
	case <-got:
		t.Fatal("Get returned before anything was scheduled")
	case <-time.After(20 * time.Millisecond):
	}

	queue.Schedule(jobs)
	select {
	case job := <-got:
		if !job.Equal(jobs[0]) {
			t.Error("Get returned wrong job")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not wake after Schedule")
	}
}

func TestJobQueueBatchAtomicity(t *testing.T) {
	// A consumer draining right after Schedule returns must see the
	// whole batch.
	queue := exec.NewJobQueue(0)
	jobs := makeJobs(t, 5)
	queue.Schedule(jobs)

	if queue.Len() != len(jobs) {
		t.Fatalf("queue length = %d, want %d", queue.Len(), len(jobs))
	}
}

func TestJobQueueBoundedBlocksProducer(t *testing.T) {
	queue := exec.NewJobQueue(2)
	first := makeJobs(t, 2)
	queue.Schedule(first)

	second := makeJobs(t, 2)
	done := make(chan struct{})
	go func() {
		queue.Schedule(second)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Schedule returned although the batch cannot fit")
	case <-time.After(20 * time.Millisecond):
	}

	// Draining makes room for the whole second batch.
	queue.Get()
	queue.Done()
	queue.Get()
	queue.Done()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule did not wake after the queue drained")
	}
}

func TestJobQueueCloseSentinel(t *testing.T) {
	queue := exec.NewJobQueue(0)

	got := make(chan *exec.Job, 1)
	go func() { got <- queue.Get() }()

	time.Sleep(10 * time.Millisecond)
	queue.Close()

	select {
	case job := <-got:
		if job != nil {
			t.Errorf("closed queue returned %v, want nil sentinel", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not observe the close")
	}
}
