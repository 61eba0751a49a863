package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingJob struct {
	runs int32
}

func (j *countingJob) Name() string            { return "counting" }
func (j *countingJob) Interval() time.Duration { return 5 * time.Millisecond }

func (j *countingJob) Run(context.Context) error {
	atomic.AddInt32(&j.runs, 1)
	return nil
}

type blockingRunner struct {
	stopped int32
}

func (r *blockingRunner) Name() string { return "blocking" }

func (r *blockingRunner) Run(ctx context.Context) {
	<-ctx.Done()
	atomic.StoreInt32(&r.stopped, 1)
}

func TestManager_RunsJobsAndRunners(t *testing.T) {
	m := NewManager(context.Background())
	job := &countingJob{}
	runner := &blockingRunner{}
	m.Register(job)
	m.Register(nil)
	m.RegisterRunner(runner)
	m.Start()
	m.Start()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&job.runs) >= 3 }, time.Second, time.Millisecond)

	m.Stop()
	m.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.stopped))
}
