package jobs

import (
	"context"
	"sync"
	"time"

	"senseflow/pkg/logger"
)

// Job periodic background task
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Runner long-running background loop; Run returns when ctx is cancelled
type Runner interface {
	Name() string
	Run(ctx context.Context)
}

// Manager owns the lifecycle of periodic jobs and long-running runners
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    []Job
	runners []Runner
	started bool

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a manager bound to parent
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a periodic job
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

// RegisterRunner adds a long-running loop
func (m *Manager) RegisterRunner(r Runner) {
	if r == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runners = append(m.runners, r)
}

// Start launches everything registered; later calls are no-ops
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	runners := append([]Runner(nil), m.runners...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.runJob(job)
	}
	for _, r := range runners {
		m.wg.Add(1)
		go func(r Runner) {
			defer m.wg.Done()
			logger.InfoCtx(m.ctx, "runner %s started", r.Name())
			r.Run(m.ctx)
		}(r)
	}
}

// Stop signals every job and runner to stop
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until every job and runner has exited
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runJob(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	m.executeJob(job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.executeJob(job)
		}
	}
}

func (m *Manager) executeJob(job Job) {
	if err := job.Run(m.ctx); err != nil {
		logger.WarnCtx(m.ctx, "background job %s failed: %v", job.Name(), err)
	}
}
