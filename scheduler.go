package sheetsync

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs the orchestrator in periodic slices: it resumes the
// dataset's active session when there is one and starts a new run
// otherwise. Slices never overlap.
type Scheduler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	options      Options
	onResult     func(*RunResult, error)
	ticker       *time.Ticker
	done         chan bool
	syncMutex    sync.Mutex
	wg           sync.WaitGroup
	cancel       context.CancelFunc
	stopOnce     sync.Once
}

// NewScheduler creates a scheduler. onResult may be nil.
func NewScheduler(o *Orchestrator, interval time.Duration, opts Options, onResult func(*RunResult, error)) *Scheduler {
	if interval <= 0 {
		interval = o.config.SyncInterval
	}
	return &Scheduler{
		orchestrator: o,
		interval:     interval,
		options:      opts,
		onResult:     onResult,
		done:         make(chan bool),
	}
}

// Start begins the periodic sync process
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for {
			select {
			case <-s.ticker.C:
				s.RunOnce(ctx)
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunOnce executes one slice unless another is still running, and
// reports whether it ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	// Try to acquire sync lock, skip if already syncing
	if !s.syncMutex.TryLock() {
		return false
	}
	defer s.syncMutex.Unlock()

	var (
		result *RunResult
		err    error
	)
	active, err := s.orchestrator.ActiveSession(ctx)
	switch {
	case err != nil:
		result = &RunResult{Status: RunFailed, FatalError: err.Error()}
	case active != "":
		result, err = s.orchestrator.Resume(ctx, active, ResumeOptions{Progress: s.options.Progress})
	default:
		result, err = s.orchestrator.Run(ctx, s.options)
	}
	if s.onResult != nil {
		s.onResult(result, err)
	}
	return true
}

// Stop stops the scheduler and waits for the running slice. The slice's
// context is cancelled, so it stops at the next item boundary and stays
// resumable. Calling Stop more than once is a no-op.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(s.stop)
}

func (s *Scheduler) stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}

	close(s.done)

	// Wait for the goroutine to finish
	s.wg.Wait()

	// Wait for any ongoing sync to complete
	s.syncMutex.Lock()
	s.syncMutex.Unlock()
}
