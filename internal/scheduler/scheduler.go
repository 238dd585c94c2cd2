package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Job is a deferred piece of work identified by key. Scheduling another job
// with the same key replaces the pending one.
type Job struct {
	Key   string
	RunAt time.Time
	Fn    func()
	index int // position in the heap
}

// jobHeap is a min-heap of jobs ordered by RunAt
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	n := len(*h)
	job := x.(*Job)
	job.index = n
	*h = append(*h, job)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[0 : n-1]
	return job
}

// Scheduler runs jobs at their deadlines. A single dispatcher goroutine
// watches the heap; expired jobs are handed to a fixed worker pool so a slow
// callback never delays the next deadline.
type Scheduler struct {
	heap    jobHeap
	jobs    map[string]*Job
	mu      sync.Mutex
	wakeup  chan struct{}
	taskCh  chan func()
	workers int
	wg      sync.WaitGroup
	stopped bool
	stopCh  chan struct{}
}

// New creates a scheduler with the given worker count
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	s := &Scheduler{
		heap:    make(jobHeap, 0),
		jobs:    make(map[string]*Job),
		wakeup:  make(chan struct{}, 1),
		taskCh:  make(chan func(), 256),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start launches the dispatcher and worker goroutines
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	go s.dispatch()
}

// Stop stops the scheduler gracefully. Pending jobs are discarded; jobs
// already handed to workers finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule registers fn to run at runAt, replacing any pending job with the
// same key
func (s *Scheduler) Schedule(key string, runAt time.Time, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if existing, ok := s.jobs[key]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.jobs, key)
	}

	job := &Job{
		Key:   key,
		RunAt: runAt,
		Fn:    fn,
	}

	heap.Push(&s.heap, job)
	s.jobs[key] = job

	// Wake the dispatcher if this job moved the front of the heap
	if s.heap[0] == job {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// ScheduleEvery registers a recurring job that reschedules itself after each
// run. Used for periodic sweeps like the nightly fleet scan.
func (s *Scheduler) ScheduleEvery(key string, interval time.Duration, fn func()) error {
	var run func()
	run = func() {
		fn()
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			s.Schedule(key, time.Now().Add(interval), run)
		}
	}
	return s.Schedule(key, time.Now().Add(interval), run)
}

// Cancel removes a pending job. Returns false when no job with the key is
// pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[key]
	if !ok {
		return false
	}

	heap.Remove(&s.heap, job.index)
	delete(s.jobs, key)
	return true
}

// dispatch is the deadline loop
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()

		if s.stopped {
			s.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if s.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			next := s.heap[0]
			waitDuration = time.Until(next.RunAt)

			if waitDuration <= 0 {
				job := heap.Pop(&s.heap).(*Job)
				delete(s.jobs, job.Key)
				s.mu.Unlock()

				select {
				case s.taskCh <- job.Fn:
				case <-s.stopCh:
					return
				}
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case fn := <-s.taskCh:
			fn()
		case <-s.stopCh:
			return
		}
	}
}

// Stats returns a snapshot of the scheduler state
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		PendingJobs: len(s.jobs),
		Workers:     s.workers,
	}
}

// Stats contains a snapshot of the scheduler state
type Stats struct {
	PendingJobs int
	Workers     int
}

var (
	ErrSchedulerStopped = &SchedulerError{"scheduler is stopped"}
)

// SchedulerError represents a scheduler error
type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string {
	return e.msg
}
