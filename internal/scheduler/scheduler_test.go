package scheduler

import (
	"sync"
	"testing"
	"time"
)

func TestScheduler_Schedule(t *testing.T) {
	s := New(2)
	s.Start()
	defer s.Stop()

	executed := false
	var mu sync.Mutex

	err := s.Schedule("job1", time.Now().Add(100*time.Millisecond), func() {
		mu.Lock()
		executed = true
		mu.Unlock()
	})

	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	if !executed {
		t.Error("Job was not executed")
	}
	mu.Unlock()
}

func TestScheduler_Cancel(t *testing.T) {
	s := New(2)
	s.Start()
	defer s.Stop()

	executed := false
	var mu sync.Mutex

	err := s.Schedule("job1", time.Now().Add(100*time.Millisecond), func() {
		mu.Lock()
		executed = true
		mu.Unlock()
	})

	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	// Cancel the job
	cancelled := s.Cancel("job1")
	if !cancelled {
		t.Error("Cancel returned false")
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	if executed {
		t.Error("Job was executed despite being cancelled")
	}
	mu.Unlock()
}

func TestScheduler_MultipleJobsOrdering(t *testing.T) {
	s := New(2)
	s.Start()
	defer s.Stop()

	var results []int
	var mu sync.Mutex

	// Schedule jobs in reverse order
	s.Schedule("job3", time.Now().Add(150*time.Millisecond), func() {
		mu.Lock()
		results = append(results, 3)
		mu.Unlock()
	})

	s.Schedule("job1", time.Now().Add(50*time.Millisecond), func() {
		mu.Lock()
		results = append(results, 1)
		mu.Unlock()
	})

	s.Schedule("job2", time.Now().Add(100*time.Millisecond), func() {
		mu.Lock()
		results = append(results, 2)
		mu.Unlock()
	})

	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	if len(results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(results))
	}
	if results[0] != 1 || results[1] != 2 || results[2] != 3 {
		t.Errorf("Jobs executed in wrong order: %v", results)
	}
	mu.Unlock()
}

func TestScheduler_RescheduleExisting(t *testing.T) {
	s := New(2)
	s.Start()
	defer s.Stop()

	count := 0
	var mu sync.Mutex

	// Schedule a job
	s.Schedule("job1", time.Now().Add(100*time.Millisecond), func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	// Reschedule with same key (should replace)
	s.Schedule("job1", time.Now().Add(50*time.Millisecond), func() {
		mu.Lock()
		count += 10
		mu.Unlock()
	})

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	if count != 10 {
		t.Errorf("Expected count=10 (only second job), got %d", count)
	}
	mu.Unlock()
}

func TestScheduler_ScheduleEvery(t *testing.T) {
	s := New(2)
	s.Start()
	defer s.Stop()

	count := 0
	var mu sync.Mutex

	s.ScheduleEvery("tick", 50*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	time.Sleep(180 * time.Millisecond)

	mu.Lock()
	if count < 2 {
		t.Errorf("Expected at least 2 runs, got %d", count)
	}
	mu.Unlock()
}

func TestScheduler_Stats(t *testing.T) {
	s := New(5)
	s.Start()
	defer s.Stop()

	// Schedule some jobs
	s.Schedule("job1", time.Now().Add(1*time.Hour), func() {})
	s.Schedule("job2", time.Now().Add(2*time.Hour), func() {})
	s.Schedule("job3", time.Now().Add(3*time.Hour), func() {})

	stats := s.Stats()
	if stats.PendingJobs != 3 {
		t.Errorf("Expected 3 pending jobs, got %d", stats.PendingJobs)
	}
	if stats.Workers != 5 {
		t.Errorf("Expected 5 workers, got %d", stats.Workers)
	}
}
