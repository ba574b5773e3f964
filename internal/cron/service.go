package cron

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// JobFunc is the work behind a scheduled job.
type JobFunc func(ctx context.Context) (string, error)

type JobState struct {
	LastRunAt  time.Time
	LastStatus string
	LastError  string
	Runs       int
}

// Job is a named recurring job as reported by ListJobs.
type Job struct {
	Name    string
	Expr    string
	NextRun time.Time
	State   JobState
}

type job struct {
	name    string
	expr    string
	run     JobFunc
	entryID rcron.EntryID
	state   JobState
	running sync.Mutex
}

// Service runs named jobs on six-field cron expressions (seconds first) in a
// fixed location. A job never overlaps with itself.
type Service struct {
	loc    *time.Location
	mu     sync.Mutex
	jobs   map[string]*job
	cron   *rcron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
}

func NewService(loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		loc:  loc,
		jobs: make(map[string]*job),
	}
	s.cron = rcron.New(rcron.WithSeconds(), rcron.WithLocation(loc))
	return s
}

// ParseExpr validates a six-field expression.
func ParseExpr(expr string) (rcron.Schedule, error) {
	parser := rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expr %q: %w", expr, err)
	}
	return sched, nil
}

// AddJob registers a job. Adding a name twice replaces the earlier schedule.
func (s *Service) AddJob(name, expr string, run JobFunc) error {
	if name == "" || run == nil {
		return fmt.Errorf("add job: name and func are required")
	}
	if _, err := ParseExpr(expr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.entryID)
	}
	j := &job{name: name, expr: expr, run: run}
	id, err := s.cron.AddFunc(expr, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, expr, err)
	}
	j.entryID = id
	s.jobs[name] = j
	log.Printf("[cron] registered job %s (%s, %s)", name, expr, s.loc)
	return nil
}

func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, name)
	return true
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("cron already started")
	}
	s.ctx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	close(stopCh)

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}

// RunNow executes a job immediately on the caller's goroutine.
func (s *Service) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("job %s not found", name)
	}
	return s.runJob(ctx, j)
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, Job{
			Name:    j.name,
			Expr:    j.expr,
			NextRun: s.cron.Entry(j.entryID).Next,
			State:   j.state,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Service) execute(j *job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_, _ = s.runJob(ctx, j)
}

func (s *Service) runJob(ctx context.Context, j *job) (string, error) {
	if !j.running.TryLock() {
		log.Printf("[cron] job %s still running, skipping", j.name)
		return "", fmt.Errorf("job %s already running", j.name)
	}
	defer j.running.Unlock()

	log.Printf("[cron] executing job %s", j.name)
	result, err := j.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.state.LastRunAt = time.Now()
	j.state.Runs++
	if err != nil {
		j.state.LastStatus = "error"
		j.state.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", j.name, err)
	} else {
		j.state.LastStatus = "ok"
		j.state.LastError = ""
		log.Printf("[cron] job %s result: %s", j.name, truncate(result, 100))
	}
	return result, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
