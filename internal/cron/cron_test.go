package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseExpr(t *testing.T) {
	if _, err := ParseExpr("0 0 4 * * *"); err != nil {
		t.Errorf("six-field expr rejected: %v", err)
	}
	if _, err := ParseExpr("@daily"); err != nil {
		t.Errorf("descriptor rejected: %v", err)
	}
	if _, err := ParseExpr("0 4 * * *"); err == nil {
		t.Error("five-field expr should be rejected")
	}
}

func TestService_AddAndListJobs(t *testing.T) {
	loc := time.FixedZone("test", -7*3600)
	s := NewService(loc)

	noop := func(context.Context) (string, error) { return "ok", nil }
	if err := s.AddJob("b-job", "0 0 4 * * *", noop); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if err := s.AddJob("a-job", "0 30 * * * *", noop); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if err := s.AddJob("bad", "not a schedule", noop); err == nil {
		t.Error("AddJob should reject invalid expr")
	}
	if err := s.AddJob("", "0 0 4 * * *", noop); err == nil {
		t.Error("AddJob should reject empty name")
	}

	jobs := s.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].Name != "a-job" || jobs[1].Name != "b-job" {
		t.Errorf("jobs not sorted: %s, %s", jobs[0].Name, jobs[1].Name)
	}
}

func TestService_ReplaceAndRemove(t *testing.T) {
	s := NewService(time.UTC)
	noop := func(context.Context) (string, error) { return "", nil }

	_ = s.AddJob("daily", "0 0 4 * * *", noop)
	_ = s.AddJob("daily", "0 0 5 * * *", noop)
	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Expr != "0 0 5 * * *" {
		t.Fatalf("jobs = %+v, want one replaced job", jobs)
	}

	if !s.RemoveJob("daily") {
		t.Error("RemoveJob returned false")
	}
	if s.RemoveJob("daily") {
		t.Error("RemoveJob should return false for nonexistent")
	}
}

func TestService_RunNowRecordsState(t *testing.T) {
	s := NewService(time.UTC)
	calls := 0
	_ = s.AddJob("flaky", "0 0 4 * * *", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("boom")
		}
		return "done", nil
	})

	if _, err := s.RunNow(context.Background(), "flaky"); err == nil {
		t.Fatal("expected first run to fail")
	}
	st := s.ListJobs()[0].State
	if st.LastStatus != "error" || st.LastError != "boom" || st.Runs != 1 {
		t.Errorf("state after error = %+v", st)
	}

	result, err := s.RunNow(context.Background(), "flaky")
	if err != nil || result != "done" {
		t.Fatalf("second run = %q, %v", result, err)
	}
	st = s.ListJobs()[0].State
	if st.LastStatus != "ok" || st.LastError != "" || st.Runs != 2 {
		t.Errorf("state after success = %+v", st)
	}

	if _, err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("RunNow should fail for unknown job")
	}
}

func TestService_SkipsOverlappingRun(t *testing.T) {
	s := NewService(time.UTC)
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.AddJob("slow", "0 0 4 * * *", func(context.Context) (string, error) {
		close(started)
		<-release
		return "", nil
	})

	go func() { _, _ = s.RunNow(context.Background(), "slow") }()
	<-started
	if _, err := s.RunNow(context.Background(), "slow"); err == nil {
		t.Error("overlapping run should be rejected")
	}
	close(release)
}

func TestService_StartFiresSchedule(t *testing.T) {
	s := NewService(time.UTC)
	var runs atomic.Int32
	_ = s.AddJob("tick", "* * * * * *", func(context.Context) (string, error) {
		runs.Add(1)
		return "", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()
	if runs.Load() == 0 {
		t.Fatal("scheduled job never ran")
	}
	s.Stop()
}
