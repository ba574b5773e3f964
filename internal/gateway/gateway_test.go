package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stellarlinkco/lifethreads/internal/bus"
	"github.com/stellarlinkco/lifethreads/internal/config"
	"github.com/stellarlinkco/lifethreads/internal/storyline"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// mockLLM implements storyline.LLMClient for testing
type mockLLM struct {
	sentence string
}

func (m *mockLLM) GenerateUpdate(context.Context, string) (*storyline.GeneratedUpdate, error) {
	return nil, storyline.ErrNoResult
}

func (m *mockLLM) GenerateSentence(context.Context, string) (string, error) {
	return m.sentence, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "data", "storylines.db")
	cfg.Engine.Timezone = "UTC"
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config, llm storyline.LLMClient) *Gateway {
	t.Helper()
	g, err := NewWithOptions(cfg, Options{
		LLMFactory: func(*config.Config) storyline.LLMClient { return llm },
		Clock:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	return g
}

func TestNewWithOptions_RegistersDailyJob(t *testing.T) {
	g := newTestGateway(t, testConfig(t), nil)
	defer g.Shutdown()

	jobs := g.Cron().ListJobs()
	if len(jobs) != 1 || jobs[0].Name != dailyJobName {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Expr != config.DefaultDailyExpr {
		t.Errorf("expr = %q", jobs[0].Expr)
	}
}

func TestNewWithOptions_SchedulerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = false
	g := newTestGateway(t, cfg, nil)
	defer g.Shutdown()

	if len(g.Cron().ListJobs()) != 0 {
		t.Error("daily job registered with scheduler disabled")
	}
}

func TestNewWithOptions_BadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Timezone = "Nowhere/Special"
	if _, err := NewWithOptions(cfg, Options{}); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestNewWithOptions_BadCronExpr(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.DailyExpr = "every day please"
	if _, err := NewWithOptions(cfg, Options{}); err == nil {
		t.Fatal("expected cron expression error")
	}
}

func TestDefaultLLMFactory_NoAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	if DefaultLLMFactory(cfg) != nil {
		t.Error("expected nil client without api key")
	}
	cfg.Provider.APIKey = "sk-test"
	if DefaultLLMFactory(cfg) == nil {
		t.Error("expected client with api key")
	}
}

func TestGateway_HandleOutbound(t *testing.T) {
	g := newTestGateway(t, testConfig(t), nil)
	defer g.Shutdown()
	ctx := context.Background()

	st, err := g.Store().CreateStoryline(ctx, storyline.NewStoryline{
		Title:              "Launching my shop",
		Category:           storyline.CategoryWork,
		NarrativeType:      storyline.NarrativeProject,
		EmotionalIntensity: 0.6,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := g.handleOutbound(ctx, bus.NewFactMessage("lesson", "storyline:x", "Ship early.")); err != nil {
		t.Fatalf("fact: %v", err)
	}
	if err := g.handleOutbound(ctx, bus.NewMentionMessage(st.ID)); err != nil {
		t.Fatalf("mention: %v", err)
	}
	if err := g.handleOutbound(ctx, bus.OutboundMessage{Kind: "telepathy"}); !errors.Is(err, bus.ErrUnknownEvent) {
		t.Errorf("unknown err = %v", err)
	}

	facts, _ := g.Store().ListFacts(ctx, "lesson")
	if len(facts) != 1 || facts[0].Value != "Ship early." {
		t.Errorf("facts = %+v", facts)
	}
	got, _ := g.Store().GetStoryline(ctx, st.ID)
	if got.TimesMentioned != 1 {
		t.Errorf("TimesMentioned = %d", got.TimesMentioned)
	}
}

func TestGateway_ResolveLessonReachesStoreOnFlush(t *testing.T) {
	g := newTestGateway(t, testConfig(t), &mockLLM{sentence: "Rest matters as much as training."})
	defer g.Shutdown()
	ctx := context.Background()

	st, err := g.Store().CreateStoryline(ctx, storyline.NewStoryline{
		Title:              "Half marathon",
		Category:           storyline.CategoryPersonal,
		NarrativeType:      storyline.NarrativeGoal,
		EmotionalIntensity: 0.7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Engine().Resolve(ctx, st.ID, storyline.OutcomeSuccess); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if g.Bus().Pending() != 1 {
		t.Fatalf("pending = %d, want the lesson fact queued", g.Bus().Pending())
	}
	if n := g.Flush(ctx); n != 1 {
		t.Errorf("Flush = %d, want 1", n)
	}
	facts, _ := g.Store().ListFacts(ctx, storyline.FactCategoryLesson)
	if len(facts) != 1 || facts[0].Key != "storyline:"+st.ID {
		t.Errorf("facts = %+v", facts)
	}
}

func TestGateway_DailyJobRunsCatchUp(t *testing.T) {
	g := newTestGateway(t, testConfig(t), nil)
	defer g.Shutdown()
	ctx := context.Background()

	result, err := g.Cron().RunNow(ctx, dailyJobName)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !strings.Contains(result, "days=1") {
		t.Errorf("result = %q", result)
	}
	last, _ := g.Store().LastProcessedAt(ctx)
	if last == nil || !last.Equal(testNow) {
		t.Errorf("watermark = %v", last)
	}

	result, _ = g.Cron().RunNow(ctx, dailyJobName)
	if !strings.Contains(result, "days=0") || !strings.Contains(result, "already=1") {
		t.Errorf("rerun result = %q", result)
	}
}

func TestGateway_Run_WithSignalChan(t *testing.T) {
	cfg := testConfig(t)
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(cfg, Options{
		LLMFactory: func(*config.Config) storyline.LLMClient { return nil },
		Clock:      func() time.Time { return testNow },
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	// Give startup catch-up a moment before signalling.
	time.Sleep(100 * time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after signal")
	}

	store, err := storyline.NewStore(cfg.Storage.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	last, _ := store.LastProcessedAt(context.Background())
	if last == nil {
		t.Error("startup catch-up did not set the watermark")
	}
}

func TestSummarize(t *testing.T) {
	if summarize(nil) != "" {
		t.Error("nil report should summarize to empty")
	}
	got := summarize(&storyline.CatchUpReport{Days: []string{"2026-03-01", "2026-03-02"}, SkippedDays: 3, UpdatesGenerated: 1})
	want := "days=2 skipped=3 already=0 transitions=0 updates=1 errors=0"
	if got != want {
		t.Errorf("summarize = %q, want %q", got, want)
	}
}
